package config

import (
	"os"

	perrors "github.com/jmgilman/go/errors"
	"gopkg.in/yaml.v3"

	"github.com/leonardcser/flash-offline/internal/cache"
	"github.com/leonardcser/flash-offline/internal/worker"
)

// Manifest is the on-disk form of a worker script.
//
//	generation: flash-games-v4
//	root: ./index.html
//	offline: ./offline.html
//	assets:
//	  - ./
//	  - ./index.html
type Manifest struct {
	Generation string   `yaml:"generation"`
	Root       string   `yaml:"root"`
	Offline    string   `yaml:"offline"`
	Assets     []string `yaml:"assets"`
}

// DefaultManifest is the shell shipped with the game page.
var DefaultManifest = Manifest{
	Generation: "flash-games-v3",
	Root:       "./index.html",
	Offline:    "./offline.html",
	Assets: []string{
		"./",
		"./index.html",
		"./offline.html",
		"./manifest.webmanifest",
		"./styles/main.css",
		"./scripts/app.js",
		"./icons/icon-192.png",
		"./icons/icon-512.png",
		"./icons/icon-512-maskable.png",
		"./icons/icon.svg",
		"./icons/apple-touch-icon.png",
		"./assets/swf/MusicCatch2.swf",
		"./vendor/ruffle/ruffle.js",
		"./vendor/ruffle/core.ruffle.aa168e338c932fadbc73.js",
		"./vendor/ruffle/core.ruffle.0a77bb1c50674a76cdaf.js",
		"./vendor/ruffle/7a32b51c265ec1729e84.wasm",
		"./vendor/ruffle/f7286edaae77ab5917b5.wasm",
	},
}

// LoadManifest reads a YAML manifest, or returns DefaultManifest for an
// empty path. Missing root/offline entries fall back to the defaults.
func LoadManifest(path string) (Manifest, error) {
	if path == "" {
		return DefaultManifest, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, perrors.Wrapf(err, perrors.CodeInvalidConfig, "read manifest %s", path)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, perrors.Wrapf(err, perrors.CodeInvalidConfig, "parse manifest %s", path)
	}
	if m.Root == "" {
		m.Root = DefaultManifest.Root
	}
	if m.Offline == "" {
		m.Offline = DefaultManifest.Offline
	}
	if err := m.Script().Validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Script converts the manifest into an installable worker script.
func (m Manifest) Script() worker.Script {
	return worker.Script{
		Generation:      cache.Generation(m.Generation),
		Assets:          append([]string(nil), m.Assets...),
		RootDocument:    m.Root,
		OfflineDocument: m.Offline,
	}
}
