package worker

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"

	perrors "github.com/jmgilman/go/errors"

	"github.com/leonardcser/flash-offline/internal/cache"
)

// Script is one deployable worker version: a generation and the shell
// manifest that ships with it. Changing any asset without changing the
// generation leaves old partitions behind, because the generation tag is the
// only purge signal.
type Script struct {
	Generation cache.Generation `json:"generation"`
	// Assets are paths relative to the registration scope, fetched in order
	// at install time.
	Assets []string `json:"assets"`
	// RootDocument is the cached document served to offline navigations.
	RootDocument string `json:"root,omitempty"`
	// OfflineDocument is the placeholder served when nothing better exists.
	OfflineDocument string `json:"offline,omitempty"`
}

// Fingerprint identifies byte-identical scripts.
func (s Script) Fingerprint() string {
	h := sha256.New()
	write := func(v string) {
		h.Write([]byte(v))
		h.Write([]byte{0})
	}
	write(string(s.Generation))
	write(s.RootDocument)
	write(s.OfflineDocument)
	for _, a := range s.Assets {
		write(a)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Validate rejects scripts that cannot be installed.
func (s Script) Validate() error {
	if s.Generation == "" {
		return perrors.New(perrors.CodeInvalidConfig, "script has no generation")
	}
	if _, ok := cache.GenerationOf(string(s.Generation)); ok {
		return perrors.Newf(perrors.CodeInvalidConfig, "generation %q ends in a role suffix", s.Generation)
	}
	seen := make(map[string]bool, len(s.Assets))
	for _, a := range s.Assets {
		if _, err := url.Parse(a); err != nil {
			return perrors.Wrapf(err, perrors.CodeInvalidConfig, "asset %q", a)
		}
		if seen[a] {
			return perrors.Newf(perrors.CodeInvalidConfig, "asset %q listed twice", a)
		}
		seen[a] = true
	}
	return nil
}

// ShellPartition is the partition holding the manifest.
func (s Script) ShellPartition() string { return cache.PartitionName(s.Generation, cache.RoleShell) }

// RuntimePartition is the partition filled during browsing.
func (s Script) RuntimePartition() string {
	return cache.PartitionName(s.Generation, cache.RoleRuntime)
}
