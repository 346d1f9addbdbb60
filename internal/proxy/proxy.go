// Package proxy is the HTTP face of the worker: it turns browser requests
// into intercepted fetches and writes back whatever the worker answers.
package proxy

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/leonardcser/flash-offline/internal/cache"
	"github.com/leonardcser/flash-offline/internal/logger"
	"github.com/leonardcser/flash-offline/internal/strategy"
	"github.com/leonardcser/flash-offline/internal/web"
	"github.com/leonardcser/flash-offline/internal/worker"
)

// StrategyHeader reports how a response was produced.
const StrategyHeader = "X-Offline-Strategy"

// destinations infers Sec-Fetch-Dest for clients that do not send it.
var destinations = map[string]strategy.Destination{
	".js":          strategy.DestScript,
	".mjs":         strategy.DestScript,
	".css":         strategy.DestStyle,
	".woff":        strategy.DestFont,
	".woff2":       strategy.DestFont,
	".ttf":         strategy.DestFont,
	".otf":         strategy.DestFont,
	".png":         strategy.DestImage,
	".jpg":         strategy.DestImage,
	".jpeg":        strategy.DestImage,
	".gif":         strategy.DestImage,
	".svg":         strategy.DestImage,
	".webp":        strategy.DestImage,
	".ico":         strategy.DestImage,
	".webmanifest": strategy.DestManifest,
	".swf":         strategy.DestEmbed,
}

// Gateway serves the registration over HTTP. It works as a reverse proxy
// for the origin and as a forward proxy for absolute request URLs.
type Gateway struct {
	reg     *worker.Registration
	network *web.Network
	origin  *url.URL
}

func New(reg *worker.Registration, network *web.Network, origin *url.URL) *Gateway {
	return &Gateway{
		reg:     reg,
		network: network,
		origin:  &url.URL{Scheme: origin.Scheme, Host: origin.Host},
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := g.Request(r)
	resp, kind, err := g.reg.Fetch(r.Context(), req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		logger.Warnf("%s %s: %v", r.Method, req.URL, err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if kind == strategy.Passthrough {
		g.passthrough(w, r, req.URL)
		return
	}
	w.Header().Set(StrategyHeader, kind.String())
	writeSnapshot(w, resp)
}

// Request derives the intercepted request from r. Sec-Fetch-Mode and
// Sec-Fetch-Dest win when present; otherwise they are guessed from the
// Accept header and the file extension.
func (g *Gateway) Request(r *http.Request) *strategy.Request {
	target := g.target(r)
	header := r.Header.Clone()
	// Let the transport negotiate compression so snapshots hold plain bodies.
	header.Del("Accept-Encoding")
	// Snapshots must be complete bodies, never 304s.
	header.Del("If-None-Match")
	header.Del("If-Modified-Since")

	mode := strategy.Mode(r.Header.Get("Sec-Fetch-Mode"))
	dest := strategy.Destination(r.Header.Get("Sec-Fetch-Dest"))
	if mode == "" {
		switch {
		case r.Method == http.MethodGet && acceptsHTML(r.Header.Get("Accept")):
			mode = strategy.ModeNavigate
		case strategy.SameOrigin(target, g.origin):
			mode = strategy.ModeSameOrigin
		default:
			mode = strategy.ModeNoCORS
		}
	}
	if dest == "" {
		if mode == strategy.ModeNavigate {
			dest = strategy.DestDocument
		} else {
			dest = destinations[strings.ToLower(path.Ext(target.Path))]
		}
	}
	return &strategy.Request{
		Method:      r.Method,
		URL:         target,
		Mode:        mode,
		Destination: dest,
		Header:      header,
	}
}

func (g *Gateway) target(r *http.Request) *url.URL {
	if r.URL.IsAbs() {
		u := *r.URL
		return &u
	}
	return g.origin.ResolveReference(&url.URL{Path: r.URL.Path, RawQuery: r.URL.RawQuery})
}

func acceptsHTML(accept string) bool {
	for _, part := range strings.Split(accept, ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && (mt == "text/html" || mt == "application/xhtml+xml") {
			return true
		}
	}
	return false
}

// passthrough streams a request the worker did not intercept.
func (g *Gateway) passthrough(w http.ResponseWriter, r *http.Request, target *url.URL) {
	out, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	web.CopyHeaders(out.Header, r.Header)
	out.ContentLength = r.ContentLength

	resp, err := g.network.Client().Do(out)
	if err != nil {
		logger.Warnf("passthrough %s %s: %v", r.Method, target, err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	web.CopyHeaders(w.Header(), resp.Header)
	w.Header().Set(StrategyHeader, strategy.Passthrough.String())
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		logger.Debugf("passthrough %s: %v", target, err)
	}
}

func writeSnapshot(w http.ResponseWriter, resp *cache.Response) {
	web.CopyHeaders(w.Header(), resp.Header)
	w.Header().Del("Content-Encoding")
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.Body)))
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(resp.Body)
}
