package strategy

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/leonardcser/flash-offline/internal/cache"
)

// Mode mirrors the request mode a browser reports in Sec-Fetch-Mode.
type Mode string

const (
	ModeNavigate   Mode = "navigate"
	ModeSameOrigin Mode = "same-origin"
	ModeNoCORS     Mode = "no-cors"
	ModeCORS       Mode = "cors"
)

// Destination mirrors Sec-Fetch-Dest.
type Destination string

const (
	DestDocument Destination = "document"
	DestScript   Destination = "script"
	DestStyle    Destination = "style"
	DestFont     Destination = "font"
	DestImage    Destination = "image"
	DestManifest Destination = "manifest"
	DestEmbed    Destination = "embed"
	DestObject   Destination = "object"
	DestEmpty    Destination = ""
)

// Request is one intercepted outbound request.
type Request struct {
	Method      string
	URL         *url.URL
	Mode        Mode
	Destination Destination
	Header      http.Header
}

// NewRequest builds a GET request for rawURL.
func NewRequest(rawURL string, mode Mode, dest Destination) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	return &Request{Method: http.MethodGet, URL: u, Mode: mode, Destination: dest}, nil
}

// Key is the cache key of the request.
func (r *Request) Key() cache.Key { return cache.KeyOf(r.URL) }

// SameOrigin reports whether r targets origin.
func (r *Request) SameOrigin(origin *url.URL) bool {
	return SameOrigin(r.URL, origin)
}

// SameOrigin compares scheme and host (including port).
func SameOrigin(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(a.Host, b.Host)
}

// Network performs a real fetch. A returned error means the request never
// produced a response (offline, DNS, refused); HTTP error statuses are
// responses, not errors.
type Network interface {
	Fetch(ctx context.Context, req *Request) (*cache.Response, error)
}

// NetworkFunc adapts a function to Network.
type NetworkFunc func(ctx context.Context, req *Request) (*cache.Response, error)

func (f NetworkFunc) Fetch(ctx context.Context, req *Request) (*cache.Response, error) {
	return f(ctx, req)
}
