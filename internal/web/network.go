package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	perrors "github.com/jmgilman/go/errors"

	"github.com/leonardcser/flash-offline/internal/cache"
	"github.com/leonardcser/flash-offline/internal/strategy"
)

const (
	RequestTimeout = 30 * time.Second
	// MaxResponseSize caps one snapshot; entries are stored whole.
	MaxResponseSize = 256 << 20
)

// hopHeaders are never forwarded upstream.
var hopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Proxy-Connection", "Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// Network fetches requests from the real network and snapshots the result.
type Network struct {
	client *http.Client
	origin *url.URL
}

// NewNetwork builds a Network for the app at origin. A zero timeout uses
// RequestTimeout.
func NewNetwork(origin *url.URL, timeout time.Duration) *Network {
	if timeout <= 0 {
		timeout = RequestTimeout
	}
	return &Network{
		client: &http.Client{Timeout: timeout},
		origin: &url.URL{Scheme: origin.Scheme, Host: origin.Host},
	}
}

// Client exposes the HTTP client for streaming passthrough traffic.
func (n *Network) Client() *http.Client { return n.client }

// Fetch performs req. Cross-origin no-cors responses are marked opaque.
func (n *Network) Fetch(ctx context.Context, req *strategy.Request) (*cache.Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	hreq, err := http.NewRequestWithContext(ctx, method, req.URL.String(), nil)
	if err != nil {
		return nil, err
	}
	CopyHeaders(hreq.Header, req.Header)

	resp, err := n.client.Do(hreq)
	if err != nil {
		return nil, perrors.Wrapf(err, perrors.CodeNetwork, "fetch %s", req.URL)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, perrors.Wrapf(err, perrors.CodeNetwork, "read %s", req.URL)
	}
	if len(body) > MaxResponseSize {
		return nil, perrors.New(perrors.CodeNetwork, fmt.Sprintf("fetch %s: body exceeds %d bytes", req.URL, MaxResponseSize))
	}
	header := resp.Header.Clone()
	for _, h := range hopHeaders {
		header.Del(h)
	}
	return &cache.Response{
		URL:    resp.Request.URL.String(),
		Status: resp.StatusCode,
		Header: header,
		Body:   body,
		Opaque: req.Mode == strategy.ModeNoCORS && !strategy.SameOrigin(req.URL, n.origin),
	}, nil
}

// CopyHeaders copies src into dst without hop-by-hop headers.
func CopyHeaders(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		dst.Del(h)
	}
}
