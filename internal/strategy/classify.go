package strategy

import (
	"fmt"
	"net/http"
	"net/url"
)

// Kind is the retrieval strategy chosen for a request.
type Kind int

const (
	// Passthrough leaves the request to default network handling.
	Passthrough Kind = iota
	NetworkFirst
	CacheFirst
	StaleWhileRevalidate
)

func (k Kind) String() string {
	switch k {
	case Passthrough:
		return "passthrough"
	case NetworkFirst:
		return "network-first"
	case CacheFirst:
		return "cache-first"
	case StaleWhileRevalidate:
		return "stale-while-revalidate"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// revalidated lists the cross-origin destinations served stale-while-revalidate.
var revalidated = map[Destination]bool{
	DestScript:   true,
	DestStyle:    true,
	DestFont:     true,
	DestImage:    true,
	DestManifest: true,
}

// Classify picks the strategy for req; the first matching rule wins.
// Non-GET requests are never intercepted.
func Classify(req *Request, origin *url.URL) Kind {
	if req == nil || req.URL == nil || req.Method != http.MethodGet {
		return Passthrough
	}
	switch {
	case req.Mode == ModeNavigate:
		return NetworkFirst
	case req.SameOrigin(origin):
		// Includes .swf and other large binaries: entries are whole snapshots.
		return CacheFirst
	case revalidated[req.Destination]:
		return StaleWhileRevalidate
	}
	return Passthrough
}
