package cache

import (
	"net/http"
	"net/url"
	"time"
)

// Response is a stored snapshot of an HTTP response. Bodies are kept whole.
type Response struct {
	URL      string      `json:"url"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header,omitempty"`
	Body     []byte      `json:"body,omitempty"`
	Opaque   bool        `json:"opaque,omitempty"`
	StoredAt time.Time   `json:"stored_at,omitzero"`
}

// OK reports a status in the 2xx range.
func (r *Response) OK() bool { return r != nil && r.Status >= 200 && r.Status < 300 }

// Clone returns a deep copy so the caller and the cache never share a body.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	out := *r
	out.Header = r.Header.Clone()
	out.Body = append([]byte(nil), r.Body...)
	return &out
}

// Eligible reports whether resp may be written to a partition: a 2xx
// response, or an opaque one whose status could not be observed. A known
// error status is never stored, opaque or not.
func Eligible(resp *Response) bool {
	return resp != nil && (resp.OK() || (resp.Opaque && resp.Status == 0))
}

// Key is the request key of an entry: the absolute URL without fragment.
type Key string

// KeyOf normalizes u into a Key.
func KeyOf(u *url.URL) Key {
	c := *u
	c.Fragment = ""
	c.RawFragment = ""
	return Key(c.String())
}

// WithoutQuery strips the query string from k.
func (k Key) WithoutQuery() Key {
	s := string(k)
	for i := 0; i < len(s); i++ {
		if s[i] == '?' {
			return Key(s[:i])
		}
	}
	return k
}
