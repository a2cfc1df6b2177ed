// Package framing rewrites upstream responses so they can be embedded in a
// cross-origin iframe and keep their links pointed at the proxy.
package framing

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HopByHopHeaders are headers that must not be forwarded by proxies.
var HopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// blockingHeaders prevent embedding the page from another origin. Keys are lower-case.
var blockingHeaders = map[string]bool{
	"x-frame-options":         true,
	"content-security-policy": true,
	"frame-ancestors":         true,
}

// corsHeaders are set on every proxied response.
var corsHeaders = [][2]string{
	{"Access-Control-Allow-Origin", "*"},
	{"Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD"},
	{"Access-Control-Allow-Headers", "*"},
	{"Access-Control-Allow-Credentials", "true"},
}

// IsBlocking reports whether the header name blocks cross-origin framing.
func IsBlocking(name string) bool {
	return blockingHeaders[strings.ToLower(name)]
}

// StripHeaders copies src without framing-blocking headers, hop-by-hop headers
// and Content-Length. The length is dropped because bodies may be rewritten.
func StripHeaders(src http.Header) http.Header {
	drop := make(map[string]bool, len(HopByHopHeaders)+1)
	for _, h := range HopByHopHeaders {
		drop[http.CanonicalHeaderKey(h)] = true
	}
	drop["Content-Length"] = true

	dst := make(http.Header, len(src)+len(corsHeaders)+2)
	for key, vals := range src {
		if IsBlocking(key) || drop[http.CanonicalHeaderKey(key)] {
			continue
		}
		dst[http.CanonicalHeaderKey(key)] = append([]string(nil), vals...)
	}
	return dst
}

// AllowCORS sets the permissive CORS headers.
func AllowCORS(h http.Header) {
	for _, kv := range corsHeaders {
		h.Set(kv[0], kv[1])
	}
}

// AllowFraming sets the headers that permit embedding from any origin.
func AllowFraming(h http.Header) {
	h.Set("X-Frame-Options", "ALLOWALL")
	h.Set("Content-Security-Policy", "frame-ancestors *;")
}

// EmbedHeaders is the full header rewrite applied to proxied pages.
func EmbedHeaders(src http.Header) http.Header {
	dst := StripHeaders(src)
	AllowFraming(dst)
	AllowCORS(dst)
	return dst
}

// AssetHeaders is the header rewrite for static assets: blocking headers are
// stripped and CORS is opened, and a public cache lifetime is set. Framing
// headers are not added since assets are never framed themselves.
func AssetHeaders(src http.Header, maxAge time.Duration) http.Header {
	dst := StripHeaders(src)
	AllowCORS(dst)
	dst.Set("Cache-Control", "public, max-age="+strconv.Itoa(int(maxAge.Seconds())))
	return dst
}
