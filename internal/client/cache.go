package client

import (
	"bufio"
	"bytes"
	"net/http"
	"strings"

	"github.com/gregjones/httpcache"
)

// sharedCache is an httpcache.Cache that sits in front of every visitor, so it
// only keeps responses any visitor may see. httpcache itself behaves as a
// private browser cache and would store per-user responses.
type sharedCache struct {
	httpcache.Cache
}

// Set stores raw, a dumped response, only when it is shareable. A stale entry
// under the same key is dropped otherwise.
func (c sharedCache) Set(key string, raw []byte) {
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(raw)), nil)
	if err != nil {
		return
	}
	_ = resp.Body.Close()

	if !shareable(resp.Header) {
		c.Cache.Delete(key)
		return
	}
	c.Cache.Set(key, raw)
}

// shareable reports whether a response may be served from a shared cache.
func shareable(h http.Header) bool {
	if len(h.Values("Set-Cookie")) > 0 {
		return false
	}
	for _, v := range h.Values("Cache-Control") {
		for _, directive := range strings.Split(v, ",") {
			d := strings.ToLower(strings.TrimSpace(directive))
			if d == "no-store" || d == "private" || strings.HasPrefix(d, "private=") {
				return false
			}
		}
	}
	return true
}
