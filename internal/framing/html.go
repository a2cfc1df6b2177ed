package framing

import (
	"regexp"
)

var (
	metaFrameOptions = regexp.MustCompile(`(?i)<meta[^>]*http-equiv=["']X-Frame-Options["'][^>]*>`)
	metaCSP          = regexp.MustCompile(`(?i)<meta[^>]*http-equiv=["']Content-Security-Policy["'][^>]*>`)
	// frameAncestors stops at double quotes and tag brackets so a directive
	// inside an attribute value cannot swallow the rest of the tag.
	frameAncestors = regexp.MustCompile(`(?i)frame-ancestors[^;"<>]*;?`)
)

type hostPatterns struct {
	attr *regexp.Regexp
	bare *regexp.Regexp
}

// Rewriter patches HTML documents for embedding. It is safe for concurrent use.
type Rewriter struct {
	hosts []hostPatterns
}

// NewRewriter returns a Rewriter that turns absolute links to any of hosts
// into root-relative links. Hosts are host[:port] values, matched without
// regard to case.
func NewRewriter(hosts ...string) *Rewriter {
	r := &Rewriter{hosts: make([]hostPatterns, 0, len(hosts))}
	for _, h := range hosts {
		q := regexp.QuoteMeta(h)
		r.hosts = append(r.hosts, hostPatterns{
			attr: regexp.MustCompile(`(?i)\b(href|src)=(["'])https?://` + q + `/`),
			bare: regexp.MustCompile(`(?i)https?://` + q + `/`),
		})
	}
	return r
}

// RewriteHTML strips framing-blocking meta tags and frame-ancestors directives,
// and rewrites absolute links to the configured hosts to root-relative ones.
// Applying it twice yields the same result as applying it once.
func (r *Rewriter) RewriteHTML(html string) string {
	// Removing a match can splice its neighbours into a new one, so passes
	// repeat until nothing changes. Every replacement is shorter than its
	// match, which bounds the loop.
	for {
		next := r.rewritePass(html)
		if next == html {
			return html
		}
		html = next
	}
}

func (r *Rewriter) rewritePass(html string) string {
	html = metaFrameOptions.ReplaceAllString(html, "")
	html = metaCSP.ReplaceAllString(html, "")
	html = frameAncestors.ReplaceAllString(html, "")

	for _, p := range r.hosts {
		html = p.attr.ReplaceAllString(html, `$1=$2/`)
		html = p.bare.ReplaceAllString(html, "/")
	}
	return html
}
