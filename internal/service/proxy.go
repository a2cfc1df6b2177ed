// Package service implements the candidate-origin forwarding logic and lead
// submission.
package service

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"tryon-edge/internal/client"
	"tryon-edge/internal/config"
	"tryon-edge/internal/framing"
	"tryon-edge/internal/metrics"
	"tryon-edge/internal/model"
)

// ErrEmptyHTML is returned when an origin answers with an empty HTML document.
var ErrEmptyHTML = errors.New("empty HTML response")

// Defaults for passthrough request headers absent from the inbound request.
const (
	defaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	defaultAccept         = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	defaultAcceptLanguage = "en-US,en;q=0.9"
)

// UnavailableError is returned when the last candidate origin reported itself
// as unavailable. DirectURL lets the caller point users at the origin itself.
type UnavailableError struct {
	DirectURL  string
	StatusCode int
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("origin %s unavailable (status %d)", e.DirectURL, e.StatusCode)
}

// UnavailableMatcher decides whether a >=400 response means the origin itself
// is gone, as opposed to an ordinary error for this request.
type UnavailableMatcher interface {
	Unavailable(status int, body []byte) bool
}

// MarkerMatcher matches responses whose body contains any of the markers.
type MarkerMatcher []string

// Unavailable implements UnavailableMatcher.
func (m MarkerMatcher) Unavailable(status int, body []byte) bool {
	if status < http.StatusBadRequest {
		return false
	}
	for _, marker := range m {
		if bytes.Contains(body, []byte(marker)) {
			return true
		}
	}
	return false
}

type origin struct {
	base string // scheme://host[:port][/prefix], no trailing slash
	host string
}

// ProxyService forwards requests to the first acceptable candidate origin.
type ProxyService struct {
	client   *client.OriginClient
	origins  []origin
	matcher  UnavailableMatcher
	rewriter *framing.Rewriter

	staticPrefix string
	staticExts   map[string]bool
	staticMaxAge time.Duration

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewProxyService creates a ProxyService over the configured candidate origins.
// The metrics parameter is optional.
func NewProxyService(c *client.OriginClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*ProxyService, error) {
	if len(cfg.Proxy.Origins) == 0 {
		return nil, errors.New("no candidate origins configured")
	}

	origins := make([]origin, 0, len(cfg.Proxy.Origins))
	hosts := make([]string, 0, len(cfg.Proxy.Origins))
	for _, raw := range cfg.Proxy.Origins {
		base := strings.TrimRight(raw, "/")
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parse origin %q: %w", raw, err)
		}
		if u.Host == "" {
			return nil, fmt.Errorf("origin %q has no host", raw)
		}
		host := strings.ToLower(u.Host)
		origins = append(origins, origin{base: base, host: host})
		hosts = append(hosts, host)
	}

	exts := make(map[string]bool, len(cfg.Proxy.StaticExtensions))
	for _, e := range cfg.Proxy.StaticExtensions {
		exts[strings.ToLower(strings.TrimPrefix(e, "."))] = true
	}

	return &ProxyService{
		client:       c,
		origins:      origins,
		matcher:      MarkerMatcher(cfg.Proxy.UnavailableMarkers),
		rewriter:     framing.NewRewriter(hosts...),
		staticPrefix: cfg.Proxy.StaticPrefix,
		staticExts:   exts,
		staticMaxAge: cfg.Proxy.StaticMaxAge(),
		logger:       logger.With("component", "proxy_service"),
		metrics:      m,
	}, nil
}

// Origins returns the candidate base URLs in priority order.
func (s *ProxyService) Origins() []string {
	out := make([]string, len(s.origins))
	for i, o := range s.origins {
		out[i] = o.base
	}
	return out
}

// Forward tries each candidate origin in order and returns the first acceptable
// response, rewritten for cross-origin embedding. The caller is responsible for
// closing the response body.
//
// A transport failure or an unavailable-marked error response moves on to the
// next candidate. When the list is exhausted the last failure is returned:
// *UnavailableError for a marked response, the wrapped transport error otherwise.
// A plain >=400 response from the last candidate is returned as a response.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	body, err := readRequestBody(pr)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}

	var lastErr error
	for i, o := range s.origins {
		last := i == len(s.origins)-1
		target := o.target(pr)

		s.logger.Debug("forwarding request",
			"method", pr.Method,
			"origin", o.base,
			"path", pr.Path,
			"attempt", i+1,
		)

		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}
		resp, err := s.client.DoStream(pr.Ctx, pr.Method, target, s.forwardHeaders(o, pr.Header, body != nil), reqBody)
		if err != nil {
			s.observe(o, metrics.OutcomeTransport)
			lastErr = fmt.Errorf("forward to %s: %w", o.base, err)
			if ctxErr := pr.Ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("forward to %s: %w", o.base, ctxErr)
			}
			s.logger.Warn("origin unreachable", "origin", o.base, "err", err, "last", last)
			continue
		}
		resp.Origin = o.base

		if resp.StatusCode >= http.StatusBadRequest {
			data, readErr := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if readErr != nil {
				s.observe(o, metrics.OutcomeTransport)
				lastErr = fmt.Errorf("read error body from %s: %w", o.base, readErr)
				continue
			}

			if s.matcher.Unavailable(resp.StatusCode, data) {
				s.observe(o, metrics.OutcomeUnavailable)
				s.logger.Warn("origin unavailable", "origin", o.base, "status", resp.StatusCode, "last", last)
				lastErr = &UnavailableError{DirectURL: o.base, StatusCode: resp.StatusCode}
				continue
			}

			s.observe(o, metrics.OutcomeErrorStatus)
			if !last {
				s.logger.Info("origin returned error, trying next", "origin", o.base, "status", resp.StatusCode)
				lastErr = fmt.Errorf("origin %s returned %s", o.base, resp.Status)
				continue
			}

			resp.Header = framing.EmbedHeaders(resp.Header)
			resp.Body = io.NopCloser(bytes.NewReader(data))
			return resp, nil
		}

		s.observe(o, metrics.OutcomeOK)

		if s.IsStaticAsset(pr.Path) {
			resp.Header = framing.AssetHeaders(resp.Header, s.staticMaxAge)
			return resp, nil
		}
		return s.embed(pr.Method, resp)
	}

	return nil, lastErr
}

// IsStaticAsset reports whether the request path is served as a cacheable asset.
func (s *ProxyService) IsStaticAsset(p string) bool {
	if s.staticPrefix != "" && strings.HasPrefix(p, s.staticPrefix) {
		return true
	}
	ext := strings.TrimPrefix(path.Ext(p), ".")
	return ext != "" && s.staticExts[strings.ToLower(ext)]
}

// embed applies the framing header rewrite and, for HTML documents, the body rewrite.
func (s *ProxyService) embed(method string, resp *model.ProxyResponse) (*model.ProxyResponse, error) {
	contentType := resp.Header.Get("Content-Type")
	resp.Header = framing.EmbedHeaders(resp.Header)

	if method == http.MethodHead || !strings.Contains(strings.ToLower(contentType), "text/html") {
		return resp, nil
	}

	data, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read html from %s: %w", resp.Origin, err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyHTML
	}

	resp.Body = io.NopCloser(strings.NewReader(s.rewriter.RewriteHTML(string(data))))
	return resp, nil
}

func (s *ProxyService) forwardHeaders(o origin, src http.Header, hasBody bool) http.Header {
	dst := make(http.Header)
	dst.Set("User-Agent", headerOr(src, "User-Agent", defaultUserAgent))
	dst.Set("Accept", headerOr(src, "Accept", defaultAccept))
	dst.Set("Accept-Language", headerOr(src, "Accept-Language", defaultAcceptLanguage))
	dst.Set("Referer", o.base+"/")
	dst.Set("Origin", o.base)
	if hasBody {
		if ct := src.Get("Content-Type"); ct != "" {
			dst.Set("Content-Type", ct)
		}
	}
	return dst
}

func (s *ProxyService) observe(o origin, outcome string) {
	if s.metrics != nil {
		s.metrics.OriginAttempts.WithLabelValues(o.host, outcome).Inc()
	}
}

// target concatenates the origin base with the inbound path, query and fragment.
func (o origin) target(pr *model.ProxyRequest) string {
	var b strings.Builder
	b.WriteString(o.base)
	if pr.Path == "" || pr.Path[0] != '/' {
		b.WriteByte('/')
	}
	b.WriteString(pr.Path)
	if pr.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(pr.RawQuery)
	}
	if pr.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(pr.Fragment)
	}
	return b.String()
}

// readRequestBody buffers the inbound body so every candidate gets the same
// request. GET and HEAD never carry a body upstream.
func readRequestBody(pr *model.ProxyRequest) ([]byte, error) {
	if pr.Method == http.MethodGet || pr.Method == http.MethodHead || pr.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(pr.Body)
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

func headerOr(h http.Header, key, fallback string) string {
	if v := h.Get(key); v != "" {
		return v
	}
	return fallback
}
