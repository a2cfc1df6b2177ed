// Package model defines shared types for the proxy and the lead endpoint.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest represents a client request to be forwarded to a candidate origin.
type ProxyRequest struct {
	Ctx    context.Context
	Method string
	// Path is the escaped request path, forwarded verbatim.
	Path     string
	RawQuery string
	Fragment string
	Header   http.Header
	Body     io.ReadCloser
}

// ProxyResponse represents the response sent back to the client.
type ProxyResponse struct {
	StatusCode int
	// Status is the upstream status line text, e.g. "200 OK".
	Status string
	Header http.Header
	Body   io.ReadCloser
	// Origin is the base URL of the candidate that produced the response.
	Origin string
}
