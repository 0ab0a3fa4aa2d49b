// Package model defines shared types for the gateway.
package model

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
)

// ProxyRequest represents a client request to be forwarded to a backend.
type ProxyRequest struct {
	Ctx context.Context
	// RequestURI is the inbound path plus raw query.
	RequestURI    string
	Method        string
	Path          string
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64
	RemoteIP      string
	Scheme        string
	Host          string
	RequestID     string
}

// ProxyResponse represents a backend response before it is buffered.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// DownstreamBody holds the fields of the JSON object a backend returns, keyed
// by their exact lowercase names. Values are kept raw so that forwarded fields
// are re-emitted exactly as received.
type DownstreamBody struct {
	Message json.RawMessage
	Token   json.RawMessage
	Errors  json.RawMessage
	Data    json.RawMessage
	Detail  json.RawMessage
	URL     json.RawMessage
}

// NewDownstreamBody picks the known fields out of a decoded object. Keys differing
// only in case are not the same field.
func NewDownstreamBody(fields map[string]json.RawMessage) *DownstreamBody {
	return &DownstreamBody{
		Message: fields["message"],
		Token:   fields["token"],
		Errors:  fields["errors"],
		Data:    fields["data"],
		Detail:  fields["detail"],
		URL:     fields["url"],
	}
}

// ClientBody is the JSON body composed for the client. It never carries a token.
type ClientBody struct {
	Message json.RawMessage `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Detail  json.RawMessage `json:"detail,omitempty"`
}

// MessageBody is the body of every gateway-generated response.
type MessageBody struct {
	Message string `json:"message"`
}
