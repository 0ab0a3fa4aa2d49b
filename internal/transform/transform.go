// Package transform turns a fully buffered backend response into the response
// the client sees.
//
// A response moves through Buffering, then Parsed, then exactly one of the
// terminal actions below:
//
//	Malformed        body is not a JSON object: 500 "error parsing response"
//	ErrorPassthrough "errors" present: backend status and body unchanged
//	Redirect         "url" present on a redirecting route: 302 to url
//	PlainMessage     otherwise: 200 with the route's projected fields
//
// A "token" field is captured whenever "errors" is absent, independently of the
// action, and is never part of the client body.
package transform

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"api-gateway-go/internal/model"
	"api-gateway-go/internal/route"
)

// ParseErrorMessage is returned to the client when the backend body cannot be decoded.
const ParseErrorMessage = "error parsing response"

// ErrDecode marks a body that is not a decodable JSON object.
var ErrDecode = errors.New("decode downstream body")

// ErrTooLarge is returned by Buffer when the body exceeds the configured limit.
var ErrTooLarge = errors.New("downstream body exceeds limit")

// State is the terminal action chosen for a response.
type State int

const (
	Malformed State = iota
	ErrorPassthrough
	Redirect
	PlainMessage
)

func (s State) String() string {
	switch s {
	case ErrorPassthrough:
		return "error_passthrough"
	case Redirect:
		return "redirect"
	case PlainMessage:
		return "plain_message"
	default:
		return "malformed"
	}
}

// Result is the client-visible outcome of a transformed response.
type Result struct {
	State  State
	Status int
	// Body is the exact JSON to send; nil for redirects.
	Body        []byte
	RedirectURL string
	// Token is the captured credential, empty when none was captured.
	Token string
	// Err explains a Malformed result.
	Err error
}

// Transformer buffers and rewrites backend responses. It holds no per-request
// state and is safe for concurrent use.
type Transformer struct {
	maxBytes int64
}

// New creates a Transformer. maxBytes <= 0 disables the size limit.
func New(maxBytes int64) *Transformer {
	return &Transformer{maxBytes: maxBytes}
}

// Buffer reads the whole body in arrival order. Read errors are returned
// as-is so the caller can classify them as transport failures.
func (t *Transformer) Buffer(r io.Reader) ([]byte, error) {
	if t.maxBytes <= 0 {
		return io.ReadAll(r)
	}
	buf, err := io.ReadAll(io.LimitReader(r, t.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(buf)) > t.maxBytes {
		return nil, ErrTooLarge
	}
	return buf, nil
}

// Transform applies the decision table to a buffered body. It is a pure
// function of its inputs.
func (t *Transformer) Transform(status int, body []byte, policy route.Policy) Result {
	parsed, err := decode(body)
	if err != nil {
		res := MalformedResult()
		res.Err = err
		return res
	}

	if present(parsed.Errors) {
		return Result{State: ErrorPassthrough, Status: status, Body: withoutToken(body)}
	}

	res := Result{Token: stringValue(parsed.Token)}

	if policy.SupportsRedirect {
		if u := stringValue(parsed.URL); u != "" {
			res.State = Redirect
			res.Status = http.StatusFound
			res.RedirectURL = u
			return res
		}
	}

	out := model.ClientBody{}
	if policy.Forwards(route.FieldMessage) && present(parsed.Message) {
		out.Message = parsed.Message
	}
	if policy.Forwards(route.FieldData) && present(parsed.Data) {
		out.Data = parsed.Data
	}
	if policy.Forwards(route.FieldDetail) && present(parsed.Detail) {
		out.Detail = parsed.Detail
	}

	encoded, err := json.Marshal(out)
	if err != nil {
		res := MalformedResult()
		res.Err = fmt.Errorf("%w: %w", ErrDecode, err)
		return res
	}
	res.State = PlainMessage
	res.Status = http.StatusOK
	res.Body = encoded
	return res
}

// MalformedResult is the fixed result for an undecodable or oversized body.
func MalformedResult() Result {
	body, _ := json.Marshal(model.MessageBody{Message: ParseErrorMessage})
	return Result{State: Malformed, Status: http.StatusInternalServerError, Body: body}
}

func decode(body []byte) (*model.DownstreamBody, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: not a JSON object", ErrDecode)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return model.NewDownstreamBody(fields), nil
}

// member is the byte range of one top-level object member, including the
// separator that precedes it.
type member struct {
	start, end int64
	token      bool
}

// withoutToken drops every top-level member whose key is "token" in any letter
// case. The remaining members keep their order and exact bytes; body is
// returned untouched when there is nothing to drop.
func withoutToken(body []byte) []byte {
	dec := json.NewDecoder(bytes.NewReader(body))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return body
	}

	var members []member
	found := false
	for dec.More() {
		start := dec.InputOffset()
		key, err := dec.Token()
		if err != nil {
			return body
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return body
		}
		name, _ := key.(string)
		m := member{start: start, end: dec.InputOffset(), token: strings.EqualFold(name, "token")}
		found = found || m.token
		members = append(members, m)
	}
	if !found {
		return body
	}

	out := append([]byte(nil), body[:members[0].start]...)
	first := true
	for i, m := range members {
		if m.token {
			continue
		}
		seg := body[m.start:m.end]
		if first && i > 0 {
			seg = bytes.TrimPrefix(bytes.TrimLeft(seg, " \t\r\n"), []byte(","))
		}
		first = false
		out = append(out, seg...)
	}
	return append(out, body[members[len(members)-1].end:]...)
}

// present reports whether a field was sent with a non-null value.
func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

// stringValue returns a non-empty JSON string field, or "" for anything else.
func stringValue(raw json.RawMessage) string {
	if !present(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
