package transform

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"testing/iotest"

	"api-gateway-go/internal/route"
)

var (
	authPolicy = route.Policy{
		TokenSink:       route.SinkSession,
		ForwardedFields: []route.Field{route.FieldMessage},
	}
	companyPolicy = route.Policy{
		TokenSink:        route.SinkCookie,
		SupportsRedirect: true,
		ForwardedFields:  []route.Field{route.FieldMessage, route.FieldData, route.FieldDetail},
	}
)

func TestTransform_DecisionTable(t *testing.T) {
	tests := []struct {
		name         string
		policy       route.Policy
		status       int
		body         string
		wantState    State
		wantStatus   int
		wantBody     string
		wantToken    string
		wantRedirect string
	}{
		{
			name:       "errors pass through unchanged",
			policy:     authPolicy,
			status:     http.StatusUnprocessableEntity,
			body:       `{"errors":[{"message":"bad"}]}`,
			wantState:  ErrorPassthrough,
			wantStatus: http.StatusUnprocessableEntity,
			wantBody:   `{"errors":[{"message":"bad"}]}`,
		},
		{
			name:       "errors take priority over token",
			policy:     authPolicy,
			status:     http.StatusBadRequest,
			body:       `{"errors":[],"token":"leak","message":"nope"}`,
			wantState:  ErrorPassthrough,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"errors":[],"message":"nope"}`,
		},
		{
			name:       "token captured on auth route",
			policy:     authPolicy,
			status:     http.StatusOK,
			body:       `{"token":"abc123","message":"ok"}`,
			wantState:  PlainMessage,
			wantStatus: http.StatusOK,
			wantBody:   `{"message":"ok"}`,
			wantToken:  "abc123",
		},
		{
			name:       "token captured on company route with projection",
			policy:     companyPolicy,
			status:     http.StatusCreated,
			body:       `{"token":"xyz","data":[{"id":1}],"message":"ok"}`,
			wantState:  PlainMessage,
			wantStatus: http.StatusOK,
			wantBody:   `{"message":"ok","data":[{"id":1}]}`,
			wantToken:  "xyz",
		},
		{
			name:       "auth route drops data and detail",
			policy:     authPolicy,
			status:     http.StatusOK,
			body:       `{"message":"hi","data":[1],"detail":{"a":1}}`,
			wantState:  PlainMessage,
			wantStatus: http.StatusOK,
			wantBody:   `{"message":"hi"}`,
		},
		{
			name:         "redirect",
			policy:       companyPolicy,
			status:       http.StatusOK,
			body:         `{"url":"https://x/y"}`,
			wantState:    Redirect,
			wantStatus:   http.StatusFound,
			wantRedirect: "https://x/y",
		},
		{
			name:         "redirect still captures token",
			policy:       companyPolicy,
			status:       http.StatusOK,
			body:         `{"url":"https://x/y","token":"t1","message":"go"}`,
			wantState:    Redirect,
			wantStatus:   http.StatusFound,
			wantRedirect: "https://x/y",
			wantToken:    "t1",
		},
		{
			name:       "url ignored on non-redirect route",
			policy:     authPolicy,
			status:     http.StatusOK,
			body:       `{"url":"https://x/y","message":"m"}`,
			wantState:  PlainMessage,
			wantStatus: http.StatusOK,
			wantBody:   `{"message":"m"}`,
		},
		{
			name:       "no message yields empty object",
			policy:     authPolicy,
			status:     http.StatusOK,
			body:       `{}`,
			wantState:  PlainMessage,
			wantStatus: http.StatusOK,
			wantBody:   `{}`,
		},
		{
			name:       "null fields are absent",
			policy:     companyPolicy,
			status:     http.StatusOK,
			body:       `{"message":"m","token":null,"errors":null,"url":null,"detail":null}`,
			wantState:  PlainMessage,
			wantStatus: http.StatusOK,
			wantBody:   `{"message":"m"}`,
		},
		{
			name:       "non-string token is not captured",
			policy:     authPolicy,
			status:     http.StatusOK,
			body:       `{"token":123,"message":"m"}`,
			wantState:  PlainMessage,
			wantStatus: http.StatusOK,
			wantBody:   `{"message":"m"}`,
		},
		{
			name:       "mixed case token is not a token",
			policy:     authPolicy,
			status:     http.StatusOK,
			body:       `{"Token":"abc123","message":"ok"}`,
			wantState:  PlainMessage,
			wantStatus: http.StatusOK,
			wantBody:   `{"message":"ok"}`,
		},
		{
			name:       "upper case errors is not errors",
			policy:     authPolicy,
			status:     http.StatusCreated,
			body:       `{"ERRORS":"x","message":"hi"}`,
			wantState:  PlainMessage,
			wantStatus: http.StatusOK,
			wantBody:   `{"message":"hi"}`,
		},
		{
			name:       "any case token stripped from errors",
			policy:     authPolicy,
			status:     http.StatusBadRequest,
			body:       `{"errors":[1],"Token":"leak","TOKEN":"leak2","message":"m"}`,
			wantState:  ErrorPassthrough,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"errors":[1],"message":"m"}`,
		},
		{
			name:       "stripping keeps the remaining bytes",
			policy:     authPolicy,
			status:     http.StatusConflict,
			body:       `{ "token" : "t", "errors": ["<a&b>", "\u00e9"],  "z":1 }`,
			wantState:  ErrorPassthrough,
			wantStatus: http.StatusConflict,
			wantBody:   `{ "errors": ["<a&b>", "\u00e9"],  "z":1 }`,
		},
		{
			name:       "token only error body",
			policy:     authPolicy,
			status:     http.StatusBadRequest,
			body:       `{"errors":"x","token":"t"}`,
			wantState:  ErrorPassthrough,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"errors":"x"}`,
		},
		{
			name:       "invalid json",
			policy:     authPolicy,
			status:     http.StatusOK,
			body:       `<html>oops</html>`,
			wantState:  Malformed,
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"message":"error parsing response"}`,
		},
		{
			name:       "invalid json ignores downstream status",
			policy:     companyPolicy,
			status:     http.StatusNotFound,
			body:       `{"message":`,
			wantState:  Malformed,
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"message":"error parsing response"}`,
		},
		{
			name:       "empty body",
			policy:     authPolicy,
			status:     http.StatusNoContent,
			body:       ``,
			wantState:  Malformed,
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"message":"error parsing response"}`,
		},
		{
			name:       "top level array",
			policy:     authPolicy,
			status:     http.StatusOK,
			body:       `[{"message":"x"}]`,
			wantState:  Malformed,
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"message":"error parsing response"}`,
		},
	}

	tr := New(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tr.Transform(tt.status, []byte(tt.body), tt.policy)

			if got.State != tt.wantState {
				t.Errorf("State = %v, want %v", got.State, tt.wantState)
			}
			if got.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", got.Status, tt.wantStatus)
			}
			if tt.wantState != Redirect && string(got.Body) != tt.wantBody {
				t.Errorf("Body = %s, want %s", got.Body, tt.wantBody)
			}
			if got.Token != tt.wantToken {
				t.Errorf("Token = %q, want %q", got.Token, tt.wantToken)
			}
			if got.RedirectURL != tt.wantRedirect {
				t.Errorf("RedirectURL = %q, want %q", got.RedirectURL, tt.wantRedirect)
			}
			if bytes.Contains(bytes.ToLower(got.Body), []byte(`"token"`)) {
				t.Errorf("client body leaks token: %s", got.Body)
			}
			if tt.wantState == Malformed && !errors.Is(got.Err, ErrDecode) {
				t.Errorf("Err = %v, want ErrDecode", got.Err)
			}
		})
	}
}

func TestTransform_Idempotent(t *testing.T) {
	tr := New(0)
	body := []byte(`{"token":"xyz","data":[{"id":1,"name":"acme"}],"detail":{"k":"v"},"message":"ok"}`)

	first := tr.Transform(http.StatusOK, body, companyPolicy)
	second := tr.Transform(http.StatusOK, body, companyPolicy)

	if !bytes.Equal(first.Body, second.Body) {
		t.Errorf("bodies differ: %s vs %s", first.Body, second.Body)
	}
	if first.Status != second.Status || first.Token != second.Token || first.State != second.State {
		t.Errorf("results differ: %+v vs %+v", first, second)
	}

	var decoded map[string]any
	if err := json.Unmarshal(first.Body, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := decoded["detail"]; !ok {
		t.Error("detail should be forwarded on the company route")
	}
}

func TestBuffer(t *testing.T) {
	tr := New(16)

	got, err := tr.Buffer(iotest.OneByteReader(strings.NewReader(`{"message":"a"}`)))
	if err != nil {
		t.Fatalf("Buffer() error = %v", err)
	}
	if string(got) != `{"message":"a"}` {
		t.Errorf("Buffer() = %q", got)
	}

	if _, err := tr.Buffer(strings.NewReader(`{"message":"too long"}`)); !errors.Is(err, ErrTooLarge) {
		t.Errorf("Buffer() error = %v, want ErrTooLarge", err)
	}

	readErr := errors.New("connection reset")
	if _, err := tr.Buffer(io.MultiReader(strings.NewReader(`{"a"`), iotest.ErrReader(readErr))); !errors.Is(err, readErr) {
		t.Errorf("Buffer() error = %v, want read error", err)
	}
}

func TestBuffer_Unlimited(t *testing.T) {
	big := strings.Repeat("x", 1<<16)
	got, err := New(0).Buffer(strings.NewReader(big))
	if err != nil {
		t.Fatalf("Buffer() error = %v", err)
	}
	if len(got) != len(big) {
		t.Errorf("len = %d, want %d", len(got), len(big))
	}
}
