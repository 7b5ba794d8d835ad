package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		code ErrorCode
		want int
	}{
		{CodeBadRequest, http.StatusBadRequest},
		{CodeUnauthorized, http.StatusUnauthorized},
		{CodeTooManyRequests, http.StatusTooManyRequests},
		{CodePayloadTooLarge, http.StatusRequestEntityTooLarge},
		{CodeUpstreamUnavail, http.StatusServiceUnavailable},
		{CodeUpstreamTimeout, http.StatusGatewayTimeout},
		{CodeUpstreamBadOutput, http.StatusBadGateway},
		{CodeInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := New(tc.code, "x").HTTPStatus(); got != tc.want {
			t.Fatalf("%s -> %d, want %d", tc.code, got, tc.want)
		}
	}
}

func TestWrap_Unwraps(t *testing.T) {
	cause := errors.New("root")
	err := Wrap(CodeUpstreamTimeout, "deadline", cause)
	if !errors.Is(err, cause) {
		t.Fatal("cause not unwrappable")
	}
	wrapped := fmt.Errorf("outer: %w", err)
	if CodeOf(wrapped) != CodeUpstreamTimeout {
		t.Fatalf("code = %s", CodeOf(wrapped))
	}
	if StatusOf(wrapped) != http.StatusGatewayTimeout {
		t.Fatalf("status = %d", StatusOf(wrapped))
	}
	if StatusOf(errors.New("plain")) != http.StatusInternalServerError {
		t.Fatal("plain errors should map to 500")
	}
}

func TestRedact(t *testing.T) {
	cases := []struct {
		in      string
		mustNot []string
	}{
		{"auth failed: api_key=sk-12345 rejected", []string{"sk-12345", "api_key"}},
		{"could not reach https://user:pw@host/v1/chat", []string{"https://"}},
		{"open /etc/mockforge/secret.yaml failed", []string{"/etc/mockforge"}},
		{"bad Bearer abc.def.ghi token", []string{"Bearer"}},
	}
	for _, tc := range cases {
		out := Redact(tc.in)
		for _, bad := range tc.mustNot {
			if strings.Contains(out, bad) {
				t.Fatalf("Redact(%q) leaked %q: %q", tc.in, bad, out)
			}
		}
	}

	if out := Redact("plain message with nothing sensitive"); out != "plain message with nothing sensitive" {
		t.Fatalf("benign message altered: %q", out)
	}
}
