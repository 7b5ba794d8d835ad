package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestParseHeader(t *testing.T) {
	calls := ParseHeader(`GET https://a.example/x | POST https://b.example/y | garbage | ftp://nope`)
	if len(calls) != 2 {
		t.Fatalf("calls = %+v", calls)
	}
	if calls[0].Method != "GET" || calls[0].URL != "https://a.example/x" {
		t.Fatalf("first = %+v", calls[0])
	}
	if calls[1].Method != "POST" {
		t.Fatalf("second = %+v", calls[1])
	}

	// A bare URL defaults to GET.
	calls = ParseHeader("https://c.example/z")
	if len(calls) != 1 || calls[0].Method != "GET" {
		t.Fatalf("bare url = %+v", calls)
	}
}

func TestInvoke_CapturesResults(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"stock":42}`)
	}))
	defer upstream.Close()

	inv := NewInvoker(zap.NewNop())
	out := inv.Invoke(context.Background(), []Call{{Method: "GET", URL: upstream.URL}})
	if !strings.Contains(out, "status 200") || !strings.Contains(out, `{"stock":42}`) {
		t.Fatalf("out = %q", out)
	}
}

func TestInvoke_FailureDoesNotAbort(t *testing.T) {
	inv := NewInvoker(zap.NewNop())
	out := inv.Invoke(context.Background(), []Call{
		{Method: "GET", URL: "http://127.0.0.1:1/unreachable"},
	})
	if !strings.Contains(out, "error") {
		t.Fatalf("failure not recorded: %q", out)
	}
}

func TestInvoke_Empty(t *testing.T) {
	inv := NewInvoker(zap.NewNop())
	if out := inv.Invoke(context.Background(), nil); out != "" {
		t.Fatalf("out = %q", out)
	}
}
