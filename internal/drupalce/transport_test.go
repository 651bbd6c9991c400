package drupalce

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/drupal-ce/drupal-ce/internal/fetchopts"
	"github.com/drupal-ce/drupal-ce/internal/logging"
)

func TestBuildURL(t *testing.T) {
	cases := []struct {
		name  string
		base  string
		path  string
		query url.Values
		want  string
	}{
		{name: "join", base: "http://cms/ce-api/", path: "/node/1", want: "http://cms/ce-api/node/1"},
		{name: "root", base: "http://cms/ce-api", path: "/", want: "http://cms/ce-api"},
		{name: "relative", base: "http://cms", path: "api/menu_items/main", want: "http://cms/api/menu_items/main"},
		{
			name:  "merge query",
			base:  "http://cms/ce-api",
			path:  "/node/1?page=2",
			query: url.Values{"_format": {"json"}},
			want:  "http://cms/ce-api/node/1?_format=json&page=2",
		},
		{
			name:  "options win",
			base:  "http://cms",
			path:  "/search?q=a",
			query: url.Values{"q": {"b"}},
			want:  "http://cms/search?q=b",
		},
		{name: "escaped question mark", base: "https://cms.example/ce-api", path: "/foo%3Fbar", want: "https://cms.example/ce-api/foo%3Fbar"},
		{name: "escaped slash", base: "https://cms.example/ce-api", path: "/a%2Fb", want: "https://cms.example/ce-api/a%2Fb"},
		{name: "escaped hash", base: "https://cms.example/ce-api", path: "/x%23y?page=1", want: "https://cms.example/ce-api/x%23y?page=1"},
		{name: "escaped space", base: "http://cms", path: "/a%20b", want: "http://cms/a%20b"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := buildURL(tc.base, tc.path, tc.query)
			if err != nil {
				t.Fatalf("buildURL error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("buildURL = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestBuildURLRejectsAbsolutePath(t *testing.T) {
	if _, err := buildURL("http://cms", "http://evil.example/x", nil); err == nil {
		t.Fatalf("absolute paths must be rejected")
	}
}

func TestTransportKeepsJSONErrorBodyOnly(t *testing.T) {
	stub := newUpstreamStub(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/html" {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("<html>bad gateway</html>"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(` {"content":"x"} `))
	})
	transport := NewHTTPTransport(stub.server.Client(), logging.Discard(), TransportOptions{})
	ctx := context.Background()

	res := transport.Fetch(ctx, "/json", fetchopts.Options{BaseURL: stub.URL()})
	if res.Err == nil || string(res.Err.Data) != `{"content":"x"}` {
		t.Fatalf("JSON error body should be kept, got %+v", res.Err)
	}
	res = transport.Fetch(ctx, "/html", fetchopts.Options{BaseURL: stub.URL()})
	if res.Err == nil || res.Err.Data != nil || res.Err.Status != http.StatusBadGateway {
		t.Fatalf("non-JSON error body should be dropped, got %+v", res.Err)
	}
}

func TestTransportEncodesNonJSONSuccessAsString(t *testing.T) {
	stub := newUpstreamStub(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("plain"))
	})
	transport := NewHTTPTransport(stub.server.Client(), logging.Discard(), TransportOptions{})

	res := transport.Fetch(context.Background(), "/", fetchopts.Options{BaseURL: stub.URL()})
	if res.Err != nil || string(res.Data) != `"plain"` {
		t.Fatalf("unexpected result: data=%s err=%v", res.Data, res.Err)
	}
}

func TestTransportCredentialsOmitStripsCookie(t *testing.T) {
	stub := newUpstreamStub(t, jsonHandler(http.StatusOK, `{}`))
	transport := NewHTTPTransport(stub.server.Client(), logging.Discard(), TransportOptions{})

	headers := http.Header{}
	headers.Set("Cookie", "SESS=abc")
	headers.Set("X-Custom", "1")
	res := transport.Fetch(context.Background(), "/", fetchopts.Options{
		BaseURL:     stub.URL(),
		Credentials: "omit",
		Headers:     headers,
	})
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	req := stub.Requests()[0]
	if req.Header.Get("Cookie") != "" || req.Header.Get("X-Custom") != "1" {
		t.Fatalf("unexpected upstream headers: %v", req.Header)
	}
	if req.Header.Get("Accept") != "application/json" {
		t.Fatalf("Accept should default to JSON, got %q", req.Header.Get("Accept"))
	}
}

func TestTransportRetriesGatewayErrors(t *testing.T) {
	attempts := 0
	stub := newUpstreamStub(t, func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	transport := NewHTTPTransport(stub.server.Client(), logging.Discard(), TransportOptions{
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
	})

	res := transport.Fetch(context.Background(), "/", fetchopts.Options{BaseURL: stub.URL()})
	if res.Err != nil || string(res.Data) != `{"ok":true}` {
		t.Fatalf("expected success after retries, got data=%s err=%v", res.Data, res.Err)
	}
	if len(stub.Requests()) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(stub.Requests()))
	}
}

func TestTransportDoesNotRetryClientErrors(t *testing.T) {
	stub := newUpstreamStub(t, jsonHandler(http.StatusNotFound, `{}`))
	transport := NewHTTPTransport(stub.server.Client(), logging.Discard(), TransportOptions{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
	})

	res := transport.Fetch(context.Background(), "/", fetchopts.Options{BaseURL: stub.URL()})
	if res.Err == nil || res.Err.Status != http.StatusNotFound {
		t.Fatalf("expected 404, got %+v", res.Err)
	}
	if len(stub.Requests()) != 1 {
		t.Fatalf("404 must not be retried, got %d attempts", len(stub.Requests()))
	}
}

func TestTransportBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	stub := newUpstreamStub(t, jsonHandler(http.StatusInternalServerError, `{}`))
	transport := NewHTTPTransport(stub.server.Client(), logging.Discard(), TransportOptions{
		BreakerThreshold: 2,
		BreakerTimeout:   time.Minute,
	})
	ctx := context.Background()
	opts := fetchopts.Options{BaseURL: stub.URL()}

	for i := 0; i < 2; i++ {
		if res := transport.Fetch(ctx, "/", opts); res.Err == nil || res.Err.Status != http.StatusInternalServerError {
			t.Fatalf("attempt %d: expected 500, got %+v", i, res.Err)
		}
	}
	res := transport.Fetch(ctx, "/", opts)
	if res.Err == nil || res.Err.Status != http.StatusServiceUnavailable {
		t.Fatalf("open breaker should short-circuit with 503, got %+v", res.Err)
	}
	if !strings.Contains(res.Err.Message, "circuit breaker is open") {
		t.Fatalf("unexpected breaker message: %s", res.Err.Message)
	}
	if len(stub.Requests()) != 2 {
		t.Fatalf("open breaker must not reach upstream, got %d requests", len(stub.Requests()))
	}
}
