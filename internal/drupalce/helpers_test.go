package drupalce

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/drupal-ce/drupal-ce/internal/config"
	"github.com/drupal-ce/drupal-ce/internal/logging"
	"github.com/drupal-ce/drupal-ce/internal/messages"
	"github.com/drupal-ce/drupal-ce/internal/state"
)

type recordingNavigator struct {
	mu        sync.Mutex
	redirects []Redirect
}

func (n *recordingNavigator) Navigate(_ context.Context, redirect Redirect) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.redirects = append(n.redirects, redirect)
	return nil
}

type recordingSink struct {
	status  int
	headers http.Header
}

func (s *recordingSink) SetStatus(code int) { s.status = code }

func (s *recordingSink) SetHeader(key, value string) {
	if s.headers == nil {
		s.headers = http.Header{}
	}
	s.headers.Set(key, value)
}

type upstreamStub struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []*http.Request
}

func newUpstreamStub(t *testing.T, handler http.HandlerFunc) *upstreamStub {
	t.Helper()
	stub := &upstreamStub{}
	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.mu.Lock()
		stub.requests = append(stub.requests, r.Clone(context.Background()))
		stub.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(stub.server.Close)
	return stub
}

func (s *upstreamStub) Requests() []*http.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*http.Request(nil), s.requests...)
}

func (s *upstreamStub) URL() string {
	return s.server.URL
}

func jsonHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

type clientOption func(*config.DrupalCeConfig)

func newTestClient(t *testing.T, stub *upstreamStub, opts ...clientOption) *Client {
	t.Helper()
	cfg := config.DrupalCeConfig{
		BaseURL:                  stub.URL() + "/ce-api",
		MenuEndpoint:             "api/menu_items/" + config.MenuNamePlaceholder,
		FetchProxyHeaders:        []string{"cookie"},
		PassThroughHeaders:       []string{"cache-control"},
		UseLocalizedMenuEndpoint: true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	ep, err := config.Resolve(cfg)
	if err != nil {
		t.Fatalf("resolve endpoints: %v", err)
	}
	transport := NewHTTPTransport(stub.server.Client(), logging.Discard(), TransportOptions{})
	client, err := NewClient(ep, transport, messages.NewQueue(), logging.Discard())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func newRender(execCtx state.ExecContext) (*Render, *recordingNavigator, *recordingSink) {
	nav := &recordingNavigator{}
	sink := &recordingSink{}
	return &Render{
		Session:   state.NewSession("sess-1", execCtx, state.NewMemoryStore(0)),
		Inbound:   http.Header{},
		Navigator: nav,
		Response:  sink,
	}, nav, sink
}
