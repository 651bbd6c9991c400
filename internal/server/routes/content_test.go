package routes

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"

	"github.com/drupal-ce/drupal-ce/internal/config"
	"github.com/drupal-ce/drupal-ce/internal/messages"
	"github.com/drupal-ce/drupal-ce/internal/server"
	"github.com/drupal-ce/drupal-ce/internal/state"
)

type cmsStub struct {
	server *httptest.Server

	mu        sync.Mutex
	lastQuery  string
	lastPath   string
	lastCookie string
}

func newCMSStub(t *testing.T) *cmsStub {
	t.Helper()
	stub := &cmsStub{}
	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.mu.Lock()
		stub.lastQuery = r.URL.RawQuery
		stub.lastPath = r.URL.Path
		stub.lastCookie = r.Header.Get("Cookie")
		stub.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/ce-api/welcome", "/ce-api/search":
			_, _ = w.Write([]byte(`{"title":"Welcome","messages":{"success":["Hi"]}}`))
		case "/ce-api/old":
			_, _ = w.Write([]byte(`{"redirect":{"url":"/new","external":false,"statusCode":301}}`))
		case "/ce-api/missing":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"content":"<p>Not here</p>"}`))
		case "/ce-api/broken":
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"message":"boom"}`))
		case "/ce-api/api/menu_items/main":
			_, _ = w.Write([]byte(`[{"title":"Home"}]`))
		case "/de/ce-api/api/menu_items/main":
			_, _ = w.Write([]byte(`[{"title":"Start"}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	t.Cleanup(stub.server.Close)
	return stub
}

func (s *cmsStub) last() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPath, s.lastQuery
}

func newContentApp(t *testing.T, stub *cmsStub) *fiber.App {
	t.Helper()
	cfg := &config.Config{
		Global: config.GlobalConfig{ListenPort: 3000},
		DrupalCe: config.DrupalCeConfig{
			BaseURL:                  stub.server.URL + "/ce-api",
			MenuEndpoint:             "api/menu_items/" + config.MenuNamePlaceholder,
			FetchProxyHeaders:        []string{"cookie"},
			UseLocalizedMenuEndpoint: true,
		},
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	registry, err := server.NewRouteRegistry(cfg)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	app, err := server.NewApp(server.AppOptions{Logger: logger, Registry: registry, ListenPort: 3000})
	if err != nil {
		t.Fatalf("app: %v", err)
	}
	client, err := server.NewCMSClient(cfg, stub.server.Client(), logger)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	RegisterContentRoutes(app, ContentOptions{Client: client, Store: state.NewMemoryStore(0), Logger: logger})
	return app
}

func doRequest(t *testing.T, app *fiber.App, target string, session *http.Cookie) (*http.Response, []byte) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if session != nil {
		req.AddCookie(session)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test(%s) failed: %v", target, err)
	}
	body, _ := io.ReadAll(resp.Body)
	return resp, body
}

func sessionCookie(t *testing.T, resp *http.Response) *http.Cookie {
	t.Helper()
	for _, cookie := range resp.Cookies() {
		if cookie.Name == SessionCookie {
			return cookie
		}
	}
	t.Fatalf("response did not set %s cookie", SessionCookie)
	return nil
}

func decodeMessages(t *testing.T, body []byte) []messages.Message {
	t.Helper()
	var payload struct {
		Messages []messages.Message `json:"messages"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode messages: %v (body=%s)", err, body)
	}
	return payload.Messages
}

func TestPageRouteReturnsPageAndMessages(t *testing.T) {
	app := newContentApp(t, newCMSStub(t))

	resp, body := doRequest(t, app, "/page/welcome", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.StatusCode, body)
	}
	var payload struct {
		Page struct {
			Data map[string]any `json:"data"`
		} `json:"page"`
		Messages []messages.Message `json:"messages"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if payload.Page.Data["title"] != "Welcome" {
		t.Fatalf("unexpected page data: %v", payload.Page.Data)
	}
	want := []messages.Message{{Type: messages.TypeSuccess, Message: "Hi"}}
	if diff := cmp.Diff(want, payload.Messages); diff != "" {
		t.Fatalf("unexpected messages (-want +got):\n%s", diff)
	}

	session := sessionCookie(t, resp)
	_, body = doRequest(t, app, "/messages", session)
	if diff := cmp.Diff(want, decodeMessages(t, body)); diff != "" {
		t.Fatalf("drain should return queued messages (-want +got):\n%s", diff)
	}
	_, body = doRequest(t, app, "/messages", session)
	if got := decodeMessages(t, body); len(got) != 0 {
		t.Fatalf("queue should be empty after drain, got %v", got)
	}
}

func TestPageRouteRedirects(t *testing.T) {
	app := newContentApp(t, newCMSStub(t))

	resp, _ := doRequest(t, app, "/page/old", nil)
	if resp.StatusCode != http.StatusMovedPermanently {
		t.Fatalf("expected 301, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/new" {
		t.Fatalf("unexpected Location: %s", loc)
	}
}

func TestPageRouteSoftError(t *testing.T) {
	app := newContentApp(t, newCMSStub(t))

	resp, body := doRequest(t, app, "/page/missing", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "Not here") {
		t.Fatalf("soft error should render the error content, got %s", body)
	}
}

func TestPageRouteHardError(t *testing.T) {
	app := newContentApp(t, newCMSStub(t))

	resp, body := doRequest(t, app, "/page/broken", nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	var payload struct {
		Error  string          `json:"error"`
		Status int             `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if payload.Error != "page_fetch_failed" || payload.Status != 500 || string(payload.Data) != `{"message":"boom"}` {
		t.Fatalf("unexpected error payload: %s", body)
	}
}

func TestPageRouteStripsLocaleParam(t *testing.T) {
	stub := newCMSStub(t)
	app := newContentApp(t, stub)

	resp, _ := doRequest(t, app, "/page/search?q=drupal&lang=de", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	path, query := stub.last()
	if path != "/ce-api/search" || query != "q=drupal" {
		t.Fatalf("unexpected upstream request: %s?%s", path, query)
	}
}

func TestPageRouteDropsSessionCookieUpstream(t *testing.T) {
	stub := newCMSStub(t)
	app := newContentApp(t, stub)

	req := httptest.NewRequest(http.MethodGet, "/page/welcome", nil)
	req.Header.Set("Cookie", "SESSabc=drupal; "+SessionCookie+"=11111111-2222-3333-4444-555555555555; theme=dark")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	stub.mu.Lock()
	cookie := stub.lastCookie
	stub.mu.Unlock()
	if cookie != "SESSabc=drupal; theme=dark" {
		t.Fatalf("CMS should receive only its own cookies, got %q", cookie)
	}
}

func TestStripCookie(t *testing.T) {
	cases := []struct {
		in   []string
		want string
	}{
		{in: []string{SessionCookie + "=x"}, want: ""},
		{in: []string{"a=1;" + SessionCookie + "=x;b=2"}, want: "a=1; b=2"},
		{in: []string{"a=1", "b=2"}, want: "a=1; b=2"},
		{in: []string{"drupal_ce_session_other=y"}, want: "drupal_ce_session_other=y"},
	}
	for _, tc := range cases {
		if got := stripCookie(tc.in, SessionCookie); got != tc.want {
			t.Fatalf("stripCookie(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMenuRoute(t *testing.T) {
	app := newContentApp(t, newCMSStub(t))

	_, body := doRequest(t, app, "/menu/main", nil)
	if string(body) != `[{"title":"Home"}]` {
		t.Fatalf("unexpected menu body: %s", body)
	}
	_, body = doRequest(t, app, "/menu/main?lang=de", nil)
	if string(body) != `[{"title":"Start"}]` {
		t.Fatalf("localized menu should be used, got %s", body)
	}
}

func TestMenuRouteFailureQueuesMessage(t *testing.T) {
	app := newContentApp(t, newCMSStub(t))

	resp, body := doRequest(t, app, "/menu/footer", nil)
	if resp.StatusCode != http.StatusOK || string(body) != "null" {
		t.Fatalf("menu failure should render null, got %d %s", resp.StatusCode, body)
	}

	_, body = doRequest(t, app, "/messages", sessionCookie(t, resp))
	got := decodeMessages(t, body)
	if len(got) != 1 || got[0].Type != messages.TypeError || !strings.HasPrefix(got[0].Message, "Menu error: ") {
		t.Fatalf("unexpected messages: %v", got)
	}
}

func TestSessionCookieReused(t *testing.T) {
	app := newContentApp(t, newCMSStub(t))

	resp, _ := doRequest(t, app, "/messages", nil)
	session := sessionCookie(t, resp)
	if !session.HttpOnly {
		t.Fatalf("session cookie should be HttpOnly")
	}

	resp, _ = doRequest(t, app, "/messages", session)
	for _, cookie := range resp.Cookies() {
		if cookie.Name == SessionCookie {
			t.Fatalf("valid session cookie should not be reissued")
		}
	}

	resp, _ = doRequest(t, app, "/messages", &http.Cookie{Name: SessionCookie, Value: "not-a-uuid"})
	if sessionCookie(t, resp).Value == "not-a-uuid" {
		t.Fatalf("invalid session id must be replaced")
	}
}
