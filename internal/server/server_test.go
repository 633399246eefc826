package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/desertthunder/ytsync/internal/models"
	"github.com/desertthunder/ytsync/internal/resilience"
	"github.com/desertthunder/ytsync/internal/shared"
)

type stubCollections struct {
	collections []*models.Collection
	criteria    map[string]any
	err         error
}

func (s *stubCollections) List(ctx context.Context, criteria map[string]any) ([]*models.Collection, error) {
	s.criteria = criteria
	return s.collections, s.err
}

type stubUsage struct {
	usage models.QuotaUsage
	err   error
}

func (s stubUsage) Usage(ctx context.Context) (models.QuotaUsage, error) { return s.usage, s.err }

func TestBasicRouter(t *testing.T) {
	t.Run("method filtering", func(t *testing.T) {
		r := NewBasicRouter()
		r.Handle(http.MethodGet, "/ping", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte("pong"))
		}))

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
		if rec.Code != http.StatusOK || rec.Body.String() != "pong" {
			t.Errorf("expected pong, got %d %q", rec.Code, rec.Body.String())
		}

		rec = httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ping", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", rec.Code)
		}
	})

	t.Run("middleware order", func(t *testing.T) {
		var order []string
		mark := func(name string) Middleware {
			return func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
					order = append(order, name)
					next.ServeHTTP(w, req)
				})
			}
		}

		r := NewBasicRouter()
		r.Use(mark("first"), mark("second"))
		r.Handle(http.MethodGet, "/", http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			order = append(order, "handler")
		}))
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

		if strings.Join(order, ",") != "first,second,handler" {
			t.Errorf("unexpected order %v", order)
		}
	})

	t.Run("recover", func(t *testing.T) {
		r := NewBasicRouter()
		r.Use(Logging(shared.DiscardLogger()), Recover(shared.DiscardLogger()))
		r.Handle(http.MethodGet, "/boom", http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("boom")
		}))

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
	})
}

func TestOAuthHandler(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.Form.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"access","refresh_token":"refresh","token_type":"Bearer","expires_in":3600}`))
	}))
	defer tokenServer.Close()

	config := func() *oauth2.Config {
		return &oauth2.Config{
			ClientID:     "client",
			ClientSecret: "secret",
			RedirectURL:  "http://localhost:3000/oauth/google",
			Endpoint:     oauth2.Endpoint{TokenURL: tokenServer.URL, AuthStyle: oauth2.AuthStyleInParams},
		}
	}

	receive := func(t *testing.T, h *OAuthHandler) OAuthResult {
		t.Helper()
		select {
		case res := <-h.Result():
			return res
		case <-time.After(time.Second):
			t.Fatal("no result received")
		}
		return OAuthResult{}
	}

	t.Run("routes follow redirect uri", func(t *testing.T) {
		h := NewOAuthHandler(config(), "state")
		if routes := h.Routes(); len(routes) != 1 || routes[0] != "/oauth/google" {
			t.Errorf("unexpected routes %v", routes)
		}
		if got := CallbackPath("http://localhost:3000"); got != "/callback" {
			t.Errorf("expected default path, got %s", got)
		}
	})

	t.Run("exchanges code", func(t *testing.T) {
		h := NewOAuthHandler(config(), "state")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/google?state=state&code=good-code", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		res := receive(t, h)
		if res.Error() != nil {
			t.Fatalf("unexpected error: %v", res.Error())
		}
		if res.Token.AccessToken != "access" || res.Token.RefreshToken != "refresh" {
			t.Errorf("unexpected token %+v", res.Token)
		}

		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/google?state=state&code=good-code", nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("second callback should be rejected, got %d", rec.Code)
		}
	})

	t.Run("invalid state", func(t *testing.T) {
		h := NewOAuthHandler(config(), "state")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/google?state=forged&code=good-code", nil))

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
		if res := receive(t, h); res.Error() == nil {
			t.Error("expected state error")
		}
	})

	t.Run("access denied", func(t *testing.T) {
		h := NewOAuthHandler(config(), "state")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/google?state=state&error=access_denied", nil))

		res := receive(t, h)
		if res.Error() == nil || !strings.Contains(res.Error().Error(), "access_denied") {
			t.Errorf("expected access_denied error, got %v", res.Error())
		}
	})

	t.Run("exchange failure", func(t *testing.T) {
		h := NewOAuthHandler(config(), "state")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/google?state=state&code=bad-code", nil))

		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
		if res := receive(t, h); res.Error() == nil {
			t.Error("expected exchange error")
		}
	})
}

func TestStatusHandler(t *testing.T) {
	synced := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	c := models.NewCollection("PL1", "Mix")
	c.ItemCount = 4
	c.Status = models.StatusCompleted
	c.LastSyncedAt = &synced

	collections := &stubCollections{collections: []*models.Collection{c}}
	breaker := resilience.NewCircuitBreaker("youtube")
	h := NewStatusHandler(collections, stubUsage{usage: models.QuotaUsage{Day: "2026-03-14", Used: 40, Limit: 100}}, breaker, nil)

	router := NewBasicRouter()
	router.Handler(h)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	t.Run("health", func(t *testing.T) {
		if rec := get("/healthz"); rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("collections", func(t *testing.T) {
		rec := get("/api/collections?status=completed")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var out []collectionStatus
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if len(out) != 1 || out[0].RemoteID != "PL1" || out[0].ItemCount != 4 || out[0].Status != "completed" {
			t.Errorf("unexpected collections %+v", out)
		}
		if collections.criteria["status"] != "completed" {
			t.Errorf("expected status filter to be passed, got %v", collections.criteria)
		}

		if rec := get("/api/collections?status=bogus"); rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for invalid filter, got %d", rec.Code)
		}
	})

	t.Run("collections error", func(t *testing.T) {
		collections.err = errors.New("db down")
		defer func() { collections.err = nil }()
		if rec := get("/api/collections"); rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
	})

	t.Run("quota", func(t *testing.T) {
		rec := get("/api/quota")
		var out quotaStatus
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if out.Used != 40 || out.Remaining != 60 {
			t.Errorf("unexpected quota %+v", out)
		}
	})

	t.Run("breaker", func(t *testing.T) {
		rec := get("/api/breaker")
		var out breakerStatus
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if out.Name != "youtube" || out.State != "closed" {
			t.Errorf("unexpected breaker %+v", out)
		}
	})

	t.Run("missing dependencies", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewStatusHandler(nil, nil, nil, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/quota", nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})
}

func TestServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	router := NewBasicRouter()
	router.Handler(NewStatusHandler(nil, nil, nil, nil))
	srv := New(ln.Addr().String(), router, shared.DiscardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
