package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type listener bool

func (l listener) Listening() bool { return bool(l) }

func TestCompositeHealthChecker(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name        string
		setup       func(c *CompositeHealthChecker)
		wantHealthy bool
		wantReady   bool
		wantMessage string
	}{
		{
			name:        "no checks",
			setup:       func(*CompositeHealthChecker) {},
			wantHealthy: true,
			wantReady:   true,
			wantMessage: "No health checks registered",
		},
		{
			name: "all pass",
			setup: func(c *CompositeHealthChecker) {
				c.AddCheck("database", ok)
				c.AddCheck("event_feed", NewFeedCheck(listener(true)))
			},
			wantHealthy: true,
			wantReady:   true,
			wantMessage: "All checks passed",
		},
		{
			name: "optional down degrades",
			setup: func(c *CompositeHealthChecker) {
				c.AddCheck("database", ok)
				c.AddOptionalCheck("redis", down)
			},
			wantHealthy: false,
			wantReady:   true,
			wantMessage: "Degraded: redis",
		},
		{
			name: "required down",
			setup: func(c *CompositeHealthChecker) {
				c.AddCheck("database", down)
				c.AddCheck("event_feed", NewFeedCheck(listener(false)))
				c.AddOptionalCheck("redis", ok)
			},
			wantHealthy: false,
			wantReady:   false,
			wantMessage: "Some checks failed: database, event_feed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCompositeHealthChecker("test")
			tt.setup(c)

			status := c.Check(context.Background())
			assert.Equal(t, tt.wantHealthy, status.Healthy)
			assert.Equal(t, tt.wantReady, status.Ready)
			assert.Equal(t, tt.wantMessage, status.Message)
			assert.Equal(t, "test", status.Version)
		})
	}
}

func TestCompositeHealthChecker_Timeout(t *testing.T) {
	c := NewCompositeHealthChecker("test")
	c.SetTimeout(20 * time.Millisecond)
	c.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	status := c.Check(context.Background())
	require.Contains(t, status.Checks, "slow")
	assert.False(t, status.Checks["slow"].Healthy)
	assert.Equal(t, context.DeadlineExceeded.Error(), status.Checks["slow"].Message)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAPIKeyAuth(t *testing.T) {
	auth := NewAPIKeyAuth("X-API-Key", []string{" secret ", ""})
	require.True(t, auth.Enabled())
	h := auth.Middleware(okHandler())

	tests := []struct {
		name   string
		header map[string]string
		want   int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"wrong", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"header", map[string]string{"X-API-Key": "secret"}, http.StatusNoContent},
		{"bearer", map[string]string{"Authorization": "Bearer secret"}, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	open := NewAPIKeyAuth("X-API-Key", nil)
	assert.False(t, open.Enabled())
	rec := httptest.NewRecorder()
	open.Middleware(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRequestSizeLimitMiddleware(t *testing.T) {
	h := RequestSizeLimitMiddleware(8)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"logs":[1,2,3]}`)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, rec.Body.String(), "payload_too_large")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) MiddlewareFunc {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(mark("outer"), mark("inner"), NoCacheMiddleware)(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"outer", "inner"}, order)
	assert.Contains(t, rec.Header().Get("Cache-Control"), "no-store")
}

func TestTimeoutMiddleware_ZeroDisables(t *testing.T) {
	h := TimeoutMiddleware(0)(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
