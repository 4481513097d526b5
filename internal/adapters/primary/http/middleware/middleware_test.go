package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorrc/notify-gateway/internal/auth"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	t.Run("generates one", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.NotEmpty(t, seen)
		assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
	})

	t.Run("keeps the caller's", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "req-123")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, "req-123", seen)
	})
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	h := RequestID(RequestLogger(logger)(okHandler))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/internal/v1/notify/broadcast", nil))

	out := buf.String()
	assert.Contains(t, out, `"path":"/internal/v1/notify/broadcast"`)
	assert.Contains(t, out, `"status_code":204`)
}

func TestRecoveryLogger(t *testing.T) {
	h := RecoveryLogger(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServiceKeyAuth(t *testing.T) {
	hash, err := auth.HashServiceKey("svc-secret")
	require.NoError(t, err)
	h := ServiceKeyAuth(auth.NewServiceKeyVerifier([]string{hash}), discardLogger())(okHandler)

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"service key header", ServiceKeyHeader, "svc-secret", http.StatusNoContent},
		{"bearer", "Authorization", "Bearer svc-secret", http.StatusNoContent},
		{"wrong key", ServiceKeyHeader, "nope", http.StatusUnauthorized},
		{"missing", "", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestServiceKeyAuth_DisabledPassesThrough(t *testing.T) {
	h := ServiceKeyAuth(auth.NewServiceKeyVerifier(nil), discardLogger())(okHandler)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(0.001, 2)
	t.Cleanup(rl.Stop)
	h := rl.Middleware(okHandler)

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)

	other := httptest.NewRequest(http.MethodGet, "/", nil)
	other.RemoteAddr = "198.51.100.1:4242"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, other)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRateLimitByKey(t *testing.T) {
	rl := NewRateLimitByKey(0.001, 1)
	t.Cleanup(rl.Stop)
	assert.True(t, rl.Allow("tenant-001"))
	assert.False(t, rl.Allow("tenant-001"))
	assert.True(t, rl.Allow("tenant-002"))
}

func TestRateLimitByKey_SweepForgetsIdleKeys(t *testing.T) {
	rl := NewRateLimitByKey(0.001, 1)
	rl.Stop()
	rl.Stop()

	assert.True(t, rl.Allow("tenant-001"))
	assert.False(t, rl.Allow("tenant-001"))

	rl.sweep(time.Now())
	assert.Equal(t, 1, rl.tracked())

	rl.sweep(time.Now().Add(limiterTTL + time.Second))
	assert.Zero(t, rl.tracked())
	assert.True(t, rl.Allow("tenant-001"), "a forgotten key starts with a full bucket")
}
