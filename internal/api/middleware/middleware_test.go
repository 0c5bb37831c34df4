package middleware_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	mw "github.com/ayupilot/genjobs/internal/api/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock Cache ---

type mockCache struct {
	counter int64
	err     error
}

func (m *mockCache) Ping(_ context.Context) error { return nil }

func (m *mockCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.counter++
	return m.counter, nil
}

// --- helpers ---

func okHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

func doRequest(handler http.Handler) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/x", nil)
	req.RemoteAddr = "10.0.0.1:54321"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// --- RateLimit ---

func TestRateLimit_AllowsUnderLimit(t *testing.T) {
	rl := mw.NewRateLimit(&mockCache{}, 5)
	handler := rl.Limit(okHandler())

	for i := 0; i < 5; i++ {
		rec := doRequest(handler)
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimit_BlocksOverLimit(t *testing.T) {
	rl := mw.NewRateLimit(&mockCache{}, 2)
	handler := rl.Limit(okHandler())

	doRequest(handler)
	doRequest(handler)
	rec := doRequest(handler)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", env.Error.Code)
}

func TestRateLimit_SetsHeaders(t *testing.T) {
	rl := mw.NewRateLimit(&mockCache{}, 10)
	handler := rl.Limit(okHandler())

	rec := doRequest(handler)
	assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "9", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))

	reset, err := strconv.ParseInt(rec.Header().Get("X-RateLimit-Reset"), 10, 64)
	require.NoError(t, err)
	assert.Greater(t, reset, time.Now().Unix())
}

// Redis being down must never take the API down with it.
func TestRateLimit_FailsOpenOnCacheError(t *testing.T) {
	rl := mw.NewRateLimit(&mockCache{err: context.DeadlineExceeded}, 1)
	handler := rl.Limit(okHandler())

	for i := 0; i < 3; i++ {
		rec := doRequest(handler)
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

// --- Recovery ---

func TestRecovery_TurnsPanicInto500(t *testing.T) {
	handler := mw.Recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := doRequest(handler)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "INTERNAL_ERROR", env.Error.Code)
}

func TestRecovery_PassesThrough(t *testing.T) {
	handler := mw.Recovery(okHandler())
	rec := doRequest(handler)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

// http.ErrAbortHandler is the server's own panic value; swallowing it would
// hide aborted responses from net/http.
func TestRecovery_RethrowsAbortHandler(t *testing.T) {
	handler := mw.Recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		doRequest(handler)
	})
}

// --- Logger ---

func TestLogger_PassesThrough(t *testing.T) {
	handler := mw.Logger(okHandler())
	rec := doRequest(handler)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

// A handler that writes the body without an explicit WriteHeader still gets
// the implicit 200 through the recorder.
func TestLogger_ImplicitStatusSurvives(t *testing.T) {
	handler := mw.Logger(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":{}}`))
	}))
	rec := doRequest(handler)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"data":{}}`, rec.Body.String())
}
