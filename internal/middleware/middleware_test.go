package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/neoraffle/internal/events"
	"github.com/R3E-Network/neoraffle/pkg/logger"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2, logger.Discard())
	h := rl.Handler(okHandler)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/raffle", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)

	// A different client has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/raffle", nil)
	req.RemoteAddr = "10.0.0.2:5000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiterDisabled(t *testing.T) {
	h := NewRateLimiter(0, 0, logger.Discard()).Handler(okHandler)
	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(5, 5, logger.Discard())
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	rl.getLimiter("a")
	now = now.Add(time.Hour)
	rl.getLimiter("b")

	assert.Equal(t, 1, rl.Cleanup(10*time.Minute))
	assert.Len(t, rl.limiters, 1)
}

func TestServiceAuth(t *testing.T) {
	const secret = "test-secret"
	auth := NewServiceAuth(secret, logger.Discard())
	h := auth.Require(ServiceKeeper)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, ServiceKeeper, GetServiceID(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	}))

	serve := func(token string) int {
		req := httptest.NewRequest(http.MethodPost, "/raffle/upkeep", nil)
		if token != "" {
			req.Header.Set(ServiceTokenHeader, token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	keeperToken, err := GenerateServiceToken(secret, ServiceKeeper, time.Minute)
	require.NoError(t, err)
	oracleToken, err := GenerateServiceToken(secret, ServiceOracle, time.Minute)
	require.NoError(t, err)
	forged, err := GenerateServiceToken("other-secret", ServiceKeeper, time.Minute)
	require.NoError(t, err)
	expired, err := GenerateServiceToken(secret, ServiceKeeper, -time.Minute)
	require.NoError(t, err)

	assert.Equal(t, http.StatusNoContent, serve(keeperToken))
	assert.Equal(t, http.StatusNoContent, serve(keeperToken), "cached token")
	assert.Equal(t, http.StatusUnauthorized, serve(""))
	assert.Equal(t, http.StatusUnauthorized, serve("garbage"))
	assert.Equal(t, http.StatusUnauthorized, serve(forged))
	assert.Equal(t, http.StatusUnauthorized, serve(expired))
	assert.Equal(t, http.StatusForbidden, serve(oracleToken))
}

func TestPlayerToken(t *testing.T) {
	const secret = "test-secret"
	const player = "NbnjKGMBJzJ6j5PHeYhjJDaQ5Vy5UYu4Fv"
	auth := NewServiceAuth(secret, logger.Discard())

	var got string
	h := auth.Require(ServicePlayer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetPlayer(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	serve := func(token string) int {
		req := httptest.NewRequest(http.MethodPost, "/raffle/enter", nil)
		req.Header.Set(ServiceTokenHeader, token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	token, err := GeneratePlayerToken(secret, player, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, serve(token))
	assert.Equal(t, player, got)

	// A player service id without the claim names nobody.
	bare, err := GenerateServiceToken(secret, ServicePlayer, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, serve(bare))

	operator, err := GenerateServiceToken(secret, ServiceOperator, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, serve(operator))

	_, err = GeneratePlayerToken(secret, "", time.Minute)
	assert.Error(t, err)
	assert.Empty(t, GetPlayer(httptest.NewRequest(http.MethodGet, "/", nil).Context()))
}

func TestServiceAuthWithoutSecret(t *testing.T) {
	token, err := GenerateServiceToken("s", ServiceOracle, time.Minute)
	require.NoError(t, err)
	_, err = NewServiceAuth("", logger.Discard()).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = GenerateServiceToken("", ServiceOracle, time.Minute)
	assert.Error(t, err)
}

func TestTracingMiddleware(t *testing.T) {
	var seen string
	h := NewTracingMiddleware(logger.Discard()).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ring := events.NewRingBuffer(1)
		ring.LogWithContext(r.Context(), events.Event{Type: events.EventEntryRecorded})
		seen = ring.Recent(1)[0].TraceID
	}))

	req := httptest.NewRequest(http.MethodGet, "/raffle", nil)
	req.Header.Set(TraceHeader, "trace-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "trace-123", seen)
	assert.Equal(t, "trace-123", rec.Header().Get(TraceHeader))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/raffle", nil))
	assert.NotEmpty(t, rec.Header().Get(TraceHeader))
	assert.Equal(t, rec.Header().Get(TraceHeader), seen)
}

func TestCORS(t *testing.T) {
	h := NewCORSMiddleware([]string{"https://raffle.example"}).Handler(okHandler)

	req := httptest.NewRequest(http.MethodOptions, "/raffle/enter", nil)
	req.Header.Set("Origin", "https://raffle.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://raffle.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/raffle", nil)
	req.Header.Set("Origin", "https://evil.raffle.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
