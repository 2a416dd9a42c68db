package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/neoraffle/internal/app/storage"
	"github.com/R3E-Network/neoraffle/internal/app/storage/memory"
	"github.com/R3E-Network/neoraffle/internal/events"
	"github.com/R3E-Network/neoraffle/internal/gasbank"
	"github.com/R3E-Network/neoraffle/internal/middleware"
	"github.com/R3E-Network/neoraffle/internal/oracle"
	"github.com/R3E-Network/neoraffle/internal/raffle"
	"github.com/R3E-Network/neoraffle/pkg/logger"
)

const (
	testSecret = "http-test-secret"
	testFee    = int64(1_000_000)
)

var (
	raffleAccount = util.Uint160{0xAA}
	playerA       = util.Uint160{0x01}
	playerB       = util.Uint160{0x02}
)

type testEnv struct {
	handler http.Handler
	raffle  *raffle.Raffle
	bank    *gasbank.Manager
	coord   *oracle.LocalCoordinator
	clock   *raffle.ManualClock
	events  *events.RingBuffer
	store   *memory.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	bank := gasbank.NewManager()
	coord, err := oracle.NewLocalCoordinator(oracle.LocalConfig{SecretKey: []byte("k"), Logger: logger.Discard()})
	require.NoError(t, err)
	clock := raffle.NewManualClock(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	ring := events.NewRingBuffer(100)

	r, err := raffle.New(raffle.Config{
		Params:      raffle.Params{EntranceFee: testFee, Interval: 30 * time.Second},
		Address:     raffleAccount,
		Coordinator: coord,
		Bank:        bank,
		Clock:       clock,
		Events:      ring,
		Logger:      logger.Discard(),
	})
	require.NoError(t, err)

	store := memory.New()
	h := NewHandler(Options{
		Raffle:  r,
		Oracle:  coord,
		Ledger:  bank,
		Events:  ring,
		History: store,
		Auth:    middleware.NewServiceAuth(testSecret, logger.Discard()),
		Logger:  logger.Discard(),
	})
	return &testEnv{handler: h, raffle: r, bank: bank, coord: coord, clock: clock, events: ring, store: store}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, service string) *httptest.ResponseRecorder {
	t.Helper()
	var token string
	if service != "" {
		var err error
		token, err = middleware.GenerateServiceToken(testSecret, service, time.Minute)
		require.NoError(t, err)
	}
	return e.doWithToken(t, method, path, body, token)
}

func (e *testEnv) doWithToken(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(middleware.ServiceTokenHeader, token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

// enter posts an entry for player signed with that player's own token.
func (e *testEnv) enter(t *testing.T, player util.Uint160, amount int64) *httptest.ResponseRecorder {
	t.Helper()
	return e.doWithToken(t, http.MethodPost, "/raffle/enter", enterRequest{Player: addr(player), Amount: amount}, playerToken(t, player))
}

func playerToken(t *testing.T, player util.Uint160) string {
	t.Helper()
	token, err := middleware.GeneratePlayerToken(testSecret, addr(player), time.Minute)
	require.NoError(t, err)
	return token
}

func (e *testEnv) fund(t *testing.T, player util.Uint160, amount int64) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/accounts/"+addr(player)+"/deposit", map[string]int64{"amount": amount}, middleware.ServiceOperator)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func addr(u util.Uint160) string {
	return address.Uint160ToString(u)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthAndSummary(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(middleware.TraceHeader))

	rec = env.do(t, http.MethodGet, "/raffle", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[Summary](t, rec)
	assert.Equal(t, addr(raffleAccount), summary.Address)
	assert.Equal(t, testFee, summary.EntranceFee)
	assert.Equal(t, float64(30), summary.IntervalSeconds)
	assert.Equal(t, raffle.StateOpen, summary.State)
	assert.False(t, summary.UpkeepNeeded)
	assert.Empty(t, summary.RecentWinner)
}

func TestAccessors(t *testing.T) {
	env := newTestEnv(t)

	fee := decode[map[string]int64](t, env.do(t, http.MethodGet, "/raffle/entrance-fee", nil, ""))
	assert.Equal(t, testFee, fee["entrance_fee"])

	state := decode[map[string]string](t, env.do(t, http.MethodGet, "/raffle/state", nil, ""))
	assert.Equal(t, "open", state["state"])

	interval := decode[map[string]any](t, env.do(t, http.MethodGet, "/raffle/interval", nil, ""))
	assert.Equal(t, "30s", interval["interval"])

	ts := decode[map[string]time.Time](t, env.do(t, http.MethodGet, "/raffle/last-timestamp", nil, ""))
	assert.True(t, ts["last_timestamp"].Equal(env.raffle.LastTimestamp()))

	winner := decode[map[string]string](t, env.do(t, http.MethodGet, "/raffle/winner", nil, ""))
	assert.Equal(t, "", winner["recent_winner"])

	rec := env.do(t, http.MethodGet, "/raffle/entrants/0", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, "/raffle/state", nil, "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestEnter(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, playerA, 10*testFee)

	rec := env.enter(t, playerA, testFee)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	count := decode[map[string]int](t, env.do(t, http.MethodGet, "/raffle/entrants/count", nil, ""))
	assert.Equal(t, 1, count["count"])

	entrant := decode[map[string]any](t, env.do(t, http.MethodGet, "/raffle/entrants/0", nil, ""))
	assert.Equal(t, addr(playerA), entrant["player"])

	balance := decode[map[string]any](t, env.do(t, http.MethodGet, "/accounts/"+addr(playerA)+"/balance", nil, ""))
	assert.Equal(t, float64(9*testFee), balance["balance"])

	// Script hash form is accepted too.
	token := playerToken(t, playerA)
	rec = env.doWithToken(t, http.MethodPost, "/raffle/enter", enterRequest{Player: "0x" + playerA.StringLE(), Amount: testFee}, token)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// The token names the player when the body does not.
	rec = env.doWithToken(t, http.MethodPost, "/raffle/enter", enterRequest{Amount: testFee}, token)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, addr(playerA), decode[map[string]any](t, rec)["player"])

	// The operator may enter on behalf of any funded account.
	env.fund(t, playerB, testFee)
	rec = env.do(t, http.MethodPost, "/raffle/enter", enterRequest{Player: addr(playerB), Amount: testFee}, middleware.ServiceOperator)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 4, env.raffle.NumberOfEntrants())
}

func TestEnterRequiresPlayerAuthorization(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, playerA, 5*testFee)
	body := enterRequest{Player: addr(playerA), Amount: testFee}

	for i := 0; i < 5; i++ {
		rec := env.do(t, http.MethodPost, "/raffle/enter", body, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := env.doWithToken(t, http.MethodPost, "/raffle/enter", body, playerToken(t, playerB))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, http.MethodPost, "/raffle/enter", body, middleware.ServiceKeeper)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	assert.Equal(t, 5*testFee, env.bank.Balance(playerA))
	assert.Equal(t, 0, env.raffle.NumberOfEntrants())
	assert.Equal(t, int64(0), env.raffle.Pot())
}

func TestEnterErrors(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, playerA, 10*testFee)

	cases := []struct {
		name  string
		body  any
		token string
		want  int
	}{
		{"insufficient payment", enterRequest{Player: addr(playerA), Amount: testFee - 1}, playerToken(t, playerA), http.StatusBadRequest},
		{"bad address", enterRequest{Player: "nope", Amount: testFee}, playerToken(t, playerA), http.StatusBadRequest},
		{"operator without address", enterRequest{Amount: testFee}, "", http.StatusBadRequest},
		{"unknown field", map[string]any{"player": addr(playerA), "amount": testFee, "extra": 1}, playerToken(t, playerA), http.StatusBadRequest},
		{"unfunded player", enterRequest{Player: addr(playerB), Amount: testFee}, playerToken(t, playerB), http.StatusPaymentRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var rec *httptest.ResponseRecorder
			if tc.token == "" {
				rec = env.do(t, http.MethodPost, "/raffle/enter", tc.body, middleware.ServiceOperator)
			} else {
				rec = env.doWithToken(t, http.MethodPost, "/raffle/enter", tc.body, tc.token)
			}
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
	assert.Equal(t, 0, env.raffle.NumberOfEntrants())
}

func TestDepositRequiresOperator(t *testing.T) {
	env := newTestEnv(t)
	path := "/accounts/" + addr(playerA) + "/deposit"

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPost, path, map[string]int64{"amount": 5}, "").Code)
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPost, path, map[string]int64{"amount": 5}, middleware.ServiceKeeper).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, path, map[string]int64{"amount": 0}, middleware.ServiceOperator).Code)
}

func TestDrawLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, playerA, 10*testFee)
	env.fund(t, playerB, 10*testFee)
	for _, p := range []util.Uint160{playerA, playerB} {
		rec := env.enter(t, p, testFee)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	check := decode[map[string]any](t, env.do(t, http.MethodGet, "/raffle/upkeep", nil, ""))
	assert.Equal(t, false, check["upkeep_needed"])

	rec := env.do(t, http.MethodPost, "/raffle/upkeep", nil, middleware.ServiceKeeper)
	assert.Equal(t, http.StatusConflict, rec.Code)

	env.clock.Advance(time.Minute)
	check = decode[map[string]any](t, env.do(t, http.MethodGet, "/raffle/upkeep", nil, ""))
	assert.Equal(t, true, check["upkeep_needed"])

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPost, "/raffle/upkeep", nil, "").Code)
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPost, "/raffle/upkeep", nil, middleware.ServiceOracle).Code)

	rec = env.do(t, http.MethodPost, "/raffle/upkeep", nil, middleware.ServiceKeeper)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	requestID := decode[map[string]uint64](t, rec)["request_id"]
	assert.Equal(t, uint64(1), requestID)

	pending := decode[map[string][]uint64](t, env.do(t, http.MethodGet, "/raffle/requests", nil, ""))
	assert.Equal(t, []uint64{1}, pending["pending"])

	rec = env.enter(t, playerA, testFee)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/raffle/fulfill", fulfillRequest{RequestID: 99}, middleware.ServiceOracle)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/raffle/fulfill", fulfillRequest{RequestID: requestID, RandomWords: []string{"-5"}}, middleware.ServiceOracle)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// 0x03 mod 2 selects index 1.
	rec = env.do(t, http.MethodPost, "/raffle/fulfill", fulfillRequest{RequestID: requestID, RandomWords: []string{"0x03"}}, middleware.ServiceOracle)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[map[string]any](t, rec)
	assert.Equal(t, addr(playerB), result["recent_winner"])
	assert.Equal(t, "open", result["state"])
	assert.Equal(t, 11*testFee, env.bank.Balance(playerB))

	rec = env.do(t, http.MethodPost, "/raffle/fulfill", fulfillRequest{RequestID: requestID}, middleware.ServiceOracle)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	list := decode[[]events.Event](t, env.do(t, http.MethodGet, "/events?type="+string(events.EventWinnerPicked), nil, ""))
	require.Len(t, list, 1)
	assert.Equal(t, requestID, list[0].RequestID)

	all := decode[[]events.Event](t, env.do(t, http.MethodGet, "/events?limit=2", nil, ""))
	assert.Len(t, all, 2)
}

func TestFulfillTransferFailed(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, playerA, 10*testFee)
	require.Equal(t, http.StatusCreated, env.enter(t, playerA, testFee).Code)
	env.clock.Advance(time.Minute)
	require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/raffle/upkeep", nil, middleware.ServiceKeeper).Code)

	env.bank.RejectIncoming(playerA, true)
	rec := env.do(t, http.MethodPost, "/raffle/fulfill", fulfillRequest{RequestID: 1}, middleware.ServiceOracle)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, raffle.StateCalculating, env.raffle.State())
	assert.Equal(t, testFee, env.raffle.Pot())
}

func TestWinners(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.RecordWinner(ctx, storage.Winner{RequestID: 1, Winner: addr(playerA), Payout: 10}))
	require.NoError(t, env.store.RecordWinner(ctx, storage.Winner{RequestID: 2, Winner: addr(playerB), Payout: 20}))

	list := decode[[]storage.Winner](t, env.do(t, http.MethodGet, "/raffle/winners?limit=1", nil, ""))
	require.Len(t, list, 1)
	assert.Equal(t, uint64(2), list[0].RequestID)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/raffle/winners?limit=x", nil, "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "neoraffle_raffle_state")
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, playerA, 100*testFee)

	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events/stream?type=" + string(events.EventEntryRecorded)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The subscription is registered after the upgrade; retry the entry
	// until the stream delivers it.
	received := make(chan events.Event, 1)
	go func() {
		var e events.Event
		if err := conn.ReadJSON(&e); err == nil {
			received <- e
		}
	}()

	deadline := time.After(5 * time.Second)
	for {
		require.NoError(t, env.raffle.Enter(context.Background(), playerA, testFee))
		select {
		case e := <-received:
			assert.Equal(t, events.EventEntryRecorded, e.Type)
			assert.Equal(t, addr(playerA), e.Entrant)
			return
		case <-time.After(100 * time.Millisecond):
		case <-deadline:
			t.Fatalf("no event received over websocket")
		}
	}
}
