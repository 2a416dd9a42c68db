// Package httpapi exposes the raffle over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/neoraffle/internal/app/metrics"
	"github.com/R3E-Network/neoraffle/internal/app/storage"
	"github.com/R3E-Network/neoraffle/internal/events"
	"github.com/R3E-Network/neoraffle/internal/gasbank"
	"github.com/R3E-Network/neoraffle/internal/middleware"
	"github.com/R3E-Network/neoraffle/internal/oracle"
	"github.com/R3E-Network/neoraffle/internal/raffle"
	"github.com/R3E-Network/neoraffle/pkg/logger"
)

// RaffleService is the raffle surface served over HTTP.
type RaffleService interface {
	Address() util.Uint160
	EntranceFee() int64
	Interval() time.Duration
	NumberOfEntrants() int
	Entrant(index int) (util.Uint160, error)
	RecentWinner() util.Uint160
	State() raffle.State
	LastTimestamp() time.Time
	Pot() int64
	Status() raffle.UpkeepStatus
	Enter(ctx context.Context, player util.Uint160, payment int64) error
	CheckUpkeep(ctx context.Context) (bool, []byte)
	PerformUpkeep(ctx context.Context, performData []byte) (uint64, error)
}

// Oracle delivers randomness for pending requests.
type Oracle interface {
	Fulfill(ctx context.Context, requestID uint64) error
	FulfillWithWords(ctx context.Context, requestID uint64, words []*big.Int) error
	Pending() []uint64
}

// Ledger is the GAS balance book.
type Ledger interface {
	Balance(addr util.Uint160) int64
	Deposit(ctx context.Context, addr util.Uint160, amount int64) error
}

// Options wires the handler.
type Options struct {
	Raffle  RaffleService
	Oracle  Oracle
	Ledger  Ledger
	Events  events.EventLogger
	History storage.WinnerHistory
	Auth    *middleware.ServiceAuth
	Limiter *middleware.RateLimiter
	// CORSOrigins lists browser origins allowed to call the API.
	CORSOrigins []string
	Logger      *logger.Logger
}

var errInvalidInput = errors.New("invalid input")

type handler struct {
	opts Options
	log  *logger.Logger
}

// NewHandler returns a router exposing the raffle API.
func NewHandler(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = logger.NewDefault("httpapi")
	}
	if opts.Events == nil {
		opts.Events = events.NoOpLogger{}
	}
	if opts.Auth == nil {
		opts.Auth = middleware.NewServiceAuth("", opts.Logger)
	}
	h := &handler{opts: opts, log: opts.Logger}

	r := mux.NewRouter()
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	rf := r.PathPrefix("/raffle").Subrouter()
	rf.HandleFunc("", h.summary).Methods(http.MethodGet)
	rf.HandleFunc("/entrance-fee", h.entranceFee).Methods(http.MethodGet)
	rf.HandleFunc("/entrants/count", h.entrantCount).Methods(http.MethodGet)
	rf.HandleFunc("/entrants/{index:[0-9]+}", h.entrant).Methods(http.MethodGet)
	rf.HandleFunc("/winner", h.winner).Methods(http.MethodGet)
	rf.HandleFunc("/winners", h.winners).Methods(http.MethodGet)
	rf.HandleFunc("/state", h.state).Methods(http.MethodGet)
	rf.HandleFunc("/interval", h.interval).Methods(http.MethodGet)
	rf.HandleFunc("/last-timestamp", h.lastTimestamp).Methods(http.MethodGet)
	rf.Handle("/enter", opts.Auth.Require(middleware.ServicePlayer, middleware.ServiceOperator)(http.HandlerFunc(h.enter))).Methods(http.MethodPost)
	rf.HandleFunc("/upkeep", h.checkUpkeep).Methods(http.MethodGet)
	rf.Handle("/upkeep", opts.Auth.Require(middleware.ServiceKeeper)(http.HandlerFunc(h.performUpkeep))).Methods(http.MethodPost)
	rf.Handle("/fulfill", opts.Auth.Require(middleware.ServiceOracle)(http.HandlerFunc(h.fulfill))).Methods(http.MethodPost)
	rf.HandleFunc("/requests", h.pendingRequests).Methods(http.MethodGet)

	r.HandleFunc("/accounts/{address}/balance", h.balance).Methods(http.MethodGet)
	r.Handle("/accounts/{address}/deposit", opts.Auth.Require(middleware.ServiceOperator)(http.HandlerFunc(h.deposit))).Methods(http.MethodPost)

	r.HandleFunc("/events", h.listEvents).Methods(http.MethodGet)
	r.HandleFunc("/events/stream", h.streamEvents).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("not found"))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	})

	var out http.Handler = r
	if opts.Limiter != nil {
		out = opts.Limiter.Handler(out)
	}
	out = middleware.NewCORSMiddleware(opts.CORSOrigins).Handler(out)
	out = metrics.InstrumentHandler(out)
	out = middleware.NewTracingMiddleware(opts.Logger).Handler(out)
	return out
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"state":  h.opts.Raffle.State(),
	})
}

// Summary is the aggregated read model of the raffle.
type Summary struct {
	Address         string              `json:"address"`
	EntranceFee     int64               `json:"entrance_fee"`
	IntervalSeconds float64             `json:"interval_seconds"`
	State           raffle.State        `json:"state"`
	Entrants        int                 `json:"entrants"`
	Pot             int64               `json:"pot"`
	RecentWinner    string              `json:"recent_winner,omitempty"`
	LastTimestamp   time.Time           `json:"last_timestamp"`
	Upkeep          raffle.UpkeepStatus `json:"upkeep"`
	UpkeepNeeded    bool                `json:"upkeep_needed"`
}

func (h *handler) summary(w http.ResponseWriter, _ *http.Request) {
	rf := h.opts.Raffle
	status := rf.Status()
	writeJSON(w, http.StatusOK, Summary{
		Address:         address.Uint160ToString(rf.Address()),
		EntranceFee:     rf.EntranceFee(),
		IntervalSeconds: rf.Interval().Seconds(),
		State:           status.State,
		Entrants:        status.Entrants,
		Pot:             status.Pot,
		RecentWinner:    formatAddress(rf.RecentWinner()),
		LastTimestamp:   rf.LastTimestamp(),
		Upkeep:          status,
		UpkeepNeeded:    status.Needed(),
	})
}

func (h *handler) entranceFee(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int64{"entrance_fee": h.opts.Raffle.EntranceFee()})
}

func (h *handler) entrantCount(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"count": h.opts.Raffle.NumberOfEntrants()})
}

func (h *handler) entrant(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: index", errInvalidInput))
		return
	}
	player, err := h.opts.Raffle.Entrant(index)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"index":  index,
		"player": address.Uint160ToString(player),
	})
}

func (h *handler) winner(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"recent_winner": formatAddress(h.opts.Raffle.RecentWinner())})
}

func (h *handler) winners(w http.ResponseWriter, r *http.Request) {
	if h.opts.History == nil {
		writeJSON(w, http.StatusOK, []storage.Winner{})
		return
	}
	limit, err := queryInt(r, "limit", storage.DefaultWinnerLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	list, err := h.opts.History.ListWinners(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if list == nil {
		list = []storage.Winner{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) state(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]raffle.State{"state": h.opts.Raffle.State()})
}

func (h *handler) interval(w http.ResponseWriter, _ *http.Request) {
	d := h.opts.Raffle.Interval()
	writeJSON(w, http.StatusOK, map[string]any{
		"interval":         d.String(),
		"interval_seconds": d.Seconds(),
	})
}

func (h *handler) lastTimestamp(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]time.Time{"last_timestamp": h.opts.Raffle.LastTimestamp()})
}

// enterRequest may omit player when a player token authorizes the call.
type enterRequest struct {
	Player string `json:"player,omitempty"`
	Amount int64  `json:"amount"`
}

func (h *handler) enter(w http.ResponseWriter, r *http.Request) {
	var req enterRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", errInvalidInput, err))
		return
	}
	player, status, err := h.entryPlayer(r, req.Player)
	if err != nil {
		writeError(w, status, err)
		return
	}
	if err := h.opts.Raffle.Enter(r.Context(), player, req.Amount); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"player":   address.Uint160ToString(player),
		"amount":   req.Amount,
		"entrants": h.opts.Raffle.NumberOfEntrants(),
	})
}

// entryPlayer resolves whose balance pays for an entry. Player tokens may
// only spend their own account; the operator may enter any account.
func (h *handler) entryPlayer(r *http.Request, requested string) (util.Uint160, int, error) {
	if middleware.GetServiceID(r.Context()) != middleware.ServicePlayer {
		player, err := parseAddress(requested)
		if err != nil {
			return util.Uint160{}, http.StatusBadRequest, err
		}
		return player, 0, nil
	}

	caller, err := parseAddress(middleware.GetPlayer(r.Context()))
	if err != nil {
		return util.Uint160{}, http.StatusUnauthorized, middleware.ErrInvalidToken
	}
	if requested == "" {
		return caller, 0, nil
	}
	player, err := parseAddress(requested)
	if err != nil {
		return util.Uint160{}, http.StatusBadRequest, err
	}
	if !player.Equals(caller) {
		h.log.WithField("caller", address.Uint160ToString(caller)).
			WithField("player", address.Uint160ToString(player)).
			Warn("entry rejected, token is for another player")
		return util.Uint160{}, http.StatusForbidden, middleware.ErrPlayerMismatch
	}
	return player, 0, nil
}

func (h *handler) checkUpkeep(w http.ResponseWriter, r *http.Request) {
	needed, data := h.opts.Raffle.CheckUpkeep(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"upkeep_needed": needed,
		"status":        json.RawMessage(data),
	})
}

func (h *handler) performUpkeep(w http.ResponseWriter, r *http.Request) {
	var data []byte
	if r.Body != nil {
		body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		data = body
	}
	requestID, err := h.opts.Raffle.PerformUpkeep(r.Context(), data)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	h.log.WithField("request_id", requestID).
		WithField("service_id", middleware.GetServiceID(r.Context())).
		Info("draw initiated over http")
	writeJSON(w, http.StatusAccepted, map[string]uint64{"request_id": requestID})
}

type fulfillRequest struct {
	RequestID uint64 `json:"request_id"`
	// RandomWords are decimal or 0x-prefixed hex integers. When empty the
	// coordinator derives the words itself.
	RandomWords []string `json:"random_words,omitempty"`
}

func (h *handler) fulfill(w http.ResponseWriter, r *http.Request) {
	if h.opts.Oracle == nil {
		writeError(w, http.StatusNotImplemented, errors.New("no local oracle configured"))
		return
	}
	var req fulfillRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", errInvalidInput, err))
		return
	}

	var err error
	if len(req.RandomWords) == 0 {
		err = h.opts.Oracle.Fulfill(r.Context(), req.RequestID)
	} else {
		words := make([]*big.Int, len(req.RandomWords))
		for i, s := range req.RandomWords {
			word, ok := new(big.Int).SetString(s, 0)
			if !ok || word.Sign() < 0 {
				writeError(w, http.StatusBadRequest, fmt.Errorf("%w: random word %d", errInvalidInput, i))
				return
			}
			words[i] = word
		}
		err = h.opts.Oracle.FulfillWithWords(r.Context(), req.RequestID, words)
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request_id":    req.RequestID,
		"recent_winner": formatAddress(h.opts.Raffle.RecentWinner()),
		"state":         h.opts.Raffle.State(),
	})
}

func (h *handler) pendingRequests(w http.ResponseWriter, _ *http.Request) {
	ids := []uint64{}
	if h.opts.Oracle != nil {
		ids = append(ids, h.opts.Oracle.Pending()...)
	}
	writeJSON(w, http.StatusOK, map[string][]uint64{"pending": ids})
}

func (h *handler) balance(w http.ResponseWriter, r *http.Request) {
	if h.opts.Ledger == nil {
		writeError(w, http.StatusNotImplemented, errors.New("no ledger configured"))
		return
	}
	addr, err := parseAddress(mux.Vars(r)["address"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address": address.Uint160ToString(addr),
		"balance": h.opts.Ledger.Balance(addr),
	})
}

func (h *handler) deposit(w http.ResponseWriter, r *http.Request) {
	if h.opts.Ledger == nil {
		writeError(w, http.StatusNotImplemented, errors.New("no ledger configured"))
		return
	}
	addr, err := parseAddress(mux.Vars(r)["address"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req struct {
		Amount int64 `json:"amount"`
	}
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", errInvalidInput, err))
		return
	}
	if err := h.opts.Ledger.Deposit(r.Context(), addr, req.Amount); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address": address.Uint160ToString(addr),
		"balance": h.opts.Ledger.Balance(addr),
	})
}

func (h *handler) listEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var list []events.Event
	if t := r.URL.Query().Get("type"); t != "" {
		list = h.opts.Events.RecentByType(events.EventType(t), limit)
	} else {
		list = h.opts.Events.Recent(limit)
	}
	if list == nil {
		list = []events.Event{}
	}
	writeJSON(w, http.StatusOK, list)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errInvalidInput),
		errors.Is(err, raffle.ErrInsufficientPayment),
		errors.Is(err, raffle.ErrMissingRandomWords),
		errors.Is(err, gasbank.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, gasbank.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, raffle.ErrRoundNotOpen),
		errors.Is(err, raffle.ErrUpkeepNotNeeded),
		errors.Is(err, raffle.ErrNoEntrants),
		errors.Is(err, raffle.ErrPotOverflow),
		errors.Is(err, gasbank.ErrBalanceOverflow):
		return http.StatusConflict
	case errors.Is(err, raffle.ErrTransferFailed):
		return http.StatusBadGateway
	case errors.Is(err, raffle.ErrEntrantIndex),
		errors.Is(err, oracle.ErrNonexistentRequest):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// parseAddress accepts a Neo N3 address or a 0x-prefixed script hash.
func parseAddress(s string) (util.Uint160, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return util.Uint160{}, fmt.Errorf("%w: address is required", errInvalidInput)
	}
	if strings.HasPrefix(s, "0x") {
		u, err := util.Uint160DecodeStringLE(s[2:])
		if err != nil {
			return util.Uint160{}, fmt.Errorf("%w: script hash: %v", errInvalidInput, err)
		}
		return u, nil
	}
	u, err := address.StringToUint160(s)
	if err != nil {
		return util.Uint160{}, fmt.Errorf("%w: address: %v", errInvalidInput, err)
	}
	return u, nil
}

func formatAddress(u util.Uint160) string {
	if u.Equals(util.Uint160{}) {
		return ""
	}
	return address.Uint160ToString(u)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s", errInvalidInput, key)
	}
	if n == 0 {
		return def, nil
	}
	return n, nil
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(io.LimitReader(body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
