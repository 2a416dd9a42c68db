package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                       "/",
		"/":                      "/",
		"/health":                "/health",
		"/raffle":                "/raffle",
		"/raffle/":               "/raffle",
		"/raffle/winner":         "/raffle/winner",
		"/raffle/entrants/count": "/raffle/entrants/count",
		"/raffle/entrants/17":    "/raffle/entrants/:index",
		"/events/stream":         "/events/stream",
	}
	for in, want := range cases {
		assert.Equal(t, want, canonicalPath(in), "path %q", in)
	}
}

func TestRecordEntry(t *testing.T) {
	before := testutil.ToFloat64(entries.WithLabelValues("accepted"))
	RecordEntry("accepted")
	assert.Equal(t, before+1, testutil.ToFloat64(entries.WithLabelValues("accepted")))

	beforeUnknown := testutil.ToFloat64(entries.WithLabelValues("unknown"))
	RecordEntry("")
	assert.Equal(t, beforeUnknown+1, testutil.ToFloat64(entries.WithLabelValues("unknown")))
}

func TestRecordDrawCompleted(t *testing.T) {
	draws := testutil.ToFloat64(drawsCompleted)
	paid := testutil.ToFloat64(payoutTotal)
	RecordDrawCompleted(250)
	assert.Equal(t, draws+1, testutil.ToFloat64(drawsCompleted))
	assert.Equal(t, paid+250, testutil.ToFloat64(payoutTotal))
}

func TestSetRound(t *testing.T) {
	SetRound(300, 3, 1)
	assert.Equal(t, float64(300), testutil.ToFloat64(roundPot))
	assert.Equal(t, float64(3), testutil.ToFloat64(roundEntrants))
	assert.Equal(t, float64(1), testutil.ToFloat64(roundState))
}

func TestRecordKeeperRun(t *testing.T) {
	before := testutil.ToFloat64(keeperRuns.WithLabelValues("skipped"))
	RecordKeeperRun("skipped", 0)
	assert.Equal(t, before+1, testutil.ToFloat64(keeperRuns.WithLabelValues("skipped")))
}

func TestInstrumentHandler(t *testing.T) {
	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	before := testutil.ToFloat64(httpRequests.WithLabelValues("POST", "/raffle/enter", "409"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/raffle/enter", nil))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(httpRequests.WithLabelValues("POST", "/raffle/enter", "409")))
}

func TestHandlerExposesRaffleMetrics(t *testing.T) {
	RecordCheckpoint("memory", true)
	RecordKeeperRun("performed", time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	for _, name := range []string{
		"neoraffle_storage_checkpoints_total",
		"neoraffle_keeper_runs_total",
		"neoraffle_raffle_pot_gas_units",
	} {
		if !strings.Contains(body, name) {
			t.Fatalf("metrics output missing %s", name)
		}
	}
}
