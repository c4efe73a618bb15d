package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fundarb/internal/config"
	"github.com/alanyoungcy/fundarb/internal/engine"
	"github.com/alanyoungcy/fundarb/internal/exchange/exchangetest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer stands up the full API over an engine wired to fake venues.
// Zero capital and a zero trade floor let the pipeline validate and execute
// an opportunity end to end during ForceRefresh.
func newTestServer(t *testing.T) (*httptest.Server, *engine.Engine) {
	t.Helper()

	cfg := config.Defaults()
	cfg.Risk.MinTradeAmount = 0
	cfg.TradingPairs = []config.TradingPair{{
		Symbol:             "BTC-USD",
		ReyaSymbol:         "BTC-rUSD",
		HyperliquidSymbol:  "BTC",
		Enabled:            true,
		MinFundingRateDiff: 0.3,
		MaxPosition:        2000,
	}}

	reya := exchangetest.NewFake("reya", 0)
	hl := exchangetest.NewFake("hyperliquid", 0)
	reya.FundingRates["BTC-rUSD"] = 1.0
	hl.FundingRates["BTC"] = -0.5

	eng := engine.New(engine.Config{Cfg: &cfg, Reya: reya, Hyperliquid: hl, Logger: testLogger()})
	eng.Executor().SetSimulationDelay(time.Millisecond)
	require.NoError(t, eng.Initialize(context.Background()))

	s := New(0, eng, testLogger())
	srv := httptest.NewServer(s.httpServer.Handler)
	t.Cleanup(srv.Close)
	return srv, eng
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	var body map[string]any
	status := getJSON(t, srv.URL+"/api/health", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "stopped", body["state"])
}

func TestRefreshDrivesPipelineAndQueries(t *testing.T) {
	srv, eng := newTestServer(t)

	var refreshed map[string]string
	status := postJSON(t, srv.URL+"/api/refresh", &refreshed)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "refreshed", refreshed["status"])

	var spreads map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/spreads", &spreads))
	assert.Contains(t, spreads, "BTC-USD")

	var profitable []map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/spreads?profitable=true", &profitable))
	require.Len(t, profitable, 1)
	assert.Equal(t, "BTC-USD", profitable[0]["Symbol"])

	var rates map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/rates", &rates))
	assert.NotEmpty(t, rates)

	var stats map[string]json.RawMessage
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/stats", &stats))
	assert.Contains(t, stats, "engine")
	assert.Contains(t, stats, "detector")
	assert.Contains(t, stats, "executor")

	var report engine.StatusReport
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/status", &report))
	assert.Equal(t, engine.StateStopped, report.State)
	assert.Equal(t, 1, report.Executor.TotalExecutions)

	execs := eng.RecentExecutions(1)
	require.Len(t, execs, 1)

	var execBody map[string]any
	status = getJSON(t, srv.URL+"/api/executions/"+execs[0].ID, &execBody)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, execs[0].ID, execBody["ID"])

	var list []map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/executions", &list))
	assert.Len(t, list, 1)
}

func TestOpportunityLookup(t *testing.T) {
	srv, eng := newTestServer(t)
	require.Equal(t, http.StatusOK, postJSON(t, srv.URL+"/api/refresh", nil))

	// The single validated opportunity was executed during refresh; it is
	// still queryable by id.
	best := eng.Detector().OpportunitiesForSymbol("BTC-USD")
	require.NotEmpty(t, best)

	var opp map[string]any
	status := getJSON(t, srv.URL+"/api/opportunities/"+best[0].ID, &opp)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, best[0].ID, opp["ID"])

	// The zero max-loss estimate makes the ratio infinite; the encoded record
	// drops the field rather than failing to serialize.
	assert.NotContains(t, opp, "RiskReward")

	var errBody map[string]string
	status = getJSON(t, srv.URL+"/api/opportunities/missing", &errBody)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "opportunity not found", errBody["error"])
}

func TestExecutionNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	var errBody map[string]string
	status := getJSON(t, srv.URL+"/api/executions/missing", &errBody)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "execution not found", errBody["error"])
}

func TestExecutionsRejectsInvalidLimit(t *testing.T) {
	srv, _ := newTestServer(t)

	var errBody map[string]string
	status := getJSON(t, srv.URL+"/api/executions?limit=bogus", &errBody)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid limit", errBody["error"])

	status = getJSON(t, srv.URL+"/api/executions?limit=-1", &errBody)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestEmergencyStopEndpoint(t *testing.T) {
	srv, eng := newTestServer(t)
	require.NoError(t, eng.Start(context.Background()))

	var body map[string]string
	status := postJSON(t, srv.URL+"/api/emergency-stop", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "stopped", body["status"])
	assert.False(t, eng.Running())
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/refresh")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
