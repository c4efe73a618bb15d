package domain

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpportunityID(t *testing.T) {
	ts := time.Unix(1756700000, 0)
	assert.Equal(t, "BTC-USD_1756700000", OpportunityID("BTC-USD", ts))
}

func TestOpportunityExpired(t *testing.T) {
	now := time.Now().UTC()
	opp := &ArbitrageOpportunity{ExpiresAt: now.Add(time.Minute)}

	assert.False(t, opp.Expired(now))
	assert.True(t, opp.Expired(now.Add(2*time.Minute)))

	// Zero expiry never expires.
	assert.False(t, (&ArbitrageOpportunity{}).Expired(now))
}

func TestOpportunityActive(t *testing.T) {
	for status, want := range map[OpportunityStatus]bool{
		OpportunityDetected:  true,
		OpportunityValidated: true,
		OpportunityExecuting: false,
		OpportunityExecuted:  false,
		OpportunityExpired:   false,
		OpportunityRejected:  false,
	} {
		assert.Equal(t, want, (&ArbitrageOpportunity{Status: status}).Active(), string(status))
	}
}

func TestOpportunityScore(t *testing.T) {
	opp := &ArbitrageOpportunity{RiskReward: 2.0, ConfidenceScore: 0.8}
	assert.InDelta(t, 1.6, opp.Score(), 1e-9)

	infinite := &ArbitrageOpportunity{RiskReward: math.Inf(1), ConfidenceScore: 0.5}
	assert.True(t, math.IsInf(infinite.Score(), 1))
}

func TestOpportunityJSONOmitsInfiniteRiskReward(t *testing.T) {
	opp := &ArbitrageOpportunity{
		ID:         "BTC-USD_1756700000",
		Symbol:     "BTC-USD",
		Status:     OpportunityValidated,
		RiskReward: math.Inf(1),
	}

	body, err := json.Marshal(opp)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "BTC-USD_1756700000", decoded["ID"])
	assert.NotContains(t, decoded, "RiskReward")

	opp.RiskReward = 2.5
	body, err = json.Marshal(opp)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, 2.5, decoded["RiskReward"])
}

func TestBeginExecutionClaimsOnce(t *testing.T) {
	now := time.Now().UTC()
	opp := &ArbitrageOpportunity{Status: OpportunityValidated, ExpiresAt: now.Add(time.Minute)}

	require.NoError(t, opp.BeginExecution(now))
	assert.Equal(t, OpportunityExecuting, opp.CurrentStatus())
	assert.Equal(t, now, opp.ExecutedAt)

	// A second claim loses.
	assert.ErrorIs(t, opp.BeginExecution(now), ErrNotValidated)

	stale := &ArbitrageOpportunity{Status: OpportunityValidated, ExpiresAt: now.Add(-time.Minute)}
	assert.ErrorIs(t, stale.BeginExecution(now), ErrExpired)
	assert.Equal(t, OpportunityExpired, stale.CurrentStatus())
}

func TestAddNoteAccumulates(t *testing.T) {
	opp := &ArbitrageOpportunity{}
	opp.AddNote("Low confidence score")
	opp.AddNote("Poor risk/reward ratio")
	assert.Equal(t, "Low confidence score; Poor risk/reward ratio; ", opp.Notes)
}

func TestExecutionStatusTerminal(t *testing.T) {
	assert.False(t, ExecutionPending.Terminal())
	assert.False(t, ExecutionPartial.Terminal())
	assert.True(t, ExecutionCompleted.Terminal())
	assert.True(t, ExecutionFailed.Terminal())
	assert.True(t, ExecutionCancelled.Terminal())
}

func TestStableAvailable(t *testing.T) {
	balances := []Balance{
		{Currency: "USD", Available: 100},
		{Currency: "USDC", Available: 50},
		{Currency: "rUSD", Available: 25},
		{Currency: "BTC", Available: 2},
	}
	assert.Equal(t, 175.0, StableAvailable(balances))
	assert.Zero(t, StableAvailable(nil))
}
