package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCostStore struct {
	records []UsageRecord
	err     error
}

func (f *fakeCostStore) UsageByDateRange(ctx context.Context, start, end time.Time) ([]UsageRecord, error) {
	return f.records, f.err
}
func (f *fakeCostStore) TotalCostToday(ctx context.Context) (float64, error) { return 0, nil }
func (f *fakeCostStore) TotalCostByProvider(ctx context.Context) (map[string]float64, error) {
	return nil, nil
}

type fakeSkillRegistry struct {
	summary SkillStatusSummary
}

func (f *fakeSkillRegistry) StatusSummary() SkillStatusSummary { return f.summary }

func latency(ms float64) *float64 { return &ms }

func TestCollector_CollectPerformance_ComputesAvgAndP95(t *testing.T) {
	records := []UsageRecord{
		{Provider: "openai", LatencyMs: latency(200), Success: true},
		{Provider: "openai", LatencyMs: latency(300), Success: true},
		{Provider: "openai", LatencyMs: latency(250), Success: false},
	}
	store := &fakeCostStore{records: records}
	c := New(Sources{CostStore: store}, nil)

	snap := c.CollectAll(context.Background())

	assert.EqualValues(t, 3, snap.Performance.RequestCount)
	assert.InDelta(t, 250.0, snap.Performance.AvgLatencyMs["openai"], 0.001)
	assert.InDelta(t, 300.0, snap.Performance.P95LatencyMs["openai"], 0.001)
}

func TestCollector_CollectPerformance_P95SingleValue(t *testing.T) {
	records := []UsageRecord{
		{Provider: "anthropic", LatencyMs: latency(150), Success: true},
	}
	c := New(Sources{CostStore: &fakeCostStore{records: records}}, nil)
	snap := c.CollectAll(context.Background())
	assert.InDelta(t, 150.0, snap.Performance.P95LatencyMs["anthropic"], 0.001)
}

func TestCollector_CollectReliability_ErrorRatePerProvider(t *testing.T) {
	records := []UsageRecord{
		{Provider: "openai", Success: true},
		{Provider: "openai", Success: true, RateLimitHit: true},
		{Provider: "anthropic", Success: true},
		{Provider: "anthropic", Success: false, RateLimitHit: true},
	}
	c := New(Sources{CostStore: &fakeCostStore{records: records}}, nil)
	snap := c.CollectAll(context.Background())

	assert.InDelta(t, 0.0, snap.Reliability.ErrorRateByProvider["openai"], 0.001)
	assert.InDelta(t, 0.5, snap.Reliability.ErrorRateByProvider["anthropic"], 0.001)
	assert.EqualValues(t, 2, snap.Reliability.RateLimitHitCount)
}

func TestCollector_CollectReliability_HeartbeatDefaultsWhenNoActions(t *testing.T) {
	c := New(Sources{}, nil)
	snap := c.CollectAll(context.Background())
	assert.InDelta(t, 1.0, snap.Reliability.HeartbeatSuccessRate, 0.001)
}

func TestCollector_CollectReliability_HeartbeatSuccessRate(t *testing.T) {
	c := New(Sources{Heartbeat: &HeartbeatStats{SuccessfulActions: 9, FailedActions: 1}}, nil)
	snap := c.CollectAll(context.Background())
	assert.InDelta(t, 0.9, snap.Reliability.HeartbeatSuccessRate, 0.001)
}

func TestCollector_CollectReliability_FailingSkillsFromRegistry(t *testing.T) {
	registry := &fakeSkillRegistry{summary: SkillStatusSummary{
		Total: 3, Ready: 2, Error: 1,
		ByStatus: map[string][]string{"ready": {"a", "b"}, "error": {"c"}},
	}}
	c := New(Sources{SkillRegistry: registry}, nil)
	snap := c.CollectAll(context.Background())

	assert.Equal(t, 1, snap.Reliability.FailingSkillCount)
	assert.Equal(t, []string{"c"}, snap.Reliability.FailingSkillNames)
	assert.Equal(t, 3, snap.Skills.Total)
	assert.Equal(t, 2, snap.Skills.Ready)
	assert.Equal(t, 1, snap.Skills.Error)
}

func TestCollector_CollectUsage_AggregatesCostAndTokens(t *testing.T) {
	records := []UsageRecord{
		{Provider: "openai", CostUSD: 0.01, TokensInput: 100, TokensOutput: 50},
		{Provider: "anthropic", CostUSD: 0.02, TokensInput: 200, TokensOutput: 90},
	}
	c := New(Sources{CostStore: &fakeCostStore{records: records}, Heartbeat: &HeartbeatStats{BeatCount: 42, ActionCount: 7}}, nil)
	snap := c.CollectAll(context.Background())

	assert.InDelta(t, 0.03, snap.Usage.TotalCostToday, 0.0001)
	assert.InDelta(t, 0.01, snap.Usage.CostByProvider["openai"], 0.0001)
	assert.EqualValues(t, 300, snap.Usage.TotalInputTokens)
	assert.EqualValues(t, 42, snap.Usage.HeartbeatBeatCount)
	assert.EqualValues(t, 7, snap.Usage.HeartbeatActionCount)
}

func TestCollector_DegradesToZeroWhenSourcesMissing(t *testing.T) {
	c := New(Sources{}, nil)
	snap := c.CollectAll(context.Background())

	assert.Empty(t, snap.Performance.CountByProvider)
	assert.InDelta(t, 0.0, snap.Usage.TotalCostToday, 0.0001)
	assert.Equal(t, 0, snap.Skills.Total)
}

func TestCollector_DegradesGracefullyOnCostStoreError(t *testing.T) {
	c := New(Sources{CostStore: &fakeCostStore{err: assert.AnError}}, nil)
	snap := c.CollectAll(context.Background())
	assert.Zero(t, snap.Performance.RequestCount)
}

func TestCollector_BaselineWindow_CapsAtSize(t *testing.T) {
	c := New(Sources{}, nil)
	for i := 0; i < 5; i++ {
		c.RecordBaseline("p95:ollama", float64(i), 3)
	}
	require.Len(t, c.BaselineWindow("p95:ollama"), 3)
	assert.Equal(t, []float64{2, 3, 4}, c.BaselineWindow("p95:ollama"))
}
