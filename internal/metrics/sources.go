// Package metrics implements the health-data collector: it pulls raw
// signals from pluggable sources and assembles them into the snapshot shape
// defined in internal/audit, degrading any one source to zero values rather
// than failing the whole collection.
package metrics

import (
	"context"
	"time"
)

// UsageRecord is one provider request/cost observation, the unit the cost
// store reports in.
type UsageRecord struct {
	Provider      string
	Model         string
	TokensInput   int64
	TokensOutput  int64
	CostUSD       float64
	LatencyMs     *float64
	Success       bool
	RateLimitHit  bool
}

// CostStore is the usage/cost ledger C3 pulls today's records from.
type CostStore interface {
	UsageByDateRange(ctx context.Context, start, end time.Time) ([]UsageRecord, error)
	TotalCostToday(ctx context.Context) (float64, error)
	TotalCostByProvider(ctx context.Context) (map[string]float64, error)
}

// HeartbeatStats is a point-in-time snapshot supplied by the scheduler that
// ticks the observer loop.
type HeartbeatStats struct {
	SuccessfulActions int64
	FailedActions     int64
	BeatCount         int64
	ActionCount       int64
}

// SkillStatusSummary mirrors the sub-component registry's health rollup.
type SkillStatusSummary struct {
	Total    int
	Ready    int
	Error    int
	ByStatus map[string][]string
}

// SkillRegistry reports the health of registered sub-components ("skills").
type SkillRegistry interface {
	StatusSummary() SkillStatusSummary
}

// Sources bundles every optional collector input. A nil field degrades its
// corresponding sub-record to zero values instead of failing collection.
type Sources struct {
	CostStore      CostStore
	Heartbeat      *HeartbeatStats
	SkillRegistry  SkillRegistry
	DataDir        string
}
