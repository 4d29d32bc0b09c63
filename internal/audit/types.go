// Package audit defines the persisted entities of the operations core and
// the storage interface that C7 (observer loop) and C8 (update executor)
// write through. Concrete backends live in the postgres and sqlite
// subpackages.
package audit

import "time"

// MetricsSnapshot is one complete metrics record captured per observer
// beat. Immutable once written; C5 assigns ID on first persist.
type MetricsSnapshot struct {
	ID               int64       `json:"id,omitempty"`
	Timestamp        time.Time   `json:"timestamp"`
	Performance      Performance `json:"performance"`
	Reliability      Reliability `json:"reliability"`
	Usage            Usage       `json:"usage"`
	System           System      `json:"system"`
	Skills           SkillHealth `json:"skills"`
	CollectionTimeMs int64       `json:"collection_time_ms"`
	CollectedAt      time.Time   `json:"collected_at"`
}

// Performance holds per-provider latency and volume figures.
type Performance struct {
	AvgLatencyMs map[string]float64 `json:"avg_latency_ms"`
	P95LatencyMs map[string]float64 `json:"p95_latency_ms"`
	RequestCount int64              `json:"request_count"`
	CountByProvider map[string]int64 `json:"count_by_provider"`
}

// Reliability holds error-rate and failure signals.
type Reliability struct {
	ErrorRateByProvider     map[string]float64 `json:"error_rate_by_provider"`
	RateLimitHitCount       int64              `json:"rate_limit_hit_count"`
	RateLimitByProvider     map[string]int64   `json:"rate_limit_by_provider"`
	FailingSkillCount       int                `json:"failing_skill_count"`
	FailingSkillNames       []string           `json:"failing_skill_names"`
	HeartbeatSuccessRate    float64            `json:"heartbeat_success_rate"`
	UptimeSeconds           float64            `json:"uptime_seconds"`
}

// Usage holds cost and token accounting.
type Usage struct {
	TotalCostToday    float64            `json:"total_cost_today"`
	CostByProvider    map[string]float64 `json:"cost_by_provider"`
	TotalInputTokens  int64              `json:"total_input_tokens"`
	TotalOutputTokens int64              `json:"total_output_tokens"`
	HeartbeatBeatCount   int64           `json:"heartbeat_beat_count"`
	HeartbeatActionCount int64           `json:"heartbeat_action_count"`
}

// System holds host resource utilization.
type System struct {
	MemoryMB         float64 `json:"memory_mb"`
	MemoryPercent    float64 `json:"memory_percent"`
	DiskTotalGB      float64 `json:"disk_total_gb"`
	DiskUsedGB       float64 `json:"disk_used_gb"`
	DiskFreeGB       float64 `json:"disk_free_gb"`
	DiskUsagePercent float64 `json:"disk_usage_percent"`
}

// SkillHealth holds the sub-component registry status summary.
type SkillHealth struct {
	Total      int                 `json:"total"`
	Ready      int                 `json:"ready"`
	Error      int                 `json:"error"`
	ByStatus   map[string][]string `json:"by_status"`
}

// DailyReport is an aggregated, per-calendar-day summary of snapshots.
// Upserted by its Date key.
type DailyReport struct {
	ID              int64    `json:"id,omitempty"`
	Date            string   `json:"date"`
	Summary         map[string]any `json:"summary"`
	Recommendations []string `json:"recommendations"`
	OverallScore    float64  `json:"overall_score"`
}

// HealingResult is the outcome of one self-healing action dispatch.
type HealingResult string

const (
	HealingSuccess HealingResult = "success"
	HealingFailed  HealingResult = "failed"
)

// HealingAction is an append-only audit record of one self-healer dispatch.
type HealingAction struct {
	ID         int64          `json:"id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	ActionType string         `json:"action_type"`
	Trigger    string         `json:"trigger"`
	Result     HealingResult  `json:"result"`
	Details    map[string]any `json:"details"`
}

// IncidentSeverity is stored as its lowercase string value. Unknown strings
// read back from storage deserialize to IncidentSeverityLow rather than
// erroring.
type IncidentSeverity string

const (
	IncidentSeverityLow      IncidentSeverity = "low"
	IncidentSeverityMedium   IncidentSeverity = "medium"
	IncidentSeverityHigh     IncidentSeverity = "high"
	IncidentSeverityCritical IncidentSeverity = "critical"
)

// ParseIncidentSeverity maps an arbitrary string to a known severity,
// defaulting to IncidentSeverityLow for anything it does not recognize.
func ParseIncidentSeverity(s string) IncidentSeverity {
	switch IncidentSeverity(s) {
	case IncidentSeverityLow, IncidentSeverityMedium, IncidentSeverityHigh, IncidentSeverityCritical:
		return IncidentSeverity(s)
	default:
		return IncidentSeverityLow
	}
}

// Incident tracks an open or resolved operational incident.
type Incident struct {
	ID          int64            `json:"id,omitempty"`
	StartTime   time.Time        `json:"start_time"`
	EndTime     *time.Time       `json:"end_time,omitempty"`
	Severity    IncidentSeverity `json:"severity"`
	Description string           `json:"description"`
	Resolved    bool             `json:"resolved"`
	Resolution  string           `json:"resolution,omitempty"`
}

// UpdateStatus tracks the forward-only lifecycle of an UpdateRecord.
// Unknown strings read back from storage deserialize to UpdateStatusChecking.
type UpdateStatus string

const (
	UpdateStatusChecking   UpdateStatus = "checking"
	UpdateStatusDownloading UpdateStatus = "downloading"
	UpdateStatusApplying   UpdateStatus = "applying"
	UpdateStatusValidating UpdateStatus = "validating"
	UpdateStatusSuccess    UpdateStatus = "success"
	UpdateStatusFailed     UpdateStatus = "failed"
	UpdateStatusRolledBack UpdateStatus = "rolled_back"
)

// ParseUpdateStatus maps an arbitrary string to a known status, defaulting
// to UpdateStatusChecking for anything it does not recognize.
func ParseUpdateStatus(s string) UpdateStatus {
	switch UpdateStatus(s) {
	case UpdateStatusChecking, UpdateStatusDownloading, UpdateStatusApplying,
		UpdateStatusValidating, UpdateStatusSuccess, UpdateStatusFailed, UpdateStatusRolledBack:
		return UpdateStatus(s)
	default:
		return UpdateStatusChecking
	}
}

// UpdateRecord is the audit-store's record of one apply/rollback attempt.
type UpdateRecord struct {
	ID                 int64          `json:"id,omitempty"`
	Timestamp          time.Time      `json:"timestamp"`
	Version            string         `json:"version"`
	PreviousVersion    string         `json:"previous_version"`
	GitSHA             string         `json:"git_sha"`
	Status             UpdateStatus   `json:"status"`
	HealthCheckResult  map[string]any `json:"health_check_result,omitempty"`
}
