// Package analyzer turns a metrics snapshot into anomaly judgements and
// recommended self-healing action tags, and rolls up a day's snapshots into
// a daily health report. It is a pure function over its inputs — no I/O, no
// injected clock beyond what the caller passes in.
package analyzer

import (
	"fmt"
	"sort"

	"github.com/zetherion-ai/opscore/internal/audit"
)

// Severity of a detected anomaly.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Anomaly is one detected deviation from expected operating ranges.
type Anomaly struct {
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	MetricPath  string   `json:"metric_path"`
	Observed    float64  `json:"observed"`
	Threshold   *float64 `json:"threshold,omitempty"`
}

// Result is the outcome of analyzing one snapshot.
type Result struct {
	Anomalies          []Anomaly `json:"anomalies"`
	HasCritical        bool      `json:"has_critical"`
	RecommendedActions []string  `json:"recommended_actions"`
}

const (
	errorRateWarn     = 0.1
	errorRateCritical = 0.3

	latencyWarnMultiple     = 3.0
	latencyCriticalMultiple = 5.0

	heartbeatWarn     = 0.95
	heartbeatCritical = 0.80

	memoryWarnPercent     = 85.0
	memoryCriticalPercent = 95.0

	diskWarnPercent     = 90.0
	diskCriticalPercent = 97.0
)

// AnalyzeSnapshot evaluates snap against fixed thresholds, using baselines
// (recent P95-per-provider history, oldest first) to judge sustained
// latency anomalies. A provider absent from baselines is skipped for the
// latency check — there is nothing to compare against yet.
func AnalyzeSnapshot(snap audit.MetricsSnapshot, baselines map[string][]float64) Result {
	var anomalies []Anomaly
	actionSet := newOrderedSet()

	for provider, rate := range snap.Reliability.ErrorRateByProvider {
		switch {
		case rate > errorRateCritical:
			anomalies = append(anomalies, Anomaly{
				Severity: SeverityCritical, MetricPath: "reliability.error_rate_by_provider." + provider,
				Description: fmt.Sprintf("%s error rate %.1f%% exceeds critical threshold", provider, rate*100),
				Observed:    rate, Threshold: ptr(errorRateCritical),
			})
		case rate > errorRateWarn:
			anomalies = append(anomalies, Anomaly{
				Severity: SeverityWarning, MetricPath: "reliability.error_rate_by_provider." + provider,
				Description: fmt.Sprintf("%s error rate %.1f%% exceeds warning threshold", provider, rate*100),
				Observed:    rate, Threshold: ptr(errorRateWarn),
			})
		}
	}

	for provider, p95 := range snap.Performance.P95LatencyMs {
		history := baselines[provider]
		if len(history) == 0 {
			continue
		}
		baseline := median(history)
		if baseline <= 0 {
			continue
		}
		ratio := p95 / baseline
		switch {
		case ratio >= latencyCriticalMultiple:
			anomalies = append(anomalies, Anomaly{
				Severity: SeverityCritical, MetricPath: "performance.p95_latency_ms." + provider,
				Description: fmt.Sprintf("%s P95 latency %.0fms is %.1fx baseline", provider, p95, ratio),
				Observed:    p95, Threshold: ptr(baseline * latencyCriticalMultiple),
			})
			actionSet.add("warm_ollama_models")
		case ratio >= latencyWarnMultiple:
			anomalies = append(anomalies, Anomaly{
				Severity: SeverityWarning, MetricPath: "performance.p95_latency_ms." + provider,
				Description: fmt.Sprintf("%s P95 latency %.0fms is %.1fx baseline", provider, p95, ratio),
				Observed:    p95, Threshold: ptr(baseline * latencyWarnMultiple),
			})
			actionSet.add("warm_ollama_models")
		}
	}

	for provider, count := range snap.Reliability.RateLimitByProvider {
		if count > 0 {
			actionSet.add("adjust_rate_limits")
			anomalies = append(anomalies, Anomaly{
				Severity: SeverityWarning, MetricPath: "reliability.rate_limit_by_provider." + provider,
				Description: fmt.Sprintf("%s hit rate limits %d times today", provider, count),
				Observed:    float64(count),
			})
		}
	}

	rate := snap.Reliability.HeartbeatSuccessRate
	switch {
	case rate < heartbeatCritical:
		anomalies = append(anomalies, Anomaly{
			Severity: SeverityCritical, MetricPath: "reliability.heartbeat_success_rate",
			Description: fmt.Sprintf("heartbeat success rate %.1f%% below critical threshold", rate*100),
			Observed:    rate, Threshold: ptr(heartbeatCritical),
		})
	case rate < heartbeatWarn:
		anomalies = append(anomalies, Anomaly{
			Severity: SeverityWarning, MetricPath: "reliability.heartbeat_success_rate",
			Description: fmt.Sprintf("heartbeat success rate %.1f%% below warning threshold", rate*100),
			Observed:    rate, Threshold: ptr(heartbeatWarn),
		})
	}

	if snap.Skills.Error > 0 {
		sev := SeverityWarning
		if snap.Skills.Total > 0 && snap.Skills.Ready == 0 {
			sev = SeverityCritical
		}
		anomalies = append(anomalies, Anomaly{
			Severity: sev, MetricPath: "skills.error",
			Description: fmt.Sprintf("%d skill(s) in error state", snap.Skills.Error),
			Observed:    float64(snap.Skills.Error),
		})
		actionSet.add("restart_skill")
	}

	if names, ok := snap.Skills.ByStatus["backlog"]; ok && len(names) > 0 {
		anomalies = append(anomalies, Anomaly{
			Severity: SeverityWarning, MetricPath: "skills.by_status.backlog",
			Description: fmt.Sprintf("%d skill(s) reporting log-buffer backlog", len(names)),
			Observed:    float64(len(names)),
		})
		actionSet.add("flush_log_buffer")
	}

	mem := snap.System.MemoryPercent
	switch {
	case mem > memoryCriticalPercent:
		anomalies = append(anomalies, Anomaly{
			Severity: SeverityCritical, MetricPath: "system.memory_percent",
			Description: fmt.Sprintf("memory usage %.1f%% exceeds critical threshold", mem),
			Observed:    mem, Threshold: ptr(memoryCriticalPercent),
		})
		actionSet.add("clear_stale_connections")
	case mem > memoryWarnPercent:
		anomalies = append(anomalies, Anomaly{
			Severity: SeverityWarning, MetricPath: "system.memory_percent",
			Description: fmt.Sprintf("memory usage %.1f%% exceeds warning threshold", mem),
			Observed:    mem, Threshold: ptr(memoryWarnPercent),
		})
		actionSet.add("clear_stale_connections")
	}

	disk := snap.System.DiskUsagePercent
	switch {
	case disk > diskCriticalPercent:
		anomalies = append(anomalies, Anomaly{
			Severity: SeverityCritical, MetricPath: "system.disk_usage_percent",
			Description: fmt.Sprintf("disk usage %.1f%% exceeds critical threshold", disk),
			Observed:    disk, Threshold: ptr(diskCriticalPercent),
		})
		actionSet.add("vacuum_databases")
	case disk > diskWarnPercent:
		anomalies = append(anomalies, Anomaly{
			Severity: SeverityWarning, MetricPath: "system.disk_usage_percent",
			Description: fmt.Sprintf("disk usage %.1f%% exceeds warning threshold", disk),
			Observed:    disk, Threshold: ptr(diskWarnPercent),
		})
		actionSet.add("vacuum_databases")
	}

	hasCritical := false
	for _, a := range anomalies {
		if a.Severity == SeverityCritical {
			hasCritical = true
			break
		}
	}

	return Result{Anomalies: anomalies, HasCritical: hasCritical, RecommendedActions: actionSet.items()}
}

func ptr(f float64) *float64 { return &f }

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// orderedSet deduplicates action tags while preserving first-seen order, the
// contract spec.md requires for RecommendedActions.
type orderedSet struct {
	seen  map[string]bool
	order []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: map[string]bool{}}
}

func (s *orderedSet) add(item string) {
	if s.seen[item] {
		return
	}
	s.seen[item] = true
	s.order = append(s.order, item)
}

func (s *orderedSet) items() []string {
	if s.order == nil {
		return []string{}
	}
	return s.order
}
