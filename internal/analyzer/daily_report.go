package analyzer

import (
	"fmt"
	"sort"
	"time"

	"github.com/zetherion-ai/opscore/internal/audit"
)

const maxRecommendations = 5

// Penalty weights applied per anomaly observed across the day when
// computing DailyReport.OverallScore.
const (
	criticalPenalty = 10.0
	warningPenalty  = 3.0
)

// GenerateDailyReport aggregates a day's snapshots (oldest first, same
// calendar day) into a DailyReport. An empty slice yields a perfect score
// and an empty summary rather than an error.
func GenerateDailyReport(date string, snapshots []audit.MetricsSnapshot) audit.DailyReport {
	report := audit.DailyReport{
		Date:    date,
		Summary: map[string]any{},
	}
	if len(snapshots) == 0 {
		report.OverallScore = 100
		report.Recommendations = []string{}
		return report
	}

	var (
		totalBeats      int
		criticalCount   int
		warningCount    int
		peakMemory      float64
		peakDisk        float64
		avgHeartbeatSum float64
	)
	recommended := newOrderedSet()
	costByProvider := map[string]float64{}

	for _, snap := range snapshots {
		totalBeats++
		if snap.System.MemoryPercent > peakMemory {
			peakMemory = snap.System.MemoryPercent
		}
		if snap.System.DiskUsagePercent > peakDisk {
			peakDisk = snap.System.DiskUsagePercent
		}
		avgHeartbeatSum += snap.Reliability.HeartbeatSuccessRate
		for provider, cost := range snap.Usage.CostByProvider {
			costByProvider[provider] += cost
		}

		result := AnalyzeSnapshot(snap, nil)
		for _, a := range result.Anomalies {
			if a.Severity == SeverityCritical {
				criticalCount++
			} else {
				warningCount++
			}
		}
		for _, action := range result.RecommendedActions {
			recommended.add(action)
		}
	}

	report.Summary = map[string]any{
		"beats":                  totalBeats,
		"peak_memory_percent":    peakMemory,
		"peak_disk_percent":      peakDisk,
		"avg_heartbeat_success":  avgHeartbeatSum / float64(totalBeats),
		"critical_anomaly_count": criticalCount,
		"warning_anomaly_count":  warningCount,
		"cost_by_provider":       costByProvider,
	}

	recs := recommended.items()
	sort.Strings(recs)
	if len(recs) > maxRecommendations {
		recs = recs[:maxRecommendations]
	}
	report.Recommendations = distillRecommendations(recs)

	score := 100.0 - float64(criticalCount)*criticalPenalty - float64(warningCount)*warningPenalty
	if score < 0 {
		score = 0
	}
	report.OverallScore = score

	return report
}

func distillRecommendations(actions []string) []string {
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		out = append(out, fmt.Sprintf("consider running %s", a))
	}
	return out
}

// TodayBoundaries returns the UTC start/end instants for t's calendar day,
// the window GetSnapshots is queried with when assembling a daily report.
func TodayBoundaries(t time.Time) (start, end time.Time) {
	t = t.UTC()
	start = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	end = start.Add(24*time.Hour - time.Nanosecond)
	return start, end
}
