// Package observer drives the heartbeat-triggered tick loop: collect a
// snapshot every tick, analyze and heal every sixth, roll up a daily report
// every 288th, and answer synchronous status queries in between.
package observer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/zetherion-ai/opscore/internal/analyzer"
	"github.com/zetherion-ai/opscore/internal/audit"
	"github.com/zetherion-ai/opscore/internal/healer"
	"github.com/zetherion-ai/opscore/internal/metrics"
)

const (
	analysisInterval   = 6
	dailyReportInterval = 288
	baselineWindowSize  = 6
	maxAlertDescriptions = 5
)

// HeartbeatAction is a pending action the scheduler's output channel should
// carry back to the owning conversation.
type HeartbeatAction struct {
	SkillName  string         `json:"skill_name"`
	ActionType string         `json:"action_type"`
	UserID     string         `json:"user_id"`
	Priority   int            `json:"priority"`
	Data       map[string]any `json:"data"`
}

// Observer is the C7 component. Collector, Store and Healer are required;
// a nil logger falls back to slog.Default.
type Observer struct {
	collector *metrics.Collector
	store     audit.Store
	healer    *healer.Healer
	logger    *slog.Logger

	mu        sync.Mutex
	beatCount int64
}

func New(collector *metrics.Collector, store audit.Store, h *healer.Healer, logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Observer{collector: collector, store: store, healer: h, logger: logger}
}

// BeatCount returns the number of ticks processed so far.
func (o *Observer) BeatCount() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.beatCount
}

// OnHeartbeat runs one tick. The scheduler guarantees at most one concurrent
// call; the internal mutex only protects beatCount bookkeeping from
// concurrent query calls racing a tick, not re-entrancy.
func (o *Observer) OnHeartbeat(ctx context.Context, ownerIDs []string) []HeartbeatAction {
	o.mu.Lock()
	o.beatCount++
	beat := o.beatCount
	o.mu.Unlock()

	actions := []HeartbeatAction{}

	snap := o.collectAndPersist(ctx)

	if beat%analysisInterval == 0 {
		if action, ok := o.analyzeAndHeal(ctx, snap, ownerIDs); ok {
			actions = append(actions, action)
		}
	}

	if beat%dailyReportInterval == 0 {
		o.buildDailyReport(ctx)
	}

	return actions
}

func (o *Observer) collectAndPersist(ctx context.Context) audit.MetricsSnapshot {
	snap := o.collector.CollectAll(ctx)

	for provider, p95 := range snap.Performance.P95LatencyMs {
		o.collector.RecordBaseline(provider, p95, baselineWindowSize)
	}

	if o.store != nil {
		if _, err := o.store.SaveSnapshot(ctx, snap); err != nil {
			o.logger.Warn("snapshot persistence failed", "error", err)
		}
	}
	return snap
}

func (o *Observer) analyzeAndHeal(ctx context.Context, snap audit.MetricsSnapshot, ownerIDs []string) (HeartbeatAction, bool) {
	baselines := make(map[string][]float64, len(snap.Performance.P95LatencyMs))
	for provider := range snap.Performance.P95LatencyMs {
		if window := o.collector.BaselineWindow(provider); len(window) > 0 {
			baselines[provider] = window
		}
	}

	result := func() (r analyzer.Result) {
		defer func() {
			if rec := recover(); rec != nil {
				o.logger.Error("analysis panicked", "recover", rec)
				r = analyzer.Result{}
			}
		}()
		return analyzer.AnalyzeSnapshot(snap, baselines)
	}()

	if len(result.RecommendedActions) > 0 && o.healer != nil {
		o.healer.ExecuteRecommended(ctx, result.RecommendedActions, "anomaly_detection")
	}

	if result.HasCritical && len(ownerIDs) > 0 {
		return buildAlertAction(ownerIDs, result.Anomalies), true
	}
	return HeartbeatAction{}, false
}

func buildAlertAction(ownerIDs []string, anomalies []analyzer.Anomaly) HeartbeatAction {
	limit := len(anomalies)
	if limit > maxAlertDescriptions {
		limit = maxAlertDescriptions
	}
	descriptions := make([]string, 0, limit)
	for _, a := range anomalies[:limit] {
		descriptions = append(descriptions, a.Description)
	}
	message := "Health Alert: " + strings.Join(descriptions, "; ")

	return HeartbeatAction{
		SkillName:  "health_analyzer",
		ActionType: "send_message",
		UserID:     strings.Join(ownerIDs, ","),
		Priority:   9,
		Data:       map[string]any{"message": message},
	}
}

func (o *Observer) buildDailyReport(ctx context.Context) {
	if o.store == nil {
		return
	}
	start, end := analyzer.TodayBoundaries(time.Now())
	snapshots, err := o.store.GetSnapshots(ctx, start, end, dailyReportInterval)
	if err != nil {
		o.logger.Warn("daily report snapshot fetch failed", "error", err)
		return
	}

	report := analyzer.GenerateDailyReport(start.Format("2006-01-02"), snapshots)
	if _, err := o.store.SaveDailyReport(ctx, report); err != nil {
		o.logger.Warn("daily report persistence failed", "error", err)
	}
}

// Handle answers a synchronous status query. Unknown intents return an
// error, and so does a known intent when no store is configured or its
// store query fails.
func (o *Observer) Handle(ctx context.Context, intent string) (map[string]any, error) {
	switch intent {
	case "health_check":
		return o.healthCheck(ctx)
	case "health_report":
		return o.healthReport(ctx)
	case "system_status":
		return o.systemStatus(ctx)
	default:
		return nil, fmt.Errorf("observer: unknown intent %q", intent)
	}
}

func (o *Observer) healthCheck(ctx context.Context) (map[string]any, error) {
	if o.store == nil {
		return nil, fmt.Errorf("observer: no storage configured")
	}
	snap, err := o.store.GetLatestSnapshot(ctx)
	if err != nil && err != audit.ErrNotFound {
		return nil, err
	}
	if snap == nil {
		return map[string]any{"status": "healthy", "metrics": map[string]any{}}, nil
	}

	status := "healthy"
	switch {
	case snap.Skills.Total > 0 && snap.Skills.Ready == 0:
		status = "critical"
	case snap.Skills.Error > 0:
		status = "degraded"
	default:
		for _, rate := range snap.Reliability.ErrorRateByProvider {
			if rate > 0.1 {
				status = "degraded"
				break
			}
		}
	}

	return map[string]any{"status": status, "metrics": snapshotToMap(*snap)}, nil
}

func (o *Observer) healthReport(ctx context.Context) (map[string]any, error) {
	if o.store == nil {
		return nil, fmt.Errorf("observer: no storage configured")
	}
	now := time.Now().UTC()
	today := now.Format("2006-01-02")
	yesterday := now.AddDate(0, 0, -1).Format("2006-01-02")

	if report, err := o.store.GetDailyReport(ctx, today); err == nil && report != nil {
		return reportToMap(*report), nil
	} else if err != nil && err != audit.ErrNotFound {
		return nil, err
	}

	if report, err := o.store.GetDailyReport(ctx, yesterday); err == nil && report != nil {
		return reportToMap(*report), nil
	} else if err != nil && err != audit.ErrNotFound {
		return nil, err
	}

	return map[string]any{"message": "no reports available"}, nil
}

func (o *Observer) systemStatus(ctx context.Context) (map[string]any, error) {
	if o.store == nil {
		return nil, fmt.Errorf("observer: no storage configured")
	}
	snap, err := o.store.GetLatestSnapshot(ctx)
	if err != nil && err != audit.ErrNotFound {
		return nil, err
	}
	if snap == nil {
		return map[string]any{}, nil
	}
	return snapshotToMap(*snap), nil
}

// GetSystemPromptFragment assembles a single-line status summary from a
// fresh collect; it never persists and never errors — any failure degrades
// individual fields to zero.
func (o *Observer) GetSystemPromptFragment(ctx context.Context, user string) *string {
	if o.collector == nil {
		return nil
	}
	snap := o.collector.CollectAll(ctx)

	uptimeHours := snap.Reliability.UptimeSeconds / 3600.0
	fragment := fmt.Sprintf(
		"[Health] Uptime: %.0fh | Cost today: $%.2f | Skills: %d/%d ready",
		uptimeHours, snap.Usage.TotalCostToday, snap.Skills.Ready, snap.Skills.Total,
	)
	return &fragment
}

func snapshotToMap(snap audit.MetricsSnapshot) map[string]any {
	return map[string]any{
		"timestamp":   snap.Timestamp,
		"performance": snap.Performance,
		"reliability": snap.Reliability,
		"usage":       snap.Usage,
		"system":      snap.System,
		"skills":      snap.Skills,
	}
}

func reportToMap(report audit.DailyReport) map[string]any {
	return map[string]any{
		"date":            report.Date,
		"overall_score":   report.OverallScore,
		"summary":         report.Summary,
		"recommendations": report.Recommendations,
	}
}
