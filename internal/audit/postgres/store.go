// Package postgres implements the audit.Store interface on top of a
// jackc/pgx/v5 connection pool, following the query-instrumentation and
// JSONB-handling pattern of the alert-history service's
// PostgresHistoryRepository.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zetherion-ai/opscore/internal/audit"
)

// Store implements audit.Store against a Postgres database populated by the
// migrations in this package's migrations/ directory.
type Store struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	metrics *queryMetrics
}

type queryMetrics struct {
	duration *prometheus.HistogramVec
	errors   *prometheus.CounterVec
}

var (
	queryMetricsOnce     sync.Once
	sharedQueryMetrics   *queryMetrics
)

// newQueryMetrics registers the store's Prometheus collectors exactly once
// per process. Store is constructed per connection (e.g. once per test), and
// promauto panics on duplicate registration against the default registry.
func newQueryMetrics() *queryMetrics {
	queryMetricsOnce.Do(func() {
		sharedQueryMetrics = &queryMetrics{
			duration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "opscore_audit_query_duration_seconds",
					Help:    "Duration of audit store queries.",
					Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
				},
				[]string{"operation", "status"},
			),
			errors: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "opscore_audit_query_errors_total",
					Help: "Total audit store query errors.",
				},
				[]string{"operation"},
			),
		}
	})
	return sharedQueryMetrics
}

// New wraps an already-connected pgxpool.Pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger, metrics: newQueryMetrics()}
}

func (s *Store) observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
		s.metrics.errors.WithLabelValues(operation).Inc()
	}
	s.metrics.duration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
}

// Close releases the underlying pool. The pool's lifecycle is otherwise
// owned by whoever constructed it (see internal/audit/storefactory).
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) SaveSnapshot(ctx context.Context, snap audit.MetricsSnapshot) (int64, error) {
	start := time.Now()
	const op = "save_snapshot"

	metricsJSON, err := json.Marshal(struct {
		Performance audit.Performance `json:"performance"`
		Reliability audit.Reliability `json:"reliability"`
		Usage       audit.Usage       `json:"usage"`
		System      audit.System      `json:"system"`
		Skills      audit.SkillHealth `json:"skills"`
		CollectionTimeMs int64        `json:"collection_time_ms"`
		CollectedAt time.Time         `json:"collected_at"`
	}{snap.Performance, snap.Reliability, snap.Usage, snap.System, snap.Skills, snap.CollectionTimeMs, snap.CollectedAt})
	if err != nil {
		s.observe(op, start, err)
		return 0, fmt.Errorf("marshal snapshot metrics: %w", err)
	}

	var id int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO health_snapshots (timestamp, metrics_json, anomalies_json)
		 VALUES ($1, $2, '[]'::jsonb) RETURNING id`,
		snap.Timestamp, metricsJSON,
	).Scan(&id)
	s.observe(op, start, err)
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	return id, nil
}

func (s *Store) GetSnapshots(ctx context.Context, startTime, endTime time.Time, limit int) ([]audit.MetricsSnapshot, error) {
	start := time.Now()
	const op = "get_snapshots"
	if limit <= 0 {
		limit = audit.DefaultSnapshotLimit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, timestamp, metrics_json FROM health_snapshots
		 WHERE timestamp >= $1 AND timestamp <= $2
		 ORDER BY timestamp DESC LIMIT $3`,
		startTime, endTime, limit,
	)
	if err != nil {
		s.observe(op, start, err)
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	snaps, err := scanSnapshots(rows)
	s.observe(op, start, err)
	return snaps, err
}

func (s *Store) GetLatestSnapshot(ctx context.Context) (*audit.MetricsSnapshot, error) {
	start := time.Now()
	const op = "get_latest_snapshot"

	rows, err := s.pool.Query(ctx,
		`SELECT id, timestamp, metrics_json FROM health_snapshots ORDER BY timestamp DESC LIMIT 1`,
	)
	if err != nil {
		s.observe(op, start, err)
		return nil, fmt.Errorf("query latest snapshot: %w", err)
	}
	defer rows.Close()

	snaps, err := scanSnapshots(rows)
	s.observe(op, start, err)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, audit.ErrNotFound
	}
	return &snaps[0], nil
}

func scanSnapshots(rows pgx.Rows) ([]audit.MetricsSnapshot, error) {
	var out []audit.MetricsSnapshot
	for rows.Next() {
		var snap audit.MetricsSnapshot
		var metricsJSON []byte
		if err := rows.Scan(&snap.ID, &snap.Timestamp, &metricsJSON); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		var body struct {
			Performance      audit.Performance `json:"performance"`
			Reliability      audit.Reliability `json:"reliability"`
			Usage            audit.Usage       `json:"usage"`
			System           audit.System      `json:"system"`
			Skills           audit.SkillHealth `json:"skills"`
			CollectionTimeMs int64             `json:"collection_time_ms"`
			CollectedAt      time.Time         `json:"collected_at"`
		}
		if err := json.Unmarshal(metricsJSON, &body); err != nil {
			return nil, fmt.Errorf("unmarshal metrics json: %w", err)
		}
		snap.Performance = body.Performance
		snap.Reliability = body.Reliability
		snap.Usage = body.Usage
		snap.System = body.System
		snap.Skills = body.Skills
		snap.CollectionTimeMs = body.CollectionTimeMs
		snap.CollectedAt = body.CollectedAt
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *Store) SaveDailyReport(ctx context.Context, report audit.DailyReport) (int64, error) {
	start := time.Now()
	const op = "save_daily_report"

	summaryJSON, err := json.Marshal(report.Summary)
	if err != nil {
		s.observe(op, start, err)
		return 0, fmt.Errorf("marshal summary: %w", err)
	}
	recsJSON, err := json.Marshal(report.Recommendations)
	if err != nil {
		s.observe(op, start, err)
		return 0, fmt.Errorf("marshal recommendations: %w", err)
	}

	var id int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO health_daily_reports (date, summary_json, recommendations_json, overall_score)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (date) DO UPDATE SET
		   summary_json = EXCLUDED.summary_json,
		   recommendations_json = EXCLUDED.recommendations_json,
		   overall_score = EXCLUDED.overall_score
		 RETURNING id`,
		report.Date, summaryJSON, recsJSON, report.OverallScore,
	).Scan(&id)
	s.observe(op, start, err)
	if err != nil {
		return 0, fmt.Errorf("upsert daily report: %w", err)
	}
	return id, nil
}

func (s *Store) GetDailyReport(ctx context.Context, date string) (*audit.DailyReport, error) {
	start := time.Now()
	const op = "get_daily_report"

	var report audit.DailyReport
	var summaryJSON, recsJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, date, summary_json, recommendations_json, overall_score
		 FROM health_daily_reports WHERE date = $1`,
		date,
	).Scan(&report.ID, &report.Date, &summaryJSON, &recsJSON, &report.OverallScore)
	if errors.Is(err, pgx.ErrNoRows) {
		s.observe(op, start, nil)
		return nil, audit.ErrNotFound
	}
	if err != nil {
		s.observe(op, start, err)
		return nil, fmt.Errorf("query daily report: %w", err)
	}
	if err := json.Unmarshal(summaryJSON, &report.Summary); err != nil {
		s.observe(op, start, err)
		return nil, fmt.Errorf("unmarshal summary: %w", err)
	}
	if err := json.Unmarshal(recsJSON, &report.Recommendations); err != nil {
		s.observe(op, start, err)
		return nil, fmt.Errorf("unmarshal recommendations: %w", err)
	}
	s.observe(op, start, nil)
	return &report, nil
}

func (s *Store) GetDailyReports(ctx context.Context, startDate, endDate string) ([]audit.DailyReport, error) {
	start := time.Now()
	const op = "get_daily_reports"

	rows, err := s.pool.Query(ctx,
		`SELECT id, date, summary_json, recommendations_json, overall_score
		 FROM health_daily_reports WHERE date >= $1 AND date <= $2 ORDER BY date ASC`,
		startDate, endDate,
	)
	if err != nil {
		s.observe(op, start, err)
		return nil, fmt.Errorf("query daily reports: %w", err)
	}
	defer rows.Close()

	var out []audit.DailyReport
	for rows.Next() {
		var report audit.DailyReport
		var summaryJSON, recsJSON []byte
		if err := rows.Scan(&report.ID, &report.Date, &summaryJSON, &recsJSON, &report.OverallScore); err != nil {
			s.observe(op, start, err)
			return nil, fmt.Errorf("scan daily report: %w", err)
		}
		_ = json.Unmarshal(summaryJSON, &report.Summary)
		_ = json.Unmarshal(recsJSON, &report.Recommendations)
		out = append(out, report)
	}
	s.observe(op, start, rows.Err())
	return out, rows.Err()
}

func (s *Store) SaveHealingAction(ctx context.Context, action audit.HealingAction) (int64, error) {
	start := time.Now()
	const op = "save_healing_action"

	detailsJSON, err := json.Marshal(action.Details)
	if err != nil {
		s.observe(op, start, err)
		return 0, fmt.Errorf("marshal details: %w", err)
	}

	var id int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO health_healing_actions (timestamp, action_type, trigger, result, details_json)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		action.Timestamp, action.ActionType, action.Trigger, string(action.Result), detailsJSON,
	).Scan(&id)
	s.observe(op, start, err)
	if err != nil {
		return 0, fmt.Errorf("insert healing action: %w", err)
	}
	return id, nil
}

func (s *Store) GetHealingActions(ctx context.Context, startTime, endTime time.Time, limit int) ([]audit.HealingAction, error) {
	start := time.Now()
	const op = "get_healing_actions"
	if limit <= 0 {
		limit = audit.DefaultHealingActionLimit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, timestamp, action_type, trigger, result, details_json
		 FROM health_healing_actions
		 WHERE timestamp >= $1 AND timestamp <= $2
		 ORDER BY timestamp DESC LIMIT $3`,
		startTime, endTime, limit,
	)
	if err != nil {
		s.observe(op, start, err)
		return nil, fmt.Errorf("query healing actions: %w", err)
	}
	defer rows.Close()

	out, err := scanHealingActions(rows)
	s.observe(op, start, err)
	return out, err
}

func (s *Store) GetRecentHealingAction(ctx context.Context, actionType string, within time.Duration) (*audit.HealingAction, error) {
	start := time.Now()
	const op = "get_recent_healing_action"

	cutoff := time.Now().Add(-within)
	rows, err := s.pool.Query(ctx,
		`SELECT id, timestamp, action_type, trigger, result, details_json
		 FROM health_healing_actions
		 WHERE action_type = $1 AND timestamp >= $2 AND result = $3
		 ORDER BY timestamp DESC LIMIT 1`,
		actionType, cutoff, string(audit.HealingSuccess),
	)
	if err != nil {
		s.observe(op, start, err)
		return nil, fmt.Errorf("query recent healing action: %w", err)
	}
	defer rows.Close()

	actions, err := scanHealingActions(rows)
	s.observe(op, start, err)
	if err != nil {
		return nil, err
	}
	if len(actions) == 0 {
		return nil, audit.ErrNotFound
	}
	return &actions[0], nil
}

func scanHealingActions(rows pgx.Rows) ([]audit.HealingAction, error) {
	var out []audit.HealingAction
	for rows.Next() {
		var a audit.HealingAction
		var result string
		var detailsJSON []byte
		if err := rows.Scan(&a.ID, &a.Timestamp, &a.ActionType, &a.Trigger, &result, &detailsJSON); err != nil {
			return nil, fmt.Errorf("scan healing action: %w", err)
		}
		a.Result = audit.HealingResult(result)
		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &a.Details); err != nil {
				return nil, fmt.Errorf("unmarshal details: %w", err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) CreateIncident(ctx context.Context, incident audit.Incident) (int64, error) {
	start := time.Now()
	const op = "create_incident"

	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO health_incidents (start_time, severity, description, resolved)
		 VALUES ($1, $2, $3, false) RETURNING id`,
		incident.StartTime, string(incident.Severity), incident.Description,
	).Scan(&id)
	s.observe(op, start, err)
	if err != nil {
		return 0, fmt.Errorf("insert incident: %w", err)
	}
	return id, nil
}

func (s *Store) ResolveIncident(ctx context.Context, id int64, resolution string) error {
	start := time.Now()
	const op = "resolve_incident"

	tag, err := s.pool.Exec(ctx,
		`UPDATE health_incidents SET resolved = true, end_time = now(), resolution = $2 WHERE id = $1`,
		id, resolution,
	)
	s.observe(op, start, err)
	if err != nil {
		return fmt.Errorf("resolve incident: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return audit.ErrNotFound
	}
	return nil
}

func (s *Store) GetOpenIncidents(ctx context.Context) ([]audit.Incident, error) {
	start := time.Now()
	const op = "get_open_incidents"

	rows, err := s.pool.Query(ctx,
		`SELECT id, start_time, end_time, severity, description, resolved, resolution
		 FROM health_incidents WHERE resolved = false ORDER BY start_time ASC`,
	)
	if err != nil {
		s.observe(op, start, err)
		return nil, fmt.Errorf("query open incidents: %w", err)
	}
	defer rows.Close()

	var out []audit.Incident
	for rows.Next() {
		var inc audit.Incident
		var severity string
		var resolution *string
		if err := rows.Scan(&inc.ID, &inc.StartTime, &inc.EndTime, &severity, &inc.Description, &inc.Resolved, &resolution); err != nil {
			s.observe(op, start, err)
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		inc.Severity = audit.ParseIncidentSeverity(severity)
		if resolution != nil {
			inc.Resolution = *resolution
		}
		out = append(out, inc)
	}
	s.observe(op, start, rows.Err())
	return out, rows.Err()
}

func (s *Store) SaveUpdateRecord(ctx context.Context, record audit.UpdateRecord) (int64, error) {
	start := time.Now()
	const op = "save_update_record"

	var healthJSON []byte
	var err error
	if record.HealthCheckResult != nil {
		healthJSON, err = json.Marshal(record.HealthCheckResult)
		if err != nil {
			s.observe(op, start, err)
			return 0, fmt.Errorf("marshal health check result: %w", err)
		}
	}

	var id int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO update_history (timestamp, version, previous_version, git_sha, status, health_check_result_json)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		record.Timestamp, record.Version, record.PreviousVersion, record.GitSHA, string(record.Status), healthJSON,
	).Scan(&id)
	s.observe(op, start, err)
	if err != nil {
		return 0, fmt.Errorf("insert update record: %w", err)
	}
	return id, nil
}

func (s *Store) UpdateUpdateStatus(ctx context.Context, id int64, status audit.UpdateStatus, healthCheckResult map[string]any) error {
	start := time.Now()
	const op = "update_update_status"

	var healthJSON []byte
	if healthCheckResult != nil {
		var err error
		healthJSON, err = json.Marshal(healthCheckResult)
		if err != nil {
			s.observe(op, start, err)
			return fmt.Errorf("marshal health check result: %w", err)
		}
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE update_history SET status = $2, health_check_result_json = COALESCE($3, health_check_result_json) WHERE id = $1`,
		id, string(status), healthJSON,
	)
	s.observe(op, start, err)
	if err != nil {
		return fmt.Errorf("update update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return audit.ErrNotFound
	}
	return nil
}

func (s *Store) GetLatestUpdate(ctx context.Context) (*audit.UpdateRecord, error) {
	start := time.Now()
	const op = "get_latest_update"

	records, err := s.queryUpdateHistory(ctx, 1)
	s.observe(op, start, err)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, audit.ErrNotFound
	}
	return &records[0], nil
}

func (s *Store) GetUpdateHistory(ctx context.Context, limit int) ([]audit.UpdateRecord, error) {
	start := time.Now()
	const op = "get_update_history"
	if limit <= 0 {
		limit = audit.DefaultUpdateHistoryLimit
	}
	out, err := s.queryUpdateHistory(ctx, limit)
	s.observe(op, start, err)
	return out, err
}

func (s *Store) queryUpdateHistory(ctx context.Context, limit int) ([]audit.UpdateRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, timestamp, version, previous_version, git_sha, status, health_check_result_json
		 FROM update_history ORDER BY timestamp DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query update history: %w", err)
	}
	defer rows.Close()

	var out []audit.UpdateRecord
	for rows.Next() {
		var rec audit.UpdateRecord
		var status string
		var healthJSON []byte
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.Version, &rec.PreviousVersion, &rec.GitSHA, &status, &healthJSON); err != nil {
			return nil, fmt.Errorf("scan update record: %w", err)
		}
		rec.Status = audit.ParseUpdateStatus(status)
		if len(healthJSON) > 0 {
			if err := json.Unmarshal(healthJSON, &rec.HealthCheckResult); err != nil {
				return nil, fmt.Errorf("unmarshal health check result: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PruneOldSnapshots deletes snapshots older than the retention window and
// returns the number of deleted rows, mirroring the "DELETE N" tag-parsing
// contract of the original implementation (pgx surfaces this as
// CommandTag.RowsAffected rather than a string to parse).
func (s *Store) PruneOldSnapshots(ctx context.Context, days int) (int, error) {
	start := time.Now()
	const op = "prune_old_snapshots"
	if days <= 0 {
		days = audit.DefaultPruneDays
	}

	cutoff := time.Now().AddDate(0, 0, -days)
	tag, err := s.pool.Exec(ctx, `DELETE FROM health_snapshots WHERE timestamp < $1`, cutoff)
	s.observe(op, start, err)
	if err != nil {
		return 0, fmt.Errorf("prune old snapshots: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
