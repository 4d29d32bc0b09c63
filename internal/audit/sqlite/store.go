// Package sqlite implements the audit.Store interface on top of
// modernc.org/sqlite, the pure-Go driver chosen over mattn/go-sqlite3 so the
// lite deployment profile never needs cgo. It mirrors the
// query-instrumentation pattern of internal/audit/postgres, adapted from
// pgx's Rows/QueryRow surface to database/sql since modernc.org/sqlite only
// speaks database/sql.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	_ "modernc.org/sqlite"

	"github.com/zetherion-ai/opscore/internal/audit"
)

const sqliteTimeLayout = time.RFC3339Nano

// Store implements audit.Store against a SQLite database file. SQLite
// allows only one writer at a time, so every mutating call is serialized
// through mu; reads pass through uncontended.
type Store struct {
	db      *sql.DB
	mu      sync.Mutex
	logger  *slog.Logger
	metrics *queryMetrics
}

type queryMetrics struct {
	duration *prometheus.HistogramVec
	errors   *prometheus.CounterVec
}

var (
	queryMetricsOnce   sync.Once
	sharedQueryMetrics *queryMetrics
)

// newQueryMetrics registers the store's Prometheus collectors exactly once
// per process. Store is constructed per connection (e.g. once per test), and
// promauto panics on duplicate registration against the default registry.
func newQueryMetrics() *queryMetrics {
	queryMetricsOnce.Do(func() {
		sharedQueryMetrics = &queryMetrics{
			duration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "opscore_audit_sqlite_query_duration_seconds",
					Help:    "Duration of SQLite audit store queries.",
					Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
				},
				[]string{"operation", "status"},
			),
			errors: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "opscore_audit_sqlite_query_errors_total",
					Help: "Total SQLite audit store query errors.",
				},
				[]string{"operation"},
			),
		}
	})
	return sharedQueryMetrics
}

// Open opens (and, via goose migrations run by the caller, prepares) a
// SQLite database file at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite serializes writers at the file level; a single connection
	// avoids SQLITE_BUSY churn under internal contention.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite pragmas: %w", err)
	}

	return &Store{db: db, logger: logger, metrics: newQueryMetrics()}, nil
}

func (s *Store) observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
		s.metrics.errors.WithLabelValues(operation).Inc()
	}
	s.metrics.duration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
}

// DB exposes the underlying *sql.DB, primarily so the goose migration
// runner can target this store's schema.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) SaveSnapshot(ctx context.Context, snap audit.MetricsSnapshot) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := time.Now()
	const op = "save_snapshot"

	metricsJSON, err := json.Marshal(struct {
		Performance      audit.Performance `json:"performance"`
		Reliability      audit.Reliability `json:"reliability"`
		Usage            audit.Usage       `json:"usage"`
		System           audit.System      `json:"system"`
		Skills           audit.SkillHealth `json:"skills"`
		CollectionTimeMs int64             `json:"collection_time_ms"`
		CollectedAt      time.Time         `json:"collected_at"`
	}{snap.Performance, snap.Reliability, snap.Usage, snap.System, snap.Skills, snap.CollectionTimeMs, snap.CollectedAt})
	if err != nil {
		s.observe(op, start, err)
		return 0, fmt.Errorf("marshal snapshot metrics: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO health_snapshots (timestamp, metrics_json, anomalies_json) VALUES (?, ?, '[]')`,
		snap.Timestamp.Format(sqliteTimeLayout), string(metricsJSON),
	)
	s.observe(op, start, err)
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) GetSnapshots(ctx context.Context, startTime, endTime time.Time, limit int) ([]audit.MetricsSnapshot, error) {
	start := time.Now()
	const op = "get_snapshots"
	if limit <= 0 {
		limit = audit.DefaultSnapshotLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, metrics_json FROM health_snapshots
		 WHERE timestamp >= ? AND timestamp <= ?
		 ORDER BY timestamp DESC LIMIT ?`,
		startTime.Format(sqliteTimeLayout), endTime.Format(sqliteTimeLayout), limit,
	)
	if err != nil {
		s.observe(op, start, err)
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	out, err := scanSnapshots(rows)
	s.observe(op, start, err)
	return out, err
}

func (s *Store) GetLatestSnapshot(ctx context.Context) (*audit.MetricsSnapshot, error) {
	start := time.Now()
	const op = "get_latest_snapshot"

	rows, err := s.db.QueryContext(ctx,
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

func scanSnapshots(rows *sql.Rows) ([]audit.MetricsSnapshot, error) {
	var out []audit.MetricsSnapshot
	for rows.Next() {
		var snap audit.MetricsSnapshot
		var ts, metricsJSON string
		if err := rows.Scan(&snap.ID, &ts, &metricsJSON); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		parsed, err := time.Parse(sqliteTimeLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("parse snapshot timestamp: %w", err)
		}
		snap.Timestamp = parsed

		var body struct {
			Performance      audit.Performance `json:"performance"`
			Reliability      audit.Reliability `json:"reliability"`
			Usage            audit.Usage       `json:"usage"`
			System           audit.System      `json:"system"`
			Skills           audit.SkillHealth `json:"skills"`
			CollectionTimeMs int64             `json:"collection_time_ms"`
			CollectedAt      time.Time         `json:"collected_at"`
		}
		if err := json.Unmarshal([]byte(metricsJSON), &body); err != nil {
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
	s.mu.Lock()
	defer s.mu.Unlock()
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

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO health_daily_reports (date, summary_json, recommendations_json, overall_score)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (date) DO UPDATE SET
		   summary_json = excluded.summary_json,
		   recommendations_json = excluded.recommendations_json,
		   overall_score = excluded.overall_score`,
		report.Date, string(summaryJSON), string(recsJSON), report.OverallScore,
	)
	s.observe(op, start, err)
	if err != nil {
		return 0, fmt.Errorf("upsert daily report: %w", err)
	}

	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM health_daily_reports WHERE date = ?`, report.Date).Scan(&id); err != nil {
		return 0, fmt.Errorf("fetch daily report id: %w", err)
	}
	return id, nil
}

func (s *Store) GetDailyReport(ctx context.Context, date string) (*audit.DailyReport, error) {
	start := time.Now()
	const op = "get_daily_report"

	var report audit.DailyReport
	var summaryJSON, recsJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, date, summary_json, recommendations_json, overall_score
		 FROM health_daily_reports WHERE date = ?`,
		date,
	).Scan(&report.ID, &report.Date, &summaryJSON, &recsJSON, &report.OverallScore)
	if errors.Is(err, sql.ErrNoRows) {
		s.observe(op, start, nil)
		return nil, audit.ErrNotFound
	}
	if err != nil {
		s.observe(op, start, err)
		return nil, fmt.Errorf("query daily report: %w", err)
	}
	if err := json.Unmarshal([]byte(summaryJSON), &report.Summary); err != nil {
		s.observe(op, start, err)
		return nil, fmt.Errorf("unmarshal summary: %w", err)
	}
	if err := json.Unmarshal([]byte(recsJSON), &report.Recommendations); err != nil {
		s.observe(op, start, err)
		return nil, fmt.Errorf("unmarshal recommendations: %w", err)
	}
	s.observe(op, start, nil)
	return &report, nil
}

func (s *Store) GetDailyReports(ctx context.Context, startDate, endDate string) ([]audit.DailyReport, error) {
	start := time.Now()
	const op = "get_daily_reports"

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, date, summary_json, recommendations_json, overall_score
		 FROM health_daily_reports WHERE date >= ? AND date <= ? ORDER BY date ASC`,
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
		var summaryJSON, recsJSON string
		if err := rows.Scan(&report.ID, &report.Date, &summaryJSON, &recsJSON, &report.OverallScore); err != nil {
			s.observe(op, start, err)
			return nil, fmt.Errorf("scan daily report: %w", err)
		}
		_ = json.Unmarshal([]byte(summaryJSON), &report.Summary)
		_ = json.Unmarshal([]byte(recsJSON), &report.Recommendations)
		out = append(out, report)
	}
	s.observe(op, start, rows.Err())
	return out, rows.Err()
}

func (s *Store) SaveHealingAction(ctx context.Context, action audit.HealingAction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := time.Now()
	const op = "save_healing_action"

	detailsJSON, err := json.Marshal(action.Details)
	if err != nil {
		s.observe(op, start, err)
		return 0, fmt.Errorf("marshal details: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO health_healing_actions (timestamp, action_type, trigger, result, details_json)
		 VALUES (?, ?, ?, ?, ?)`,
		action.Timestamp.Format(sqliteTimeLayout), action.ActionType, action.Trigger, string(action.Result), string(detailsJSON),
	)
	s.observe(op, start, err)
	if err != nil {
		return 0, fmt.Errorf("insert healing action: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) GetHealingActions(ctx context.Context, startTime, endTime time.Time, limit int) ([]audit.HealingAction, error) {
	start := time.Now()
	const op = "get_healing_actions"
	if limit <= 0 {
		limit = audit.DefaultHealingActionLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, action_type, trigger, result, details_json
		 FROM health_healing_actions
		 WHERE timestamp >= ? AND timestamp <= ?
		 ORDER BY timestamp DESC LIMIT ?`,
		startTime.Format(sqliteTimeLayout), endTime.Format(sqliteTimeLayout), limit,
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
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, action_type, trigger, result, details_json
		 FROM health_healing_actions
		 WHERE action_type = ? AND timestamp >= ? AND result = ?
		 ORDER BY timestamp DESC LIMIT 1`,
		actionType, cutoff.Format(sqliteTimeLayout), string(audit.HealingSuccess),
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

func scanHealingActions(rows *sql.Rows) ([]audit.HealingAction, error) {
	var out []audit.HealingAction
	for rows.Next() {
		var a audit.HealingAction
		var ts, result, detailsJSON string
		if err := rows.Scan(&a.ID, &ts, &a.ActionType, &a.Trigger, &result, &detailsJSON); err != nil {
			return nil, fmt.Errorf("scan healing action: %w", err)
		}
		parsed, err := time.Parse(sqliteTimeLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("parse healing action timestamp: %w", err)
		}
		a.Timestamp = parsed
		a.Result = audit.HealingResult(result)
		if detailsJSON != "" {
			if err := json.Unmarshal([]byte(detailsJSON), &a.Details); err != nil {
				return nil, fmt.Errorf("unmarshal details: %w", err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) CreateIncident(ctx context.Context, incident audit.Incident) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := time.Now()
	const op = "create_incident"

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO health_incidents (start_time, severity, description, resolved)
		 VALUES (?, ?, ?, 0)`,
		incident.StartTime.Format(sqliteTimeLayout), string(incident.Severity), incident.Description,
	)
	s.observe(op, start, err)
	if err != nil {
		return 0, fmt.Errorf("insert incident: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) ResolveIncident(ctx context.Context, id int64, resolution string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := time.Now()
	const op = "resolve_incident"

	res, err := s.db.ExecContext(ctx,
		`UPDATE health_incidents SET resolved = 1, end_time = ?, resolution = ? WHERE id = ?`,
		time.Now().Format(sqliteTimeLayout), resolution, id,
	)
	s.observe(op, start, err)
	if err != nil {
		return fmt.Errorf("resolve incident: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve incident rows affected: %w", err)
	}
	if affected == 0 {
		return audit.ErrNotFound
	}
	return nil
}

func (s *Store) GetOpenIncidents(ctx context.Context) ([]audit.Incident, error) {
	start := time.Now()
	const op = "get_open_incidents"

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, start_time, end_time, severity, description, resolved, resolution
		 FROM health_incidents WHERE resolved = 0 ORDER BY start_time ASC`,
	)
	if err != nil {
		s.observe(op, start, err)
		return nil, fmt.Errorf("query open incidents: %w", err)
	}
	defer rows.Close()

	var out []audit.Incident
	for rows.Next() {
		var inc audit.Incident
		var startTime string
		var endTime, resolution sql.NullString
		var severity string
		var resolved int
		if err := rows.Scan(&inc.ID, &startTime, &endTime, &severity, &inc.Description, &resolved, &resolution); err != nil {
			s.observe(op, start, err)
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		parsed, err := time.Parse(sqliteTimeLayout, startTime)
		if err != nil {
			s.observe(op, start, err)
			return nil, fmt.Errorf("parse incident start_time: %w", err)
		}
		inc.StartTime = parsed
		if endTime.Valid {
			et, err := time.Parse(sqliteTimeLayout, endTime.String)
			if err != nil {
				s.observe(op, start, err)
				return nil, fmt.Errorf("parse incident end_time: %w", err)
			}
			inc.EndTime = &et
		}
		inc.Severity = audit.ParseIncidentSeverity(severity)
		inc.Resolved = resolved != 0
		if resolution.Valid {
			inc.Resolution = resolution.String
		}
		out = append(out, inc)
	}
	s.observe(op, start, rows.Err())
	return out, rows.Err()
}

func (s *Store) SaveUpdateRecord(ctx context.Context, record audit.UpdateRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := time.Now()
	const op = "save_update_record"

	var healthJSON string
	if record.HealthCheckResult != nil {
		b, err := json.Marshal(record.HealthCheckResult)
		if err != nil {
			s.observe(op, start, err)
			return 0, fmt.Errorf("marshal health check result: %w", err)
		}
		healthJSON = string(b)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO update_history (timestamp, version, previous_version, git_sha, status, health_check_result_json)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		record.Timestamp.Format(sqliteTimeLayout), record.Version, record.PreviousVersion, record.GitSHA, string(record.Status), nullableString(healthJSON),
	)
	s.observe(op, start, err)
	if err != nil {
		return 0, fmt.Errorf("insert update record: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) UpdateUpdateStatus(ctx context.Context, id int64, status audit.UpdateStatus, healthCheckResult map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := time.Now()
	const op = "update_update_status"

	var res sql.Result
	var err error
	if healthCheckResult != nil {
		var b []byte
		b, err = json.Marshal(healthCheckResult)
		if err != nil {
			s.observe(op, start, err)
			return fmt.Errorf("marshal health check result: %w", err)
		}
		res, err = s.db.ExecContext(ctx,
			`UPDATE update_history SET status = ?, health_check_result_json = ? WHERE id = ?`,
			string(status), string(b), id,
		)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE update_history SET status = ? WHERE id = ?`,
			string(status), id,
		)
	}
	s.observe(op, start, err)
	if err != nil {
		return fmt.Errorf("update update status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update update status rows affected: %w", err)
	}
	if affected == 0 {
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
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, version, previous_version, git_sha, status, health_check_result_json
		 FROM update_history ORDER BY timestamp DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query update history: %w", err)
	}
	defer rows.Close()

	var out []audit.UpdateRecord
	for rows.Next() {
		var rec audit.UpdateRecord
		var ts, status string
		var healthJSON sql.NullString
		if err := rows.Scan(&rec.ID, &ts, &rec.Version, &rec.PreviousVersion, &rec.GitSHA, &status, &healthJSON); err != nil {
			return nil, fmt.Errorf("scan update record: %w", err)
		}
		parsed, err := time.Parse(sqliteTimeLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("parse update record timestamp: %w", err)
		}
		rec.Timestamp = parsed
		rec.Status = audit.ParseUpdateStatus(status)
		if healthJSON.Valid && healthJSON.String != "" {
			if err := json.Unmarshal([]byte(healthJSON.String), &rec.HealthCheckResult); err != nil {
				return nil, fmt.Errorf("unmarshal health check result: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PruneOldSnapshots deletes snapshots older than the retention window and
// returns the number of deleted rows.
func (s *Store) PruneOldSnapshots(ctx context.Context, days int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := time.Now()
	const op = "prune_old_snapshots"
	if days <= 0 {
		days = audit.DefaultPruneDays
	}

	cutoff := time.Now().AddDate(0, 0, -days)
	res, err := s.db.ExecContext(ctx, `DELETE FROM health_snapshots WHERE timestamp < ?`, cutoff.Format(sqliteTimeLayout))
	s.observe(op, start, err)
	if err != nil {
		return 0, fmt.Errorf("prune old snapshots: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune old snapshots rows affected: %w", err)
	}
	return int(affected), nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
