package audit

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a single-row lookup has no match.
var ErrNotFound = errors.New("audit: not found")

// Store is the append-only/upsert persistence surface shared by the
// observer loop (C7), the self-healer (C6), and the update executor (C8).
// Postgres and SQLite backends both implement it identically from the
// caller's point of view.
type Store interface {
	SaveSnapshot(ctx context.Context, snap MetricsSnapshot) (int64, error)
	GetSnapshots(ctx context.Context, start, end time.Time, limit int) ([]MetricsSnapshot, error)
	GetLatestSnapshot(ctx context.Context) (*MetricsSnapshot, error)

	SaveDailyReport(ctx context.Context, report DailyReport) (int64, error)
	GetDailyReport(ctx context.Context, date string) (*DailyReport, error)
	GetDailyReports(ctx context.Context, start, end string) ([]DailyReport, error)

	SaveHealingAction(ctx context.Context, action HealingAction) (int64, error)
	GetHealingActions(ctx context.Context, start, end time.Time, limit int) ([]HealingAction, error)
	GetRecentHealingAction(ctx context.Context, actionType string, within time.Duration) (*HealingAction, error)

	CreateIncident(ctx context.Context, incident Incident) (int64, error)
	ResolveIncident(ctx context.Context, id int64, resolution string) error
	GetOpenIncidents(ctx context.Context) ([]Incident, error)

	SaveUpdateRecord(ctx context.Context, record UpdateRecord) (int64, error)
	UpdateUpdateStatus(ctx context.Context, id int64, status UpdateStatus, healthCheckResult map[string]any) error
	GetLatestUpdate(ctx context.Context) (*UpdateRecord, error)
	GetUpdateHistory(ctx context.Context, limit int) ([]UpdateRecord, error)

	PruneOldSnapshots(ctx context.Context, days int) (int, error)

	Close() error
}

// DefaultSnapshotLimit and DefaultHealingActionLimit mirror the defaults
// named in the audit store's operation list.
const (
	DefaultSnapshotLimit      = 1000
	DefaultHealingActionLimit = 100
	DefaultUpdateHistoryLimit = 20
	DefaultCooldownWindow     = 300 * time.Second
	DefaultPruneDays          = 30
)
