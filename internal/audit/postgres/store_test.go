package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/zetherion-ai/opscore/internal/audit"
)

// setupTestDB starts a disposable Postgres container and applies the store's
// schema directly, mirroring the migration file in migrations/0001_init.sql.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("opscore_test"),
		postgres.WithUsername("opscore"),
		postgres.WithPassword("opscore"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(10*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	schema := `
	CREATE TABLE health_snapshots (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL,
		metrics_json JSONB NOT NULL,
		anomalies_json JSONB NOT NULL DEFAULT '[]'::jsonb
	);
	CREATE TABLE health_daily_reports (
		id BIGSERIAL PRIMARY KEY,
		date DATE NOT NULL UNIQUE,
		summary_json JSONB NOT NULL,
		recommendations_json JSONB NOT NULL DEFAULT '[]'::jsonb,
		overall_score DOUBLE PRECISION NOT NULL
	);
	CREATE TABLE health_healing_actions (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL,
		action_type TEXT NOT NULL,
		trigger TEXT NOT NULL,
		result TEXT NOT NULL,
		details_json JSONB NOT NULL DEFAULT '{}'::jsonb
	);
	CREATE TABLE health_incidents (
		id BIGSERIAL PRIMARY KEY,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ,
		severity TEXT NOT NULL,
		description TEXT NOT NULL,
		resolved BOOLEAN NOT NULL DEFAULT FALSE,
		resolution TEXT
	);
	CREATE TABLE update_history (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL,
		version TEXT NOT NULL,
		previous_version TEXT NOT NULL DEFAULT '',
		git_sha TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		health_check_result_json JSONB
	);
	`
	_, err = pool.Exec(ctx, schema)
	require.NoError(t, err)

	return pool
}

func TestStore_SaveAndGetLatestSnapshot(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	store := New(pool, nil)
	defer store.Close()

	snap := audit.MetricsSnapshot{
		Timestamp: time.Now().UTC().Truncate(time.Second),
		Performance: audit.Performance{
			AvgLatencyMs: map[string]float64{"ollama": 120.5},
		},
		Usage: audit.Usage{TotalCostToday: 1.23},
		System: audit.System{MemoryPercent: 42.0},
	}

	id, err := store.SaveSnapshot(context.Background(), snap)
	require.NoError(t, err)
	require.NotZero(t, id)

	latest, err := store.GetLatestSnapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, id, latest.ID)
	require.InDelta(t, 120.5, latest.Performance.AvgLatencyMs["ollama"], 0.001)
	require.InDelta(t, 1.23, latest.Usage.TotalCostToday, 0.001)
}

func TestStore_GetLatestSnapshot_NotFound(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	store := New(pool, nil)
	defer store.Close()

	_, err := store.GetLatestSnapshot(context.Background())
	require.ErrorIs(t, err, audit.ErrNotFound)
}

func TestStore_SaveDailyReport_UpsertsByDate(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	store := New(pool, nil)
	defer store.Close()

	report := audit.DailyReport{
		Date:            "2026-07-01",
		Summary:         map[string]any{"beats": float64(288)},
		Recommendations: []string{"check disk usage"},
		OverallScore:    0.91,
	}

	id1, err := store.SaveDailyReport(context.Background(), report)
	require.NoError(t, err)

	report.OverallScore = 0.5
	report.Recommendations = []string{"check disk usage", "restart ollama"}
	id2, err := store.SaveDailyReport(context.Background(), report)
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	got, err := store.GetDailyReport(context.Background(), "2026-07-01")
	require.NoError(t, err)
	require.InDelta(t, 0.5, got.OverallScore, 0.001)
	require.Len(t, got.Recommendations, 2)
}

func TestStore_HealingActions_RecentSuccessOnly(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	store := New(pool, nil)
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC()

	_, err := store.SaveHealingAction(ctx, audit.HealingAction{
		Timestamp:  now.Add(-2 * time.Minute),
		ActionType: "restart_skill",
		Trigger:    "skill_error",
		Result:     audit.HealingFailed,
	})
	require.NoError(t, err)

	_, err = store.SaveHealingAction(ctx, audit.HealingAction{
		Timestamp:  now.Add(-1 * time.Minute),
		ActionType: "restart_skill",
		Trigger:    "skill_error",
		Result:     audit.HealingSuccess,
	})
	require.NoError(t, err)

	recent, err := store.GetRecentHealingAction(ctx, "restart_skill", 5*time.Minute)
	require.NoError(t, err)
	require.Equal(t, audit.HealingSuccess, recent.Result)
}

func TestStore_IncidentLifecycle(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	store := New(pool, nil)
	defer store.Close()

	ctx := context.Background()
	id, err := store.CreateIncident(ctx, audit.Incident{
		StartTime:   time.Now().UTC(),
		Severity:    audit.IncidentSeverityHigh,
		Description: "repeated heartbeat failures",
	})
	require.NoError(t, err)

	open, err := store.GetOpenIncidents(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)

	require.NoError(t, store.ResolveIncident(ctx, id, "restarted bot process"))

	open, err = store.GetOpenIncidents(ctx)
	require.NoError(t, err)
	require.Empty(t, open)
}

func TestStore_ResolveIncident_NotFound(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	store := New(pool, nil)
	defer store.Close()

	err := store.ResolveIncident(context.Background(), 999, "n/a")
	require.ErrorIs(t, err, audit.ErrNotFound)
}

func TestStore_UpdateHistory_SaveAndAdvanceStatus(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	store := New(pool, nil)
	defer store.Close()

	ctx := context.Background()
	id, err := store.SaveUpdateRecord(ctx, audit.UpdateRecord{
		Timestamp:       time.Now().UTC(),
		Version:         "v1.2.3",
		PreviousVersion: "v1.2.2",
		GitSHA:          "deadbeef",
		Status:          audit.UpdateStatusApplying,
	})
	require.NoError(t, err)

	require.NoError(t, store.UpdateUpdateStatus(ctx, id, audit.UpdateStatusSuccess, map[string]any{"healthy": true}))

	latest, err := store.GetLatestUpdate(ctx)
	require.NoError(t, err)
	require.Equal(t, audit.UpdateStatusSuccess, latest.Status)
	require.Equal(t, true, latest.HealthCheckResult["healthy"])

	history, err := store.GetUpdateHistory(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestStore_PruneOldSnapshots(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	store := New(pool, nil)
	defer store.Close()

	ctx := context.Background()
	old := time.Now().UTC().AddDate(0, 0, -60)
	_, err := store.SaveSnapshot(ctx, audit.MetricsSnapshot{Timestamp: old})
	require.NoError(t, err)

	recent := time.Now().UTC()
	_, err = store.SaveSnapshot(ctx, audit.MetricsSnapshot{Timestamp: recent})
	require.NoError(t, err)

	deleted, err := store.PruneOldSnapshots(ctx, 30)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	snaps, err := store.GetSnapshots(ctx, recent.Add(-time.Minute), recent.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
}
