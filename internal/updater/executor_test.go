package updater

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zetherion-ai/opscore/internal/audit"
	"github.com/zetherion-ai/opscore/internal/healthcheck"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   []string
	failing map[string]bool
}

func newFakeRunner() *fakeRunner { return &fakeRunner{failing: map[string]bool{}} }

func (r *fakeRunner) Run(ctx context.Context, cmd string, timeout time.Duration) (string, error) {
	r.mu.Lock()
	r.calls = append(r.calls, cmd)
	fail := r.failing[cmd]
	r.mu.Unlock()
	if fail {
		return "", errors.New("command failed")
	}
	if strings.HasPrefix(cmd, "docker compose") && strings.Contains(cmd, "ps --services --status running") {
		return "zetherion-ai-bot\n", nil
	}
	return "deadbeefcafef00d\n", nil
}

type fakeProber struct {
	unhealthy map[string]bool
}

func (p *fakeProber) CheckService(ctx context.Context, url string, cfg healthcheck.Config) bool {
	return !p.unhealthy[url]
}

type fakeUpdateStore struct {
	mu      sync.Mutex
	records []audit.UpdateRecord
	saveErr error
}

func (s *fakeUpdateStore) SaveUpdateRecord(ctx context.Context, record audit.UpdateRecord) (int64, error) {
	if s.saveErr != nil {
		return 0, s.saveErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return int64(len(s.records)), nil
}

func (s *fakeUpdateStore) SaveSnapshot(ctx context.Context, snap audit.MetricsSnapshot) (int64, error) {
	return 0, nil
}
func (s *fakeUpdateStore) GetSnapshots(ctx context.Context, start, end time.Time, limit int) ([]audit.MetricsSnapshot, error) {
	return nil, nil
}
func (s *fakeUpdateStore) GetLatestSnapshot(ctx context.Context) (*audit.MetricsSnapshot, error) {
	return nil, nil
}
func (s *fakeUpdateStore) SaveDailyReport(ctx context.Context, report audit.DailyReport) (int64, error) {
	return 0, nil
}
func (s *fakeUpdateStore) GetDailyReport(ctx context.Context, date string) (*audit.DailyReport, error) {
	return nil, nil
}
func (s *fakeUpdateStore) GetDailyReports(ctx context.Context, start, end string) ([]audit.DailyReport, error) {
	return nil, nil
}
func (s *fakeUpdateStore) SaveHealingAction(ctx context.Context, action audit.HealingAction) (int64, error) {
	return 0, nil
}
func (s *fakeUpdateStore) GetHealingActions(ctx context.Context, start, end time.Time, limit int) ([]audit.HealingAction, error) {
	return nil, nil
}
func (s *fakeUpdateStore) GetRecentHealingAction(ctx context.Context, actionType string, within time.Duration) (*audit.HealingAction, error) {
	return nil, nil
}
func (s *fakeUpdateStore) CreateIncident(ctx context.Context, incident audit.Incident) (int64, error) {
	return 0, nil
}
func (s *fakeUpdateStore) ResolveIncident(ctx context.Context, id int64, resolution string) error {
	return nil
}
func (s *fakeUpdateStore) GetOpenIncidents(ctx context.Context) ([]audit.Incident, error) { return nil, nil }
func (s *fakeUpdateStore) UpdateUpdateStatus(ctx context.Context, id int64, status audit.UpdateStatus, healthCheckResult map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := int(id) - 1
	if idx < 0 || idx >= len(s.records) {
		return audit.ErrNotFound
	}
	s.records[idx].Status = status
	s.records[idx].HealthCheckResult = healthCheckResult
	return nil
}
func (s *fakeUpdateStore) GetLatestUpdate(ctx context.Context) (*audit.UpdateRecord, error) {
	return nil, nil
}
func (s *fakeUpdateStore) GetUpdateHistory(ctx context.Context, limit int) ([]audit.UpdateRecord, error) {
	return nil, nil
}
func (s *fakeUpdateStore) PruneOldSnapshots(ctx context.Context, days int) (int, error) { return 0, nil }
func (s *fakeUpdateStore) Close() error                                                 { return nil }

func newTestExecutor(t *testing.T, runner *fakeRunner, prober *fakeProber, store audit.Store) *Executor {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		ProjectDir:      dir,
		ComposeFile:     "compose.yml",
		StatePath:       filepath.Join(dir, "state.json"),
		RouteConfigPath: filepath.Join(dir, "routes.yml"),
		PauseOnFailure:  true,
	}
	return New(cfg, runner, prober, store, nil, nil)
}

func TestExecutor_ApplyUpdate_Success(t *testing.T) {
	runner := newFakeRunner()
	prober := &fakeProber{}
	store := &fakeUpdateStore{}
	e := newTestExecutor(t, runner, prober, store)

	result := e.ApplyUpdate(context.Background(), "v1.2.3", "1.2.3")

	require.Equal(t, "success", result.Status)
	assert.Equal(t, ColorGreen, result.ActiveColor)
	assert.Equal(t, ColorGreen, e.ActiveColor())
	assert.Contains(t, result.StepsCompleted, "route_switch")
	assert.Contains(t, result.StepsCompleted, "stop_old_color")
	require.Len(t, store.records, 1)
	assert.Equal(t, audit.UpdateStatusSuccess, store.records[0].Status)
	assert.Equal(t, "1.2.3", store.records[0].Version)
}

func TestExecutor_ApplyUpdate_RefusedWhenBusy(t *testing.T) {
	runner := newFakeRunner()
	prober := &fakeProber{}
	e := newTestExecutor(t, runner, prober, &fakeUpdateStore{})

	release, ok := e.lock.TryAcquire(context.Background())
	require.True(t, ok)
	defer release()

	result := e.ApplyUpdate(context.Background(), "v1", "1")
	assert.Equal(t, "failed", result.Status)
	assert.Equal(t, "Update already in progress", result.Error)
}

func TestExecutor_ApplyUpdate_RefusedWhenPaused(t *testing.T) {
	runner := newFakeRunner()
	prober := &fakeProber{}
	e := newTestExecutor(t, runner, prober, &fakeUpdateStore{})

	e.stateMu.Lock()
	e.runtime.Paused = true
	e.runtime.PauseReason = "disk full"
	e.stateMu.Unlock()

	result := e.ApplyUpdate(context.Background(), "v1", "1")
	assert.Equal(t, "failed", result.Status)
	assert.Contains(t, result.Error, "disk full")
	assert.True(t, result.Paused)
}

func TestExecutor_ApplyUpdate_BuildFailureRollsBack(t *testing.T) {
	runner := newFakeRunner()
	runner.failing["docker compose -f compose.yml build zetherion-ai-skills-green zetherion-ai-api-green zetherion-ai-bot"] = true
	prober := &fakeProber{}
	store := &fakeUpdateStore{}
	e := newTestExecutor(t, runner, prober, store)

	result := e.ApplyUpdate(context.Background(), "v1", "1")

	assert.Equal(t, "rolled_back", result.Status)
	assert.True(t, result.Paused)
	assert.Equal(t, ColorBlue, e.ActiveColor(), "rollback must restore the original active color")
	assert.True(t, e.Paused())
	require.Len(t, store.records, 1, "a failed apply must still leave an update_history row")
	assert.Equal(t, audit.UpdateStatusRolledBack, store.records[0].Status)
}

func TestExecutor_ApplyUpdate_RollbackAlsoFailingWritesFailedHistory(t *testing.T) {
	runner := newFakeRunner()
	runner.failing["docker compose -f compose.yml build zetherion-ai-skills-green zetherion-ai-api-green zetherion-ai-bot"] = true
	runner.failing["docker compose -f compose.yml build zetherion-ai-skills-blue zetherion-ai-api-blue zetherion-ai-bot"] = true
	prober := &fakeProber{}
	store := &fakeUpdateStore{}
	e := newTestExecutor(t, runner, prober, store)

	e.stateMu.Lock()
	e.runtime.LastGoodTag = "v0.9.0"
	e.stateMu.Unlock()

	result := e.ApplyUpdate(context.Background(), "v1", "1")

	assert.Equal(t, "failed", result.Status, "rollback itself failing must surface as a failed, not rolled_back, result")
	require.Len(t, store.records, 1, "an aborted apply must still leave an update_history row even when its own rollback fails")
	assert.Equal(t, audit.UpdateStatusFailed, store.records[0].Status)
	assert.Equal(t, "v0.9.0", store.records[0].PreviousVersion)
}

func TestExecutor_ApplyUpdate_HealthCheckFailureRollsBack(t *testing.T) {
	runner := newFakeRunner()
	prober := &fakeProber{unhealthy: map[string]bool{
		"http://zetherion-ai-skills-green:8080/health": true,
	}}
	e := newTestExecutor(t, runner, prober, &fakeUpdateStore{})

	result := e.ApplyUpdate(context.Background(), "v1", "1")

	assert.Equal(t, "rolled_back", result.Status)
	assert.Equal(t, ColorBlue, e.ActiveColor())
}

func TestExecutor_Rollback_Success(t *testing.T) {
	runner := newFakeRunner()
	prober := &fakeProber{}
	store := &fakeUpdateStore{}
	e := newTestExecutor(t, runner, prober, store)

	result := e.Rollback(context.Background(), "abc123def456")

	assert.Equal(t, "success", result.Status)
	assert.Equal(t, "abc123def456", result.NewSHA)
	require.Len(t, store.records, 1)
	assert.Equal(t, audit.UpdateStatusRolledBack, store.records[0].Status)
	assert.Equal(t, "abc123def456", store.records[0].GitSHA)
}

func TestExecutor_Rollback_EmptySHAFails(t *testing.T) {
	runner := newFakeRunner()
	prober := &fakeProber{}
	store := &fakeUpdateStore{}
	e := newTestExecutor(t, runner, prober, store)

	result := e.Rollback(context.Background(), "")

	assert.Equal(t, "failed", result.Status)
	require.Len(t, store.records, 1, "a rollback that fails before doing anything must still leave an update_history row")
	assert.Equal(t, audit.UpdateStatusFailed, store.records[0].Status)
}

func TestExecutor_Unpause_RefusedWhileBusy(t *testing.T) {
	runner := newFakeRunner()
	prober := &fakeProber{}
	e := newTestExecutor(t, runner, prober, &fakeUpdateStore{})

	release, ok := e.lock.TryAcquire(context.Background())
	require.True(t, ok)
	defer release()

	assert.False(t, e.Unpause())
}

func TestExecutor_Unpause_ClearsPauseState(t *testing.T) {
	runner := newFakeRunner()
	prober := &fakeProber{}
	e := newTestExecutor(t, runner, prober, &fakeUpdateStore{})

	e.stateMu.Lock()
	e.runtime.Paused = true
	e.runtime.PauseReason = "boom"
	e.stateMu.Unlock()

	assert.True(t, e.Unpause())
	assert.False(t, e.Paused())
	assert.Equal(t, "", e.PauseReason())
}

func TestExecutor_GetDiagnostics_ReturnsStatusFields(t *testing.T) {
	runner := newFakeRunner()
	prober := &fakeProber{}
	e := newTestExecutor(t, runner, prober, &fakeUpdateStore{})

	diagnostics := e.GetDiagnostics(context.Background())

	assert.Equal(t, ColorBlue, diagnostics["active_color"])
	assert.Contains(t, diagnostics, "git_sha")
	assert.Contains(t, diagnostics, "containers_raw")
}

func TestExecutor_StatusSnapshot_ReflectsActiveColor(t *testing.T) {
	runner := newFakeRunner()
	prober := &fakeProber{}
	e := newTestExecutor(t, runner, prober, &fakeUpdateStore{})

	snapshot := e.StatusSnapshot()
	assert.Equal(t, ColorBlue, snapshot["active_color"])
	assert.Equal(t, false, snapshot["paused"])
}
