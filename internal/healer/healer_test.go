package healer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zetherion-ai/opscore/internal/audit"
)

// fakeStore is a minimal in-memory audit.Store double covering only the
// healing-action surface the healer exercises; every other method panics if
// ever called, which would indicate the healer reaching beyond its contract.
type fakeStore struct {
	mu      sync.Mutex
	actions []audit.HealingAction
	nextID  int64

	getRecentErr error
}

func (f *fakeStore) SaveHealingAction(ctx context.Context, action audit.HealingAction) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	action.ID = f.nextID
	if action.Timestamp.IsZero() {
		action.Timestamp = time.Now().UTC()
	}
	f.actions = append(f.actions, action)
	return action.ID, nil
}

func (f *fakeStore) GetRecentHealingAction(ctx context.Context, actionType string, within time.Duration) (*audit.HealingAction, error) {
	if f.getRecentErr != nil {
		return nil, f.getRecentErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().Add(-within)
	for i := len(f.actions) - 1; i >= 0; i-- {
		a := f.actions[i]
		if a.ActionType == actionType && a.Result == audit.HealingSuccess && a.Timestamp.After(cutoff) {
			return &a, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) SaveSnapshot(ctx context.Context, snap audit.MetricsSnapshot) (int64, error) { return 0, nil }
func (f *fakeStore) GetSnapshots(ctx context.Context, start, end time.Time, limit int) ([]audit.MetricsSnapshot, error) {
	return nil, nil
}
func (f *fakeStore) GetLatestSnapshot(ctx context.Context) (*audit.MetricsSnapshot, error) { return nil, nil }
func (f *fakeStore) SaveDailyReport(ctx context.Context, report audit.DailyReport) (int64, error) {
	return 0, nil
}
func (f *fakeStore) GetDailyReport(ctx context.Context, date string) (*audit.DailyReport, error) {
	return nil, nil
}
func (f *fakeStore) GetDailyReports(ctx context.Context, start, end string) ([]audit.DailyReport, error) {
	return nil, nil
}
func (f *fakeStore) GetHealingActions(ctx context.Context, start, end time.Time, limit int) ([]audit.HealingAction, error) {
	return nil, nil
}
func (f *fakeStore) CreateIncident(ctx context.Context, incident audit.Incident) (int64, error) {
	return 0, nil
}
func (f *fakeStore) ResolveIncident(ctx context.Context, id int64, resolution string) error { return nil }
func (f *fakeStore) GetOpenIncidents(ctx context.Context) ([]audit.Incident, error)          { return nil, nil }
func (f *fakeStore) SaveUpdateRecord(ctx context.Context, record audit.UpdateRecord) (int64, error) {
	return 0, nil
}
func (f *fakeStore) UpdateUpdateStatus(ctx context.Context, id int64, status audit.UpdateStatus, healthCheckResult map[string]any) error {
	return nil
}
func (f *fakeStore) GetLatestUpdate(ctx context.Context) (*audit.UpdateRecord, error) { return nil, nil }
func (f *fakeStore) GetUpdateHistory(ctx context.Context, limit int) ([]audit.UpdateRecord, error) {
	return nil, nil
}
func (f *fakeStore) PruneOldSnapshots(ctx context.Context, days int) (int, error) { return 0, nil }
func (f *fakeStore) Close() error                                                 { return nil }

type fakeSkill struct {
	name        string
	reinitOK    bool
	reinitErr   error
	callCount   int
}

func (s *fakeSkill) Name() string { return s.name }
func (s *fakeSkill) SafeReinitialize(ctx context.Context) (bool, error) {
	s.callCount++
	return s.reinitOK, s.reinitErr
}

type fakeRegistry struct {
	skills   map[string]*fakeSkill
	errored  *fakeSkill
}

func (r *fakeRegistry) GetSkill(name string) (Skill, bool) {
	s, ok := r.skills[name]
	if !ok {
		return nil, false
	}
	return s, true
}

func (r *fakeRegistry) FirstErrored() (Skill, bool) {
	if r.errored == nil {
		return nil, false
	}
	return r.errored, true
}

type fakeDBPool struct {
	expireErr error
	execErr   error
	execCalls []string
}

func (p *fakeDBPool) ExpireIdle(ctx context.Context) error { return p.expireErr }
func (p *fakeDBPool) Exec(ctx context.Context, query string) error {
	p.execCalls = append(p.execCalls, query)
	return p.execErr
}

type fakeSettings struct {
	values  map[string]int
	getErr  error
	setErr  error
}

func (s *fakeSettings) Get(ctx context.Context, section, key string) (int, error) {
	if s.getErr != nil {
		return 0, s.getErr
	}
	return s.values[section+"."+key], nil
}

func (s *fakeSettings) Set(ctx context.Context, section, key string, value int, changedBy int64) error {
	if s.setErr != nil {
		return s.setErr
	}
	if s.values == nil {
		s.values = map[string]int{}
	}
	s.values[section+"."+key] = value
	return nil
}

type fakeFlusher struct {
	called bool
	err    error
}

func (f *fakeFlusher) Flush() error {
	f.called = true
	return f.err
}

func TestHealer_RestartSkill_Success(t *testing.T) {
	store := &fakeStore{}
	registry := &fakeRegistry{skills: map[string]*fakeSkill{
		"weather": {name: "weather", reinitOK: true},
	}}
	h := New(store, nil, WithSkillRegistry(registry))

	ok := h.RestartSkill(context.Background(), "weather", "manual")

	assert.True(t, ok)
	require.Len(t, store.actions, 1)
	assert.Equal(t, audit.HealingSuccess, store.actions[0].Result)
	assert.Equal(t, "weather", store.actions[0].Details["skill_name"])
}

func TestHealer_RestartSkill_NotFound(t *testing.T) {
	store := &fakeStore{}
	registry := &fakeRegistry{skills: map[string]*fakeSkill{}}
	h := New(store, nil, WithSkillRegistry(registry))

	ok := h.RestartSkill(context.Background(), "missing", "manual")

	assert.False(t, ok)
	require.Len(t, store.actions, 1)
	assert.Equal(t, audit.HealingFailed, store.actions[0].Result)
}

func TestHealer_RestartSkill_ReinitializeFails(t *testing.T) {
	store := &fakeStore{}
	registry := &fakeRegistry{skills: map[string]*fakeSkill{
		"weather": {name: "weather", reinitOK: false},
	}}
	h := New(store, nil, WithSkillRegistry(registry))

	ok := h.RestartSkill(context.Background(), "weather", "manual")
	assert.False(t, ok)
}

func TestHealer_Disabled_SkipsDispatchEntirely(t *testing.T) {
	store := &fakeStore{}
	registry := &fakeRegistry{skills: map[string]*fakeSkill{"weather": {name: "weather", reinitOK: true}}}
	h := New(store, nil, WithSkillRegistry(registry), WithEnabled(false))

	ok := h.RestartSkill(context.Background(), "weather", "manual")

	assert.False(t, ok)
	assert.Empty(t, store.actions, "disabled healer must not write an audit entry")
}

func TestHealer_Cooldown_BlocksSecondAttempt(t *testing.T) {
	store := &fakeStore{}
	registry := &fakeRegistry{skills: map[string]*fakeSkill{"weather": {name: "weather", reinitOK: true}}}
	h := New(store, nil, WithSkillRegistry(registry), WithCooldown(time.Hour))

	first := h.RestartSkill(context.Background(), "weather", "manual")
	second := h.RestartSkill(context.Background(), "weather", "manual")

	assert.True(t, first)
	assert.False(t, second)
	assert.Len(t, store.actions, 1, "cooldown-blocked attempt must not record a second entry")
}

func TestHealer_Cooldown_StorageErrorAllowsAction(t *testing.T) {
	store := &fakeStore{getRecentErr: errors.New("db unreachable")}
	registry := &fakeRegistry{skills: map[string]*fakeSkill{"weather": {name: "weather", reinitOK: true}}}
	h := New(store, nil, WithSkillRegistry(registry))

	ok := h.RestartSkill(context.Background(), "weather", "manual")

	assert.True(t, ok, "a cooldown-check error must never block an action")
}

func TestHealer_ClearStaleConnections_NoPool(t *testing.T) {
	store := &fakeStore{}
	h := New(store, nil)

	ok := h.ExecuteRecommended(context.Background(), []string{"clear_stale_connections"}, "anomaly")["clear_stale_connections"]
	assert.False(t, ok)
}

func TestHealer_ClearStaleConnections_Success(t *testing.T) {
	store := &fakeStore{}
	pool := &fakeDBPool{}
	h := New(store, nil, WithDBPool(pool))

	ok := h.ExecuteRecommended(context.Background(), []string{"clear_stale_connections"}, "anomaly")["clear_stale_connections"]
	assert.True(t, ok)
}

func TestHealer_VacuumDatabases_NoPoolIsNoOpSuccess(t *testing.T) {
	store := &fakeStore{}
	h := New(store, nil)

	ok := h.ExecuteRecommended(context.Background(), []string{"vacuum_databases"}, "anomaly")["vacuum_databases"]
	assert.True(t, ok)
}

func TestHealer_VacuumDatabases_RunsAllTables(t *testing.T) {
	store := &fakeStore{}
	pool := &fakeDBPool{}
	h := New(store, nil, WithDBPool(pool))

	ok := h.ExecuteRecommended(context.Background(), []string{"vacuum_databases"}, "anomaly")["vacuum_databases"]
	assert.True(t, ok)
	assert.Len(t, pool.execCalls, len(auditTables))
}

func TestHealer_AdjustRateLimits_DoublesIntervalCapped(t *testing.T) {
	store := &fakeStore{}
	settings := &fakeSettings{values: map[string]int{"scheduler.interval_seconds": 1000}}
	h := New(store, nil, WithSettingsStore(settings))

	ok := h.ExecuteRecommended(context.Background(), []string{"adjust_rate_limits"}, "anomaly")["adjust_rate_limits"]

	assert.True(t, ok)
	assert.Equal(t, maxIntervalSeconds, settings.values["scheduler.interval_seconds"])
}

func TestHealer_AdjustRateLimits_NoSettingsStore(t *testing.T) {
	store := &fakeStore{}
	h := New(store, nil)

	ok := h.ExecuteRecommended(context.Background(), []string{"adjust_rate_limits"}, "anomaly")["adjust_rate_limits"]
	assert.False(t, ok)
}

func TestHealer_FlushLogBuffer_NoHandlerStillSucceeds(t *testing.T) {
	store := &fakeStore{}
	h := New(store, nil)

	ok := h.ExecuteRecommended(context.Background(), []string{"flush_log_buffer"}, "anomaly")["flush_log_buffer"]
	assert.True(t, ok)
}

func TestHealer_FlushLogBuffer_CallsFlusher(t *testing.T) {
	store := &fakeStore{}
	flusher := &fakeFlusher{}
	h := New(store, nil, WithLogFlusher(flusher))

	ok := h.ExecuteRecommended(context.Background(), []string{"flush_log_buffer"}, "anomaly")["flush_log_buffer"]
	assert.True(t, ok)
	assert.True(t, flusher.called)
}

func TestHealer_WarmOllamaModels_Success(t *testing.T) {
	var gotGet, gotPost bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			gotGet = true
			require.Equal(t, http.MethodGet, r.Method)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"models": []map[string]string{{"name": "llama3"}},
			})
		case "/api/generate":
			gotPost = true
			require.Equal(t, http.MethodPost, r.Method)
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			assert.Equal(t, "llama3", body["model"])
			assert.Equal(t, "10m", body["keep_alive"])
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	store := &fakeStore{}
	h := New(store, nil, WithOllamaBaseURL(server.URL))

	ok := h.ExecuteRecommended(context.Background(), []string{"warm_ollama_models"}, "anomaly")["warm_ollama_models"]

	assert.True(t, ok)
	assert.True(t, gotGet)
	assert.True(t, gotPost)
}

func TestHealer_WarmOllamaModels_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	store := &fakeStore{}
	h := New(store, nil, WithOllamaBaseURL(server.URL))

	ok := h.ExecuteRecommended(context.Background(), []string{"warm_ollama_models"}, "anomaly")["warm_ollama_models"]
	assert.False(t, ok)
}

func TestHealer_ExecuteRecommended_RestartSkillDispatchesToFirstErrored(t *testing.T) {
	store := &fakeStore{}
	errored := &fakeSkill{name: "email", reinitOK: true}
	registry := &fakeRegistry{skills: map[string]*fakeSkill{"email": errored}, errored: errored}
	h := New(store, nil, WithSkillRegistry(registry))

	results := h.ExecuteRecommended(context.Background(), []string{"restart_skill"}, "heartbeat_anomaly")

	assert.True(t, results["restart_skill"])
	assert.Equal(t, 1, errored.callCount)
	require.Len(t, store.actions, 1)
	assert.Equal(t, "email", store.actions[0].Details["skill_name"])
}

func TestHealer_ExecuteRecommended_RestartSkillNoErroredSkill(t *testing.T) {
	store := &fakeStore{}
	registry := &fakeRegistry{skills: map[string]*fakeSkill{}}
	h := New(store, nil, WithSkillRegistry(registry))

	results := h.ExecuteRecommended(context.Background(), []string{"restart_skill"}, "heartbeat_anomaly")
	assert.False(t, results["restart_skill"])
}

func TestHealer_ExecuteRecommended_UnknownTagNeverPersists(t *testing.T) {
	store := &fakeStore{}
	h := New(store, nil)

	results := h.ExecuteRecommended(context.Background(), []string{"reboot_the_universe"}, "anomaly")

	assert.False(t, results["reboot_the_universe"])
	assert.Empty(t, store.actions)
}

func TestHealer_ExecuteRecommended_MultipleTagsEachRecorded(t *testing.T) {
	store := &fakeStore{}
	pool := &fakeDBPool{}
	h := New(store, nil, WithDBPool(pool))

	results := h.ExecuteRecommended(context.Background(), []string{"clear_stale_connections", "vacuum_databases"}, "anomaly")

	assert.True(t, results["clear_stale_connections"])
	assert.True(t, results["vacuum_databases"])
	assert.Len(t, store.actions, 2)
}

func TestHealer_SetEnabled_TogglesDispatch(t *testing.T) {
	store := &fakeStore{}
	h := New(store, nil)
	assert.True(t, h.Enabled())

	h.SetEnabled(false)
	assert.False(t, h.Enabled())

	results := h.ExecuteRecommended(context.Background(), []string{"flush_log_buffer"}, "anomaly")
	assert.False(t, results["flush_log_buffer"])
	assert.Empty(t, store.actions)
}
