// Package healer implements the self-healing action catalogue: a fixed set
// of remediation actions dispatched under cooldown, with every attempt
// durably recorded regardless of outcome.
package healer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zetherion-ai/opscore/internal/audit"
)

// Skill is a restartable sub-component.
type Skill interface {
	Name() string
	SafeReinitialize(ctx context.Context) (bool, error)
}

// SkillRegistry resolves skills by name and finds the first one in error
// state, the two lookups the restart_skill action needs.
type SkillRegistry interface {
	GetSkill(name string) (Skill, bool)
	FirstErrored() (Skill, bool)
}

// DBPool is the subset of pool lifecycle management the healer drives
// directly, distinct from the audit store's query surface.
type DBPool interface {
	ExpireIdle(ctx context.Context) error
	Exec(ctx context.Context, query string) error
}

// SettingsStore is a minimal key/value settings surface, grounded on the
// teacher's dynamic-reload settings service pattern but trimmed to the one
// read/write pair the rate-limit action needs.
type SettingsStore interface {
	Get(ctx context.Context, section, key string) (int, error)
	Set(ctx context.Context, section, key string, value int, changedBy int64) error
}

// LogFlusher flushes a buffered log sink, supplied through WithLogFlusher.
// Without one, flush_log_buffer succeeds and reports flushed=false.
type LogFlusher interface {
	Flush() error
}

// DefaultCooldown matches the operations core's default healing cooldown.
const DefaultCooldown = 300 * time.Second

const maxIntervalSeconds = 1800

// auditTables lists the tables vacuum_databases runs against.
var auditTables = []string{
	"health_snapshots", "health_daily_reports", "health_healing_actions",
	"health_incidents", "update_history",
}

// Healer dispatches the action catalogue. All dependencies are optional;
// a missing one degrades its action to a clean failure rather than a panic.
type Healer struct {
	store         audit.Store
	skillRegistry SkillRegistry
	dbPool        DBPool
	settings      SettingsStore
	logFlusher    LogFlusher
	httpClient    *http.Client
	ollamaBaseURL string
	logger        *slog.Logger

	enabled  atomic.Bool
	cooldown time.Duration
}

// Option configures a Healer at construction.
type Option func(*Healer)

func WithSkillRegistry(r SkillRegistry) Option { return func(h *Healer) { h.skillRegistry = r } }
func WithDBPool(p DBPool) Option               { return func(h *Healer) { h.dbPool = p } }
func WithSettingsStore(s SettingsStore) Option { return func(h *Healer) { h.settings = s } }
func WithLogFlusher(f LogFlusher) Option       { return func(h *Healer) { h.logFlusher = f } }
func WithCooldown(d time.Duration) Option      { return func(h *Healer) { h.cooldown = d } }
func WithOllamaBaseURL(url string) Option      { return func(h *Healer) { h.ollamaBaseURL = url } }
func WithEnabled(enabled bool) Option {
	return func(h *Healer) { h.enabled.Store(enabled) }
}

// New builds a Healer over store (may be nil) and logger (nil falls back to
// slog.Default), enabled by default with a 300s cooldown.
func New(store audit.Store, logger *slog.Logger, opts ...Option) *Healer {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Healer{
		store:         store,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		ollamaBaseURL: "http://ollama:11434",
		logger:        logger,
		cooldown:      DefaultCooldown,
	}
	h.enabled.Store(true)
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Enabled reports whether the healer currently dispatches actions.
func (h *Healer) Enabled() bool { return h.enabled.Load() }

// SetEnabled toggles dispatch on or off.
func (h *Healer) SetEnabled(enabled bool) { h.enabled.Store(enabled) }

// actionFunc is one action body. It must never panic; dispatch recovers
// defensively but a well-behaved action reports failure through its
// return value instead.
type actionFunc func(ctx context.Context) (success bool, details map[string]any)

// dispatch implements the common wrapper every action goes through: enabled
// check, cooldown check, invocation, and best-effort audit recording.
func (h *Healer) dispatch(ctx context.Context, tag, trigger string, fn actionFunc) (result bool) {
	if !h.enabled.Load() {
		return false
	}
	if h.inCooldown(ctx, tag) {
		return false
	}

	details := make(map[string]any)
	func() {
		defer func() {
			if r := recover(); r != nil {
				result = false
				details["error"] = fmt.Sprintf("panic: %v", r)
			}
		}()
		result, details = fn(ctx)
	}()

	h.recordAction(ctx, tag, trigger, result, details)
	return result
}

// inCooldown treats any cooldown-check error as "no recent action" so a
// storage hiccup never blocks a remediation.
func (h *Healer) inCooldown(ctx context.Context, tag string) bool {
	if h.store == nil {
		return false
	}
	action, err := h.store.GetRecentHealingAction(ctx, tag, h.cooldown)
	if err != nil {
		return false
	}
	return action != nil
}

func (h *Healer) recordAction(ctx context.Context, tag, trigger string, success bool, details map[string]any) {
	if h.store == nil {
		return
	}
	result := audit.HealingSuccess
	if !success {
		result = audit.HealingFailed
	}
	if details == nil {
		details = map[string]any{}
	}
	details["correlation_id"] = uuid.NewString()

	_, err := h.store.SaveHealingAction(ctx, audit.HealingAction{
		Timestamp:  time.Now().UTC(),
		ActionType: tag,
		Trigger:    trigger,
		Result:     result,
		Details:    details,
	})
	if err != nil {
		h.logger.Warn("failed to record healing action", "action_type", tag, "error", err)
	}
}

// RestartSkill restarts the named skill.
func (h *Healer) RestartSkill(ctx context.Context, name, trigger string) bool {
	return h.dispatch(ctx, "restart_skill", trigger, func(ctx context.Context) (bool, map[string]any) {
		return h.restartSkillByName(ctx, name)
	})
}

func (h *Healer) restartSkillByName(ctx context.Context, name string) (bool, map[string]any) {
	if h.skillRegistry == nil {
		return false, map[string]any{"error": "no_skill_registry"}
	}
	skill, found := h.skillRegistry.GetSkill(name)
	if !found {
		return false, map[string]any{"error": "skill_not_found"}
	}
	ok, err := skill.SafeReinitialize(ctx)
	if err != nil {
		return false, map[string]any{"skill_name": name, "error": err.Error()}
	}
	if !ok {
		return false, map[string]any{"skill_name": name, "error": "reinitialize_failed"}
	}
	return true, map[string]any{"skill_name": name}
}

func (h *Healer) restartAnyErroredSkill(ctx context.Context) (bool, map[string]any) {
	if h.skillRegistry == nil {
		return false, map[string]any{"error": "no_skill_registry"}
	}
	skill, found := h.skillRegistry.FirstErrored()
	if !found {
		return false, map[string]any{"error": "no_errored_skill"}
	}
	return h.restartSkillByName(ctx, skill.Name())
}

func (h *Healer) clearStaleConnections(ctx context.Context) (bool, map[string]any) {
	if h.dbPool == nil {
		return false, map[string]any{"error": "no_db_pool"}
	}
	if err := h.dbPool.ExpireIdle(ctx); err != nil {
		return false, map[string]any{"error": err.Error()}
	}
	return true, map[string]any{}
}

func (h *Healer) vacuumDatabases(ctx context.Context) (bool, map[string]any) {
	if h.dbPool == nil {
		return true, map[string]any{"note": "no db pool configured"}
	}
	for _, table := range auditTables {
		if err := h.dbPool.Exec(ctx, "VACUUM "+table); err != nil {
			return false, map[string]any{"error": err.Error(), "table": table}
		}
	}
	return true, map[string]any{"tables": auditTables}
}

func (h *Healer) flushLogBuffer(ctx context.Context) (bool, map[string]any) {
	if h.logFlusher == nil {
		return true, map[string]any{"flushed": false}
	}
	if err := h.logFlusher.Flush(); err != nil {
		h.logger.Warn("log buffer flush failed", "error", err)
		return true, map[string]any{"flushed": false, "error": err.Error()}
	}
	return true, map[string]any{"flushed": true}
}

func (h *Healer) adjustRateLimits(ctx context.Context) (bool, map[string]any) {
	if h.settings == nil {
		return false, map[string]any{"error": "no_settings_store"}
	}
	current, err := h.settings.Get(ctx, "scheduler", "interval_seconds")
	if err != nil {
		return false, map[string]any{"error": err.Error()}
	}
	next := current * 2
	if next > maxIntervalSeconds {
		next = maxIntervalSeconds
	}
	if err := h.settings.Set(ctx, "scheduler", "interval_seconds", next, 0); err != nil {
		return false, map[string]any{"error": err.Error()}
	}
	return true, map[string]any{"previous_interval": current, "new_interval": next}
}

// ExecuteRecommended dispatches every tag in order and returns the per-tag
// outcome. Unknown tags report false without ever touching the audit store.
func (h *Healer) ExecuteRecommended(ctx context.Context, tags []string, trigger string) map[string]bool {
	results := make(map[string]bool, len(tags))
	for _, tag := range tags {
		switch tag {
		case "restart_skill":
			results[tag] = h.dispatch(ctx, tag, trigger, h.restartAnyErroredSkill)
		case "clear_stale_connections":
			results[tag] = h.dispatch(ctx, tag, trigger, h.clearStaleConnections)
		case "vacuum_databases":
			results[tag] = h.dispatch(ctx, tag, trigger, h.vacuumDatabases)
		case "warm_ollama_models":
			results[tag] = h.dispatch(ctx, tag, trigger, h.warmOllamaModels)
		case "adjust_rate_limits":
			results[tag] = h.dispatch(ctx, tag, trigger, h.adjustRateLimits)
		case "flush_log_buffer":
			results[tag] = h.dispatch(ctx, tag, trigger, h.flushLogBuffer)
		default:
			results[tag] = false
		}
	}
	return results
}
