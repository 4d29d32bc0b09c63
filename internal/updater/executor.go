// Package updater implements the blue/green update executor: it checks out
// a release tag, builds and cuts traffic over to the inactive color, and
// automatically rolls back on any step failure.
package updater

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/zetherion-ai/opscore/internal/audit"
	"github.com/zetherion-ai/opscore/internal/healthcheck"
	"github.com/zetherion-ai/opscore/internal/procrunner"
)

func nowUTC() time.Time { return time.Now().UTC() }

// CommandRunner is the subset of procrunner.Runner the executor drives its
// git/docker-compose pipeline through.
type CommandRunner interface {
	Run(ctx context.Context, cmd string, timeout time.Duration) (string, error)
}

// HealthProber is the subset of healthcheck.Prober used to validate service
// health before and after a cutover.
type HealthProber interface {
	CheckService(ctx context.Context, url string, cfg healthcheck.Config) bool
}

const (
	ColorBlue  = "blue"
	ColorGreen = "green"
)

var skillsServices = map[string]string{
	ColorBlue:  "zetherion-ai-skills-blue",
	ColorGreen: "zetherion-ai-skills-green",
}

var apiServices = map[string]string{
	ColorBlue:  "zetherion-ai-api-blue",
	ColorGreen: "zetherion-ai-api-green",
}

const botService = "zetherion-ai-bot"

const (
	buildTimeout   = 1200 * time.Second
	serviceTimeout = 180 * time.Second
)

func defaultHealthURLs() map[string]string {
	return map[string]string{
		skillsServices[ColorBlue]:  "http://" + skillsServices[ColorBlue] + ":8080/health",
		skillsServices[ColorGreen]: "http://" + skillsServices[ColorGreen] + ":8080/health",
		apiServices[ColorBlue]:     "http://" + apiServices[ColorBlue] + ":8443/health",
		apiServices[ColorGreen]:    "http://" + apiServices[ColorGreen] + ":8443/health",
		"routed_skills":            "http://zetherion-ai-traefik:8080/health",
		"routed_api":               "http://zetherion-ai-traefik:8443/health",
	}
}

// Config configures an Executor.
type Config struct {
	ProjectDir      string
	ComposeFile     string
	HealthURLs      map[string]string // merged over the defaults, caller entries win
	StatePath       string
	RouteConfigPath string
	PauseOnFailure  bool
}

func DefaultConfig(projectDir string) Config {
	return Config{
		ProjectDir:      projectDir,
		ComposeFile:     projectDir + "/docker-compose.yml",
		StatePath:       projectDir + "/data/updater-state.json",
		RouteConfigPath: projectDir + "/config/traefik/dynamic/updater-routes.yml",
		PauseOnFailure:  true,
	}
}

// Result is the outcome of one apply or rollback attempt.
type Result struct {
	Status          string   `json:"status"`
	Error           string   `json:"error,omitempty"`
	ActiveColor     string   `json:"active_color"`
	TargetColor     string   `json:"target_color,omitempty"`
	PreviousSHA     string   `json:"previous_sha,omitempty"`
	NewSHA          string   `json:"new_sha,omitempty"`
	StepsCompleted  []string `json:"steps_completed"`
	Paused          bool     `json:"paused"`
	PauseReason     string   `json:"pause_reason,omitempty"`
	DurationSeconds float64  `json:"duration_seconds"`
	CompletedAt     string   `json:"completed_at"`
}

// Executor runs apply/rollback/unpause under a single apply lock and
// persists its runtime state (active color, pause flags, history
// timestamps) to StatePath between restarts.
type Executor struct {
	cfg        Config
	healthURLs map[string]string
	runner     CommandRunner
	prober     HealthProber
	store      audit.Store
	logger     *slog.Logger
	lock       Lock

	stateMu          sync.Mutex
	runtime          runtimeState
	state            string
	currentOperation string
}

// New builds an Executor, loading any existing runtime state from
// cfg.StatePath and ensuring a route config file exists for the active
// color. A nil lock defaults to an in-process mutex.
func New(cfg Config, runner CommandRunner, prober HealthProber, store audit.Store, logger *slog.Logger, lock Lock) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if lock == nil {
		lock = newLocalLock()
	}
	merged := defaultHealthURLs()
	for k, v := range cfg.HealthURLs {
		merged[k] = v
	}

	e := &Executor{
		cfg:        cfg,
		healthURLs: merged,
		runner:     runner,
		prober:     prober,
		store:      store,
		logger:     logger,
		lock:       lock,
		state:      "idle",
	}
	e.runtime = loadRuntimeState(cfg.StatePath, logger)
	e.ensureRoutingConfig(e.runtime.ActiveColor)
	return e
}

func (e *Executor) State() string {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state
}

func (e *Executor) CurrentOperation() string {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.currentOperation
}

func (e *Executor) ActiveColor() string {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.runtime.ActiveColor
}

func (e *Executor) Paused() bool {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.runtime.Paused
}

func (e *Executor) PauseReason() string {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.runtime.PauseReason
}

// StatusSnapshot returns the subset of runtime state exposed over the
// control API's /status endpoint.
func (e *Executor) StatusSnapshot() map[string]any {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return map[string]any{
		"active_color":        e.runtime.ActiveColor,
		"paused":              e.runtime.Paused,
		"pause_reason":        e.runtime.PauseReason,
		"last_checked_at":     e.runtime.LastCheckedAt,
		"last_attempted_tag":  e.runtime.LastAttemptedTag,
		"last_good_tag":       e.runtime.LastGoodTag,
	}
}

// Unpause clears the paused flag. It refuses while an apply or rollback
// holds the lock.
func (e *Executor) Unpause() bool {
	release, ok := e.lock.TryAcquire(context.Background())
	if !ok {
		return false
	}
	defer release()

	e.stateMu.Lock()
	now := nowUTC()
	e.runtime.Paused = false
	e.runtime.PauseReason = ""
	e.runtime.ResumedAt = &now
	state := e.runtime
	e.stateMu.Unlock()

	saveRuntimeState(e.cfg.StatePath, state, e.logger)
	return true
}

// ApplyUpdate checks out tag, builds and cuts over to the inactive color.
func (e *Executor) ApplyUpdate(ctx context.Context, tag, version string) Result {
	release, ok := e.lock.TryAcquire(ctx)
	if !ok {
		return Result{Status: "failed", Error: "Update already in progress"}
	}
	defer release()

	if e.Paused() {
		reason := e.PauseReason()
		if reason == "" {
			reason = "manual resume required"
		}
		return Result{
			Status:      "failed",
			Error:       "Rollouts are paused: " + reason,
			ActiveColor: e.ActiveColor(),
			Paused:      true,
			PauseReason: e.PauseReason(),
		}
	}

	return e.doApply(ctx, tag, version)
}

// Rollback restores the previous git SHA and its active color's health.
func (e *Executor) Rollback(ctx context.Context, previousSHA string) Result {
	release, ok := e.lock.TryAcquire(ctx)
	if !ok {
		return Result{Status: "failed", Error: "Operation already in progress"}
	}
	defer release()

	return e.doRollbackFull(ctx, previousSHA)
}

func (e *Executor) doApply(ctx context.Context, tag, version string) (result Result) {
	start := time.Now()
	previousColor := e.ActiveColor()
	targetColor := inactiveColor(previousColor)

	e.setState("updating", fmt.Sprintf("Updating to %s", tag))
	e.markAttempt(tag)

	result = Result{
		Status:      "failed",
		ActiveColor: previousColor,
		TargetColor: targetColor,
		Paused:      e.Paused(),
		PauseReason: e.PauseReason(),
	}

	recordID, err := e.createUpdateRecord(ctx, version, e.lastGoodTag(), "")
	if err != nil {
		e.logger.Error("audit: failed to create update record", "error", err)
	}

	defer func() {
		result.DurationSeconds = roundSeconds(time.Since(start))
		result.CompletedAt = nowUTC().Format(time.RFC3339)
		e.setState("idle", "")
	}()

	prevSHA, ok := e.runCmd(ctx, "git rev-parse HEAD", 0)
	if !ok {
		result.Error = "Failed to get current git SHA"
		return e.abortApply(ctx, recordID, result, previousColor)
	}
	result.PreviousSHA = strings.TrimSpace(prevSHA)

	tagRef := "refs/tags/" + tag
	tagRefspec := procrunner.Quote(tagRef + ":" + tagRef)
	e.setOperation(fmt.Sprintf("Fetching %s from origin", tagRef))
	if _, ok := e.runCmd(ctx, "git fetch --force origin "+tagRefspec, 0); !ok {
		result.Error = "git fetch tag failed"
		return e.abortApply(ctx, recordID, result, previousColor)
	}
	result.StepsCompleted = append(result.StepsCompleted, "git_fetch_tags")

	e.setOperation("Checking out " + tag)
	tagRefSafe := procrunner.Quote(tagRef)
	if _, ok := e.runCmd(ctx, "git checkout --force "+tagRefSafe, 0); !ok {
		result.Error = "git checkout failed"
		return e.abortApply(ctx, recordID, result, previousColor)
	}
	result.StepsCompleted = append(result.StepsCompleted, "git_checkout_tag")

	if newSHA, ok := e.runCmd(ctx, "git rev-parse HEAD", 0); ok {
		result.NewSHA = strings.TrimSpace(newSHA)
	}

	targetServices := []string{skillsServices[targetColor], apiServices[targetColor]}
	buildServices := append(append([]string{}, targetServices...), botService)

	e.setOperation(fmt.Sprintf("Building target color (%s)", targetColor))
	buildCmd := fmt.Sprintf("docker compose -f %s build %s", e.cfg.ComposeFile, strings.Join(buildServices, " "))
	if _, ok := e.runCmd(ctx, buildCmd, buildTimeout); !ok {
		result.Error = "docker build failed"
		return e.abortApply(ctx, recordID, result, previousColor)
	}
	result.StepsCompleted = append(result.StepsCompleted, "docker_build")

	for _, service := range targetServices {
		e.setOperation("Starting " + service)
		upCmd := fmt.Sprintf("docker compose -f %s up -d --no-deps %s", e.cfg.ComposeFile, service)
		if _, ok := e.runCmd(ctx, upCmd, serviceTimeout); !ok {
			result.Error = "Failed to start " + service
			return e.abortApply(ctx, recordID, result, previousColor)
		}
		result.StepsCompleted = append(result.StepsCompleted, "start_"+service)

		if healthURL, ok := e.healthURLs[service]; ok {
			e.setOperation("Waiting for " + service + " health")
			if !e.prober.CheckService(ctx, healthURL, healthcheck.Config{Retries: 8, DelaySeconds: 8, TimeoutSeconds: 5}) {
				result.Error = "Health check failed for " + service
				return e.abortApply(ctx, recordID, result, previousColor)
			}
			result.StepsCompleted = append(result.StepsCompleted, "health_"+service)
		}
	}

	// From the route switch through the bot restart, steps run on a context
	// detached from the caller's cancellation so the cutover is not cut short.
	cutoverCtx := context.WithoutCancel(ctx)

	e.setOperation("Switching traffic to " + targetColor)
	if !e.switchActiveColor(targetColor) {
		result.Error = "Failed to write Traefik route config"
		return e.abortApply(ctx, recordID, result, previousColor)
	}
	result.StepsCompleted = append(result.StepsCompleted, "route_switch")

	for _, routedName := range []string{"routed_skills", "routed_api"} {
		e.setOperation("Validating " + routedName)
		if !e.prober.CheckService(cutoverCtx, e.healthURLs[routedName], healthcheck.Config{Retries: 8, DelaySeconds: 5, TimeoutSeconds: 5}) {
			result.Error = "Routed health failed for " + routedName
			return e.abortApply(ctx, recordID, result, previousColor)
		}
		result.StepsCompleted = append(result.StepsCompleted, "health_"+routedName)
	}

	e.setOperation("Restarting bot")
	botUpCmd := fmt.Sprintf("docker compose -f %s up -d --no-deps %s", e.cfg.ComposeFile, botService)
	if _, ok := e.runCmd(cutoverCtx, botUpCmd, serviceTimeout); !ok {
		result.Error = "Failed to restart bot"
		return e.abortApply(ctx, recordID, result, previousColor)
	}
	if !e.isServiceRunning(cutoverCtx, botService) {
		result.Error = "Bot did not return to running state"
		return e.abortApply(ctx, recordID, result, previousColor)
	}
	result.StepsCompleted = append(result.StepsCompleted, "restart_bot")

	oldServices := []string{skillsServices[previousColor], apiServices[previousColor]}
	e.setOperation(fmt.Sprintf("Stopping old color (%s)", previousColor))
	stopCmd := fmt.Sprintf("docker compose -f %s stop %s", e.cfg.ComposeFile, strings.Join(oldServices, " "))
	if _, ok := e.runCmd(ctx, stopCmd, serviceTimeout); !ok {
		result.Error = fmt.Sprintf("Failed to stop old services (%s)", previousColor)
		return e.abortApply(ctx, recordID, result, previousColor)
	}
	result.StepsCompleted = append(result.StepsCompleted, "stop_old_color")

	now := nowUTC()
	e.stateMu.Lock()
	e.runtime.ActiveColor = targetColor
	e.runtime.LastGoodTag = tag
	e.runtime.LastSuccessAt = &now
	e.runtime.Paused = false
	e.runtime.PauseReason = ""
	state := e.runtime
	e.stateMu.Unlock()
	saveRuntimeState(e.cfg.StatePath, state, e.logger)

	result.Status = "success"
	result.ActiveColor = targetColor
	result.Paused = false
	result.PauseReason = ""

	result = e.finalizeUpdateRecord(ctx, recordID, audit.UpdateStatusSuccess, result)

	e.logger.Info("update completed", "tag", tag, "active_color", targetColor)
	return result
}

func (e *Executor) doRollbackFull(ctx context.Context, previousSHA string) (result Result) {
	start := time.Now()
	e.setState("rolling_back", "Rolling back to "+shortSHA(previousSHA))

	result = Result{
		Status:      "failed",
		PreviousSHA: previousSHA,
		ActiveColor: e.ActiveColor(),
		Paused:      e.Paused(),
		PauseReason: e.PauseReason(),
	}

	recordID, err := e.createUpdateRecord(ctx, "rollback", e.lastGoodTag(), previousSHA)
	if err != nil {
		e.logger.Error("audit: failed to create update record", "error", err)
	}

	defer func() {
		result.DurationSeconds = roundSeconds(time.Since(start))
		result.CompletedAt = nowUTC().Format(time.RFC3339)
		e.setState("idle", "")
	}()

	var auditStatus audit.UpdateStatus
	if e.attemptRollback(ctx, previousSHA, e.ActiveColor()) {
		result.Status = "success"
		result.NewSHA = previousSHA
		auditStatus = audit.UpdateStatusRolledBack
	} else {
		result.Error = "Rollback failed"
		auditStatus = audit.UpdateStatusFailed
	}
	return e.finalizeUpdateRecord(ctx, recordID, auditStatus, result)
}

// abortApply restores previousColor's healthy state after a failed apply
// step and records the terminal status against recordID.
func (e *Executor) abortApply(ctx context.Context, recordID int64, result Result, previousColor string) Result {
	result = e.pauseAndRollback(ctx, result, previousColor)
	return e.finalizeUpdateRecord(ctx, recordID, audit.ParseUpdateStatus(result.Status), result)
}

// pauseAndRollback attempts to restore previousColor's healthy state after a
// failed apply step, then pauses further rollouts if configured to.
func (e *Executor) pauseAndRollback(ctx context.Context, result Result, previousColor string) Result {
	rollbackOK := e.attemptRollback(ctx, result.PreviousSHA, previousColor)
	if rollbackOK {
		result.Status = "rolled_back"
	} else {
		result.Status = "failed"
	}

	now := nowUTC()
	e.stateMu.Lock()
	e.runtime.LastFailureAt = &now
	if e.cfg.PauseOnFailure {
		reason := result.Error
		if reason == "" {
			reason = "rollout failed"
		}
		e.runtime.Paused = true
		e.runtime.PauseReason = reason
		result.Paused = true
		result.PauseReason = reason
	}
	state := e.runtime
	e.stateMu.Unlock()
	saveRuntimeState(e.cfg.StatePath, state, e.logger)

	return result
}

func (e *Executor) attemptRollback(ctx context.Context, previousSHA, previousColor string) bool {
	if previousSHA == "" {
		e.logger.Error("cannot rollback: no previous SHA")
		return false
	}
	if previousColor != ColorBlue && previousColor != ColorGreen {
		e.logger.Error("cannot rollback: invalid color", "color", previousColor)
		return false
	}

	e.logger.Info("rolling back", "sha", shortSHA(previousSHA), "color", previousColor)

	shaSafe := procrunner.Quote(previousSHA)
	if _, ok := e.runCmd(ctx, "git checkout --force "+shaSafe, 0); !ok {
		e.logger.Error("rollback: git checkout failed")
		return false
	}

	rollbackServices := []string{skillsServices[previousColor], apiServices[previousColor], botService}
	buildCmd := fmt.Sprintf("docker compose -f %s build %s", e.cfg.ComposeFile, strings.Join(rollbackServices, " "))
	if _, ok := e.runCmd(ctx, buildCmd, buildTimeout); !ok {
		e.logger.Error("rollback: docker build failed")
		return false
	}

	for _, service := range []string{skillsServices[previousColor], apiServices[previousColor]} {
		upCmd := fmt.Sprintf("docker compose -f %s up -d --no-deps %s", e.cfg.ComposeFile, service)
		if _, ok := e.runCmd(ctx, upCmd, serviceTimeout); !ok {
			e.logger.Error("rollback: failed to start service", "service", service)
			return false
		}
		if healthURL, ok := e.healthURLs[service]; ok {
			if !e.prober.CheckService(ctx, healthURL, healthcheck.Config{Retries: 8, DelaySeconds: 8, TimeoutSeconds: 5}) {
				e.logger.Error("rollback: health check failed", "service", service)
				return false
			}
		}
	}

	if !e.switchActiveColor(previousColor) {
		e.logger.Error("rollback: failed to switch route back", "color", previousColor)
		return false
	}

	for _, routedName := range []string{"routed_skills", "routed_api"} {
		if !e.prober.CheckService(ctx, e.healthURLs[routedName], healthcheck.Config{Retries: 8, DelaySeconds: 5, TimeoutSeconds: 5}) {
			e.logger.Error("rollback: routed health failed", "target", routedName)
			return false
		}
	}

	botUpCmd := fmt.Sprintf("docker compose -f %s up -d --no-deps %s", e.cfg.ComposeFile, botService)
	if _, ok := e.runCmd(ctx, botUpCmd, serviceTimeout); !ok || !e.isServiceRunning(ctx, botService) {
		e.logger.Error("rollback: bot restart failed")
		return false
	}

	inactive := inactiveColor(previousColor)
	inactiveServices := []string{skillsServices[inactive], apiServices[inactive]}
	stopCmd := fmt.Sprintf("docker compose -f %s stop %s", e.cfg.ComposeFile, strings.Join(inactiveServices, " "))
	e.runCmd(ctx, stopCmd, serviceTimeout)

	e.stateMu.Lock()
	e.runtime.ActiveColor = previousColor
	state := e.runtime
	e.stateMu.Unlock()
	saveRuntimeState(e.cfg.StatePath, state, e.logger)

	e.logger.Info("rollback completed", "sha", shortSHA(previousSHA))
	return true
}

// GetDiagnostics gathers a point-in-time snapshot of repo and container
// state alongside the runtime status fields.
func (e *Executor) GetDiagnostics(ctx context.Context) map[string]any {
	diagnostics := map[string]any{}

	if sha, ok := e.runCmd(ctx, "git rev-parse HEAD", 0); ok {
		diagnostics["git_sha"] = strings.TrimSpace(sha)
	} else {
		diagnostics["git_sha"] = "unknown"
	}

	if ref, ok := e.runCmd(ctx, "git describe --tags --exact-match 2>/dev/null || git branch --show-current", 0); ok {
		diagnostics["git_ref"] = strings.TrimSpace(ref)
	} else {
		diagnostics["git_ref"] = "unknown"
	}

	status, ok := e.runCmd(ctx, "git status --porcelain", 0)
	diagnostics["git_clean"] = ok && strings.TrimSpace(status) == ""

	if ps, ok := e.runCmd(ctx, fmt.Sprintf("docker compose -f %s ps --format json", e.cfg.ComposeFile), 0); ok {
		diagnostics["containers_raw"] = strings.TrimSpace(ps)
	} else {
		diagnostics["containers_raw"] = "unavailable"
	}

	for k, v := range e.StatusSnapshot() {
		diagnostics[k] = v
	}

	if disk, ok := e.runCmd(ctx, "df -h / | tail -1", 0); ok {
		diagnostics["disk_usage"] = strings.TrimSpace(disk)
	} else {
		diagnostics["disk_usage"] = "unavailable"
	}

	return diagnostics
}

// lastGoodTag returns the most recently successful apply's tag, recorded as
// an UpdateRecord's PreviousVersion for the attempt that follows it.
func (e *Executor) lastGoodTag() string {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.runtime.LastGoodTag
}

// createUpdateRecord writes the apply/rollback attempt's row at the start
// of the operation, before any step can fail, so every terminal path -
// success, failure, or pause-and-rollback - has a row to transition.
func (e *Executor) createUpdateRecord(ctx context.Context, version, previousVersion, gitSHA string) (int64, error) {
	if e.store == nil {
		return 0, nil
	}
	return e.store.SaveUpdateRecord(ctx, audit.UpdateRecord{
		Timestamp:       nowUTC(),
		Version:         version,
		PreviousVersion: previousVersion,
		GitSHA:          gitSHA,
		Status:          audit.UpdateStatusApplying,
	})
}

// finalizeUpdateRecord transitions recordID to its terminal status. A
// failure here downgrades result to "failed" since the attempt's outcome
// is no longer reliably recorded.
func (e *Executor) finalizeUpdateRecord(ctx context.Context, recordID int64, status audit.UpdateStatus, result Result) Result {
	if e.store == nil || recordID == 0 {
		return result
	}
	details := map[string]any{"steps_completed": result.StepsCompleted}
	if result.Error != "" {
		details["error"] = result.Error
	}
	if err := e.store.UpdateUpdateStatus(ctx, recordID, status, details); err != nil {
		result.Status = "failed"
		result.Error = "audit persistence failed: " + err.Error()
	}
	return result
}

func (e *Executor) isServiceRunning(ctx context.Context, service string) bool {
	cmd := fmt.Sprintf("docker compose -f %s ps --services --status running %s", e.cfg.ComposeFile, service)
	output, ok := e.runCmd(ctx, cmd, 0)
	if !ok {
		return false
	}
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == service {
			return true
		}
	}
	return false
}

func (e *Executor) switchActiveColor(color string) bool {
	if color != ColorBlue && color != ColorGreen {
		return false
	}
	content, err := buildTraefikConfig(color)
	if err != nil {
		e.logger.Error("traefik route build failed", "error", err)
		return false
	}
	if err := writeFileAtomic(e.cfg.RouteConfigPath, content); err != nil {
		e.logger.Error("traefik route write failed", "path", e.cfg.RouteConfigPath, "error", err)
		return false
	}

	e.stateMu.Lock()
	e.runtime.ActiveColor = color
	state := e.runtime
	e.stateMu.Unlock()
	saveRuntimeState(e.cfg.StatePath, state, e.logger)
	return true
}

func (e *Executor) ensureRoutingConfig(color string) {
	if _, err := os.Stat(e.cfg.RouteConfigPath); err == nil {
		return
	}
	e.switchActiveColor(color)
}

func (e *Executor) runCmd(ctx context.Context, cmd string, timeout time.Duration) (string, bool) {
	out, err := e.runner.Run(ctx, cmd, timeout)
	if err != nil {
		return "", false
	}
	return out, true
}

func (e *Executor) setState(state, operation string) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	e.state = state
	e.currentOperation = operation
}

func (e *Executor) setOperation(operation string) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	e.currentOperation = operation
}

func (e *Executor) markAttempt(tag string) {
	now := nowUTC()
	e.stateMu.Lock()
	e.runtime.LastCheckedAt = &now
	e.runtime.LastAttemptedTag = &tag
	state := e.runtime
	e.stateMu.Unlock()
	saveRuntimeState(e.cfg.StatePath, state, e.logger)
}

func inactiveColor(current string) string {
	if current == ColorBlue {
		return ColorGreen
	}
	return ColorBlue
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}

func roundSeconds(d time.Duration) float64 {
	return float64(int(d.Seconds()*100)) / 100
}
