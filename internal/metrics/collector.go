package metrics

import (
	"context"
	"log/slog"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/zetherion-ai/opscore/internal/audit"
)

// processStart is recorded at package init and used to compute uptime; the
// teacher's equivalent is a module-load timestamp.
var processStart = time.Now()

// baselineCacheSize bounds the recent-snapshot cache behind the analyzer's
// baseline window (filled and read by internal/observer); sized generously above the
// window itself so callers can hold several distinct baseline keys.
const baselineCacheSize = 64

// Collector assembles MetricsSnapshot records from a Sources bundle.
type Collector struct {
	sources Sources
	logger  *slog.Logger

	// baselineCache holds recent per-series values (e.g. "p95:ollama") for
	// callers building a rolling baseline window; not required for a single
	// collect_all() call but wired here since both the collector and the
	// analyzer read the same recent-history concept.
	baselineCache *lru.Cache[string, []float64]
}

// New builds a Collector over sources. A nil logger falls back to
// slog.Default.
func New(sources Sources, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	cache, _ := lru.New[string, []float64](baselineCacheSize)
	return &Collector{sources: sources, logger: logger, baselineCache: cache}
}

// CollectAll pipelines the five sub-collectors and assembles the full
// snapshot plus timing metadata. No sub-collector panic or error reaches the
// caller — each one independently degrades to zero values.
func (c *Collector) CollectAll(ctx context.Context) audit.MetricsSnapshot {
	start := time.Now()
	snap := audit.MetricsSnapshot{Timestamp: start.UTC()}

	// guard runs one sub-collector; a panic is logged and leaves that
	// section at its zero value.
	guard := func(section string, fn func()) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Warn("sub-collector panicked, degrading to zero values", "section", section, "panic", r)
			}
		}()
		fn()
	}

	var records []UsageRecord
	guard("usage_records", func() { records = c.todaysUsageRecords(ctx) })
	guard("performance", func() { snap.Performance = c.collectPerformance(records) })
	guard("reliability", func() { snap.Reliability = c.collectReliability(ctx, records) })
	guard("usage", func() { snap.Usage = c.collectUsage(ctx, records) })
	guard("system", func() { snap.System = c.collectSystem() })
	guard("skills", func() { snap.Skills = c.collectSkills() })
	snap.CollectionTimeMs = time.Since(start).Milliseconds()
	snap.CollectedAt = time.Now().UTC()
	return snap
}

func (c *Collector) todaysUsageRecords(ctx context.Context) []UsageRecord {
	if c.sources.CostStore == nil {
		return nil
	}
	now := time.Now().UTC()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	records, err := c.sources.CostStore.UsageByDateRange(ctx, startOfDay, now)
	if err != nil {
		c.logger.Warn("cost store usage query failed, degrading to empty", "error", err)
		return nil
	}
	return records
}

func (c *Collector) collectPerformance(records []UsageRecord) audit.Performance {
	perf := audit.Performance{
		AvgLatencyMs:    map[string]float64{},
		P95LatencyMs:    map[string]float64{},
		CountByProvider: map[string]int64{},
	}
	latenciesByProvider := map[string][]float64{}

	for _, r := range records {
		perf.RequestCount++
		perf.CountByProvider[r.Provider]++
		if r.LatencyMs != nil {
			latenciesByProvider[r.Provider] = append(latenciesByProvider[r.Provider], *r.LatencyMs)
		}
	}

	for provider, latencies := range latenciesByProvider {
		perf.AvgLatencyMs[provider] = mean(latencies)
		perf.P95LatencyMs[provider] = p95(latencies)
	}
	return perf
}

func (c *Collector) collectReliability(ctx context.Context, records []UsageRecord) audit.Reliability {
	rel := audit.Reliability{
		ErrorRateByProvider:  map[string]float64{},
		RateLimitByProvider:  map[string]int64{},
		HeartbeatSuccessRate: 1.0,
		UptimeSeconds:        time.Since(processStart).Seconds(),
	}

	totalByProvider := map[string]int64{}
	failuresByProvider := map[string]int64{}
	for _, r := range records {
		totalByProvider[r.Provider]++
		if !r.Success {
			failuresByProvider[r.Provider]++
		}
		if r.RateLimitHit {
			rel.RateLimitHitCount++
			rel.RateLimitByProvider[r.Provider]++
		}
	}
	for provider, total := range totalByProvider {
		if total > 0 {
			rel.ErrorRateByProvider[provider] = float64(failuresByProvider[provider]) / float64(total)
		}
	}

	if c.sources.Heartbeat != nil {
		hb := c.sources.Heartbeat
		denom := hb.SuccessfulActions + hb.FailedActions
		if denom > 0 {
			rel.HeartbeatSuccessRate = float64(hb.SuccessfulActions) / float64(denom)
		}
	}

	if c.sources.SkillRegistry != nil {
		summary := c.sources.SkillRegistry.StatusSummary()
		if errored, ok := summary.ByStatus["error"]; ok {
			rel.FailingSkillCount = len(errored)
			rel.FailingSkillNames = errored
		}
	}
	return rel
}

func (c *Collector) collectUsage(ctx context.Context, records []UsageRecord) audit.Usage {
	usage := audit.Usage{CostByProvider: map[string]float64{}}

	for _, r := range records {
		usage.TotalCostToday += r.CostUSD
		usage.CostByProvider[r.Provider] += r.CostUSD
		usage.TotalInputTokens += r.TokensInput
		usage.TotalOutputTokens += r.TokensOutput
	}

	if c.sources.Heartbeat != nil {
		usage.HeartbeatBeatCount = c.sources.Heartbeat.BeatCount
		usage.HeartbeatActionCount = c.sources.Heartbeat.ActionCount
	}
	return usage
}

func (c *Collector) collectSystem() audit.System {
	var sys audit.System

	if vm, err := mem.VirtualMemory(); err == nil {
		sys.MemoryMB = float64(vm.Used) / (1024 * 1024)
		sys.MemoryPercent = vm.UsedPercent
	} else {
		c.logger.Debug("system memory query failed, degrading to zero", "error", err)
	}

	dataDir := c.sources.DataDir
	if dataDir == "" {
		dataDir = "/"
	}
	if du, err := disk.Usage(dataDir); err == nil {
		const gb = 1024 * 1024 * 1024
		sys.DiskTotalGB = float64(du.Total) / gb
		sys.DiskUsedGB = float64(du.Used) / gb
		sys.DiskFreeGB = float64(du.Free) / gb
		sys.DiskUsagePercent = du.UsedPercent
	} else {
		c.logger.Debug("disk usage query failed, degrading to zero", "error", err, "data_dir", dataDir)
	}
	return sys
}

func (c *Collector) collectSkills() audit.SkillHealth {
	if c.sources.SkillRegistry == nil {
		return audit.SkillHealth{ByStatus: map[string][]string{}}
	}
	summary := c.sources.SkillRegistry.StatusSummary()
	byStatus := summary.ByStatus
	if byStatus == nil {
		byStatus = map[string][]string{}
	}
	return audit.SkillHealth{
		Total:    summary.Total,
		Ready:    summary.Ready,
		Error:    summary.Error,
		ByStatus: byStatus,
	}
}

// RecordBaseline appends value to the rolling recent-history window kept
// under key (e.g. "p95:ollama"), capping it at windowSize entries.
func (c *Collector) RecordBaseline(key string, value float64, windowSize int) {
	values, _ := c.baselineCache.Get(key)
	values = append(values, value)
	if len(values) > windowSize {
		values = values[len(values)-windowSize:]
	}
	c.baselineCache.Add(key, values)
}

// BaselineWindow returns the recent-history window for key, or nil if none
// has been recorded.
func (c *Collector) BaselineWindow(key string) []float64 {
	values, _ := c.baselineCache.Get(key)
	return values
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// p95 returns sorted[min(floor(n*0.95), n-1)] over values, matching the
// reference implementation's nearest-rank percentile.
func p95(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted)) * 0.95)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
