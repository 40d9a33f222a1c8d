package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/irfndi/accumulation-radar/internal/cache"
	"github.com/irfndi/accumulation-radar/internal/config"
	"github.com/irfndi/accumulation-radar/internal/models"
	"github.com/irfndi/accumulation-radar/internal/telemetry"
	"github.com/irfndi/accumulation-radar/internal/utils"
)

// Dedup kinds stored in the notified cache.
const (
	notifiedAccumulation = "accumulation"
	notifiedBreakout     = "breakout"
)

// MarketRouter is the part of ProviderRouter the orchestrator relies on.
type MarketRouter interface {
	CandleFetcher
	HealthChecker
	LoadCatalogs(ctx context.Context) error
	BuildSymbolMap(symbols []string) []SymbolRoute
	Close()
}

// CycleStats summarizes one pass over the symbol × timeframe matrix.
type CycleStats struct {
	CycleID       string        `json:"cycle_id"`
	StartedAt     time.Time     `json:"started_at"`
	Tasks         int           `json:"tasks"`
	Checked       int           `json:"checked"`
	Skipped       int           `json:"skipped"`
	Failed        int           `json:"failed"`
	Accumulations int           `json:"accumulations"`
	Breakouts     int           `json:"breakouts"`
	Duration      time.Duration `json:"duration"`
}

// OrchestratorStats is the running state exposed on the health endpoint.
type OrchestratorStats struct {
	Ready            bool                      `json:"ready"`
	StartedAt        time.Time                 `json:"started_at"`
	Cycles           int64                     `json:"cycles"`
	LastCycle        CycleStats                `json:"last_cycle"`
	ActiveZones      int                       `json:"active_zones"`
	ZonesByStatus    map[models.ZoneStatus]int `json:"zones_by_status"`
	FailedSymbols    int                       `json:"failed_symbols"`
	OpenCircuits     int                       `json:"open_circuits"`
	TimedOutTasks    int64                     `json:"timed_out_tasks"`
	Cache            CandleCacheStats          `json:"cache"`
	Notified         cache.NotifiedCacheStats  `json:"notified"`
	Routes           []SymbolRoute             `json:"routes"`
	AccumulationSent int64                     `json:"accumulation_sent"`
	BreakoutSent     int64                     `json:"breakout_sent"`
}

type scanTask struct {
	symbol    string
	timeframe models.Timeframe
}

type cycleCounters struct {
	checked       atomic.Int64
	skipped       atomic.Int64
	failed        atomic.Int64
	accumulations atomic.Int64
	breakouts     atomic.Int64
}

// CycleOrchestrator drives the scan loop: it fetches candles for every
// symbol and timeframe, detects accumulation zones and breakouts, and sends
// alerts.
type CycleOrchestrator struct {
	cfg        *config.Config
	timeframes []models.Timeframe
	logger     *logrus.Logger
	now        func() time.Time

	router       MarketRouter
	sink         NotificationSink
	notified     cache.NotifiedCache
	candles      *CandleCache
	breaker      *CircuitBreaker
	accumulation *AccumulationDetector
	breakout     *BreakoutDetector
	zones        *ZoneStore
	timeouts     *TimeoutManager
	formatter    *MessageFormatter
	resources    *ResourceMonitor
	maintenance  *Maintenance

	ready            atomic.Bool
	cycles           atomic.Int64
	accumulationSent atomic.Int64
	breakoutSent     atomic.Int64
	shutdownOnce     sync.Once

	mu        sync.RWMutex
	startedAt time.Time
	lastCycle CycleStats
	routes    []SymbolRoute
}

// NewCycleOrchestrator wires the scan pipeline. A nil sink disables
// notifications and a nil notified cache falls back to memory.
func NewCycleOrchestrator(cfg *config.Config, router MarketRouter, sink NotificationSink, notified cache.NotifiedCache, logger *logrus.Logger) (*CycleOrchestrator, error) {
	timeframes, err := cfg.Scanner.ParsedTimeframes()
	if err != nil {
		return nil, fmt.Errorf("invalid scanner timeframes: %w", err)
	}
	// higher timeframes first so consensus sees their breakouts in the same cycle
	sort.SliceStable(timeframes, func(i, j int) bool { return timeframes[i].Rank() > timeframes[j].Rank() })

	if sink == nil {
		sink = NewNoopSink(logger)
	}
	if notified == nil {
		notified = cache.NewMemoryNotifiedCache()
	}

	timeouts := DefaultTimeoutConfig()
	timeouts.Task = cfg.Scanner.TaskTimeout()
	if jobTimeout := time.Duration(cfg.Maintenance.JobTimeoutSeconds) * time.Second; jobTimeout > 0 {
		timeouts.Maintenance = jobTimeout
		timeouts.HealthCheck = jobTimeout
	}

	o := &CycleOrchestrator{
		cfg:          cfg,
		timeframes:   timeframes,
		logger:       logger,
		now:          time.Now,
		router:       router,
		sink:         sink,
		notified:     notified,
		candles:      NewCandleCache(router, cfg, logger),
		breaker:      NewCircuitBreakerFromConfig(cfg.CircuitBreaker, logger),
		accumulation: NewAccumulationDetector(cfg, logger),
		breakout:     NewBreakoutDetector(cfg, logger),
		zones: NewZoneStore(ZoneCooldowns{
			Accumulation: cfg.Cooldowns.Accumulation(),
			Breakout:     cfg.Cooldowns.Breakout(),
		}, logger),
		timeouts:  NewTimeoutManager(timeouts, logger),
		formatter: NewMessageFormatter(),
		resources: NewResourceMonitor(cfg.Maintenance.MaxMemoryMB, logger),
	}

	o.maintenance, err = NewMaintenance(cfg, MaintenanceTargets{
		Router:    router,
		Zones:     o.zones,
		Breaker:   o.breaker,
		Candles:   o.candles,
		Notified:  notified,
		Resources: o.resources,
	}, o.timeouts, logger)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// Start loads provider catalogs, announces the symbol mapping, starts
// maintenance and runs the scan loop until ctx is cancelled. A catalog
// failure on every provider is returned as a FatalStartupError.
func (o *CycleOrchestrator) Start(ctx context.Context) error {
	err := o.timeouts.ExecuteWithTimeout(ctx, OpCatalogLoad, "catalog_load", o.router.LoadCatalogs)
	if err != nil {
		if !utils.IsFatalStartup(err) {
			err = &utils.FatalStartupError{Reason: "failed to load market catalogs", Err: err}
		}
		return err
	}

	routes := o.router.BuildSymbolMap(o.cfg.Scanner.Symbols)
	o.mu.Lock()
	o.routes = routes
	o.startedAt = o.now()
	o.mu.Unlock()

	o.notify(ctx, o.formatter.FormatStartup(routes, o.timeframes, o.cfg.Scanner.PollInterval()))
	o.maintenance.Start()
	o.ready.Store(true)

	o.logger.WithFields(logrus.Fields{
		"symbols":       len(o.cfg.Scanner.Symbols),
		"timeframes":    len(o.timeframes),
		"workers":       o.cfg.Scanner.Workers,
		"poll_interval": o.cfg.Scanner.PollInterval(),
	}).Info("Accumulation radar started")

	o.Run(ctx)
	return nil
}

// Run repeats RunCycle until ctx is cancelled.
func (o *CycleOrchestrator) Run(ctx context.Context) {
	interval := o.cfg.Scanner.PollInterval()

	for ctx.Err() == nil {
		stats, err := o.safeCycle(ctx)
		if err != nil {
			o.logger.WithError(err).Error("Scan cycle failed")
			if !sleepCtx(ctx, o.cfg.Scanner.ErrorBackoff()) {
				return
			}
			continue
		}
		o.logCycle(stats)

		if stats.Duration > interval {
			o.logger.WithFields(logrus.Fields{
				"duration": stats.Duration,
				"interval": interval,
			}).Warn("Scan cycle overran poll interval")
		}
		if !sleepCtx(ctx, o.nextWait(stats.Duration, o.now())) {
			return
		}
	}
}

// nextWait returns how long to sleep before the next cycle.
func (o *CycleOrchestrator) nextWait(elapsed time.Duration, now time.Time) time.Duration {
	interval := o.cfg.Scanner.PollInterval()
	if interval <= 0 {
		return 0
	}
	if o.cfg.Scanner.AlignToInterval {
		return now.Truncate(interval).Add(interval).Sub(now)
	}
	if wait := interval - elapsed; wait > 0 {
		return wait
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (o *CycleOrchestrator) safeCycle(ctx context.Context) (stats CycleStats, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scan cycle panicked: %v", r)
		}
	}()
	return o.RunCycle(ctx), nil
}

func (o *CycleOrchestrator) logCycle(stats CycleStats) {
	n := o.cycles.Load()
	fields := logrus.Fields{
		"cycle":         n,
		"cycle_id":      stats.CycleID,
		"checked":       stats.Checked,
		"skipped":       stats.Skipped,
		"failed":        stats.Failed,
		"accumulations": stats.Accumulations,
		"breakouts":     stats.Breakouts,
		"duration":      stats.Duration,
		"active_zones":  o.zones.Count(),
	}

	every := int64(o.cfg.Scanner.StatsEvery)
	if every > 0 && n%every == 0 {
		o.logger.WithFields(fields).Info("Scan cycle statistics")
		o.candles.LogStats()
		return
	}
	o.logger.WithFields(fields).Debug("Scan cycle completed")
}

// tasks builds the scan matrix, higher timeframes first.
func (o *CycleOrchestrator) tasks() []scanTask {
	out := make([]scanTask, 0, len(o.timeframes)*len(o.cfg.Scanner.Symbols))
	for _, tf := range o.timeframes {
		for _, symbol := range o.cfg.Scanner.Symbols {
			out = append(out, scanTask{symbol: symbol, timeframe: tf})
		}
	}
	return out
}

// RunCycle scans every symbol and timeframe once on the worker pool. Task
// errors are counted, never returned.
func (o *CycleOrchestrator) RunCycle(ctx context.Context) CycleStats {
	cycleID := uuid.NewString()
	start := time.Now()

	ctx, span := telemetry.StartSpan(ctx, telemetry.GetTracer(telemetry.TracerScanner), "scanner.cycle",
		attribute.String("cycle.id", cycleID),
	)
	defer span.End()

	tasks := o.tasks()
	var counters cycleCounters

	workers := o.cfg.Scanner.Workers
	if workers <= 0 {
		workers = 1
	}
	var g errgroup.Group
	g.SetLimit(workers)

	for _, t := range tasks {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			opID := fmt.Sprintf("%s:%s:%s", cycleID, t.symbol, t.timeframe)
			err := o.timeouts.ExecuteWithTimeout(ctx, OpTask, opID, func(ctx context.Context) error {
				return o.runTask(ctx, t, &counters)
			})
			o.countOutcome(t, err, &counters)
			return nil
		})
	}
	_ = g.Wait()

	stats := CycleStats{
		CycleID:       cycleID,
		StartedAt:     start,
		Tasks:         len(tasks),
		Checked:       int(counters.checked.Load()),
		Skipped:       int(counters.skipped.Load()),
		Failed:        int(counters.failed.Load()),
		Accumulations: int(counters.accumulations.Load()),
		Breakouts:     int(counters.breakouts.Load()),
		Duration:      time.Since(start),
	}

	span.SetAttributes(
		attribute.Int("cycle.checked", stats.Checked),
		attribute.Int("cycle.skipped", stats.Skipped),
		attribute.Int("cycle.failed", stats.Failed),
	)

	o.cycles.Add(1)
	o.mu.Lock()
	o.lastCycle = stats
	o.mu.Unlock()
	return stats
}

func (o *CycleOrchestrator) countOutcome(t scanTask, err error, counters *cycleCounters) {
	switch {
	case err == nil:
		counters.checked.Add(1)
	case utils.IsCircuitOpen(err), utils.IsDataInsufficient(err), errors.Is(err, ErrSymbolNotFound):
		counters.skipped.Add(1)
	default:
		counters.failed.Add(1)
		var timeout *TimeoutError
		if errors.As(err, &timeout) {
			o.logger.WithFields(logrus.Fields{
				"symbol":    t.symbol,
				"timeframe": t.timeframe.String(),
				"timeout":   timeout.Timeout,
			}).Warn("Scan task timed out")
		}
	}
}

// runTask fetches candles for one symbol and timeframe and runs both
// detectors on them.
func (o *CycleOrchestrator) runTask(ctx context.Context, t scanTask, counters *cycleCounters) error {
	fields := logrus.Fields{"symbol": t.symbol, "timeframe": t.timeframe.String()}

	if o.breaker.ShouldSkip(t.symbol) {
		until, _ := o.breaker.CooldownUntil(t.symbol)
		o.logger.WithFields(fields).WithField("until", until).Debug("Circuit open, skipping symbol")
		return &utils.CircuitOpenError{Symbol: t.symbol, Until: until}
	}

	candles, err := o.candles.Get(ctx, t.symbol, t.timeframe, o.cfg.Scanner.FetchLimit)
	if err != nil {
		switch {
		case utils.IsDataInsufficient(err), errors.Is(err, ErrSymbolNotFound):
			o.logger.WithFields(fields).WithError(err).Debug("Skipping task")
		case ctx.Err() != nil:
			// cancelled or timed out; not the symbol's fault
		default:
			o.breaker.RecordFailure(t.symbol)
			o.logger.WithFields(fields).WithError(err).Warn("Failed to fetch candles")
		}
		return err
	}
	o.breaker.RecordSuccess(t.symbol)

	// an abandoned task must not touch the zone store
	if err := ctx.Err(); err != nil {
		return err
	}
	o.checkAccumulation(ctx, t, candles, counters)
	if err := ctx.Err(); err != nil {
		return err
	}
	o.checkBreakout(ctx, t, candles, counters)
	return nil
}

func (o *CycleOrchestrator) checkAccumulation(ctx context.Context, t scanTask, candles []models.Candle, counters *cycleCounters) {
	zone, ok := o.accumulation.Detect(t.symbol, t.timeframe, candles)
	if !ok || ctx.Err() != nil {
		return
	}

	now := o.now()
	res := o.zones.Upsert(*zone, now)
	o.logger.WithFields(logrus.Fields{
		"symbol":     t.symbol,
		"timeframe":  t.timeframe.String(),
		"action":     string(res.Action),
		"support":    zone.Support(),
		"resistance": zone.Resistance(),
		"quality":    string(zone.Quality()),
		"notify":     res.Notify,
	}).Debug("Accumulation zone upserted")
	if !res.Notify {
		return
	}

	if !o.notified.TryMark(ctx, zone.Key(), notifiedAccumulation, o.cfg.Cooldowns.Accumulation()) {
		return
	}

	last, _ := models.Last(candles)
	if o.notify(ctx, o.formatter.FormatAccumulation(*zone, last.Close)) {
		o.accumulationSent.Add(1)
	}
	o.zones.MarkAccumulationNotified(t.symbol, t.timeframe, now)
	counters.accumulations.Add(1)

	o.logger.WithFields(logrus.Fields{
		"symbol":    t.symbol,
		"timeframe": t.timeframe.String(),
		"quality":   string(zone.Quality()),
		"strength":  zone.StrengthScore(),
		"range_pct": zone.RangePct(),
	}).Info("Accumulation detected")
}

func (o *CycleOrchestrator) checkBreakout(ctx context.Context, t scanTask, candles []models.Candle, counters *cycleCounters) {
	now := o.now()
	if o.zones.Expire(t.symbol, t.timeframe, o.cfg.Cooldowns.ZoneExpire(), now) {
		return
	}
	if o.zones.RemoveBrokenOut(t.symbol, t.timeframe, o.cfg.Cooldowns.Breakout(), now) {
		return
	}

	mz, ok := o.zones.Get(t.symbol, t.timeframe)
	if !ok || mz.Status == models.ZoneStatusCompleted {
		return
	}
	if o.zones.InBreakoutCooldown(t.symbol, t.timeframe, now) {
		return
	}

	res := o.breakout.Check(candles, mz.Zone, t.timeframe)
	if !res.Triggered || mz.HasBreakoutFlag(res.Direction) {
		return
	}

	fields := logrus.Fields{
		"symbol":    t.symbol,
		"timeframe": t.timeframe.String(),
		"direction": string(res.Direction),
		"quality":   string(res.Quality),
	}
	if !res.Confirmed() {
		o.logger.WithFields(fields).Debug("Breakout not confirmed")
		return
	}

	consensus := o.breakout.Consensus(o.zones.Snapshot(t.symbol), res.Direction, t.timeframe)
	fields["consensus"] = fmt.Sprintf("%d/%d", consensus.Score, consensus.Total)
	fields["consensus_quality"] = string(consensus.Quality)
	if !consensus.Eligible {
		o.logger.WithFields(fields).Info("Breakout filtered by low consensus")
		return
	}

	if ctx.Err() != nil {
		return
	}
	signal := o.breakout.BuildSignal(mz.Zone, candles, res, consensus, now)
	key := fmt.Sprintf("%s_%s_%s_%s", t.symbol, t.timeframe, res.Direction, mz.Zone.Key())
	if !o.notified.TryMark(ctx, key, notifiedBreakout, o.cfg.Cooldowns.Breakout()) {
		return
	}

	if o.notify(ctx, o.formatter.FormatBreakout(signal)) {
		o.breakoutSent.Add(1)
	}
	o.zones.MarkBreakout(t.symbol, t.timeframe, signal, now)
	counters.breakouts.Add(1)

	fields["type"] = string(signal.Type)
	fields["strength"] = signal.StrengthScore
	fields["short_ratio"] = res.ShortRatio
	fields["medium_ratio"] = res.MediumRatio
	o.logger.WithFields(fields).Info("Breakout detected")
}

// notify sends text under the notify timeout. Delivery failures are logged
// by the sink.
func (o *CycleOrchestrator) notify(ctx context.Context, text string) bool {
	var sent atomic.Bool
	_ = o.timeouts.ExecuteWithTimeout(ctx, OpNotify, "notify:"+uuid.NewString(), func(ctx context.Context) error {
		sent.Store(o.sink.Send(ctx, text))
		return nil
	})
	return sent.Load()
}

// Shutdown stops maintenance, announces the final statistics and closes
// providers. It is safe to call more than once.
func (o *CycleOrchestrator) Shutdown(ctx context.Context, reason string) {
	o.shutdownOnce.Do(func() {
		o.ready.Store(false)
		o.maintenance.Stop(ctx)

		stats := o.Stats()
		o.logger.WithFields(logrus.Fields{
			"reason":         reason,
			"cycles":         stats.Cycles,
			"active_zones":   stats.ActiveZones,
			"failed_symbols": stats.FailedSymbols,
			"timed_out":      stats.TimedOutTasks,
		}).Info("Shutting down accumulation radar")
		o.candles.LogStats()

		o.notify(ctx, o.formatter.FormatShutdown(reason, stats.ActiveZones, stats.FailedSymbols))
		o.timeouts.Shutdown()
		o.router.Close()
	})
}

// Stats returns a snapshot of the orchestrator state.
func (o *CycleOrchestrator) Stats() OrchestratorStats {
	o.mu.RLock()
	last := o.lastCycle
	started := o.startedAt
	routes := make([]SymbolRoute, len(o.routes))
	copy(routes, o.routes)
	o.mu.RUnlock()

	return OrchestratorStats{
		Ready:            o.ready.Load(),
		StartedAt:        started,
		Cycles:           o.cycles.Load(),
		LastCycle:        last,
		ActiveZones:      o.zones.Count(),
		ZonesByStatus:    o.zones.CountByStatus(),
		FailedSymbols:    o.breaker.FailedCount(),
		OpenCircuits:     o.breaker.OpenCount(),
		TimedOutTasks:    o.timeouts.TimedOutCount(),
		Cache:            o.candles.Stats(),
		Notified:         o.notified.GetStats(),
		Routes:           routes,
		AccumulationSent: o.accumulationSent.Load(),
		BreakoutSent:     o.breakoutSent.Load(),
	}
}

// Ready reports whether startup completed and shutdown has not begun.
func (o *CycleOrchestrator) Ready() bool {
	return o.ready.Load()
}

// Zones returns copies of all monitored zones.
func (o *CycleOrchestrator) Zones() []models.MonitoredZone {
	return o.zones.All()
}

// LastHealth returns the latest periodic health report.
func (o *CycleOrchestrator) LastHealth() (HealthReport, bool) {
	return o.maintenance.LastHealth()
}
