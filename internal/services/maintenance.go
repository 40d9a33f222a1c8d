package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/accumulation-radar/internal/cache"
	"github.com/irfndi/accumulation-radar/internal/config"
)

// HealthChecker pings market data providers.
type HealthChecker interface {
	HealthCheck(ctx context.Context) map[string]ProviderHealth
}

// MaintenanceTargets are the components the periodic jobs act on.
type MaintenanceTargets struct {
	Router    HealthChecker
	Zones     *ZoneStore
	Breaker   *CircuitBreaker
	Candles   *CandleCache
	Notified  cache.NotifiedCache
	Resources *ResourceMonitor
}

// HealthReport is the result of the last periodic health check.
type HealthReport struct {
	CheckedAt     time.Time                 `json:"checked_at"`
	Providers     map[string]ProviderHealth `json:"providers"`
	Resources     ResourceSnapshot          `json:"resources"`
	ActiveZones   int                       `json:"active_zones"`
	FailedSymbols int                       `json:"failed_symbols"`
	OpenCircuits  int                       `json:"open_circuits"`
	Cache         CandleCacheStats          `json:"cache"`
}

// Maintenance schedules health checks, zone sweeps and cache eviction.
type Maintenance struct {
	cfg        config.MaintenanceConfig
	zoneExpire time.Duration
	targets    MaintenanceTargets
	timeouts   *TimeoutManager
	logger     *logrus.Logger
	now        func() time.Time

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.RWMutex
	lastHealth *HealthReport
}

// NewMaintenance registers the maintenance jobs. Nothing runs until Start.
func NewMaintenance(cfg *config.Config, targets MaintenanceTargets, timeouts *TimeoutManager, logger *logrus.Logger) (*Maintenance, error) {
	cronLogger := cron.PrintfLogger(logger)
	ctx, cancel := context.WithCancel(context.Background())

	m := &Maintenance{
		cfg:        cfg.Maintenance,
		zoneExpire: cfg.Cooldowns.ZoneExpire(),
		targets:    targets,
		timeouts:   timeouts,
		logger:     logger,
		now:        time.Now,
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		ctx:    ctx,
		cancel: cancel,
	}

	jobs := []struct {
		name     string
		interval time.Duration
		run      func(ctx context.Context) error
	}{
		{"health_check", minutesOr(m.cfg.HealthCheckIntervalMinutes, 30), m.healthJob},
		{"zone_sweep", hoursOr(m.cfg.ZoneCleanupIntervalHours, 6), m.sweepJob},
		{"cache_eviction", minutesOr(m.cfg.CacheEvictionIntervalMinutes, 15), m.evictJob},
	}
	for _, j := range jobs {
		spec := fmt.Sprintf("@every %s", j.interval)
		if _, err := m.cron.AddFunc(spec, func() { m.runJob(j.name, j.run) }); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to schedule %s: %w", j.name, err)
		}
		logger.WithFields(logrus.Fields{"job": j.name, "interval": j.interval}).Debug("Maintenance job scheduled")
	}
	return m, nil
}

func minutesOr(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Minute
}

func hoursOr(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Hour
}

// Start begins running the scheduled jobs in the background.
func (m *Maintenance) Start() {
	m.cron.Start()
	m.logger.Info("Maintenance scheduler started")
}

// Stop cancels running jobs and waits for them to return or ctx to end.
func (m *Maintenance) Stop(ctx context.Context) {
	m.cancel()
	done := m.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Maintenance jobs did not stop before shutdown deadline")
	}
}

func (m *Maintenance) runJob(name string, job func(ctx context.Context) error) {
	opType := OpMaintenance
	if name == "health_check" {
		opType = OpHealthCheck
	}
	opID := fmt.Sprintf("%s:%d", name, m.now().UnixNano())

	if err := m.timeouts.ExecuteWithTimeout(m.ctx, opType, opID, job); err != nil {
		m.logger.WithError(err).WithField("job", name).Error("Maintenance job failed")
	}
}

func (m *Maintenance) healthJob(ctx context.Context) error {
	report := m.HealthCheck(ctx)

	fields := logrus.Fields{
		"active_zones":   report.ActiveZones,
		"failed_symbols": report.FailedSymbols,
		"open_circuits":  report.OpenCircuits,
		"rss_mb":         report.Resources.RSSMB,
		"cpu_percent":    report.Resources.CPUPercent,
		"goroutines":     report.Resources.Goroutines,
		"cache_hit_rate": report.Cache.HitRate,
		"cached_pairs":   report.Cache.CachedPairs,
	}
	m.logger.WithFields(fields).Info("Health check")
	return nil
}

// HealthCheck gathers provider, resource and state information.
func (m *Maintenance) HealthCheck(ctx context.Context) HealthReport {
	report := HealthReport{CheckedAt: m.now()}

	if m.targets.Router != nil {
		report.Providers = m.targets.Router.HealthCheck(ctx)
	}
	if m.targets.Resources != nil {
		snap, err := m.targets.Resources.Sample(ctx)
		if err != nil {
			m.logger.WithError(err).Warn("Failed to sample resource usage")
		}
		report.Resources = snap
	}
	if m.targets.Zones != nil {
		report.ActiveZones = m.targets.Zones.Count()
	}
	if m.targets.Breaker != nil {
		report.FailedSymbols = m.targets.Breaker.FailedCount()
		report.OpenCircuits = m.targets.Breaker.OpenCount()
	}
	if m.targets.Candles != nil {
		report.Cache = m.targets.Candles.Stats()
	}

	m.mu.Lock()
	m.lastHealth = &report
	m.mu.Unlock()
	return report
}

// LastHealth returns the most recent health report.
func (m *Maintenance) LastHealth() (HealthReport, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.lastHealth == nil {
		return HealthReport{}, false
	}
	return *m.lastHealth, true
}

func (m *Maintenance) sweepJob(ctx context.Context) error {
	m.SweepZones(ctx)
	return nil
}

// SweepZones removes expired zones and stale dedup entries.
func (m *Maintenance) SweepZones(ctx context.Context) (zones, notified int) {
	if m.targets.Zones != nil {
		zones = m.targets.Zones.ExpireAll(m.zoneExpire, m.now())
	}
	if m.targets.Notified != nil {
		notified = m.targets.Notified.Sweep(ctx)
	}

	m.logger.WithFields(logrus.Fields{
		"expired_zones":    zones,
		"expired_notified": notified,
	}).Info("Zone sweep completed")
	return zones, notified
}

func (m *Maintenance) evictJob(_ context.Context) error {
	if m.targets.Candles == nil {
		return nil
	}
	evicted := m.targets.Candles.EvictExpired()
	m.targets.Candles.LogStats()
	m.logger.WithField("evicted", evicted).Debug("Candle cache eviction completed")
	return nil
}
