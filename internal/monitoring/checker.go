package monitoring

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/config"
)

// DefaultSchedule runs the check every quarter hour.
const DefaultSchedule = "@every 15m"

// Checker runs the collect, evaluate, send cycle on a cron schedule.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	cron      *cron.Cron
}

// NewChecker creates a scheduled alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	logger := cronLogger{zap.L().Sugar().With("component", "monitoring.cron")}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
	}
}

// Run schedules the check and blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "monitoring.checker"))

	if _, err := c.cron.AddFunc(c.cfg.Schedule, func() { c.Check(ctx) }); err != nil {
		return eris.Wrapf(err, "monitoring: invalid schedule %q", c.cfg.Schedule)
	}
	c.cron.Start()
	log.Info("starting alert checker",
		zap.String("schedule", c.cfg.Schedule),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	<-ctx.Done()
	<-c.cron.Stop().Done()
	log.Info("alert checker stopped")
	return nil
}

// Check runs one collect, evaluate, send cycle and returns the number of
// alerts sent.
func (c *Checker) Check(ctx context.Context) int {
	log := zap.L().With(zap.String("component", "monitoring.checker"))

	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("monitoring: failed to collect metrics", zap.Error(err))
		return 0
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("monitoring: no alerts triggered", zap.Int("leads", snap.LeadsTotal))
		return 0
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return sent
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
