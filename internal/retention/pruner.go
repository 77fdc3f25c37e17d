// Package retention prunes old delivery log entries on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"bruinhooks/internal/config"
	"bruinhooks/internal/metrics"
)

// LogPruner is the subset of the delivery log store retention needs.
type LogPruner interface {
	PruneDeliveryLogs(ctx context.Context, before time.Time) (int64, error)
}

type Pruner struct {
	logs   LogPruner
	maxAge time.Duration
	log    logrus.FieldLogger
	cron   *cron.Cron
	now    func() time.Time
}

// New schedules pruning per cfg. It returns nil when retention is disabled (MaxAge 0).
func New(cfg config.RetentionConfig, logs LogPruner, log logrus.FieldLogger) (*Pruner, error) {
	if cfg.MaxAge <= 0 {
		return nil, nil
	}
	p := &Pruner{logs: logs, maxAge: cfg.MaxAge, log: log, cron: cron.New(), now: time.Now}
	if _, err := p.cron.AddFunc(cfg.Schedule, func() {
		if _, err := p.RunOnce(context.Background()); err != nil {
			p.log.WithError(err).Error("delivery log retention failed")
		}
	}); err != nil {
		return nil, fmt.Errorf("retention schedule %q: %w", cfg.Schedule, err)
	}
	return p, nil
}

// RunOnce deletes entries older than the retention window and returns how many went.
func (p *Pruner) RunOnce(ctx context.Context) (int64, error) {
	cutoff := p.now().UTC().Add(-p.maxAge)
	n, err := p.logs.PruneDeliveryLogs(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	metrics.LogsPruned.Add(float64(n))
	p.log.WithFields(logrus.Fields{"removed": n, "cutoff": cutoff}).Info("delivery logs pruned")
	return n, nil
}

func (p *Pruner) Start() { p.cron.Start() }

// Stop halts the schedule and waits for a running job.
func (p *Pruner) Stop() {
	<-p.cron.Stop().Done()
}
