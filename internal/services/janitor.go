package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// InterruptExpirer cancels conversations interrupted before a cutoff.
// *ConversationService satisfies this interface.
type InterruptExpirer interface {
	ExpireInterrupted(ctx context.Context, cutoff time.Time) (int, error)
}

// InterruptJanitor periodically cancels conversations that have waited for
// approval longer than the TTL.
type InterruptJanitor struct {
	expirer InterruptExpirer
	ttl     time.Duration
	cron    *cron.Cron
	now     func() time.Time
}

// NewInterruptJanitor schedules a sweep on spec, a 5- or 6-field cron
// expression or a descriptor such as "@every 5m".
func NewInterruptJanitor(expirer InterruptExpirer, ttl time.Duration, spec string) (*InterruptJanitor, error) {
	sched, err := parseCronExpr(spec)
	if err != nil {
		return nil, fmt.Errorf("interrupt sweep schedule %q: %w", spec, err)
	}
	j := &InterruptJanitor{
		expirer: expirer,
		ttl:     ttl,
		cron:    cron.New(),
		now:     time.Now,
	}
	j.cron.Schedule(sched, cron.FuncJob(func() {
		j.Sweep(context.Background())
	}))
	return j, nil
}

// Run starts the schedule and blocks until ctx is done.
func (j *InterruptJanitor) Run(ctx context.Context) error {
	slog.Info("interrupt janitor started", "ttl", j.ttl)
	j.cron.Start()
	<-ctx.Done()
	stopCtx := j.cron.Stop()
	<-stopCtx.Done()
	slog.Info("interrupt janitor stopped")
	return nil
}

// Sweep cancels every conversation interrupted for longer than the TTL.
func (j *InterruptJanitor) Sweep(ctx context.Context) int {
	cutoff := j.now().Add(-j.ttl)
	n, err := j.expirer.ExpireInterrupted(ctx, cutoff)
	if err != nil {
		slog.Error("interrupt sweep failed", "err", err)
		return 0
	}
	if n > 0 {
		slog.Info("expired interrupted conversations", "count", n, "cutoff", cutoff)
	}
	return n
}

// parseCronExpr accepts descriptors, then tries 6-field (with seconds) and
// 5-field (standard) parsing.
func parseCronExpr(expr string) (cron.Schedule, error) {
	parser6 := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser6.Parse(expr)
	if err == nil {
		return sched, nil
	}
	parser5 := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return parser5.Parse(expr)
}
