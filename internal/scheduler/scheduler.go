// Package scheduler runs the periodic sweeps that move stale state forward:
// expired access is revoked, abandoned charges get one reminder, and
// unconverted leads are re-engaged at most once a day.
package scheduler

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"strings"
	"time"

	"github.com/sheikh-saqib/subscription-payments-ledger/internal/interfaces"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/lock"
	"github.com/sirupsen/logrus"
)

const (
	AbandonedAfter  = 30 * time.Minute
	RemarketAfter   = 2 * time.Hour
	RemarketEvery   = 24 * time.Hour
	DefaultInterval = time.Minute
	batchSize       = 50
	sweepLockKey    = "scheduler:sweep"
)

// Scheduler owns the sweep loop.
type Scheduler struct {
	store     interfaces.LedgerStore
	messenger interfaces.Messenger
	locker    lock.Locker
	interval  time.Duration
	logger    logrus.FieldLogger
	now       func() time.Time
	pick      func(n int) int
}

func New(store interfaces.LedgerStore, messenger interfaces.Messenger, locker lock.Locker, interval time.Duration, logger logrus.FieldLogger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if locker == nil {
		locker = lock.Noop{}
	}
	return &Scheduler{
		store:     store,
		messenger: messenger,
		locker:    locker,
		interval:  interval,
		logger:    logger.WithField("component", "scheduler"),
		now:       func() time.Time { return time.Now().UTC() },
		pick:      rand.IntN,
	}
}

// WithNow overrides the clock.
func (s *Scheduler) WithNow(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Run sweeps immediately and then every interval until ctx is cancelled. A
// round already in progress is allowed to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.WithField("interval", s.interval.String()).Info("scheduler started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.RunOnce(context.WithoutCancel(ctx))
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce performs one round of every sweep. With a shared locker only one
// replica sweeps at a time; the others skip the round.
func (s *Scheduler) RunOnce(ctx context.Context) {
	release, ok, err := s.locker.TryAcquire(ctx, sweepLockKey, s.interval)
	if err != nil {
		s.logger.WithError(err).Warn("sweep lock unavailable; skipping round")
		return
	}
	if !ok {
		s.logger.Debug("another replica is sweeping")
		return
	}
	defer func() {
		if err := release(ctx); err != nil {
			s.logger.WithError(err).Warn("releasing sweep lock")
		}
	}()

	now := s.now()
	s.guard(ctx, "expired_access", func(ctx context.Context) error { return s.expireAccess(ctx, now) })
	s.guard(ctx, "abandoned_charges", func(ctx context.Context) error { return s.remindAbandoned(ctx, now) })
	s.guard(ctx, "remarketing", func(ctx context.Context) error { return s.remarket(ctx, now) })
}

// guard runs one sweep so that neither an error nor a panic reaches the others.
func (s *Scheduler) guard(ctx context.Context, name string, sweep func(context.Context) error) {
	log := s.logger.WithField("sweep", name)
	defer func() {
		if r := recover(); r != nil {
			log.WithField("stack", string(debug.Stack())).Errorf("sweep panicked: %v", r)
		}
	}()
	start := time.Now()
	if err := sweep(ctx); err != nil {
		log.WithError(err).Error("sweep failed")
		return
	}
	log.WithField("took", time.Since(start).String()).Debug("sweep done")
}

// variant picks a non-blank follow-up message, or fallback when there is none.
func (s *Scheduler) variant(followups []string, fallback string) string {
	var usable []string
	for _, f := range followups {
		if strings.TrimSpace(f) != "" {
			usable = append(usable, f)
		}
	}
	if len(usable) == 0 {
		return fallback
	}
	return usable[s.pick(len(usable))]
}

func errorf(sweep string, err error) error {
	return fmt.Errorf("%s: %w", sweep, err)
}
