package service

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/nzukiegan/blaiz-loan-backend/internal/clients"
	"github.com/nzukiegan/blaiz-loan-backend/internal/ledger"
	"github.com/nzukiegan/blaiz-loan-backend/internal/schedule"
)

const (
	schedulerLockKey = "scheduler:lock"
	schedulerLockTTL = 30 * time.Minute
)

// Scheduler runs the daily penalty and reminder pass. A minute ticker checks
// for the configured hour; an in-process flag stops overlap within one
// instance and a Redis lock stops it across instances.
type Scheduler struct {
	store    ledger.Store
	notifier Notifier
	redis    *clients.RedisClient
	hour     int

	running atomic.Bool
	lastRun string
	now     func() time.Time
}

func NewScheduler(store ledger.Store, notifier Notifier, redis *clients.RedisClient, hour int) *Scheduler {
	return &Scheduler{
		store:    store,
		notifier: notifier,
		redis:    redis,
		hour:     hour,
		now:      time.Now,
	}
}

// SetClock replaces the scheduler's clock. Test hook.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Run blocks until ctx is done, firing the daily pass when the configured
// hour comes around.
func (s *Scheduler) Run(ctx context.Context) {
	log.Printf("[SCHED] penalty scheduler started, daily run at %02d:00", s.hour)
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[SCHED] penalty scheduler stopped")
			return
		case <-ticker.C:
			now := s.now()
			today := now.Format("2006-01-02")
			if now.Hour() != s.hour || s.lastRun == today {
				continue
			}
			s.lastRun = today
			if err := s.tryRun(ctx); err != nil {
				log.Printf("[SCHED] daily run: %v", err)
			}
		}
	}
}

// tryRun acquires both locks and runs the pass. Losing the Redis lock means
// another instance has today's run; that is not an error.
func (s *Scheduler) tryRun(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}
	defer s.running.Store(false)

	if s.redis != nil {
		ok, err := s.redis.SetNX(ctx, schedulerLockKey, s.now().Format(time.RFC3339), schedulerLockTTL)
		if err != nil {
			return fmt.Errorf("scheduler lock: %w", err)
		}
		if !ok {
			log.Printf("[SCHED] run already held by another instance, skipping")
			return nil
		}
		defer func() {
			if err := s.redis.Del(ctx, schedulerLockKey); err != nil {
				log.Printf("[SCHED] release lock: %v", err)
			}
		}()
	}

	return s.RunOnce(ctx)
}

// RunOnce walks every open loan once: a reminder when the installment is due
// today, a penalty when the due date has passed with a balance outstanding.
// One failing loan never stops the pass.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	loans, err := s.store.ListDueLoans(ctx)
	if err != nil {
		return fmt.Errorf("list due loans: %w", err)
	}

	// Calendar comparison happens in the clock's location, so a due date
	// stored in UTC still counts as "today" for the local deployment.
	now := s.now()
	today := startOfDay(now, now.Location())
	var reminders, penalties int
	for i := range loans {
		loan := &loans[i]
		if loan.DueDate == nil || loan.PaymentStartDate == nil {
			continue
		}
		due := startOfDay(*loan.DueDate, now.Location())

		switch {
		case due.Equal(today):
			if s.notifier != nil && loan.ClientPhone != nil {
				msg := fmt.Sprintf("Reminder: your installment of KES %s is due today. Outstanding balance: KES %s.",
					loan.InstallmentAmount.StringFixed(2), loan.RemainingBalance.StringFixed(2))
				s.notifier.Send(ctx, *loan.ClientPhone, msg)
			}
			reminders++

		case due.Before(today) && loan.RemainingBalance.IsPositive():
			amount := schedule.PenaltyAmount(loan.InstallmentAmount, loan.PenaltyRate)
			nextDue, err := schedule.NextDueDate(*loan.DueDate, loan.InstallmentFrequency)
			if err != nil {
				log.Printf("[SCHED] loan %s: %v", loan.ID, err)
				continue
			}
			reason := fmt.Sprintf("Late payment penalty for installment due %s", due.Format("2006-01-02"))

			updated, _, err := s.store.AccrueOverduePenalty(ctx, loan.ID, amount, reason, nextDue)
			if err != nil {
				log.Printf("[SCHED] loan %s penalty: %v", loan.ID, err)
				continue
			}
			penalties++

			if s.notifier != nil && loan.ClientPhone != nil {
				msg := fmt.Sprintf("A late payment penalty of KES %s has been added to your loan. New balance: KES %s.",
					amount.StringFixed(2), updated.RemainingBalance.StringFixed(2))
				s.notifier.Send(ctx, *loan.ClientPhone, msg)
			}
		}
	}

	log.Printf("[SCHED] daily run done: %d loans checked, %d reminders, %d penalties",
		len(loans), reminders, penalties)
	return nil
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
