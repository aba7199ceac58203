// Copyright 2025 Certen Protocol
//
// Repeatable job support: a cron schedule that enqueues a job onto a label
// on each tick, used for the cleanup-fs sweep.

package queue

import (
	"context"
	"log"
	"os"

	"github.com/robfig/cron/v3"
)

// CronScheduler drives repeatable jobs by enqueuing onto the broker on a
// cron schedule.
type CronScheduler struct {
	cron   *cron.Cron
	broker *Broker
	logger *log.Logger
}

// NewCronScheduler constructs a cron-driven repeatable job scheduler over
// an existing Broker.
func NewCronScheduler(broker *Broker, logger *log.Logger) *CronScheduler {
	if logger == nil {
		logger = log.New(os.Stdout, "[QueueCron] ", log.LstdFlags)
	}
	return &CronScheduler{
		cron:   cron.New(),
		broker: broker,
		logger: logger,
	}
}

// AddRepeatable registers a cron expression that enqueues payload onto
// label each time it fires, e.g. "0 2 * * *" for the daily cleanup sweep.
func (s *CronScheduler) AddRepeatable(spec, label string, payload interface{}) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx := context.Background()
		if _, err := s.broker.Enqueue(ctx, label, payload); err != nil {
			s.logger.Printf("repeatable enqueue for %s (%s) failed: %v", label, spec, err)
		}
	})
	return err
}

// Start begins the cron scheduler's background goroutine.
func (s *CronScheduler) Start() {
	s.cron.Start()
}

// Stop halts the cron scheduler and waits for any running job to complete.
func (s *CronScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
