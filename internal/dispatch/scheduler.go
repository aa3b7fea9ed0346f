package dispatch

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// SchedulerConfig holds the cron specs for the three periodic jobs.
// Specs use robfig/cron syntax with seconds, or "@every" intervals.
type SchedulerConfig struct {
	UpcomingArrivalsSpec string
	FirstAccessSpec      string
	CleanupSpec          string
}

// DefaultSchedulerConfig returns the stock schedule: generation hourly,
// first-access watching every ten minutes, cleanup once a night.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		UpcomingArrivalsSpec: "@every 1h",
		FirstAccessSpec:      "@every 10m",
		CleanupSpec:          "0 30 4 * * *",
	}
}

// Scheduler drives the dispatcher's cron jobs. Non-overlap of ticks is the
// host's responsibility; the scheduler itself does not serialize runs.
type Scheduler struct {
	cron       *cron.Cron
	dispatcher *Dispatcher
	config     SchedulerConfig
}

// NewScheduler builds a scheduler over the dispatcher.
func NewScheduler(dispatcher *Dispatcher, config SchedulerConfig) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config.UpcomingArrivalsSpec == "" {
		config.UpcomingArrivalsSpec = defaults.UpcomingArrivalsSpec
	}
	if config.FirstAccessSpec == "" {
		config.FirstAccessSpec = defaults.FirstAccessSpec
	}
	if config.CleanupSpec == "" {
		config.CleanupSpec = defaults.CleanupSpec
	}

	return &Scheduler{
		cron:       cron.New(cron.WithSeconds()),
		dispatcher: dispatcher,
		config:     config,
	}
}

// Start registers the three jobs and begins the cron loop.
func (s *Scheduler) Start() error {
	log.Println("Starting door access scheduler...")

	if _, err := s.cron.AddFunc(s.config.UpcomingArrivalsSpec, s.runUpcomingArrivals); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.config.FirstAccessSpec, s.runWatchFirstAccess); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.config.CleanupSpec, s.runCleanupExpired); err != nil {
		return err
	}

	s.cron.Start()
	log.Printf("Door access scheduler started (arrivals %q, first-access %q, cleanup %q)",
		s.config.UpcomingArrivalsSpec, s.config.FirstAccessSpec, s.config.CleanupSpec)
	return nil
}

// Stop shuts the scheduler down, waiting for a running job to finish.
func (s *Scheduler) Stop() {
	log.Println("Stopping door access scheduler...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Println("Door access scheduler stopped")
}

func (s *Scheduler) runUpcomingArrivals() {
	ctx := context.Background()
	generated, err := s.dispatcher.RunUpcomingArrivals(ctx)
	if err != nil {
		log.Printf("Upcoming arrivals job failed: %v", err)
		return
	}
	if generated > 0 {
		log.Printf("Upcoming arrivals job generated %d passcode(s)", generated)
	}
}

func (s *Scheduler) runWatchFirstAccess() {
	ctx := context.Background()
	detected, err := s.dispatcher.RunWatchFirstAccess(ctx)
	if err != nil {
		log.Printf("First access watch job failed: %v", err)
		return
	}
	if detected > 0 {
		log.Printf("First access watch job detected %d access(es)", detected)
	}
}

func (s *Scheduler) runCleanupExpired() {
	ctx := context.Background()
	deleted, err := s.dispatcher.RunCleanupExpired(ctx, time.Time{}, time.Time{})
	if err != nil {
		log.Printf("Expired passcode cleanup job failed: %v", err)
		return
	}
	log.Printf("Expired passcode cleanup job removed %d passcode(s)", deleted)
}
