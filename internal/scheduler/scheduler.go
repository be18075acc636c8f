package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
)

// Job is the daily pipeline run. now is the UTC time the run started.
type Job func(ctx context.Context, now time.Time) error

// Scheduler runs a Job once a day at a fixed UTC time.
type Scheduler struct {
	scheduler *gocron.Scheduler
	job       Job
	runAt     string
	timeout   time.Duration
	log       zerolog.Logger
}

// New creates a new Scheduler. runAt is "HH:MM" in UTC; timeout bounds a single
// run, zero meaning no bound.
func New(runAt string, timeout time.Duration, job Job, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		job:       job,
		runAt:     runAt,
		timeout:   timeout,
		log:       log.With().Str("component", "scheduler").Logger(),
	}
}

// Start schedules the daily job and starts the underlying scheduler. A run that
// is still going when the next one is due is not started twice.
func (s *Scheduler) Start() error {
	if s.job == nil {
		return errors.New("scheduler: no job configured")
	}
	_, err := s.scheduler.Every(1).Day().At(s.runAt).SingletonMode().Do(s.run)
	if err != nil {
		return err
	}
	s.scheduler.StartAsync()
	s.log.Info().Str("run_at", s.runAt).Time("next_run", s.NextRun()).Msg("daily pipeline scheduled")
	return nil
}

// NextRun returns when the job runs next, or the zero time before Start.
func (s *Scheduler) NextRun() time.Time {
	_, next := s.scheduler.NextRun()
	return next
}

func (s *Scheduler) run() {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	started := time.Now().UTC()
	s.log.Info().Msg("running daily pipeline")
	if err := s.job(ctx, started); err != nil {
		s.log.Error().Err(err).Dur("elapsed", time.Since(started)).Msg("daily pipeline failed")
		return
	}
	s.log.Info().Dur("elapsed", time.Since(started)).Msg("daily pipeline completed")
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
