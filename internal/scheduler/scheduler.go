package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Job is one scheduled pipeline run, including delivery of its report.
type Job func(ctx context.Context) error

// Scheduler runs Job on a cron spec with seconds.
type Scheduler struct {
	Cron    *cron.Cron
	Job     Job
	Ctx     context.Context
	Timeout time.Duration
}

func NewScheduler(ctx context.Context, job Job) *Scheduler {
	return &Scheduler{
		Cron:    cron.New(cron.WithSeconds()),
		Job:     job,
		Ctx:     ctx,
		Timeout: 30 * time.Minute,
	}
}

// Register adds the pipeline run at spec, e.g. "0 30 22 * * 1-5".
func (s *Scheduler) Register(spec string) error {
	if _, err := s.Cron.AddFunc(spec, s.RunNow); err != nil {
		return fmt.Errorf("register pipeline task: %w", err)
	}
	log.Info().Str("cron", spec).Msg("scheduler: pipeline registered")
	return nil
}

func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Info().Int("entries", len(s.Cron.Entries())).Msg("scheduler: started")
}

// Stop stops the scheduler and waits for a running job to return.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	log.Info().Msg("scheduler: stopped")
}

// RunNow executes the pipeline immediately, e.g. on start.
func (s *Scheduler) RunNow() {
	ctx, cancel := context.WithTimeout(s.Ctx, s.Timeout)
	defer cancel()
	log.Info().Msg("scheduler: running pipeline")
	if err := s.Job(ctx); err != nil {
		log.Error().Err(err).Msg("scheduler: pipeline failed")
		return
	}
	log.Info().Msg("scheduler: pipeline done")
}
