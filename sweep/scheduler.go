package sweep

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Scheduler runs a sweep on a cron expression. It replaces the external cron
// job of earlier deployments with an in-process schedule, so the cleanup tool
// can run as a long-lived daemon.
type Scheduler struct {
	cron    *cron.Cron
	sweeper *Sweeper
	mode    Mode
}

// NewScheduler creates a scheduler that runs the sweeper in the given mode on
// the given cron spec (standard five-field syntax).
func NewScheduler(sweeper *Sweeper, spec string, mode Mode) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(),
		sweeper: sweeper,
		mode:    mode,
	}
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) run() {
	ctx := log.Logger.WithContext(context.Background())
	report, err := s.sweeper.Run(ctx, s.mode)
	if err != nil {
		// The run is resumable; the next tick retries from scratch.
		log.Error().Err(err).Msg("scheduled sweep failed, will retry next tick")
		return
	}
	if report.OrphansFound > 0 {
		log.Warn().
			Int("orphans_found", report.OrphansFound).
			Int("orphans_removed", report.OrphansRemoved).
			Msg("scheduled sweep repaired drift")
	}
}

// Start begins scheduling. It returns immediately.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels the schedule and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
