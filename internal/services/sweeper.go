package services

import (
	"context"
	"time"

	"goride-sos/internal/config"
	"goride-sos/internal/models"
	"goride-sos/internal/repositories/interfaces"
	"goride-sos/pkg/logger"
)

// Sweeper auto-cancels emergencies that have gone silent: still ACTIVE,
// older than the cutoff and without a location update since. Keeps the
// operator queue from filling up with abandoned alerts. Acknowledged
// emergencies are left alone no matter how quiet the device goes.
type Sweeper struct {
	repo         interfaces.EmergencyRepository
	stateMachine StateMachine
	config       *config.SOSConfig
	logger       *logger.Logger
}

func NewSweeper(repo interfaces.EmergencyRepository, stateMachine StateMachine, cfg *config.SOSConfig, log *logger.Logger) *Sweeper {
	return &Sweeper{
		repo:         repo,
		stateMachine: stateMachine,
		config:       cfg,
		logger:       log,
	}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	stale, err := s.repo.ListStale(ctx, s.config.AutoCancelAfter)
	if err != nil {
		s.logger.WithError(err).Error("Stale emergency sweep failed")
		return
	}

	for _, emergency := range stale {
		_, err := s.stateMachine.Transition(ctx, emergency.ID, models.EmergencyStatusCancelled,
			models.SystemActor, "auto-cancelled after inactivity")
		if err != nil {
			// Raced with a live mutation; the next sweep re-evaluates.
			s.logger.WithError(err).WithEmergencyID(emergency.ID).
				Debug("Auto-cancel skipped")
			continue
		}

		// The status_change entry records the transition; this one records
		// the cause.
		_ = s.repo.AppendTimeline(ctx, emergency.ID, models.TimelineEvent{
			Type:      models.TimelineEventAutoCancelled,
			Actor:     models.SystemActor,
			Timestamp: time.Now(),
			Detail:    "no activity within cutoff",
		})

		s.logger.WithEmergencyID(emergency.ID).Info("Emergency auto-cancelled after inactivity")
	}
}
