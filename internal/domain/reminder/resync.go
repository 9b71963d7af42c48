package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Resyncer re-runs EnsureDailyReminder on a cron schedule so that a global
// time changed on the server reaches a long-running agent.
type Resyncer struct {
	syncer   *Syncer
	fallback Schedule
	// Active gates each run; nil runs always.
	Active func(ctx context.Context) bool
	cron   *cron.Cron
	logger zerolog.Logger
}

// NewResyncer parses spec (standard cron or descriptors such as "@every 6h").
func NewResyncer(syncer *Syncer, spec string, fallback Schedule, logger zerolog.Logger) (*Resyncer, error) {
	r := &Resyncer{
		syncer:   syncer,
		fallback: fallback,
		cron:     cron.New(),
		logger:   logger.With().Str("component", "reminder-resync").Logger(),
	}
	if _, err := r.cron.AddFunc(spec, func() { r.Run(context.Background()) }); err != nil {
		return nil, fmt.Errorf("parse resync schedule %q: %w", spec, err)
	}
	return r, nil
}

// Start runs the job until ctx is cancelled.
func (r *Resyncer) Start(ctx context.Context) {
	r.cron.Start()
	go func() {
		<-ctx.Done()
		<-r.cron.Stop().Done()
	}()
}

// Run performs one sync.
func (r *Resyncer) Run(ctx context.Context) {
	if r.Active != nil && !r.Active(ctx) {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	handle, err := r.syncer.EnsureDailyReminder(ctx, r.fallback)
	switch {
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrInstallFailed):
		r.logger.Info().Err(err).Msg("daily reminder unavailable")
	case err != nil:
		r.logger.Error().Err(err).Msg("resync daily reminder")
	default:
		r.logger.Debug().Str("handle", handle).Msg("daily reminder in sync")
	}
}
