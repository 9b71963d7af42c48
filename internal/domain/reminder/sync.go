package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/uioyp/companion/internal/platform/apiclient"
	"github.com/uioyp/companion/internal/platform/kvstore"
	"github.com/uioyp/companion/internal/platform/metrics"
	"github.com/uioyp/companion/internal/platform/notification"
)

// Soft failures. Callers treat both as "no reminder installed" and carry on.
var (
	ErrPermissionDenied = errors.New("notification permission denied")
	ErrInstallFailed    = errors.New("install daily reminder")
)

// Schedule sources, used as metric labels.
const (
	sourceServer  = "server"
	sourceLocal   = "local"
	sourceDefault = "default"
	sourceManual  = "manual"
)

// ConfigSource supplies the server-declared global reminder time.
// *apiclient.Client implements it.
type ConfigSource interface {
	GlobalReminderTime(ctx context.Context) (apiclient.ReminderTime, error)
}

// Syncer keeps exactly one daily reminder trigger installed, at the server's
// global time when reachable.
type Syncer struct {
	config    ConfigSource
	scheduler notification.Scheduler
	state     *stateStore
	templates *notification.TemplateEngine
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	group singleflight.Group
	// mu serializes read-decide-write across all operations.
	mu sync.Mutex
}

func NewSyncer(config ConfigSource, scheduler notification.Scheduler, kv kvstore.Store, m *metrics.Metrics, logger zerolog.Logger) *Syncer {
	logger = logger.With().Str("component", "reminder").Logger()
	return &Syncer{
		config:    config,
		scheduler: scheduler,
		state:     &stateStore{kv: kv, logger: logger},
		templates: notification.NewTemplateEngine(),
		metrics:   m,
		logger:    logger,
	}
}

// EnsureDailyReminder makes sure the daily reminder is installed and returns
// its handle. The time comes from the server, else the persisted schedule,
// else fallback. An unchanged schedule with a known handle is a no-op.
//
// It returns ErrPermissionDenied or ErrInstallFailed, with an empty handle,
// when no reminder could be installed. Concurrent calls share one run.
func (s *Syncer) EnsureDailyReminder(ctx context.Context, fallback Schedule) (string, error) {
	if err := fallback.Validate(); err != nil {
		return "", err
	}
	v, err, _ := s.group.Do("ensure:"+fallback.String(), func() (interface{}, error) {
		return s.ensure(ctx, fallback)
	})
	handle, _ := v.(string)
	return handle, err
}

func (s *Syncer) ensure(ctx context.Context, fallback Schedule) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	server, serverOK := s.fetchServerSchedule(ctx)
	st := s.state.load(ctx)

	switch {
	case serverOK:
		if st.Handle != "" && st.Schedule != nil && *st.Schedule == server && s.installed(ctx, st.Handle) {
			s.metrics.ObserveSync(sourceServer, "noop")
			return st.Handle, nil
		}
		return s.install(ctx, st, server, sourceServer)
	case st.Schedule != nil:
		if st.Handle != "" && s.installed(ctx, st.Handle) {
			s.metrics.ObserveSync(sourceLocal, "noop")
			return st.Handle, nil
		}
		return s.install(ctx, st, *st.Schedule, sourceLocal)
	default:
		return s.install(ctx, st, fallback, sourceDefault)
	}
}

// installed reports whether the persisted handle still names an installed
// trigger. Another process sharing the store may have replaced it. When the
// scheduler cannot tell, the handle is assumed valid so that no duplicate is
// installed.
func (s *Syncer) installed(ctx context.Context, handle string) bool {
	ok, err := s.scheduler.Installed(ctx, handle)
	if err != nil {
		s.logger.Warn().Err(err).Str("handle", handle).Msg("check installed daily reminder")
		return true
	}
	if !ok {
		s.logger.Info().Str("handle", handle).Msg("persisted daily reminder no longer installed")
	}
	return ok
}

// CancelDailyReminder cancels the installed reminder, if any, and forgets its
// handle. The persisted schedule is kept. When the scheduler refuses the
// cancel the handle is kept too, so a later cancel can retry.
func (s *Syncer) CancelDailyReminder(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state.load(ctx)
	if st.Handle == "" {
		return
	}
	if err := s.scheduler.Cancel(ctx, st.Handle); err != nil {
		s.logger.Warn().Err(err).Str("handle", st.Handle).Msg("cancel daily reminder")
		return
	}
	s.state.save(ctx, State{Schedule: st.Schedule})
	s.logger.Info().Str("handle", st.Handle).Msg("daily reminder cancelled")
}

// RescheduleDailyReminder installs the reminder at sched regardless of the
// persisted state, replacing any installed trigger.
func (s *Syncer) RescheduleDailyReminder(ctx context.Context, sched Schedule) (string, error) {
	if err := sched.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.install(ctx, s.state.load(ctx), sched, sourceManual)
}

// Status returns the persisted reminder state.
func (s *Syncer) Status(ctx context.Context) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.load(ctx)
}

func (s *Syncer) fetchServerSchedule(ctx context.Context) (Schedule, bool) {
	rt, err := s.config.GlobalReminderTime(ctx)
	if err != nil {
		s.logger.Debug().Err(err).Msg("global reminder time unavailable")
		return Schedule{}, false
	}
	sched := scheduleFromAPI(rt)
	if err := sched.Validate(); err != nil {
		s.logger.Debug().Err(err).Msg("global reminder time unavailable")
		return Schedule{}, false
	}
	return sched, true
}

// install checks permission, installs the new trigger, cancels the previous
// one and persists schedule and handle together. Persisted state is untouched
// unless the new trigger is installed and the previous one is gone.
func (s *Syncer) install(ctx context.Context, prev State, sched Schedule, source string) (string, error) {
	granted, err := s.scheduler.RequestPermission(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("request notification permission")
	}
	if err != nil || !granted {
		s.metrics.ObserveSync(source, "denied")
		s.logger.Info().Str("source", source).Msg("daily reminder skipped: permission denied")
		return "", ErrPermissionDenied
	}

	trigger, err := s.trigger(sched)
	if err != nil {
		s.metrics.ObserveSync(source, "failed")
		return "", fmt.Errorf("%w: %v", ErrInstallFailed, err)
	}
	handle, err := s.scheduler.ScheduleDaily(ctx, trigger)
	if err != nil {
		s.metrics.ObserveSync(source, "failed")
		s.logger.Warn().Err(err).Str("at", sched.String()).Msg("install daily reminder")
		return "", fmt.Errorf("%w: %v", ErrInstallFailed, err)
	}

	if prev.Handle != "" && prev.Handle != handle {
		if err := s.scheduler.Cancel(ctx, prev.Handle); err != nil {
			s.logger.Warn().Err(err).Str("handle", prev.Handle).Msg("cancel previous daily reminder")
			if rbErr := s.scheduler.Cancel(ctx, handle); rbErr != nil {
				s.logger.Error().Err(rbErr).Str("handle", handle).Msg("roll back new daily reminder")
			}
			s.metrics.ObserveSync(source, "failed")
			return "", fmt.Errorf("%w: cancel previous trigger: %v", ErrInstallFailed, err)
		}
	}
	s.state.save(ctx, State{Schedule: &sched, Handle: handle})

	s.metrics.ObserveSync(source, "installed")
	s.logger.Info().
		Str("source", source).
		Str("at", sched.String()).
		Str("handle", handle).
		Msg("daily reminder installed")
	return handle, nil
}

func (s *Syncer) trigger(sched Schedule) (notification.DailyTrigger, error) {
	title, body, err := s.templates.Render(notification.TemplateDailyLog, nil)
	if err != nil {
		return notification.DailyTrigger{}, err
	}
	return notification.DailyTrigger{
		Hour:    sched.Hour,
		Minute:  sched.Minute,
		Title:   title,
		Body:    body,
		Channel: notification.ChannelDailyReminders,
	}, nil
}
