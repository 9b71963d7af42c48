package notification

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/uioyp/companion/internal/platform/kvstore"
	"github.com/uioyp/companion/internal/platform/metrics"
)

// KeyTriggerTable is the store key holding the installed trigger table.
const KeyTriggerTable = "uioyp-notification-triggers"

// ErrInvalidTrigger is returned for triggers with an out-of-range time.
var ErrInvalidTrigger = errors.New("invalid trigger")

// DailyTrigger describes a notification repeated every day at Hour:Minute
// local wall-clock time.
type DailyTrigger struct {
	Hour    int    `yaml:"hour"`
	Minute  int    `yaml:"minute"`
	Title   string `yaml:"title"`
	Body    string `yaml:"body"`
	Channel string `yaml:"channel"`
}

func (t DailyTrigger) validate() error {
	if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 {
		return fmt.Errorf("%w: %02d:%02d", ErrInvalidTrigger, t.Hour, t.Minute)
	}
	return nil
}

// Installed is a trigger known to the scheduler.
type Installed struct {
	Handle       string `yaml:"handle"`
	DailyTrigger `yaml:",inline"`
	CreatedAt    time.Time `yaml:"created_at"`
}

// Scheduler installs and cancels recurring notification triggers.
type Scheduler interface {
	// RequestPermission reports whether notifications may be scheduled.
	RequestPermission(ctx context.Context) (bool, error)
	// ScheduleDaily installs a trigger and returns its opaque handle.
	ScheduleDaily(ctx context.Context, t DailyTrigger) (string, error)
	// Cancel removes a trigger. Unknown handles are ignored.
	Cancel(ctx context.Context, handle string) error
	// Installed reports whether handle names a trigger that is still installed.
	Installed(ctx context.Context, handle string) (bool, error)
}

// CronConfig configures a CronScheduler.
type CronConfig struct {
	// Enabled is the notification permission. When false every permission
	// request is refused.
	Enabled  bool
	Location *time.Location
}

// reconcileSpec is how often a started scheduler picks up trigger table
// changes made by other processes sharing the store.
const reconcileSpec = "@every 1m"

// CronScheduler is the device-level trigger scheduler. Triggers run on a
// robfig/cron engine. The trigger table in the store is authoritative: every
// operation reloads it and reconciles the cron entries against it, so several
// processes sharing one store see the same set of triggers.
type CronScheduler struct {
	cfg       CronConfig
	kv        kvstore.Store
	deliverer Deliverer
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	cron      *cron.Cron
	nowFn     func() time.Time

	mu       sync.Mutex
	triggers map[string]*Installed
	entries  map[string]cron.EntryID
	stopOnce sync.Once
}

// NewCronScheduler creates a CronScheduler. Call Start to restore persisted
// triggers and begin firing.
func NewCronScheduler(cfg CronConfig, kv kvstore.Store, deliverer Deliverer, m *metrics.Metrics, logger zerolog.Logger) *CronScheduler {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &CronScheduler{
		cfg:       cfg,
		kv:        kv,
		deliverer: deliverer,
		metrics:   m,
		logger:    logger.With().Str("component", "notification").Logger(),
		cron:      cron.New(cron.WithLocation(cfg.Location)),
		nowFn:     time.Now,
		triggers:  make(map[string]*Installed),
		entries:   make(map[string]cron.EntryID),
	}
}

// RequestPermission implements Scheduler.
func (s *CronScheduler) RequestPermission(_ context.Context) (bool, error) {
	return s.cfg.Enabled, nil
}

// Start restores the persisted trigger table and starts the cron engine. The
// engine stops when ctx is cancelled.
func (s *CronScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.syncLocked(ctx); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(reconcileSpec, s.reconcile); err != nil {
		return fmt.Errorf("register reconcile job: %w", err)
	}
	s.cron.Start()
	s.logger.Info().Int("triggers", len(s.triggers)).Msg("trigger scheduler started")

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop stops the cron engine and waits for running deliveries. Safe to call
// multiple times.
func (s *CronScheduler) Stop() {
	s.stopOnce.Do(func() {
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()
		s.logger.Info().Msg("trigger scheduler stopped")
	})
}

// ScheduleDaily implements Scheduler.
func (s *CronScheduler) ScheduleDaily(ctx context.Context, t DailyTrigger) (string, error) {
	if err := t.validate(); err != nil {
		return "", err
	}
	if t.Channel == "" {
		t.Channel = ChannelDailyReminders
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.syncLocked(ctx); err != nil {
		return "", err
	}

	inst := &Installed{
		Handle:       uuid.NewString(),
		DailyTrigger: t,
		CreatedAt:    s.nowFn().UTC(),
	}
	if err := s.registerLocked(inst); err != nil {
		return "", err
	}
	if err := s.persistLocked(ctx); err != nil {
		s.unregisterLocked(inst.Handle)
		return "", err
	}
	s.logger.Info().
		Str("handle", inst.Handle).
		Int("hour", t.Hour).
		Int("minute", t.Minute).
		Msg("trigger installed")
	return inst.Handle, nil
}

// Cancel implements Scheduler.
func (s *CronScheduler) Cancel(ctx context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.syncLocked(ctx); err != nil {
		return err
	}
	inst, ok := s.triggers[handle]
	if !ok {
		return nil
	}
	s.unregisterLocked(handle)
	if err := s.persistLocked(ctx); err != nil {
		// Keep memory and store consistent.
		_ = s.registerLocked(inst)
		return err
	}
	s.logger.Info().Str("handle", handle).Msg("trigger cancelled")
	return nil
}

// Installed implements Scheduler.
func (s *CronScheduler) Installed(ctx context.Context, handle string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.syncLocked(ctx); err != nil {
		return false, err
	}
	_, ok := s.triggers[handle]
	return ok, nil
}

// Triggers returns the installed triggers ordered by creation time.
func (s *CronScheduler) Triggers(ctx context.Context) ([]Installed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.syncLocked(ctx); err != nil {
		return nil, err
	}
	out := make([]Installed, 0, len(s.triggers))
	for _, inst := range s.triggers {
		out = append(out, *inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Next returns the next time inst fires after now, in the scheduler's
// location. It does not need the engine to be running.
func (s *CronScheduler) Next(inst Installed) time.Time {
	sched, err := cron.ParseStandard(cronSpec(inst.DailyTrigger))
	if err != nil {
		return time.Time{}
	}
	return sched.Next(s.nowFn().In(s.cfg.Location))
}

func cronSpec(t DailyTrigger) string {
	return fmt.Sprintf("%d %d * * *", t.Minute, t.Hour)
}

// loadTable reads the persisted trigger table. A corrupt table reads as empty.
func (s *CronScheduler) loadTable(ctx context.Context) ([]Installed, error) {
	raw, ok, err := s.kv.Get(ctx, KeyTriggerTable)
	if err != nil {
		return nil, fmt.Errorf("load trigger table: %w", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var table []Installed
	if err := yaml.Unmarshal([]byte(raw), &table); err != nil {
		// A corrupt table cannot be trusted; start empty and let the
		// reminder sync reinstall what it needs.
		s.logger.Warn().Err(err).Msg("discarding corrupt trigger table")
		return nil, nil
	}
	return table, nil
}

// syncLocked makes the cron entries match the persisted table: triggers added
// by another process are registered and triggers it removed are dropped.
func (s *CronScheduler) syncLocked(ctx context.Context) error {
	table, err := s.loadTable(ctx)
	if err != nil {
		return err
	}
	want := make(map[string]bool, len(table))
	for i := range table {
		inst := table[i]
		want[inst.Handle] = true
		if _, ok := s.triggers[inst.Handle]; ok {
			continue
		}
		if err := s.registerLocked(&inst); err != nil {
			s.logger.Warn().Err(err).Str("handle", inst.Handle).Msg("skipping persisted trigger")
		}
	}
	for handle := range s.triggers {
		if !want[handle] {
			s.unregisterLocked(handle)
		}
	}
	return nil
}

func (s *CronScheduler) reconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.syncLocked(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("reconcile trigger table")
	}
}

func (s *CronScheduler) registerLocked(inst *Installed) error {
	if err := inst.validate(); err != nil {
		return err
	}
	handle := inst.Handle
	id, err := s.cron.AddFunc(cronSpec(inst.DailyTrigger), func() { s.fire(handle) })
	if err != nil {
		return fmt.Errorf("register trigger: %w", err)
	}
	s.triggers[handle] = inst
	s.entries[handle] = id
	s.metrics.SetInstalledTriggers(len(s.triggers))
	return nil
}

func (s *CronScheduler) unregisterLocked(handle string) {
	if id, ok := s.entries[handle]; ok {
		s.cron.Remove(id)
	}
	delete(s.entries, handle)
	delete(s.triggers, handle)
	s.metrics.SetInstalledTriggers(len(s.triggers))
}

func (s *CronScheduler) persistLocked(ctx context.Context) error {
	table := make([]Installed, 0, len(s.triggers))
	for _, inst := range s.triggers {
		table = append(table, *inst)
	}
	sort.Slice(table, func(i, j int) bool { return table[i].Handle < table[j].Handle })
	raw, err := yaml.Marshal(table)
	if err != nil {
		return fmt.Errorf("marshal trigger table: %w", err)
	}
	if err := s.kv.Set(ctx, KeyTriggerTable, string(raw)); err != nil {
		return fmt.Errorf("persist trigger table: %w", err)
	}
	return nil
}

func (s *CronScheduler) fire(handle string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// A trigger cancelled by another process must not fire here.
	s.mu.Lock()
	if err := s.syncLocked(ctx); err != nil {
		s.logger.Warn().Err(err).Str("handle", handle).Msg("reconcile before firing")
	}
	inst, ok := s.triggers[handle]
	var trigger DailyTrigger
	if ok {
		trigger = inst.DailyTrigger
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	n := Notification{
		ID:      uuid.NewString(),
		Handle:  handle,
		Channel: trigger.Channel,
		Title:   trigger.Title,
		Body:    trigger.Body,
		FiredAt: s.nowFn().UTC(),
	}
	err := s.deliverer.Deliver(ctx, n)
	s.metrics.ObserveDelivery(err == nil)
	if err != nil {
		s.logger.Error().Err(err).Str("handle", handle).Msg("deliver notification")
	}
}
