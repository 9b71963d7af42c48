package notification

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/uioyp/companion/internal/platform/kvstore"
	"github.com/uioyp/companion/internal/platform/metrics"
)

// ---------------------------------------------------------------------------
// Template Engine Tests
// ---------------------------------------------------------------------------

func TestTemplateEngine_RegisterAndRender(t *testing.T) {
	eng := NewTemplateEngine()
	eng.RegisterTemplate(Template{
		ID:    "test-tpl",
		Title: "Hola {{name}}",
		Body:  "{{name}}, tu cita es a las {{time}}.",
	})

	title, body, err := eng.Render("test-tpl", map[string]string{
		"name": "Ana",
		"time": "19:00",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if title != "Hola Ana" {
		t.Errorf("title = %q, want %q", title, "Hola Ana")
	}
	if body != "Ana, tu cita es a las 19:00." {
		t.Errorf("body = %q", body)
	}
}

func TestTemplateEngine_RenderMissing(t *testing.T) {
	eng := NewTemplateEngine()
	if _, _, err := eng.Render("nonexistent", nil); err == nil {
		t.Fatal("expected error for missing template, got nil")
	}
}

func TestTemplateEngine_DailyLogTemplate(t *testing.T) {
	eng := NewTemplateEngine()
	title, body, err := eng.Render(TemplateDailyLog, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if title != "Registro de bitácora" {
		t.Errorf("title = %q", title)
	}
	if body != "No olvides registrar tu progreso de hoy en la bitácora ✍️" {
		t.Errorf("body = %q", body)
	}
}

func TestTemplateEngine_UnknownKeysLeftAsIs(t *testing.T) {
	eng := NewTemplateEngine()
	_, body, err := eng.Render("stage-reached", map[string]string{"name": "Luis"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(body, "{{stage}}") || !strings.HasPrefix(body, "Luis,") {
		t.Errorf("body = %q", body)
	}
}

// ---------------------------------------------------------------------------
// Scheduler Tests
// ---------------------------------------------------------------------------

type recordingDeliverer struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (d *recordingDeliverer) Deliver(_ context.Context, n Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, n)
	return d.err
}

type failingStore struct {
	kvstore.Store
	failSet bool
}

func (f *failingStore) Set(ctx context.Context, key, value string) error {
	if f.failSet {
		return errors.New("disk full")
	}
	return f.Store.Set(ctx, key, value)
}

func newTestScheduler(kv kvstore.Store, d Deliverer) *CronScheduler {
	return NewCronScheduler(CronConfig{Enabled: true, Location: time.UTC}, kv, d, metrics.New(), zerolog.Nop())
}

func TestCronScheduler_Permission(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemoryStore()
	on := newTestScheduler(kv, &recordingDeliverer{})
	off := NewCronScheduler(CronConfig{Enabled: false}, kv, &recordingDeliverer{}, nil, zerolog.Nop())

	if ok, err := on.RequestPermission(ctx); err != nil || !ok {
		t.Errorf("enabled permission = %v, %v", ok, err)
	}
	if ok, err := off.RequestPermission(ctx); err != nil || ok {
		t.Errorf("disabled permission = %v, %v", ok, err)
	}
}

func TestCronScheduler_ScheduleAndCancel(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(kvstore.NewMemoryStore(), &recordingDeliverer{})

	handle, err := s.ScheduleDaily(ctx, DailyTrigger{Hour: 21, Minute: 0, Title: "t", Body: "b"})
	if err != nil {
		t.Fatalf("ScheduleDaily: %v", err)
	}
	if handle == "" {
		t.Fatal("expected non-empty handle")
	}

	triggers, err := s.Triggers(ctx)
	if err != nil {
		t.Fatalf("Triggers: %v", err)
	}
	if len(triggers) != 1 {
		t.Fatalf("len(triggers) = %d, want 1", len(triggers))
	}
	if triggers[0].Channel != ChannelDailyReminders {
		t.Errorf("channel = %q, want default %q", triggers[0].Channel, ChannelDailyReminders)
	}

	if err := s.Cancel(ctx, handle); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := s.Cancel(ctx, handle); err != nil {
		t.Errorf("second Cancel should be a no-op, got %v", err)
	}
	if triggers, _ := s.Triggers(ctx); len(triggers) != 0 {
		t.Errorf("expected no triggers after cancel, got %d", len(triggers))
	}
}

func TestCronScheduler_RejectsInvalidTime(t *testing.T) {
	s := newTestScheduler(kvstore.NewMemoryStore(), &recordingDeliverer{})
	for _, tr := range []DailyTrigger{{Hour: 24}, {Hour: -1}, {Minute: 60}} {
		if _, err := s.ScheduleDaily(context.Background(), tr); !errors.Is(err, ErrInvalidTrigger) {
			t.Errorf("ScheduleDaily(%+v) err = %v, want ErrInvalidTrigger", tr, err)
		}
	}
}

func TestCronScheduler_RestoresPersistedTriggers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	kv := kvstore.NewMemoryStore()

	first := newTestScheduler(kv, &recordingDeliverer{})
	handle, err := first.ScheduleDaily(ctx, DailyTrigger{Hour: 7, Minute: 30, Title: "t", Body: "b"})
	if err != nil {
		t.Fatalf("ScheduleDaily: %v", err)
	}

	second := newTestScheduler(kv, &recordingDeliverer{})
	if err := second.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer second.Stop()

	triggers, err := second.Triggers(ctx)
	if err != nil {
		t.Fatalf("Triggers: %v", err)
	}
	if len(triggers) != 1 || triggers[0].Handle != handle {
		t.Fatalf("restored triggers = %+v, want handle %s", triggers, handle)
	}
	if triggers[0].Hour != 7 || triggers[0].Minute != 30 {
		t.Errorf("restored time = %02d:%02d, want 07:30", triggers[0].Hour, triggers[0].Minute)
	}

	next := second.Next(triggers[0])
	if next.IsZero() {
		t.Fatal("expected next fire time for restored trigger")
	}
	if next.Hour() != 7 || next.Minute() != 30 {
		t.Errorf("next fire = %v, want 07:30", next)
	}
}

func TestCronScheduler_CorruptTableStartsEmpty(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemoryStore()
	if err := kv.Set(ctx, KeyTriggerTable, "{{ not yaml"); err != nil {
		t.Fatal(err)
	}
	s := newTestScheduler(kv, &recordingDeliverer{})
	triggers, err := s.Triggers(ctx)
	if err != nil {
		t.Fatalf("Triggers: %v", err)
	}
	if len(triggers) != 0 {
		t.Errorf("expected empty table, got %d", len(triggers))
	}
}

func TestCronScheduler_PersistFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	kv := &failingStore{Store: kvstore.NewMemoryStore()}
	s := newTestScheduler(kv, &recordingDeliverer{})

	handle, err := s.ScheduleDaily(ctx, DailyTrigger{Hour: 8})
	if err != nil {
		t.Fatalf("ScheduleDaily: %v", err)
	}

	kv.failSet = true
	if _, err := s.ScheduleDaily(ctx, DailyTrigger{Hour: 9}); err == nil {
		t.Fatal("expected persist error")
	}
	if err := s.Cancel(ctx, handle); err == nil {
		t.Fatal("expected persist error on cancel")
	}

	triggers, _ := s.Triggers(ctx)
	if len(triggers) != 1 || triggers[0].Handle != handle {
		t.Errorf("triggers after failed writes = %+v, want only %s", triggers, handle)
	}
}

func TestCronScheduler_FireDelivers(t *testing.T) {
	ctx := context.Background()
	d := &recordingDeliverer{}
	s := newTestScheduler(kvstore.NewMemoryStore(), d)

	handle, err := s.ScheduleDaily(ctx, DailyTrigger{Hour: 21, Title: "Registro", Body: "hoy"})
	if err != nil {
		t.Fatalf("ScheduleDaily: %v", err)
	}
	s.fire(handle)
	s.fire("unknown-handle")

	if len(d.sent) != 1 {
		t.Fatalf("delivered %d notifications, want 1", len(d.sent))
	}
	n := d.sent[0]
	if n.Handle != handle || n.Title != "Registro" || n.Body != "hoy" || n.Channel != ChannelDailyReminders {
		t.Errorf("notification = %+v", n)
	}
	if n.ID == "" {
		t.Error("expected notification ID")
	}
}

func TestCronScheduler_NextWithoutStart(t *testing.T) {
	s := newTestScheduler(kvstore.NewMemoryStore(), &recordingDeliverer{})
	s.nowFn = func() time.Time { return time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC) }

	next := s.Next(Installed{DailyTrigger: DailyTrigger{Hour: 21, Minute: 15}})
	want := time.Date(2026, 3, 11, 21, 15, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestCronScheduler_SharedStoreReconciles(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemoryStore()
	agent := newTestScheduler(kv, &recordingDeliverer{})
	cli := newTestScheduler(kv, &recordingDeliverer{})

	old, err := agent.ScheduleDaily(ctx, DailyTrigger{Hour: 21})
	if err != nil {
		t.Fatalf("ScheduleDaily: %v", err)
	}
	// The other process replaces the trigger the agent installed.
	replacement, err := cli.ScheduleDaily(ctx, DailyTrigger{Hour: 19, Minute: 30})
	if err != nil {
		t.Fatalf("ScheduleDaily: %v", err)
	}
	if err := cli.Cancel(ctx, old); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	if ok, err := agent.Installed(ctx, old); err != nil || ok {
		t.Errorf("Installed(old) = %v, %v, want false", ok, err)
	}
	if ok, err := agent.Installed(ctx, replacement); err != nil || !ok {
		t.Errorf("Installed(replacement) = %v, %v, want true", ok, err)
	}

	agent.mu.Lock()
	_, stale := agent.entries[old]
	_, picked := agent.entries[replacement]
	agent.mu.Unlock()
	if stale || !picked {
		t.Errorf("agent cron entries: stale=%v picked=%v", stale, picked)
	}
}

func TestCronScheduler_FireSkipsTriggerCancelledElsewhere(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemoryStore()
	d := &recordingDeliverer{}
	agent := newTestScheduler(kv, d)
	cli := newTestScheduler(kv, &recordingDeliverer{})

	handle, err := agent.ScheduleDaily(ctx, DailyTrigger{Hour: 21})
	if err != nil {
		t.Fatalf("ScheduleDaily: %v", err)
	}
	if err := cli.Cancel(ctx, handle); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	agent.fire(handle)

	if len(d.sent) != 0 {
		t.Errorf("delivered %d notifications for a cancelled trigger", len(d.sent))
	}
}

func TestLogDeliverer(t *testing.T) {
	var buf strings.Builder
	d := LogDeliverer{Logger: zerolog.New(&buf)}
	if err := d.Deliver(context.Background(), Notification{ID: "n1", Title: "Registro de bitácora"}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if !strings.Contains(buf.String(), `"title":"Registro de bitácora"`) {
		t.Errorf("log output = %s", buf.String())
	}
}

func TestFanout_DeliversToAll(t *testing.T) {
	first := &recordingDeliverer{}
	second := &recordingDeliverer{err: errors.New("offline")}
	third := &recordingDeliverer{}

	err := Fanout{first, second, third}.Deliver(context.Background(), Notification{ID: "n1"})
	if err == nil || !strings.Contains(err.Error(), "offline") {
		t.Errorf("err = %v, want offline", err)
	}
	for i, d := range []*recordingDeliverer{first, second, third} {
		if len(d.sent) != 1 {
			t.Errorf("deliverer %d got %d notifications, want 1", i, len(d.sent))
		}
	}
}
