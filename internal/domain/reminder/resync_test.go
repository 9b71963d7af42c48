package reminder

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/uioyp/companion/internal/platform/kvstore"
)

func TestNewResyncer_InvalidSchedule(t *testing.T) {
	s := newTestSyncer(&fakeConfig{}, newFakeScheduler(), kvstore.NewMemoryStore())
	if _, err := NewResyncer(s, "every now and then", defaultTime, zerolog.Nop()); err == nil {
		t.Fatal("expected error for invalid cron schedule")
	}
}

func TestResyncer_RunFollowsServerTime(t *testing.T) {
	cfg := &fakeConfig{}
	cfg.set(7, 45)
	sched := newFakeScheduler()
	kv := kvstore.NewMemoryStore()

	r, err := NewResyncer(newTestSyncer(cfg, sched, kv), "@every 6h", defaultTime, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewResyncer: %v", err)
	}
	r.Run(context.Background())

	if tr := sched.only(t); tr.Hour != 7 || tr.Minute != 45 {
		t.Errorf("installed %02d:%02d, want 07:45", tr.Hour, tr.Minute)
	}

	cfg.set(8, 0)
	r.Run(context.Background())
	if tr := sched.only(t); tr.Hour != 8 || tr.Minute != 0 {
		t.Errorf("after server change installed %02d:%02d, want 08:00", tr.Hour, tr.Minute)
	}
}

func TestResyncer_SkipsWhenInactive(t *testing.T) {
	cfg := &fakeConfig{}
	cfg.set(7, 45)
	sched := newFakeScheduler()

	r, err := NewResyncer(newTestSyncer(cfg, sched, kvstore.NewMemoryStore()), "@every 6h", defaultTime, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewResyncer: %v", err)
	}
	r.Active = func(context.Context) bool { return false }
	r.Run(context.Background())

	if sched.installs != 0 || cfg.calls != 0 {
		t.Errorf("installs = %d, config calls = %d, want none", sched.installs, cfg.calls)
	}
}

func TestResyncer_PermissionDeniedIsQuiet(t *testing.T) {
	sched := newFakeScheduler()
	sched.denied = true
	kv := kvstore.NewMemoryStore()

	r, err := NewResyncer(newTestSyncer(&fakeConfig{}, sched, kv), "@every 6h", defaultTime, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewResyncer: %v", err)
	}
	r.Run(context.Background())

	if st := loadState(kv); st.Handle != "" || st.Schedule != nil {
		t.Errorf("state = %+v, want untouched", st)
	}
}
