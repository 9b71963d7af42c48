package reminder

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/uioyp/companion/internal/platform/kvstore"
)

// stateStore reads and writes State through the key-value store. Reads treat
// failures as absent values and writes are best effort; both log.
type stateStore struct {
	kv     kvstore.Store
	logger zerolog.Logger
}

func (s *stateStore) load(ctx context.Context) State {
	var st State

	handle, ok, err := s.kv.Get(ctx, KeyHandle)
	switch {
	case err != nil:
		s.logger.Warn().Err(err).Str("key", KeyHandle).Msg("read reminder state")
	case ok:
		st.Handle = handle
	}

	raw, ok, err := s.kv.Get(ctx, KeySchedule)
	switch {
	case err != nil:
		s.logger.Warn().Err(err).Str("key", KeySchedule).Msg("read reminder state")
	case ok && raw != "":
		var sched Schedule
		if err := json.Unmarshal([]byte(raw), &sched); err != nil {
			s.logger.Warn().Err(err).Msg("discarding malformed reminder schedule")
		} else if err := sched.Validate(); err != nil {
			s.logger.Warn().Err(err).Msg("discarding out-of-range reminder schedule")
		} else {
			st.Schedule = &sched
		}
	}
	return st
}

// save writes both keys in one batch. Absent values remove their key.
func (s *stateStore) save(ctx context.Context, st State) {
	entries := map[string]string{KeyHandle: st.Handle, KeySchedule: ""}
	if st.Schedule != nil {
		raw, err := json.Marshal(st.Schedule)
		if err != nil {
			s.logger.Error().Err(err).Msg("encode reminder schedule")
			return
		}
		entries[KeySchedule] = string(raw)
	}
	if err := s.kv.SetMulti(ctx, entries); err != nil {
		s.logger.Error().Err(err).Msg("persist reminder state")
	}
}
