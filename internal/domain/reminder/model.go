package reminder

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/uioyp/companion/internal/platform/apiclient"
)

// Store keys of the persisted reminder state.
const (
	KeyHandle   = "uioyp-daily-reminder-id"
	KeySchedule = "uioyp-daily-reminder-time"
)

var ErrInvalidSchedule = errors.New("invalid reminder schedule")

// Schedule is a daily wall-clock time.
type Schedule struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

func (s Schedule) Validate() error {
	if s.Hour < 0 || s.Hour > 23 || s.Minute < 0 || s.Minute > 59 {
		return fmt.Errorf("%w: %d:%d", ErrInvalidSchedule, s.Hour, s.Minute)
	}
	return nil
}

func (s Schedule) String() string {
	return fmt.Sprintf("%02d:%02d", s.Hour, s.Minute)
}

// ParseSchedule parses an "HH:MM" time.
func ParseSchedule(text string) (Schedule, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(text), ":")
	if !ok {
		return Schedule{}, fmt.Errorf("%w: %q is not HH:MM", ErrInvalidSchedule, text)
	}
	h, errH := strconv.Atoi(hh)
	m, errM := strconv.Atoi(mm)
	if errH != nil || errM != nil || len(mm) != 2 {
		return Schedule{}, fmt.Errorf("%w: %q is not HH:MM", ErrInvalidSchedule, text)
	}
	s := Schedule{Hour: h, Minute: m}
	if err := s.Validate(); err != nil {
		return Schedule{}, err
	}
	return s, nil
}

func scheduleFromAPI(rt apiclient.ReminderTime) Schedule {
	return Schedule{Hour: rt.Hour, Minute: rt.Minute}
}

// State is the persisted reminder state. A nil Schedule or an empty Handle
// means the value is absent.
type State struct {
	Schedule *Schedule `json:"schedule,omitempty"`
	Handle   string    `json:"handle,omitempty"`
}
