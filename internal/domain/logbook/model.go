package logbook

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/uioyp/companion/internal/platform/apiclient"
)

// MaxBloodPressureLen bounds the free-text blood pressure reading, e.g.
// "120 80".
const MaxBloodPressureLen = 10

var ErrInvalidEntry = errors.New("invalid log entry")

// Entry is one daily log entry of a patient. Glucose is nil when the remote
// sent a value that is not a number.
type Entry struct {
	ID            string   `json:"id"`
	Date          string   `json:"fecha"`
	BloodPressure string   `json:"presion_ar"`
	Glucose       *float64 `json:"glucosa"`
	Meals         string   `json:"comidas,omitempty"`
	Medications   string   `json:"medicamentos,omitempty"`
	PatientID     string   `json:"id_pac"`
	PatientName   string   `json:"paciente,omitempty"`
}

// FromAPI converts a remote log entry.
func FromAPI(e apiclient.LogEntry) Entry {
	out := Entry{
		ID:            e.ID.String(),
		Date:          e.Date.String(),
		BloodPressure: e.BloodPressure.String(),
		Meals:         e.Meals.String(),
		Medications:   e.Medications.String(),
		PatientID:     e.PatientID.String(),
	}
	if g, err := strconv.ParseFloat(strings.TrimSpace(e.Glucose.String()), 64); err == nil {
		out.Glucose = &g
	}
	if e.Patient != nil {
		out.PatientName = e.Patient.Name.String()
	}
	return out
}

// Input is what a patient records for the day.
type Input struct {
	BloodPressure string   `json:"presion_ar"`
	Glucose       *float64 `json:"glucosa"`
	Meals         string   `json:"comidas"`
	Medications   string   `json:"medicamentos"`
}

// Validate trims the text fields and checks the readings.
func (in *Input) Validate() error {
	in.BloodPressure = strings.TrimSpace(in.BloodPressure)
	in.Meals = strings.TrimSpace(in.Meals)
	in.Medications = strings.TrimSpace(in.Medications)

	if in.BloodPressure == "" {
		return fmt.Errorf("%w: blood pressure is required", ErrInvalidEntry)
	}
	if utf8.RuneCountInString(in.BloodPressure) > MaxBloodPressureLen {
		return fmt.Errorf("%w: blood pressure longer than %d characters", ErrInvalidEntry, MaxBloodPressureLen)
	}
	if in.Glucose == nil {
		return fmt.Errorf("%w: glucose is required", ErrInvalidEntry)
	}
	if g := *in.Glucose; math.IsNaN(g) || math.IsInf(g, 0) || g < 0 {
		return fmt.Errorf("%w: glucose must be a non-negative number", ErrInvalidEntry)
	}
	return nil
}

func (in Input) toAPI(patientID int, now time.Time) apiclient.NewLogEntry {
	return apiclient.NewLogEntry{
		Date:          now.UTC().Format(time.RFC3339),
		BloodPressure: in.BloodPressure,
		Glucose:       *in.Glucose,
		PatientID:     patientID,
		Meals:         in.Meals,
		Medications:   in.Medications,
	}
}
