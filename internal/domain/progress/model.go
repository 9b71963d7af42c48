package progress

import (
	"strings"
	"time"

	"github.com/uioyp/companion/internal/platform/apiclient"
)

// Stages is the ordered stage vocabulary. A label's 1-based position is its
// stage ordinal.
var Stages = []string{
	"Semilla",
	"Una planta",
	"Un pequeño árbol",
	"Un árbol grande",
}

const (
	MinStage = 1
	MaxStage = 4
)

// Record is one dated progress record of a patient. RecordedAt is kept as the
// raw text sent by the remote; it may be empty or unparseable.
type Record struct {
	ID         string `json:"id"`
	StageLabel string `json:"etapa"`
	RecordedAt string `json:"fecha"`
	PatientID  string `json:"id_pac"`
}

// PatientSummary is a patient profile with its resolved stage.
type PatientSummary struct {
	ID         int    `json:"id"`
	UserID     int    `json:"id_us"`
	Name       string `json:"nombre_us"`
	Stage      int    `json:"stage"`
	StageLabel string `json:"etapa"`
}

// FromAPI converts a remote progress record.
func FromAPI(p apiclient.Progress) Record {
	return Record{
		ID:         p.ID.String(),
		StageLabel: p.Stage.String(),
		RecordedAt: p.Date.String(),
		PatientID:  p.PatientID.String(),
	}
}

// StageOrdinal returns the 1-based position of label in Stages, or 0 when the
// label is not part of the vocabulary.
func StageOrdinal(label string) int {
	for i, s := range Stages {
		if s == label {
			return i + 1
		}
	}
	return 0
}

// StageLabel returns the label of a stage ordinal.
func StageLabel(stage int) (string, bool) {
	if stage < MinStage || stage > MaxStage {
		return "", false
	}
	return Stages[stage-1], true
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// timestampMillis parses a record timestamp into Unix milliseconds. Missing or
// unparseable timestamps yield 0 so they sort as the oldest possible record.
func timestampMillis(raw string) int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UnixMilli()
		}
	}
	return 0
}
