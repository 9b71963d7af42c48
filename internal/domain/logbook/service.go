package logbook

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// ErrNotOwner is returned when a patient touches another patient's entry.
var ErrNotOwner = errors.New("log entry belongs to another patient")

// Service reads and records daily log entries against the remote platform.
// Patients act on their own log through their user ID; specialists address
// patients and entries directly.
type Service struct {
	src    Source
	logger zerolog.Logger
	nowFn  func() time.Time
}

func NewService(src Source, logger zerolog.Logger) *Service {
	return &Service{
		src:    src,
		logger: logger.With().Str("component", "logbook").Logger(),
		nowFn:  time.Now,
	}
}

// PatientEntries lists the entries of a patient.
func (s *Service) PatientEntries(ctx context.Context, patientID int) ([]Entry, error) {
	if patientID <= 0 {
		return nil, fmt.Errorf("%w: invalid patient id %d", ErrInvalidEntry, patientID)
	}
	items, err := s.src.ListLogEntries(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list log entries: %w", err)
	}
	out := make([]Entry, 0, len(items))
	for _, it := range items {
		out = append(out, FromAPI(it))
	}
	return out, nil
}

// MyEntries lists the entries of the patient linked to userID.
func (s *Service) MyEntries(ctx context.Context, userID int) ([]Entry, error) {
	patientID, err := s.patientID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.PatientEntries(ctx, patientID)
}

// Create records an entry for the patient linked to userID, dated now.
func (s *Service) Create(ctx context.Context, userID int, in Input) (*Entry, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	patientID, err := s.patientID(ctx, userID)
	if err != nil {
		return nil, err
	}
	created, err := s.src.CreateLogEntry(ctx, in.toAPI(patientID, s.nowFn()))
	if err != nil {
		return nil, fmt.Errorf("create log entry: %w", err)
	}
	e := FromAPI(*created)
	if e.PatientID == "" {
		e.PatientID = strconv.Itoa(patientID)
	}
	s.logger.Info().Int("patient_id", patientID).Str("entry_id", e.ID).Msg("log entry recorded")
	return &e, nil
}

// Get returns an entry.
func (s *Service) Get(ctx context.Context, id int) (*Entry, error) {
	item, err := s.src.LogEntry(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get log entry: %w", err)
	}
	e := FromAPI(*item)
	return &e, nil
}

// GetOwn returns an entry of the patient linked to userID.
func (s *Service) GetOwn(ctx context.Context, userID, id int) (*Entry, error) {
	e, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkOwner(ctx, userID, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Delete removes an entry.
func (s *Service) Delete(ctx context.Context, id int) error {
	if err := s.src.DeleteLogEntry(ctx, id); err != nil {
		return fmt.Errorf("delete log entry: %w", err)
	}
	s.logger.Info().Int("entry_id", id).Msg("log entry deleted")
	return nil
}

// DeleteOwn removes an entry of the patient linked to userID.
func (s *Service) DeleteOwn(ctx context.Context, userID, id int) error {
	if _, err := s.GetOwn(ctx, userID, id); err != nil {
		return err
	}
	return s.Delete(ctx, id)
}

func (s *Service) patientID(ctx context.Context, userID int) (int, error) {
	p, err := s.src.PatientByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("patient lookup: %w", err)
	}
	return p.ID, nil
}

func (s *Service) checkOwner(ctx context.Context, userID int, e *Entry) error {
	patientID, err := s.patientID(ctx, userID)
	if err != nil {
		return err
	}
	if e.PatientID != strconv.Itoa(patientID) {
		return ErrNotOwner
	}
	return nil
}
