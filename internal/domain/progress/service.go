package progress

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/uioyp/companion/internal/platform/apiclient"
	"github.com/uioyp/companion/internal/platform/metrics"
	"github.com/uioyp/companion/internal/platform/notification"
)

var ErrUnknownStage = errors.New("unknown stage label")

// Service reads and records patient progress against the remote platform.
type Service struct {
	src       Source
	notifier  notification.Deliverer
	templates *notification.TemplateEngine
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	nowFn     func() time.Time
}

// NewService creates a Service. notifier receives a notification whenever a
// recorded stage moves a patient forward; it may be nil.
func NewService(src Source, notifier notification.Deliverer, m *metrics.Metrics, logger zerolog.Logger) *Service {
	return &Service{
		src:       src,
		notifier:  notifier,
		templates: notification.NewTemplateEngine(),
		metrics:   m,
		logger:    logger.With().Str("component", "progress").Logger(),
		nowFn:     time.Now,
	}
}

// CurrentStage resolves the stage of the patient linked to a user account.
// Lookup failures are logged and resolve to stage 1.
func (s *Service) CurrentStage(ctx context.Context, userID int) int {
	patient, err := s.src.PatientByUser(ctx, userID)
	if err != nil {
		s.logger.Warn().Err(err).Int("user_id", userID).Msg("patient lookup failed, using stage 1")
		return s.observe(MinStage)
	}
	return s.PatientStage(ctx, patient.ID)
}

// PatientStage resolves the stage of a patient. Fetch failures are logged and
// resolve to stage 1.
func (s *Service) PatientStage(ctx context.Context, patientID int) int {
	records, err := s.ListProgress(ctx, patientID)
	if err != nil {
		s.logger.Warn().Err(err).Int("patient_id", patientID).Msg("progress fetch failed, using stage 1")
		records = nil
	}
	return s.observe(ResolveStage(records))
}

func (s *Service) ListProgress(ctx context.Context, patientID int) ([]Record, error) {
	items, err := s.src.ListProgress(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	out := make([]Record, 0, len(items))
	for _, p := range items {
		out = append(out, FromAPI(p))
	}
	return out, nil
}

// Patient returns a patient profile with its current stage.
func (s *Service) Patient(ctx context.Context, id int) (*PatientSummary, error) {
	p, err := s.src.Patient(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get patient: %w", err)
	}
	sum := s.summary(ctx, *p)
	return &sum, nil
}

// SpecialistPatients lists the patients managed by the specialist owning
// userID, each with its current stage.
func (s *Service) SpecialistPatients(ctx context.Context, userID int) ([]PatientSummary, error) {
	spec, err := s.src.SpecialistByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("specialist lookup: %w", err)
	}
	patients, err := s.src.PatientsBySpecialist(ctx, spec.ID)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	out := make([]PatientSummary, 0, len(patients))
	for _, p := range patients {
		out = append(out, s.summary(ctx, p))
	}
	return out, nil
}

func (s *Service) summary(ctx context.Context, p apiclient.Patient) PatientSummary {
	stage := s.PatientStage(ctx, p.ID)
	label, _ := StageLabel(stage)
	return PatientSummary{
		ID:         p.ID,
		UserID:     p.UserID,
		Name:       p.Name.String(),
		Stage:      stage,
		StageLabel: label,
	}
}

// CreateProgress records that a patient reached the stage named by label,
// dated now. When the new stage is ahead of the patient's previous stage a
// stage-reached notification is sent.
func (s *Service) CreateProgress(ctx context.Context, patientID int, label string) (*Record, error) {
	label = strings.TrimSpace(label)
	if StageOrdinal(label) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStage, label)
	}
	if patientID <= 0 {
		return nil, fmt.Errorf("invalid patient id: %d", patientID)
	}
	before, beforeErr := s.ListProgress(ctx, patientID)

	date := s.nowFn().UTC().Format(time.RFC3339)
	created, err := s.src.CreateProgress(ctx, date, label, patientID)
	if err != nil {
		return nil, fmt.Errorf("create progress: %w", err)
	}
	rec := Record{StageLabel: label, RecordedAt: date, PatientID: fmt.Sprint(patientID)}
	if created != nil {
		rec = FromAPI(*created)
		if rec.StageLabel == "" {
			rec.StageLabel = label
		}
		if rec.RecordedAt == "" {
			rec.RecordedAt = date
		}
		if rec.PatientID == "" {
			rec.PatientID = fmt.Sprint(patientID)
		}
	}
	s.logger.Info().Int("patient_id", patientID).Str("stage", label).Msg("progress recorded")

	// Without the previous records there is no way to tell an advance.
	if beforeErr == nil && StageOrdinal(label) > ResolveStage(before) {
		s.notifyStageReached(ctx, patientID, StageOrdinal(label))
	}
	return &rec, nil
}

func (s *Service) notifyStageReached(ctx context.Context, patientID, stage int) {
	if s.notifier == nil {
		return
	}
	name := "Hola"
	if p, err := s.src.Patient(ctx, patientID); err == nil && p.Name != "" {
		name = p.Name.String()
	}
	label, _ := StageLabel(stage)
	title, body, err := s.templates.Render(notification.TemplateStageReached, map[string]string{
		"name":  name,
		"stage": fmt.Sprint(stage),
		"label": label,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("render stage notification")
		return
	}
	n := notification.Notification{
		ID:      uuid.NewString(),
		Channel: notification.ChannelProgress,
		Title:   title,
		Body:    body,
		FiredAt: s.nowFn().UTC(),
	}
	if err := s.notifier.Deliver(ctx, n); err != nil {
		s.logger.Warn().Err(err).Int("patient_id", patientID).Msg("deliver stage notification")
	}
}

func (s *Service) DeleteProgress(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("progress id is required")
	}
	if err := s.src.DeleteProgress(ctx, id); err != nil {
		return fmt.Errorf("delete progress: %w", err)
	}
	return nil
}

func (s *Service) observe(stage int) int {
	s.metrics.ObserveStage(stage)
	return stage
}
