package reminder

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/uioyp/companion/internal/platform/apiclient"
)

// DefaultPatientTimes are the reminders a specialist schedules for a patient
// whose log is being set up.
var DefaultPatientTimes = []Schedule{{Hour: 19}, {Hour: 20}}

// AdminRemote is the remote API surface used by AdminService.
// *apiclient.Client implements it.
type AdminRemote interface {
	SetGlobalReminderTime(ctx context.Context, rt apiclient.ReminderTime) error
	SpecialistByUser(ctx context.Context, userID int) (*apiclient.Specialist, error)
	CreatePatientReminder(ctx context.Context, patientID, hour, minute, createdBy int) error
	ListPatientReminders(ctx context.Context, patientID int) ([]apiclient.PatientReminder, error)
	SetPatientReminderActive(ctx context.Context, id int, active bool) error
	DeletePatientReminder(ctx context.Context, id int) error
}

// AdminService changes reminder configuration on the server.
type AdminService struct {
	remote AdminRemote
	syncer *Syncer
	logger zerolog.Logger
}

func NewAdminService(remote AdminRemote, syncer *Syncer, logger zerolog.Logger) *AdminService {
	return &AdminService{
		remote: remote,
		syncer: syncer,
		logger: logger.With().Str("component", "reminder-admin").Logger(),
	}
}

// SetGlobalTime publishes a new global reminder time and reschedules the local
// reminder to match. The returned error is a remote failure, or a soft
// ErrPermissionDenied/ErrInstallFailed from the local reschedule.
func (a *AdminService) SetGlobalTime(ctx context.Context, sched Schedule) (string, error) {
	if err := sched.Validate(); err != nil {
		return "", err
	}
	if err := a.remote.SetGlobalReminderTime(ctx, apiclient.ReminderTime{Hour: sched.Hour, Minute: sched.Minute}); err != nil {
		return "", fmt.Errorf("set global reminder time: %w", err)
	}
	a.logger.Info().Str("at", sched.String()).Msg("global reminder time updated")
	return a.syncer.RescheduleDailyReminder(ctx, sched)
}

// SchedulePatientReminders creates reminders for a patient on behalf of the
// specialist linked to specialistUserID. With no times given the
// DefaultPatientTimes are used.
func (a *AdminService) SchedulePatientReminders(ctx context.Context, patientID, specialistUserID int, times ...Schedule) error {
	if len(times) == 0 {
		times = DefaultPatientTimes
	}
	for _, t := range times {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	specialist, err := a.remote.SpecialistByUser(ctx, specialistUserID)
	if err != nil {
		return fmt.Errorf("resolve specialist: %w", err)
	}
	for _, t := range times {
		if err := a.remote.CreatePatientReminder(ctx, patientID, t.Hour, t.Minute, specialist.ID); err != nil {
			return fmt.Errorf("create patient reminder at %s: %w", t, err)
		}
	}
	a.logger.Info().Int("patient_id", patientID).Int("count", len(times)).Msg("patient reminders scheduled")
	return nil
}

func (a *AdminService) ListPatientReminders(ctx context.Context, patientID int) ([]apiclient.PatientReminder, error) {
	items, err := a.remote.ListPatientReminders(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list patient reminders: %w", err)
	}
	return items, nil
}

func (a *AdminService) SetPatientReminderActive(ctx context.Context, id int, active bool) error {
	if err := a.remote.SetPatientReminderActive(ctx, id, active); err != nil {
		return fmt.Errorf("update patient reminder: %w", err)
	}
	return nil
}

func (a *AdminService) DeletePatientReminder(ctx context.Context, id int) error {
	if err := a.remote.DeletePatientReminder(ctx, id); err != nil {
		return fmt.Errorf("delete patient reminder: %w", err)
	}
	return nil
}
