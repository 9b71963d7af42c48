package progress

import (
	"context"

	"github.com/uioyp/companion/internal/platform/apiclient"
)

// Source is the remote progress data source. *apiclient.Client implements it.
type Source interface {
	PatientByUser(ctx context.Context, userID int) (*apiclient.Patient, error)
	Patient(ctx context.Context, id int) (*apiclient.Patient, error)
	PatientsBySpecialist(ctx context.Context, specialistID int) ([]apiclient.Patient, error)
	SpecialistByUser(ctx context.Context, userID int) (*apiclient.Specialist, error)
	ListProgress(ctx context.Context, patientID int) ([]apiclient.Progress, error)
	CreateProgress(ctx context.Context, date, stage string, patientID int) (*apiclient.Progress, error)
	DeleteProgress(ctx context.Context, id string) error
}
