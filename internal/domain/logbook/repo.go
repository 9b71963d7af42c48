package logbook

import (
	"context"

	"github.com/uioyp/companion/internal/platform/apiclient"
)

// Source is the remote daily log store. *apiclient.Client implements it.
type Source interface {
	PatientByUser(ctx context.Context, userID int) (*apiclient.Patient, error)
	ListLogEntries(ctx context.Context, patientID int) ([]apiclient.LogEntry, error)
	LogEntry(ctx context.Context, id int) (*apiclient.LogEntry, error)
	CreateLogEntry(ctx context.Context, in apiclient.NewLogEntry) (*apiclient.LogEntry, error)
	DeleteLogEntry(ctx context.Context, id int) error
}
