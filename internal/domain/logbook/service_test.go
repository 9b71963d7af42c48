package logbook

import (
	"context"
	"errors"
	"math"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/uioyp/companion/internal/platform/apiclient"
)

// -- Mock Source --

type mockSource struct {
	patients map[int]*apiclient.Patient // keyed by user id
	entries  map[int]apiclient.LogEntry
	created  []apiclient.NewLogEntry
	deleted  []int
	listErr  error
	nextID   int
}

func newMockSource() *mockSource {
	return &mockSource{
		patients: make(map[int]*apiclient.Patient),
		entries:  make(map[int]apiclient.LogEntry),
	}
}

func (m *mockSource) PatientByUser(_ context.Context, userID int) (*apiclient.Patient, error) {
	p, ok := m.patients[userID]
	if !ok {
		return nil, &apiclient.APIError{Status: 404, Message: "Paciente no encontrado"}
	}
	return p, nil
}

func (m *mockSource) ListLogEntries(_ context.Context, patientID int) ([]apiclient.LogEntry, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []apiclient.LogEntry
	for id := 1; id <= m.nextID; id++ {
		if e, ok := m.entries[id]; ok && e.PatientID == apiclient.Text(strconv.Itoa(patientID)) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockSource) LogEntry(_ context.Context, id int) (*apiclient.LogEntry, error) {
	e, ok := m.entries[id]
	if !ok {
		return nil, &apiclient.APIError{Status: 404, Message: "Bitácora no encontrada"}
	}
	return &e, nil
}

func (m *mockSource) CreateLogEntry(_ context.Context, in apiclient.NewLogEntry) (*apiclient.LogEntry, error) {
	m.created = append(m.created, in)
	return m.add(in.PatientID, in.BloodPressure, strconv.FormatFloat(in.Glucose, 'f', -1, 64)), nil
}

func (m *mockSource) DeleteLogEntry(_ context.Context, id int) error {
	if _, ok := m.entries[id]; !ok {
		return &apiclient.APIError{Status: 404, Message: "Bitácora no encontrada"}
	}
	delete(m.entries, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockSource) add(patientID int, pressure, glucose string) *apiclient.LogEntry {
	m.nextID++
	e := apiclient.LogEntry{
		ID:            apiclient.Text(strconv.Itoa(m.nextID)),
		BloodPressure: apiclient.Text(pressure),
		Glucose:       apiclient.Text(glucose),
		PatientID:     apiclient.Text(strconv.Itoa(patientID)),
	}
	m.entries[m.nextID] = e
	return &e
}

func newTestService(src Source) *Service {
	svc := NewService(src, zerolog.Nop())
	svc.nowFn = func() time.Time { return time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC) }
	return svc
}

func glucose(v float64) *float64 { return &v }

func TestInput_Validate(t *testing.T) {
	tests := []struct {
		name    string
		in      Input
		wantErr bool
	}{
		{"ok", Input{BloodPressure: " 120 80 ", Glucose: glucose(98.5)}, false},
		{"zero glucose", Input{BloodPressure: "120 80", Glucose: glucose(0)}, false},
		{"missing pressure", Input{BloodPressure: "  ", Glucose: glucose(98)}, true},
		{"long pressure", Input{BloodPressure: "120 / 80 mmHg", Glucose: glucose(98)}, true},
		{"missing glucose", Input{BloodPressure: "120 80"}, true},
		{"negative glucose", Input{BloodPressure: "120 80", Glucose: glucose(-1)}, true},
		{"nan glucose", Input{BloodPressure: "120 80", Glucose: glucose(math.NaN())}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.in
			err := in.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidEntry) {
				t.Errorf("err = %v, want ErrInvalidEntry", err)
			}
		})
	}
}

func TestFromAPI_OddGlucose(t *testing.T) {
	e := FromAPI(apiclient.LogEntry{ID: "4", Glucose: "alto", Patient: &apiclient.LogEntryPatient{Name: "ana"}})
	if e.Glucose != nil {
		t.Errorf("Glucose = %v, want nil", *e.Glucose)
	}
	if e.PatientName != "ana" {
		t.Errorf("PatientName = %q", e.PatientName)
	}
}

func TestService_Create(t *testing.T) {
	src := newMockSource()
	src.patients[7] = &apiclient.Patient{ID: 11, UserID: 7}
	svc := newTestService(src)

	e, err := svc.Create(context.Background(), 7, Input{
		BloodPressure: "120 80",
		Glucose:       glucose(101.5),
		Meals:         " avena ",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if e.ID != "1" || e.PatientID != "11" || e.Glucose == nil || *e.Glucose != 101.5 {
		t.Errorf("entry = %+v", e)
	}
	if len(src.created) != 1 {
		t.Fatalf("created = %d", len(src.created))
	}
	sent := src.created[0]
	if sent.Date != "2024-07-01T08:00:00Z" || sent.PatientID != 11 || sent.Meals != "avena" {
		t.Errorf("sent = %+v", sent)
	}
}

func TestService_Create_Rejects(t *testing.T) {
	src := newMockSource()
	svc := newTestService(src)

	if _, err := svc.Create(context.Background(), 7, Input{Glucose: glucose(90)}); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("err = %v, want ErrInvalidEntry", err)
	}
	if _, err := svc.Create(context.Background(), 7, Input{BloodPressure: "120 80", Glucose: glucose(90)}); !apiclient.IsNotFound(err) {
		t.Errorf("err = %v, want patient not found", err)
	}
	if len(src.created) != 0 {
		t.Errorf("remote called %d times", len(src.created))
	}
}

func TestService_MyEntries(t *testing.T) {
	src := newMockSource()
	src.patients[7] = &apiclient.Patient{ID: 11}
	src.add(11, "120 80", "98")
	src.add(12, "130 85", "110")
	src.add(11, "118 79", "101")
	svc := newTestService(src)

	got, err := svc.MyEntries(context.Background(), 7)
	if err != nil {
		t.Fatalf("MyEntries: %v", err)
	}
	if len(got) != 2 || got[0].ID != "1" || got[1].ID != "3" {
		t.Errorf("entries = %+v", got)
	}

	if _, err := svc.PatientEntries(context.Background(), 0); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("err = %v, want ErrInvalidEntry", err)
	}
}

func TestService_DeleteOwn(t *testing.T) {
	src := newMockSource()
	src.patients[7] = &apiclient.Patient{ID: 11}
	src.add(11, "120 80", "98")
	src.add(12, "130 85", "110")
	svc := newTestService(src)

	if err := svc.DeleteOwn(context.Background(), 7, 2); !errors.Is(err, ErrNotOwner) {
		t.Errorf("deleting another patient's entry: err = %v, want ErrNotOwner", err)
	}
	if err := svc.DeleteOwn(context.Background(), 7, 1); err != nil {
		t.Fatalf("DeleteOwn: %v", err)
	}
	if len(src.deleted) != 1 || src.deleted[0] != 1 {
		t.Errorf("deleted = %v", src.deleted)
	}
	if err := svc.Delete(context.Background(), 1); !apiclient.IsNotFound(err) {
		t.Errorf("second delete err = %v, want not found", err)
	}
}
