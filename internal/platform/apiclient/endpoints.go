package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Login authenticates a user by name.
func (c *Client) Login(ctx context.Context, username string) (*LoginResult, error) {
	var out struct {
		LoginResult
		Error string `json:"error"`
	}
	if _, err := c.do(ctx, http.MethodPost, "/usuarios/auth/login", nil,
		map[string]string{"nombre_us": username}, &out); err != nil {
		return nil, err
	}
	// The login endpoint reports some failures with a 200 and an error field.
	if out.Error != "" {
		return nil, &APIError{Status: http.StatusUnauthorized, Message: out.Error}
	}
	return &out.LoginResult, nil
}

// PatientByUser returns the patient profile owned by a user account.
func (c *Client) PatientByUser(ctx context.Context, userID int) (*Patient, error) {
	var out Patient
	if _, err := c.do(ctx, http.MethodGet, "/pacientes/by-usuario/"+strconv.Itoa(userID), nil, nil, &out); err != nil {
		return nil, err
	}
	if out.ID == 0 {
		return nil, fmt.Errorf("%w: patient without id", ErrUnavailable)
	}
	return &out, nil
}

// Patient returns a single patient profile.
func (c *Client) Patient(ctx context.Context, id int) (*Patient, error) {
	var out Patient
	if _, err := c.do(ctx, http.MethodGet, "/pacientes/"+strconv.Itoa(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PatientsBySpecialist lists the patients a specialist can manage.
func (c *Client) PatientsBySpecialist(ctx context.Context, specialistID int) ([]Patient, error) {
	var out []Patient
	if _, err := c.do(ctx, http.MethodGet, "/pacientes/by-especialista/"+strconv.Itoa(specialistID), nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SpecialistByUser returns the specialist profile owned by a user account.
func (c *Client) SpecialistByUser(ctx context.Context, userID int) (*Specialist, error) {
	var out Specialist
	if _, err := c.do(ctx, http.MethodGet, "/especialistas/por-usuario/"+strconv.Itoa(userID), nil, nil, &out); err != nil {
		return nil, err
	}
	if out.ID == 0 {
		return nil, fmt.Errorf("%w: specialist without id", ErrUnavailable)
	}
	return &out, nil
}

// ListProgress lists the progress records of a patient. A patientID of 0
// lists every record visible to the caller.
func (c *Client) ListProgress(ctx context.Context, patientID int) ([]Progress, error) {
	var q url.Values
	if patientID != 0 {
		q = url.Values{"id_pac": {strconv.Itoa(patientID)}}
	}
	var out []Progress
	if _, err := c.do(ctx, http.MethodGet, "/progresos", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateProgress records a new stage for a patient. The API answers with
// either an empty 201, the record itself, or {"success":true,"data":record}.
func (c *Client) CreateProgress(ctx context.Context, date, stage string, patientID int) (*Progress, error) {
	in := map[string]interface{}{"fecha": date, "etapa": stage, "id_pac": patientID}
	raw, err := c.do(ctx, http.MethodPost, "/progresos", nil, in, nil)
	if err != nil {
		return nil, err
	}
	created := &Progress{Date: Text(date), Stage: Text(stage), PatientID: Text(strconv.Itoa(patientID))}
	if len(bytes.TrimSpace(raw)) == 0 {
		return created, nil
	}

	var wrapped struct {
		Success bool      `json:"success"`
		Data    *Progress `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("%w: decode created progress: %v", ErrUnavailable, err)
	}
	if wrapped.Success && wrapped.Data != nil {
		return wrapped.Data, nil
	}
	var direct Progress
	if err := json.Unmarshal(raw, &direct); err == nil && direct.ID != "" {
		return &direct, nil
	}
	return created, nil
}

// DeleteProgress removes a progress record.
func (c *Client) DeleteProgress(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/progresos/"+url.PathEscape(id), nil, nil, nil)
	return err
}

// GlobalReminderTime fetches the server-wide daily reminder time. Any
// non-success status, malformed body or out-of-range value yields an error;
// callers treat every error as "unavailable".
func (c *Client) GlobalReminderTime(ctx context.Context) (ReminderTime, error) {
	var body struct {
		Hour   *int `json:"hour"`
		Minute *int `json:"minute"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/push/reminder-time", nil, nil, &body); err != nil {
		return ReminderTime{}, err
	}
	if body.Hour == nil || body.Minute == nil {
		return ReminderTime{}, fmt.Errorf("%w: reminder time missing hour or minute", ErrUnavailable)
	}
	rt := ReminderTime{Hour: *body.Hour, Minute: *body.Minute}
	if err := rt.Validate(); err != nil {
		return ReminderTime{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return rt, nil
}

// SetGlobalReminderTime changes the server-wide daily reminder time.
func (c *Client) SetGlobalReminderTime(ctx context.Context, rt ReminderTime) error {
	if err := rt.Validate(); err != nil {
		return err
	}
	_, err := c.do(ctx, http.MethodPost, "/push/reminder-time", nil, rt, nil)
	return err
}

// CreatePatientReminder schedules a server-side reminder for one patient.
func (c *Client) CreatePatientReminder(ctx context.Context, patientID, hour, minute, createdBy int) error {
	if err := (ReminderTime{Hour: hour, Minute: minute}).Validate(); err != nil {
		return err
	}
	in := map[string]int{"id_pac": patientID, "hour": hour, "minute": minute, "created_by": createdBy}
	_, err := c.do(ctx, http.MethodPost, "/push/patient-reminder", nil, in, nil)
	return err
}

// ListPatientReminders lists the reminders configured for a patient.
func (c *Client) ListPatientReminders(ctx context.Context, patientID int) ([]PatientReminder, error) {
	var out []PatientReminder
	q := url.Values{"id_pac": {strconv.Itoa(patientID)}}
	if _, err := c.do(ctx, http.MethodGet, "/push/patient-reminder", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetPatientReminderActive enables or disables a patient reminder.
func (c *Client) SetPatientReminderActive(ctx context.Context, id int, active bool) error {
	flag := 0
	if active {
		flag = 1
	}
	_, err := c.do(ctx, http.MethodPatch, "/push/patient-reminder/"+strconv.Itoa(id)+"/active", nil,
		map[string]int{"active": flag}, nil)
	return err
}

// DeletePatientReminder removes a patient reminder.
func (c *Client) DeletePatientReminder(ctx context.Context, id int) error {
	_, err := c.do(ctx, http.MethodDelete, "/push/patient-reminder/"+strconv.Itoa(id), nil, nil, nil)
	return err
}

// RegisterPushToken associates a device push token with a user.
func (c *Client) RegisterPushToken(ctx context.Context, userID int, token, platform string) error {
	if token == "" || userID == 0 {
		return errors.New("user id and token are required")
	}
	in := map[string]interface{}{"id_us": userID, "token": token, "platform": platform}
	_, err := c.do(ctx, http.MethodPost, "/push/register", nil, in, nil)
	return err
}

// ListLogEntries lists the daily log entries of a patient. A patientID of 0
// lists every entry visible to the caller.
func (c *Client) ListLogEntries(ctx context.Context, patientID int) ([]LogEntry, error) {
	var q url.Values
	if patientID != 0 {
		q = url.Values{"id_pac": {strconv.Itoa(patientID)}}
	}
	var out []LogEntry
	if _, err := c.do(ctx, http.MethodGet, "/bitacoras", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// LogEntry returns a single daily log entry.
func (c *Client) LogEntry(ctx context.Context, id int) (*LogEntry, error) {
	var out LogEntry
	if _, err := c.do(ctx, http.MethodGet, "/bitacoras/"+strconv.Itoa(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateLogEntry records a daily log entry. Like /progresos, the API answers
// with an empty 201, the entry itself or {"success":true,"data":entry}.
func (c *Client) CreateLogEntry(ctx context.Context, in NewLogEntry) (*LogEntry, error) {
	raw, err := c.do(ctx, http.MethodPost, "/bitacoras", nil, in, nil)
	if err != nil {
		return nil, err
	}
	created := &LogEntry{
		Date:          Text(in.Date),
		BloodPressure: Text(in.BloodPressure),
		Glucose:       Text(strconv.FormatFloat(in.Glucose, 'f', -1, 64)),
		Meals:         Text(in.Meals),
		Medications:   Text(in.Medications),
		PatientID:     Text(strconv.Itoa(in.PatientID)),
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return created, nil
	}

	var wrapped struct {
		Success bool      `json:"success"`
		Data    *LogEntry `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("%w: decode created log entry: %v", ErrUnavailable, err)
	}
	if wrapped.Success && wrapped.Data != nil {
		return wrapped.Data, nil
	}
	var direct LogEntry
	if err := json.Unmarshal(raw, &direct); err == nil && direct.ID != "" {
		return &direct, nil
	}
	return created, nil
}

// DeleteLogEntry removes a daily log entry.
func (c *Client) DeleteLogEntry(ctx context.Context, id int) error {
	_, err := c.do(ctx, http.MethodDelete, "/bitacoras/"+strconv.Itoa(id), nil, nil, nil)
	return err
}
