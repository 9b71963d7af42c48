package apiclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Text decodes any JSON scalar (string, number, bool) into its text form and
// null into "". The remote API is inconsistent about identifier and date
// types; Text lets a single odd field degrade instead of failing the whole
// response.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(s)
	case '{', '[':
		// Objects and arrays are not meaningful here; treat as missing.
		*t = ""
	default:
		*t = Text(b)
	}
	return nil
}

// Int parses the text as a base-10 integer.
func (t Text) Int() (int, bool) {
	n, err := strconv.Atoi(string(t))
	return n, err == nil
}

func (t Text) String() string { return string(t) }

// LoginResult is the body of POST /usuarios/auth/login.
type LoginResult struct {
	Token    string `json:"token"`
	Role     *int   `json:"rol"`
	Username string `json:"nombre_us"`
}

// Patient is a patient profile as returned by /pacientes.
type Patient struct {
	ID         int  `json:"id"`
	UserID     int  `json:"id_us"`
	Name       Text `json:"nombre_us"`
	MuscleMass Text `json:"masa_muscular"`
	BloodType  Text `json:"tipo_sangre"`
	Conditions Text `json:"enfer_pat"`
	Phone      Text `json:"telefono"`
}

// Specialist is a specialist profile as returned by /especialistas.
type Specialist struct {
	ID     int  `json:"id"`
	UserID int  `json:"id_us"`
	Status Text `json:"estatus"`
	Area   Text `json:"area"`
}

// Progress is one progress record as returned by /progresos. All fields are
// Text because the remote may send them malformed.
type Progress struct {
	ID        Text `json:"id"`
	Stage     Text `json:"etapa"`
	Date      Text `json:"fecha"`
	PatientID Text `json:"id_pac"`
}

// ReminderTime is the global daily reminder time.
type ReminderTime struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// Validate checks the ranges of a ReminderTime.
func (r ReminderTime) Validate() error {
	if r.Hour < 0 || r.Hour > 23 {
		return fmt.Errorf("hour out of range: %d", r.Hour)
	}
	if r.Minute < 0 || r.Minute > 59 {
		return fmt.Errorf("minute out of range: %d", r.Minute)
	}
	return nil
}

// PatientReminder is a server-side reminder configured by a specialist for a
// single patient.
type PatientReminder struct {
	ID        int  `json:"id"`
	PatientID int  `json:"id_pac"`
	Hour      int  `json:"hour"`
	Minute    int  `json:"minute"`
	CreatedBy int  `json:"created_by"`
	Active    Text `json:"active"`
}

// IsActive reports whether the reminder is enabled. The API sends 1/0 or
// true/false depending on the endpoint.
func (r PatientReminder) IsActive() bool {
	switch r.Active {
	case "1", "true":
		return true
	}
	return false
}

// LogEntry is one daily log ("bitácora") entry as returned by /bitacoras.
type LogEntry struct {
	ID            Text `json:"id"`
	Date          Text `json:"fecha"`
	BloodPressure Text `json:"presion_ar"`
	Glucose       Text `json:"glucosa"`
	Meals         Text `json:"comidas"`
	Medications   Text `json:"medicamentos"`
	PatientID     Text `json:"id_pac"`
	// Patient is embedded by some list endpoints.
	Patient *LogEntryPatient `json:"paciente,omitempty"`
}

// LogEntryPatient is the patient summary embedded in a log entry.
type LogEntryPatient struct {
	Name Text `json:"nombre_us"`
}

// NewLogEntry is the body of POST /bitacoras.
type NewLogEntry struct {
	Date          string  `json:"fecha"`
	BloodPressure string  `json:"presion_ar"`
	Glucose       float64 `json:"glucosa"`
	PatientID     int     `json:"id_pac"`
	Meals         string  `json:"comidas,omitempty"`
	Medications   string  `json:"medicamentos,omitempty"`
}
