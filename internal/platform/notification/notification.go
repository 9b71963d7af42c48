// Package notification owns local notifications: the templates their text is
// rendered from, the recurring trigger scheduler that fires them, and the
// deliverers that present them.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ChannelDailyReminders is the channel recurring reminders are posted on.
const ChannelDailyReminders = "daily-reminders"

// ChannelProgress carries notifications about a patient's progress.
const ChannelProgress = "progress"

// Built-in template IDs.
const (
	TemplateDailyLog     = "daily-log-reminder"
	TemplateStageReached = "stage-reached"
)

// ---------------------------------------------------------------------------
// Notification
// ---------------------------------------------------------------------------

// Notification is a single notification presented to the user.
type Notification struct {
	ID      string    `json:"id"`
	Handle  string    `json:"handle"`
	Channel string    `json:"channel"`
	Title   string    `json:"title"`
	Body    string    `json:"body"`
	FiredAt time.Time `json:"fired_at"`
}

// Deliverer presents a notification to the user.
type Deliverer interface {
	Deliver(ctx context.Context, n Notification) error
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(ctx context.Context, n Notification) error

func (f DelivererFunc) Deliver(ctx context.Context, n Notification) error { return f(ctx, n) }

// Fanout delivers to every deliverer in order and joins their errors.
type Fanout []Deliverer

func (f Fanout) Deliver(ctx context.Context, n Notification) error {
	var errs []error
	for _, d := range f {
		if err := d.Deliver(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogDeliverer writes notifications to the structured log. Desktop shells
// tail the agent log; headless deployments rely on it for audit.
type LogDeliverer struct {
	Logger zerolog.Logger
}

func (d LogDeliverer) Deliver(_ context.Context, n Notification) error {
	d.Logger.Info().
		Str("notification_id", n.ID).
		Str("handle", n.Handle).
		Str("channel", n.Channel).
		Str("title", n.Title).
		Str("body", n.Body).
		Msg("notification")
	return nil
}

// ---------------------------------------------------------------------------
// Templates
// ---------------------------------------------------------------------------

// Template is the text of a notification. Title and Body may contain
// {{key}} placeholders.
type Template struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

var builtInTemplates = []Template{
	{
		ID:    TemplateDailyLog,
		Title: "Registro de bitácora",
		Body:  "No olvides registrar tu progreso de hoy en la bitácora ✍️",
	},
	{
		ID:    TemplateStageReached,
		Title: "¡Nueva etapa!",
		Body:  "{{name}}, alcanzaste la etapa {{stage}}: {{label}}.",
	},
}

// TemplateEngine renders notification text by template ID.
type TemplateEngine struct {
	mu   sync.RWMutex
	byID map[string]Template
}

// NewTemplateEngine returns an engine holding the built-in templates.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{byID: make(map[string]Template, len(builtInTemplates))}
	for _, t := range builtInTemplates {
		e.byID[t.ID] = t
	}
	return e
}

// RegisterTemplate adds t, replacing any template with the same ID.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	e.byID[t.ID] = t
	e.mu.Unlock()
}

// Render fills the placeholders of a template. Placeholders without a value in
// data stay in the output.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (title, body string, err error) {
	e.mu.RLock()
	t, ok := e.byID[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("unknown notification template %q", templateID)
	}
	if len(data) == 0 {
		return t.Title, t.Body, nil
	}

	pairs := make([]string, 0, 2*len(data))
	for k, v := range data {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	r := strings.NewReplacer(pairs...)
	return r.Replace(t.Title), r.Replace(t.Body), nil
}
