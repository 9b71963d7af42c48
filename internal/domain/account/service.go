// Package account handles signing in and out of the remote platform.
package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/uioyp/companion/internal/domain/reminder"
	"github.com/uioyp/companion/internal/platform/apiclient"
	"github.com/uioyp/companion/internal/platform/auth"
)

var (
	ErrUsernameRequired = errors.New("username is required")
	ErrInvalidResponse  = errors.New("invalid login response")
)

// Remote is the remote API surface used for sign-in.
// *apiclient.Client implements it.
type Remote interface {
	Login(ctx context.Context, username string) (*apiclient.LoginResult, error)
	RegisterPushToken(ctx context.Context, userID int, token, platform string) error
}

// SessionStore persists the signed-in session. *auth.SessionStore implements it.
type SessionStore interface {
	Save(ctx context.Context, sess *auth.Session) error
	Clear(ctx context.Context) error
}

// ReminderEnsurer installs the daily reminder. *reminder.Syncer implements it.
type ReminderEnsurer interface {
	EnsureDailyReminder(ctx context.Context, fallback reminder.Schedule) (string, error)
}

type Config struct {
	// DefaultReminder is the reminder time used after login when neither the
	// server nor a previous sync provides one.
	DefaultReminder reminder.Schedule
	// PushToken, when set, is registered with the platform after login.
	PushToken    string
	PushPlatform string
}

// Result is the outcome of a successful login.
type Result struct {
	UserID      int       `json:"id_us"`
	Username    string    `json:"nombre_us"`
	Role        auth.Role `json:"rol"`
	Destination string    `json:"destination"`
}

type Service struct {
	cfg      Config
	remote   Remote
	sessions SessionStore
	reminder ReminderEnsurer
	logger   zerolog.Logger

	wg sync.WaitGroup
}

func NewService(cfg Config, remote Remote, sessions SessionStore, rem ReminderEnsurer, logger zerolog.Logger) *Service {
	return &Service{
		cfg:      cfg,
		remote:   remote,
		sessions: sessions,
		reminder: rem,
		logger:   logger.With().Str("component", "account").Logger(),
	}
}

// Login signs in, persists the session and returns where the user lands. The
// daily reminder sync and push registration continue in the background; Wait
// blocks until they finish.
func (s *Service) Login(ctx context.Context, username string) (*Result, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrUsernameRequired
	}

	resp, err := s.remote.Login(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if resp == nil || resp.Token == "" || resp.Role == nil {
		return nil, ErrInvalidResponse
	}
	role := auth.Role(*resp.Role)
	dest, err := role.Destination()
	if err != nil {
		return nil, err
	}

	sess := &auth.Session{Token: resp.Token, Username: resp.Username, Role: role}
	if claims, err := auth.ParseTokenClaims(resp.Token); err != nil {
		s.logger.Warn().Err(err).Msg("could not extract user id from token")
	} else {
		sess.UserID = claims.UserID
		sess.ExpiresAt = claims.ExpiresAt
	}
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	s.logger.Info().
		Int("user_id", sess.UserID).
		Str("role", role.String()).
		Msg("logged in")

	s.afterLogin(context.WithoutCancel(ctx), sess.UserID)

	return &Result{
		UserID:      sess.UserID,
		Username:    sess.Username,
		Role:        role,
		Destination: dest,
	}, nil
}

func (s *Service) afterLogin(ctx context.Context, userID int) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()

		if s.reminder != nil {
			if _, err := s.reminder.EnsureDailyReminder(ctx, s.cfg.DefaultReminder); err != nil {
				s.logger.Info().Err(err).Msg("daily reminder not installed")
			}
		}
		if s.cfg.PushToken != "" && userID != 0 {
			if err := s.remote.RegisterPushToken(ctx, userID, s.cfg.PushToken, s.cfg.PushPlatform); err != nil {
				s.logger.Warn().Err(err).Msg("register push token")
			}
		}
	}()
}

// Wait blocks until background work started by Login has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) Logout(ctx context.Context) error {
	if err := s.sessions.Clear(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	s.logger.Info().Msg("logged out")
	return nil
}
