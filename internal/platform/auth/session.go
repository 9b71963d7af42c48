package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/uioyp/companion/internal/platform/kvstore"
)

// Persisted session keys.
const (
	KeyToken    = "uioyp-token"
	KeyUserID   = "uioyp-id-us"
	KeyUsername = "uioyp-nombre-us"
	KeyRole     = "uioyp-rol"
)

// Session is the logged-in user of this device.
type Session struct {
	Token     string     `json:"-"`
	UserID    int        `json:"id_us"`
	Username  string     `json:"nombre_us"`
	Role      Role       `json:"rol"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the token carried an expiry that has passed.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}

// TokenClaims are the claims the companion reads from a platform token.
type TokenClaims struct {
	UserID    int
	ExpiresAt *time.Time
}

// ParseTokenClaims extracts the user id ("id_us", falling back to "sub") and
// expiry from a platform token. The signature is not verified: the token is
// opaque to the companion and only the platform validates it.
func ParseTokenClaims(token string) (*TokenClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	out := &TokenClaims{}
	if id, ok := intClaim(claims["id_us"]); ok {
		out.UserID = id
	} else if sub, err := claims.GetSubject(); err == nil && sub != "" {
		if id, err := strconv.Atoi(sub); err == nil {
			out.UserID = id
		}
	}
	if out.UserID == 0 {
		return nil, errors.New("token carries no user id")
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		t := exp.Time
		out.ExpiresAt = &t
	}
	return out, nil
}

func intClaim(v interface{}) (int, bool) {
	switch x := v.(type) {
	case float64:
		if x == float64(int(x)) && x > 0 {
			return int(x), true
		}
	case string:
		if n, err := strconv.Atoi(x); err == nil && n > 0 {
			return n, true
		}
	}
	return 0, false
}

// SessionStore persists the session in the key-value store.
type SessionStore struct {
	kv kvstore.Store
}

// NewSessionStore creates a SessionStore over kv.
func NewSessionStore(kv kvstore.Store) *SessionStore {
	return &SessionStore{kv: kv}
}

// Save writes every session field in one batch.
func (s *SessionStore) Save(ctx context.Context, sess *Session) error {
	return s.kv.SetMulti(ctx, map[string]string{
		KeyToken:    sess.Token,
		KeyUserID:   strconv.Itoa(sess.UserID),
		KeyUsername: sess.Username,
		KeyRole:     strconv.Itoa(int(sess.Role)),
	})
}

// Load returns the persisted session, or nil when nobody is logged in.
func (s *SessionStore) Load(ctx context.Context) (*Session, error) {
	token, ok, err := s.kv.Get(ctx, KeyToken)
	if err != nil {
		return nil, err
	}
	if !ok || token == "" {
		return nil, nil
	}
	sess := &Session{Token: token}

	if v, ok, err := s.kv.Get(ctx, KeyUserID); err != nil {
		return nil, err
	} else if ok {
		sess.UserID, _ = strconv.Atoi(v)
	}
	if v, ok, err := s.kv.Get(ctx, KeyUsername); err != nil {
		return nil, err
	} else if ok {
		sess.Username = v
	}
	if v, ok, err := s.kv.Get(ctx, KeyRole); err != nil {
		return nil, err
	} else if ok {
		n, _ := strconv.Atoi(v)
		sess.Role = Role(n)
	}

	if claims, err := ParseTokenClaims(token); err == nil {
		// Older sessions may lack the user id; recover it from the token.
		if sess.UserID == 0 {
			sess.UserID = claims.UserID
		}
		sess.ExpiresAt = claims.ExpiresAt
	}
	return sess, nil
}

// Clear forgets the session.
func (s *SessionStore) Clear(ctx context.Context) error {
	return s.kv.SetMulti(ctx, map[string]string{
		KeyToken:    "",
		KeyUserID:   "",
		KeyUsername: "",
		KeyRole:     "",
	})
}

// Token implements apiclient.TokenSource.
func (s *SessionStore) Token(ctx context.Context) (string, error) {
	v, _, err := s.kv.Get(ctx, KeyToken)
	return v, err
}
