package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Role is the numeric user role issued by the platform ("rol").
type Role int

const (
	RoleAdmin      Role = 1
	RoleSpecialist Role = 2
	RolePatient    Role = 3
)

// Home destinations, one per role.
const (
	DestinationAdmin      = "AdminScreen"
	DestinationSpecialist = "HomeSpecialist"
	DestinationPatient    = "Blog"
)

// ErrUnknownRole is returned for role values outside the known set.
var ErrUnknownRole = fmt.Errorf("unknown user role")

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleSpecialist:
		return "specialist"
	case RolePatient:
		return "patient"
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleSpecialist || r == RolePatient
}

// Destination returns the home screen a user with this role lands on after
// login.
func (r Role) Destination() (string, error) {
	switch r {
	case RoleAdmin:
		return DestinationAdmin, nil
	case RoleSpecialist:
		return DestinationSpecialist, nil
	case RolePatient:
		return DestinationPatient, nil
	}
	return "", fmt.Errorf("%w: %d", ErrUnknownRole, int(r))
}

// ParseRole accepts a role name ("admin", "specialist", "patient") or its
// numeric form.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "admin", "1":
		return RoleAdmin, nil
	case "specialist", "especialista", "2":
		return RoleSpecialist, nil
	case "patient", "paciente", "3":
		return RolePatient, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

// RequireRole returns middleware that checks the session user has at least one
// of the given roles. Admins pass every check.
func RequireRole(roles ...Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			sess := SessionFromContext(c.Request().Context())
			if sess == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "not logged in")
			}
			if sess.Role == RoleAdmin {
				return next(c)
			}
			for _, required := range roles {
				if sess.Role == required {
					return next(c)
				}
			}
			names := make([]string, len(roles))
			for i, r := range roles {
				names[i] = r.String()
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(names, " or ")))
		}
	}
}
