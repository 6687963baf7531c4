package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/educhain/educhain/core"
	"github.com/educhain/educhain/core/profile"
)

// roleMiddleware lets through active profiles holding one of roles.
func roleMiddleware(auth *authenticator, roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			p, err := auth.getContextProfile(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context profile")
			}
			if len(roles) == 0 || core.StringInSlice(p.Role, roles) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

func foundationOnly(auth *authenticator) echo.MiddlewareFunc {
	return roleMiddleware(auth, profile.RoleFoundationManager)
}

// authed lets through any active profile.
func authed(auth *authenticator) echo.MiddlewareFunc {
	return roleMiddleware(auth)
}

// institutionAccess hides institutions the context profile may not act on: foundation managers see
// every institution, school managers only their own.
func institutionAccess(auth *authenticator, institutionID string, ctx echo.Context) error {
	p, err := auth.getContextProfile(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context profile")
	}
	if !p.CanAccessInstitution(institutionID) {
		return errHttpNotFound
	}
	return nil
}
