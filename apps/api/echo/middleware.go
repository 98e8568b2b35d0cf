package echoapi

import (
	"github.com/labstack/echo/v4"

	"github.com/trezcool/rehabquest/core/user"
)

// roleMiddleware lets the request through when the authenticated account passes allowed.
// The account is reloaded from the store, so a revoked role or a deactivation applies immediately.
func roleMiddleware(auth *authenticator, allowed func(user.User) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			usr, err := auth.contextUser(ctx)
			if err != nil {
				return err
			}
			if !allowed(usr) {
				return errHttpForbidden
			}
			return next(ctx)
		}
	}
}

func adminMiddleware(auth *authenticator) echo.MiddlewareFunc {
	return roleMiddleware(auth, func(u user.User) bool { return u.IsAdmin() })
}

func patientMiddleware(auth *authenticator) echo.MiddlewareFunc {
	return roleMiddleware(auth, func(u user.User) bool { return u.IsPatient() })
}

func therapistMiddleware(auth *authenticator) echo.MiddlewareFunc {
	return roleMiddleware(auth, func(u user.User) bool { return u.IsTherapist() })
}
