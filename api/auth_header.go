package api

import (
	"errors"
	"fmt"
	"strings"

	"github.com/labstack/echo/v4"

	"tasksync/domain"
)

var (
	errMissingAuthorization = fmt.Errorf("%w: missing authorization header", domain.ErrUnauthorized)
	errBadAuthorization     = fmt.Errorf("%w: bad auth header", domain.ErrUnauthorized)
)

const bearerPrefix = "Bearer "

func bearerTokenFromString(raw string) (string, error) {
	raw = strings.Trim(raw, " ")
	if raw == "" {
		return "", errMissingAuthorization
	}
	if len(raw) <= len(bearerPrefix) || !strings.HasPrefix(raw, bearerPrefix) {
		return "", errBadAuthorization
	}
	token := raw[len(bearerPrefix):]
	if strings.Count(token, ".") != 2 {
		return "", errBadAuthorization
	}
	return token, nil
}

// ownerFromRequest authenticates the request by its Authorization header, or
// by the token query parameter for EventSource clients that cannot set
// headers.
func ownerFromRequest(c echo.Context, auth Authenticator) (string, error) {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if header == "" {
		if token := c.QueryParam("token"); token != "" {
			header = bearerPrefix + token
		}
	}
	owner, err := auth.UserIDFromAuthHeader(header)
	if err != nil {
		if !errors.Is(err, domain.ErrUnauthorized) {
			err = fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
		}
		return "", err
	}
	return owner, nil
}
