package api

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	"tasksync/domain"
)

const DefaultKeyCacheTTL = 15 * time.Minute

// AuthConfig selects how bearer tokens are verified. With SharedSecret set
// tokens are HS256-signed locally; otherwise RS256 against JWKS.
type AuthConfig struct {
	JWKS         *keyfunc.JWKS
	Audience     string
	Issuer       string
	SharedSecret []byte
	KeyCacheTTL  time.Duration
}

// Auth validates incoming JWT tokens. The owner of a request is the token's
// sub claim.
type Auth struct {
	jwks     *keyfunc.JWKS
	audience string
	issuer   string
	secret   []byte

	parser      *jwt.Parser
	keyCache    sync.Map
	keyCacheTTL time.Duration
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

func NewAuth(cfg AuthConfig) (*Auth, error) {
	a := &Auth{
		jwks:        cfg.JWKS,
		audience:    cfg.Audience,
		issuer:      cfg.Issuer,
		secret:      cfg.SharedSecret,
		keyCacheTTL: cfg.KeyCacheTTL,
	}
	if a.keyCacheTTL < 0 {
		return nil, fmt.Errorf("invalid key cache ttl %s", a.keyCacheTTL)
	}
	switch {
	case len(a.secret) > 0:
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
	case a.jwks != nil:
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
	default:
		return nil, errors.New("auth: either a shared secret or a JWKS is required")
	}
	return a, nil
}

// LocalMode reports whether tokens are verified with the shared secret.
func (a *Auth) LocalMode() bool { return len(a.secret) > 0 }

// UserIDFromAuthHeader extracts the user identifier from the Authorization header.
func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	if h == "" {
		return "", errMissingAuthorization
	}
	token, err := bearerTokenFromString(h)
	if err != nil {
		return "", err
	}
	return a.UserIDFromToken(token)
}

// UserIDFromToken verifies a raw JWT and returns its subject.
func (a *Auth) UserIDFromToken(tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", errBadAuthorization
	}
	parsed, err := a.parser.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		if a.LocalMode() {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("invalid signing method")
			}
			return a.secret, nil
		}
		return a.keyForToken(t)
	})
	if err != nil {
		return "", unauthorized(err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", unauthorized(errors.New("invalid claims"))
	}

	now := time.Now().Add(time.Minute).Unix()
	switch {
	case !claims.VerifyExpiresAt(now-2*60, true):
		return "", unauthorized(errors.New("token expired"))
	case !claims.VerifyNotBefore(now, false):
		return "", unauthorized(errors.New("token not valid yet"))
	case !claims.VerifyIssuedAt(now, false):
		return "", unauthorized(errors.New("token used before issued"))
	case a.audience != "" && !claims.VerifyAudience(a.audience, false):
		return "", unauthorized(errors.New("invalid audience"))
	case a.issuer != "" && !claims.VerifyIssuer(a.issuer, false):
		return "", unauthorized(errors.New("invalid issuer"))
	}

	sub, _ := claims["sub"].(string)
	if strings.TrimSpace(sub) == "" {
		return "", unauthorized(errors.New("missing sub"))
	}
	return sub, nil
}

func unauthorized(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
}

func (a *Auth) keyForToken(token *jwt.Token) (any, error) {
	if a.jwks == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := token.Header["kid"].(string)
	if kid != "" && a.keyCacheTTL > 0 {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}

	key, err := a.jwks.Keyfunc(token)
	if err != nil {
		return nil, err
	}
	if kid != "" && a.keyCacheTTL > 0 {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(a.keyCacheTTL)})
	}
	return key, nil
}
