package api

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// LocalToken describes an HS256 token accepted in local auth mode.
type LocalToken struct {
	Subject  string
	Audience string
	Issuer   string
	TTL      time.Duration
}

// SignLocalToken signs t with secret.
func SignLocalToken(secret []byte, t LocalToken) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("secret must be set")
	}
	if t.Subject == "" {
		return "", errors.New("subject must be set")
	}
	if t.TTL <= 0 {
		t.TTL = time.Hour
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": t.Subject,
		"iat": now.Unix(),
		"exp": now.Add(t.TTL).Unix(),
	}
	if t.Audience != "" {
		claims["aud"] = t.Audience
	}
	if t.Issuer != "" {
		claims["iss"] = t.Issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
