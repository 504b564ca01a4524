// Package auth issues and verifies the signed bearer tokens that carry a
// caller's name and role.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"marginalia/internal/rbac"
	"marginalia/internal/util"
)

type Claims struct {
	User string    `json:"sub"`
	Role rbac.Role `json:"role"`
	JTI  string    `json:"jti"`
	Exp  int64     `json:"exp"`
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
	ErrMissingToken = errors.New("missing bearer token")
)

// Issue signs a token for user with role, valid for ttl.
func Issue(secret []byte, user string, role rbac.Role, ttl time.Duration) (string, error) {
	if strings.TrimSpace(user) == "" {
		return "", fmt.Errorf("%w: empty user", ErrInvalidToken)
	}
	if _, ok := rbac.Parse(string(role)); !ok {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidToken, role)
	}
	return IssueToken(secret, Claims{
		User: user,
		Role: role,
		JTI:  util.NewID("tok"),
		Exp:  time.Now().Add(ttl).Unix(),
	})
}

func IssueToken(secret []byte, claims Claims) (string, error) {
	payloadBytes, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(payloadBytes)
	return payload + "." + sign(secret, payload), nil
}

func ParseToken(secret []byte, token string) (Claims, error) {
	payload, signature, ok := strings.Cut(token, ".")
	if !ok || strings.Contains(signature, ".") {
		return Claims{}, ErrInvalidToken
	}
	if !hmac.Equal([]byte(signature), []byte(sign(secret, payload))) {
		return Claims{}, ErrInvalidToken
	}

	decoded, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(decoded, &claims); err != nil {
		return Claims{}, ErrInvalidToken
	}
	if claims.User == "" || claims.JTI == "" || claims.Exp == 0 {
		return Claims{}, ErrInvalidToken
	}
	if _, ok := rbac.Parse(string(claims.Role)); !ok {
		return Claims{}, ErrInvalidToken
	}
	if time.Now().Unix() >= claims.Exp {
		return Claims{}, ErrExpiredToken
	}
	return claims, nil
}

// FromRequest verifies the bearer token of r. Browsers cannot set headers on
// websocket upgrades, so the token is also accepted as the access_token
// query parameter.
func FromRequest(secret []byte, r *http.Request) (Claims, error) {
	token := ""
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	} else {
		token = r.URL.Query().Get("access_token")
	}
	if token == "" {
		return Claims{}, ErrMissingToken
	}
	return ParseToken(secret, token)
}

func sign(secret []byte, payload string) string {
	sum := hmac.New(sha256.New, secret)
	_, _ = sum.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(sum.Sum(nil))
}
