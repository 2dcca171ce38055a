package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	errMissingToken = errors.New("missing bearer token")
	errInvalidToken = errors.New("invalid bearer token")
	errForbidden    = errors.New("token not valid for this workspace")
)

// Authenticator checks HS256 bearer tokens carrying a workspace_id claim.
// A nil *Authenticator lets every request through.
type Authenticator struct {
	Secret string
	Issuer string
}

// NewAuthenticator returns nil when secret is empty.
func NewAuthenticator(secret, issuer string) *Authenticator {
	if strings.TrimSpace(secret) == "" {
		return nil
	}
	return &Authenticator{Secret: secret, Issuer: issuer}
}

// Workspace validates the request's bearer token and returns its workspace.
func (a *Authenticator) Workspace(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", errMissingToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name})}
	if a.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.Issuer))
	}
	parsed, err := jwt.Parse(strings.TrimSpace(token), func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(a.Secret), nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return "", errInvalidToken
	}
	workspace, _ := claims["workspace_id"].(string)
	if workspace == "" {
		return "", errInvalidToken
	}
	return workspace, nil
}

// requireWorkspace wraps handlers scoped by the {workspace} path value.
func (a *Authenticator) requireWorkspace(next http.HandlerFunc) http.HandlerFunc {
	if a == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		workspace, err := a.Workspace(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		if workspace != r.PathValue("workspace") {
			writeError(w, http.StatusForbidden, errForbidden)
			return
		}
		next(w, r)
	}
}

// scope returns the workspace a stream request is limited to: the token's
// when auth is on, otherwise the optional query parameter.
func (a *Authenticator) scope(r *http.Request) (string, int, error) {
	requested := r.URL.Query().Get("workspace")
	if a == nil {
		return requested, 0, nil
	}
	workspace, err := a.Workspace(r)
	if err != nil {
		return "", http.StatusUnauthorized, err
	}
	if requested != "" && requested != workspace {
		return "", http.StatusForbidden, errForbidden
	}
	return workspace, 0, nil
}
