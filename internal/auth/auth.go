// Package auth validates API keys on the HTTP transport and resolves them to
// a project identity. The stdio transport is trusted and skips auth entirely.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Authenticator validates an incoming HTTP request and returns a Project.
type Authenticator interface {
	Authenticate(r *http.Request) (*Project, error)
}

// Project holds the authenticated caller's identity and configuration.
type Project struct {
	ID       string
	Mode     string // "enforce" or "shadow"
	FailOpen bool
}

// ErrUnauthenticated is returned when no valid credentials are found.
var ErrUnauthenticated = errors.New("unauthenticated")

// ExtractAPIKey extracts a tgk_ API key from the Authorization header.
func ExtractAPIKey(r *http.Request) (string, error) {
	token := r.Header.Get("Authorization")
	if token == "" {
		return "", ErrUnauthenticated
	}
	token = strings.TrimPrefix(token, "Bearer ")
	token = strings.TrimPrefix(token, "bearer ")
	if !strings.HasPrefix(token, "tgk_") {
		return "", ErrUnauthenticated
	}
	return token, nil
}

type projectContextKey struct{}

// WithProject stashes the authenticated project on the request context so
// downstream dispatch handlers can attribute tool calls.
func WithProject(ctx context.Context, p *Project) context.Context {
	return context.WithValue(ctx, projectContextKey{}, p)
}

// ProjectFromContext returns the authenticated project, or nil when the call
// arrived over an unauthenticated transport.
func ProjectFromContext(ctx context.Context) *Project {
	p, _ := ctx.Value(projectContextKey{}).(*Project)
	return p
}
