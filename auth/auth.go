// Package auth resolves an immutable request-scoped identity from inbound
// headers. Token records are process-wide configuration; the resolver itself
// is a pure lookup with no side effects.
package auth

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/carosellagiuliano-max/codeccloud-core/problem"
)

// Headers carries the raw request headers the resolver inspects. Lookups are
// case-insensitive.
type Headers map[string]string

// Get returns the first header value matching name, ignoring case.
func (h Headers) Get(name string) string {
	if value, ok := h[name]; ok {
		return value
	}

	for key, value := range h {
		if strings.EqualFold(key, name) {
			return value
		}
	}

	return ""
}

// Token is a registered bearer credential bound to one tenant.
type Token struct {
	Token     string
	TenantID  uuid.UUID
	UserID    uuid.UUID
	Roles     []string
	Scopes    []string
	Suspended bool
}

// Context is the per-request identity handed to the core after a successful
// resolution. It is immutable once produced.
type Context struct {
	RequestID   string
	TenantID    uuid.UUID
	UserID      uuid.UUID
	Roles       []string
	Scopes      []string
	WorkspaceID uuid.UUID
}

// HasRole reports whether the identity carries the role.
func (c Context) HasRole(role string) bool {
	for _, candidate := range c.Roles {
		if candidate == role {
			return true
		}
	}

	return false
}

// HasScope reports whether the identity carries the scope.
func (c Context) HasScope(scope string) bool {
	for _, candidate := range c.Scopes {
		if candidate == scope {
			return true
		}
	}

	return false
}

// Service validates bearer credentials against a token registry.
type Service struct {
	mu     sync.RWMutex
	tokens map[string]Token
}

// NewService creates a resolver seeded with initial tokens.
func NewService(initial ...Token) *Service {
	service := &Service{tokens: make(map[string]Token, len(initial))}

	for _, token := range initial {
		service.RegisterToken(token)
	}

	return service
}

// RegisterToken adds or replaces a credential in the registry.
func (s *Service) RegisterToken(token Token) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[token.Token] = token
}

// RevokeToken removes a credential from the registry.
func (s *Service) RevokeToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tokens, token)
}

// Authenticate extracts the bearer token and workspace header, validates them
// against the registry, and returns the request identity. Missing or unknown
// credentials fail with Unauthorized; a workspace header differing from the
// token's bound tenant fails with Forbidden.
func (s *Service) Authenticate(headers Headers) (Context, error) {
	requestID := headers.Get("X-Request-Id")
	if requestID == "" {
		requestID = uuid.NewString()
	}

	authHeader := headers.Get("Authorization")
	if authHeader == "" {
		return Context{}, problem.Unauthorized("Missing Authorization header.")
	}

	scheme, credential, found := strings.Cut(authHeader, " ")
	if !found || !strings.EqualFold(scheme, "bearer") || credential == "" {
		return Context{}, problem.Unauthorized("Unsupported Authorization header format.")
	}

	s.mu.RLock()
	record, ok := s.tokens[credential]
	s.mu.RUnlock()

	if !ok || record.Suspended {
		return Context{}, problem.Unauthorized("Invalid or inactive access token.")
	}

	workspaceHeader := headers.Get("X-Workspace-ID")
	if workspaceHeader == "" {
		return Context{}, problem.Unauthorized("X-Workspace-ID header missing.")
	}

	workspaceID, err := uuid.Parse(workspaceHeader)
	if err != nil {
		return Context{}, problem.Unauthorized("X-Workspace-ID header malformed.")
	}

	if workspaceID != record.TenantID {
		return Context{}, problem.Forbidden("Token does not grant access to this workspace.")
	}

	scopes := record.Scopes
	if scopes == nil {
		scopes = []string{}
	}

	return Context{
		RequestID:   requestID,
		TenantID:    record.TenantID,
		UserID:      record.UserID,
		Roles:       append([]string(nil), record.Roles...),
		Scopes:      append([]string(nil), scopes...),
		WorkspaceID: workspaceID,
	}, nil
}

// RequireRole fails with Forbidden when the identity lacks the role.
func RequireRole(identity Context, role string) error {
	if !identity.HasRole(role) {
		return problem.Forbidden(fmt.Sprintf("Role %s is required.", role))
	}

	return nil
}

// RequireScope fails with Forbidden when the identity lacks the scope.
func RequireScope(identity Context, scope string) error {
	if !identity.HasScope(scope) {
		return problem.Forbidden(fmt.Sprintf("Scope %s is required.", scope))
	}

	return nil
}
