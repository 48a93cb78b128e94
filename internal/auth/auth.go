package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/botlauncher/launcher/internal/domain"
)

// Backend is the subset of the API used for authentication.
type Backend interface {
	Login(ctx context.Context, email, password string) (string, error)
	Me(ctx context.Context) (*domain.User, error)
}

// SessionStore persists the session token.
type SessionStore interface {
	Session() (string, error)
	SaveSession(token string) error
	SaveSessionIfAbsent(token string) (bool, error)
	ClearSession() error
}

// Service owns the session token and the cached current user.
type Service struct {
	backend Backend
	store   SessionStore
	logger  *slog.Logger

	mu   sync.Mutex
	user *domain.User
}

func NewService(backend Backend, store SessionStore, logger *slog.Logger) *Service {
	return &Service{backend: backend, store: store, logger: logger}
}

// Session returns the stored session token, or "" when signed out.
func (s *Service) Session() (string, error) {
	return s.store.Session()
}

// CurrentUser returns the signed-in user, or nil when there is no session.
// The result is cached until the session changes.
func (s *Service) CurrentUser(ctx context.Context) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.user != nil {
		return s.user, nil
	}
	session, err := s.store.Session()
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	if session == "" {
		return nil, nil
	}
	user, err := s.backend.Me(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch current user: %w", err)
	}
	s.user = user
	return user, nil
}

// Login signs in with email and password and replaces the stored session.
func (s *Service) Login(ctx context.Context, email, password string) (*domain.User, error) {
	token, err := s.backend.Login(ctx, email, password)
	if err != nil {
		return nil, domain.AuthenticationError{Email: email, Err: err}
	}
	if err := s.store.SaveSession(token); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	s.invalidate()

	user, err := s.CurrentUser(ctx)
	if err != nil {
		return nil, domain.AuthenticationError{Email: email, Err: err}
	}
	s.logger.Info("Signed in", "email", email)
	return user, nil
}

// WriteSessionIfAbsent stores token only when no session exists yet.
func (s *Service) WriteSessionIfAbsent(token string) error {
	if token == "" {
		return nil
	}
	written, err := s.store.SaveSessionIfAbsent(token)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if written {
		s.invalidate()
		s.logger.Debug("Stored session received from remote command")
	}
	return nil
}

// Logout clears the session and the cached user.
func (s *Service) Logout() error {
	s.invalidate()
	return s.store.ClearSession()
}

func (s *Service) invalidate() {
	s.mu.Lock()
	s.user = nil
	s.mu.Unlock()
}
