package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fjod/storefront/internal/client"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/notify"
)

const (
	MsgUsernameRequired = "Username is a required field"
	MsgPasswordRequired = "Password is a required field"
	MsgLoggedIn         = "Logged in successfully"
	MsgLoginFailed      = "Something went wrong. Check that the backend is running, reachable and returns valid JSON."
)

// Authenticator is the login endpoint of the backend.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (*client.LoginResponse, error)
}

type Manager struct {
	auth     Authenticator
	store    Store
	notifier notify.Notifier
	logger   *slog.Logger
}

func NewManager(auth Authenticator, store Store, notifier notify.Notifier, logger *slog.Logger) *Manager {
	return &Manager{
		auth:     auth,
		store:    store,
		notifier: notifier,
		logger:   logger,
	}
}

// Current returns the stored session; a read failure counts as logged out.
func (m *Manager) Current(ctx context.Context) domain.Session {
	s, err := m.store.Load(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "session load failed", "error", err)
		return domain.Session{}
	}
	return s
}

// Login validates the form locally, authenticates against the backend and
// persists the returned session.
func (m *Manager) Login(ctx context.Context, username, password string) (domain.Session, error) {
	if username == "" {
		m.notifier.Notify(ctx, notify.Notification{Level: notify.LevelWarning, Message: MsgUsernameRequired})
		return domain.Session{}, domain.NewError(domain.ErrValidation, 0, MsgUsernameRequired)
	}
	if password == "" {
		m.notifier.Notify(ctx, notify.Notification{Level: notify.LevelWarning, Message: MsgPasswordRequired})
		return domain.Session{}, domain.NewError(domain.ErrValidation, 0, MsgPasswordRequired)
	}

	resp, err := m.auth.Login(ctx, username, password)
	if err != nil {
		m.logger.WarnContext(ctx, "login failed", "username", username, "error", err)
		msg := MsgLoginFailed
		if errors.Is(err, domain.ErrServerRejected) {
			msg = domain.MessageOf(err, MsgLoginFailed)
		}
		m.notifier.Notify(ctx, notify.Notification{Level: notify.LevelError, Message: msg})
		return domain.Session{}, err
	}

	s := domain.Session{
		Token:    resp.Token,
		Username: resp.Username,
		Balance:  resp.Balance.String(),
	}
	if err := m.store.Save(ctx, s); err != nil {
		return domain.Session{}, fmt.Errorf("persist session: %w", err)
	}

	m.logger.InfoContext(ctx, "logged in", "username", s.Username)
	m.notifier.Notify(ctx, notify.Notification{Level: notify.LevelSuccess, Message: MsgLoggedIn})
	return s, nil
}

// Logout wipes the stored session.
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
