package auth

import (
	"context"
	"errors"
)

// Authenticator проверяет токен запроса: сначала как сессионный,
// затем (если настроен) как токен внешнего провайдера.
type Authenticator struct {
	sessions *SessionManager
	external *ExternalVerifier
}

// NewAuthenticator создаёт проверку токенов. external может быть nil.
func NewAuthenticator(sessions *SessionManager, external *ExternalVerifier) *Authenticator {
	return &Authenticator{sessions: sessions, external: external}
}

// Authenticate возвращает пользователя по токену.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	p, err := a.sessions.Parse(token)
	if err == nil {
		return p, nil
	}
	if a.external == nil {
		return nil, err
	}
	p, extErr := a.external.Verify(ctx, token)
	if extErr != nil {
		return nil, errors.Join(err, extErr)
	}
	return p, nil
}

// Sessions возвращает менеджер сессий.
func (a *Authenticator) Sessions() *SessionManager {
	return a.sessions
}
