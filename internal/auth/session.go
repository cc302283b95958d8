package auth

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Arsalanbashir831/ATECOWQT/internal/domain/rbac"
)

// sessionIssuer — issuer сессионных токенов.
const sessionIssuer = "wqt"

// Источники аутентификации.
const (
	SourceSession  = "session"
	SourceExternal = "external"
)

// Principal — аутентифицированный пользователь.
type Principal struct {
	// Subject — идентификатор пользователя
	Subject string `json:"subject"`
	// Role — роль (supervisor, inspector)
	Role string `json:"role"`
	// Source — источник токена (session, external)
	Source string `json:"source"`
	// ExpiresAt — окончание действия токена
	ExpiresAt time.Time `json:"expires_at"`
}

// sessionClaims — claims сессионного токена.
type sessionClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// SessionManager выпускает и проверяет сессионные токены (HS256).
type SessionManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionManager создаёт менеджер сессий. Пустой secret заменяется
// случайным ключом: сессии не переживают перезапуск.
func NewSessionManager(secret string, ttl time.Duration) (*SessionManager, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("ошибка генерации ключа сессий: %w", err)
		}
	}
	return &SessionManager{secret: key, ttl: ttl, now: time.Now}, nil
}

// TTL возвращает время жизни сессии.
func (m *SessionManager) TTL() time.Duration {
	return m.ttl
}

// Issue выпускает сессионный токен.
func (m *SessionManager) Issue(subject, role string) (string, *Principal, error) {
	if !rbac.IsValidRole(role) {
		return "", nil, fmt.Errorf("недопустимая роль %q", role)
	}
	now := m.now()
	exp := now.Add(m.ttl)
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Role: role,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", nil, fmt.Errorf("ошибка подписи токена: %w", err)
	}
	return token, &Principal{Subject: subject, Role: role, Source: SourceSession, ExpiresAt: exp.UTC()}, nil
}

// Parse проверяет сессионный токен.
func (m *SessionManager) Parse(tokenString string) (*Principal, error) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" || !rbac.IsValidRole(claims.Role) {
		return nil, ErrInvalidToken
	}
	return &Principal{
		Subject:   claims.Subject,
		Role:      claims.Role,
		Source:    SourceSession,
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}, nil
}
