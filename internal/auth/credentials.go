// Пакет auth — аутентификация пользователей WQT: проверка учётных данных,
// сессионные токены (HS256) и внешние токены провайдера (RS256, JWKS).
package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/Arsalanbashir831/ATECOWQT/internal/domain/rbac"
)

// Ошибки аутентификации.
var (
	// ErrInvalidCredentials — неизвестный пользователь или неверный пароль.
	ErrInvalidCredentials = errors.New("неверный идентификатор или пароль")
	// ErrInvalidToken — токен невалиден или просрочен.
	ErrInvalidToken = errors.New("невалидный или просроченный токен")
)

// CredentialStore проверяет учётные данные и возвращает роль пользователя.
type CredentialStore interface {
	Verify(ctx context.Context, id, secret string) (role string, err error)
}

// Account — учётная запись со статическим bcrypt-хэшем пароля.
type Account struct {
	ID           string
	PasswordHash string
	Role         string
}

// StaticCredentialStore — хранилище учётных записей из конфигурации.
// Пароли хранятся только в виде bcrypt-хэшей.
type StaticCredentialStore struct {
	accounts map[string]Account
}

// NewStaticCredentialStore создаёт хранилище учётных записей.
// Записи с пустым идентификатором пропускаются.
func NewStaticCredentialStore(accounts ...Account) (*StaticCredentialStore, error) {
	m := make(map[string]Account, len(accounts))
	for _, a := range accounts {
		if a.ID == "" {
			continue
		}
		if !rbac.IsValidRole(a.Role) {
			return nil, fmt.Errorf("учётная запись %s: недопустимая роль %q", a.ID, a.Role)
		}
		if _, err := bcrypt.Cost([]byte(a.PasswordHash)); err != nil {
			return nil, fmt.Errorf("учётная запись %s: некорректный bcrypt-хэш: %w", a.ID, err)
		}
		if _, dup := m[a.ID]; dup {
			return nil, fmt.Errorf("учётная запись %s задана дважды", a.ID)
		}
		m[a.ID] = a
	}
	return &StaticCredentialStore{accounts: m}, nil
}

// Verify сверяет пароль с хэшем учётной записи.
func (s *StaticCredentialStore) Verify(_ context.Context, id, secret string) (string, error) {
	a, ok := s.accounts[id]
	if !ok {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(secret)); err != nil {
		return "", ErrInvalidCredentials
	}
	return a.Role, nil
}

// Len возвращает количество учётных записей.
func (s *StaticCredentialStore) Len() int {
	return len(s.accounts)
}

// HashPassword возвращает bcrypt-хэш пароля.
func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("ошибка хэширования пароля: %w", err)
	}
	return string(h), nil
}
