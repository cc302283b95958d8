package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/Arsalanbashir831/ATECOWQT/internal/domain/rbac"
)

// Параметры JWKS.
const (
	jwksRefreshInterval = time.Hour
	jwksClientTimeout   = 10 * time.Second
	jwtLeeway           = 30 * time.Second
)

// externalClaims — claims токена внешнего провайдера.
// Роль берётся из claim "role" или realm_access.roles.
type externalClaims struct {
	jwt.RegisteredClaims
	Role        string       `json:"role,omitempty"`
	RealmAccess *realmAccess `json:"realm_access,omitempty"`
}

type realmAccess struct {
	Roles []string `json:"roles"`
}

// ExternalVerifier проверяет RS256-токены внешнего провайдера через JWKS.
type ExternalVerifier struct {
	jwks   keyfunc.Keyfunc
	issuer string
	logger *slog.Logger
}

// NewExternalVerifier создаёт проверку токенов с JWKS по URL.
// Ключи обновляются в фоне; недоступность провайдера при старте не ошибка.
func NewExternalVerifier(jwksURL, issuer string, logger *slog.Logger) (*ExternalVerifier, error) {
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: jwksClientTimeout},
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           jwksRefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}
	return NewExternalVerifierWithKeyfunc(k, issuer, logger), nil
}

// NewExternalVerifierWithKeyfunc создаёт проверку с предоставленной keyfunc.
// Используется в тестах для подстановки JWKS.
func NewExternalVerifierWithKeyfunc(kf keyfunc.Keyfunc, issuer string, logger *slog.Logger) *ExternalVerifier {
	return &ExternalVerifier{
		jwks:   kf,
		issuer: issuer,
		logger: logger.With(slog.String("component", "external_auth")),
	}
}

// Verify проверяет подпись и срок токена и определяет роль.
func (v *ExternalVerifier) Verify(ctx context.Context, tokenString string) (*Principal, error) {
	claims := &externalClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(jwtLeeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	if _, err := jwt.ParseWithClaims(tokenString, claims, v.jwks.KeyfuncCtx(ctx), opts...); err != nil {
		v.logger.Debug("Внешний токен не прошёл проверку", slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	roles := []string{claims.Role}
	if claims.RealmAccess != nil {
		roles = append(roles, claims.RealmAccess.Roles...)
	}
	role := rbac.HighestRole(roles)
	if claims.Subject == "" || role == "" {
		return nil, fmt.Errorf("%w: нет субъекта или роли", ErrInvalidToken)
	}

	return &Principal{
		Subject:   claims.Subject,
		Role:      role,
		Source:    SourceExternal,
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}, nil
}
