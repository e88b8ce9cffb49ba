package service

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/xela07ax/guild-gatekeeper/internal/console/domain"
	core "github.com/xela07ax/guild-gatekeeper/internal/domain"
	"github.com/xela07ax/guild-gatekeeper/internal/infra"
	"github.com/xela07ax/guild-gatekeeper/internal/infra/auth"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// AuthService выдает RS256 токены операторам из конфига.
type AuthService struct {
	operators  map[string]infra.OperatorConfig
	privateKey *rsa.PrivateKey
	ttl        time.Duration
	now        func() time.Time
	dummyHash  []byte
}

func NewAuthService(operators []infra.OperatorConfig, privateKey *rsa.PrivateKey, ttl time.Duration) *AuthService {
	byName := make(map[string]infra.OperatorConfig, len(operators))
	for _, op := range operators {
		byName[op.Username] = op
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	dummy, _ := bcrypt.GenerateFromPassword([]byte("gatekeeper"), bcrypt.MinCost)
	return &AuthService{operators: byName, privateKey: privateKey, ttl: ttl, now: time.Now, dummyHash: dummy}
}

func (s *AuthService) GenerateToken(_ context.Context, username, password string) (*domain.TokenResponse, error) {
	// 1. Аутентификация
	op, ok := s.operators[username]
	if !ok {
		// Сравниваем с пустым хэшем, чтобы время ответа не выдавало существование логина
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}

	// 2. Проверка пароля (используем bcrypt)
	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	// 3. Формирование Claims
	now := s.now()
	expiresAt := now.Add(s.ttl)
	scopes := make(map[string]bool, len(op.Scopes))
	for _, sc := range op.Scopes {
		scopes[sc] = true
	}
	claims := &core.CustomClaims{
		UserID: op.Username,
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    auth.Issuer,
			Subject:   op.Username,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	// 4. Подпись токена ЗАКРЫТЫМ КЛЮЧОМ (RS256)
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signedToken, err := token.SignedString(s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &domain.TokenResponse{
		AccessToken: signedToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.ttl.Seconds()),
	}, nil
}
