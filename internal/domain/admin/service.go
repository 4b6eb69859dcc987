package admin

import (
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"

	jwtpkg "postboard/internal/platform/jwt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotConfigured      = errors.New("admin login is not configured")
)

const TokenTTL = 12 * time.Hour

// Service checks the single configured administrator password.
type Service struct {
	passwordHash []byte
	jwt          *jwtpkg.Manager
}

func NewService(passwordHash string, jwt *jwtpkg.Manager) *Service {
	return &Service{passwordHash: []byte(passwordHash), jwt: jwt}
}

// Login returns a signed admin token when password matches.
func (s *Service) Login(password string) (string, error) {
	if len(s.passwordHash) == 0 {
		return "", ErrNotConfigured
	}
	if password == "" {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.jwt.Generate("admin", jwtpkg.RoleAdmin, TokenTTL)
}
