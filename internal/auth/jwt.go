package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"cinema-chat/internal/models"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrInactiveUser = errors.New("inactive user")
)

type UserLookup interface {
	GetUserByUsername(ctx context.Context, username string) (models.User, error)
}

// JWTValidator verifies access tokens issued by the auth service. The subject
// claim carries the username, which is resolved to an active user id.
type JWTValidator struct {
	secret    []byte
	algorithm string
	users     UserLookup
}

func NewJWTValidator(secret, algorithm string, users UserLookup) *JWTValidator {
	if algorithm == "" {
		algorithm = jwt.SigningMethodHS256.Alg()
	}
	return &JWTValidator{secret: []byte(secret), algorithm: algorithm, users: users}
}

// ValidateToken returns the id of the active user the token belongs to.
func (v *JWTValidator) ValidateToken(ctx context.Context, token string) (int, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{v.algorithm}), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	username, err := parsed.Claims.GetSubject()
	if err != nil || username == "" {
		return 0, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	user, err := v.users.GetUserByUsername(ctx, username)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !user.IsActive {
		return 0, ErrInactiveUser
	}
	return user.ID, nil
}

// IssueToken signs a token for username. Used by local tooling and tests.
func (v *JWTValidator) IssueToken(username string, ttl time.Duration) (string, error) {
	method := jwt.GetSigningMethod(v.algorithm)
	if method == nil {
		return "", fmt.Errorf("unsupported signing method %q", v.algorithm)
	}
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	return jwt.NewWithClaims(method, claims).SignedString(v.secret)
}
