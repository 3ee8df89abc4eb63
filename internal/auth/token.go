// Package auth issues and verifies the tokens that authorize signaling writes.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/voicecall/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

const issuer = "voicecall"

// ContextUserKey is the request context key holding the authenticated domain.User.
const ContextUserKey = "user"

var ErrInvalidToken = errors.New("invalid token")

// Claims carries the signaling identity.
type Claims struct {
	UserID   string `json:"uid"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue mints a signed HS256 token for user.
func (i *Issuer) Issue(user domain.User) (string, error) {
	now := i.now()
	claims := Claims{
		UserID:   string(user.ID),
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(user.ID),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses raw and returns the user it was issued for.
func (i *Issuer) Verify(raw string) (domain.User, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(i.now))
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return domain.User{}, ErrInvalidToken
	}
	uid, err := domain.ParseUserID(claims.UserID)
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	u, err := domain.NewUser(uid, claims.Username)
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return *u, nil
}

// Peek reads the user id from raw without checking the signature. Clients use
// it to learn their own identity; only the relay verifies.
func Peek(raw string) (domain.UserID, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	uid, err := domain.ParseUserID(claims.UserID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return uid, nil
}
