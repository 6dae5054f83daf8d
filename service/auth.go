package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/zlnvch/boardsync/logging"
	"github.com/zlnvch/boardsync/models"
	"github.com/zlnvch/boardsync/store"
)

var (
	ErrTokenExpired   = errors.New("auth token expired")
	ErrTokenMalformed = errors.New("auth token malformed")
	ErrUserNotFound   = errors.New("user not found")
	ErrUnauthorized   = errors.New("user has no permission on whiteboard")
)

// PermissionSource resolves a user to a whiteboard tier. *session.Session
// implements it.
type PermissionSource interface {
	PermissionFor(userId string) (models.Tier, bool)
}

// CreateJWT signs a token for userId. Production tokens are issued by the
// account service; this is used by tests and local tooling.
func (s *Service) CreateJWT(userId string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userId,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.JWTSecret)
}

// VerifyToken checks the signature and expiry and returns the subject.
func (s *Service) VerifyToken(tokenString string) (string, error) {
	if len(tokenString) == 0 {
		return "", fmt.Errorf("%w: token not provided", ErrTokenMalformed)
	}

	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (any, error) {
		return s.JWTSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", fmt.Errorf("%w: missing sub claim", ErrTokenMalformed)
	}
	return subject, nil
}

// ResolveUser reads through the user cache to the store. Cache failures
// degrade to a store read.
func (s *Service) ResolveUser(ctx context.Context, userId string) (models.User, error) {
	user, found, err := s.Cache.GetUser(ctx, userId)
	if err != nil {
		logging.Warn().Err(err).Str("user_id", userId).Msg("User cache read failed")
	} else if found {
		return user, nil
	}

	user, err = s.Users.GetUser(ctx, userId)
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, fmt.Errorf("get user %s: %w", userId, err)
	}

	if err := s.Cache.SetUser(ctx, user); err != nil {
		logging.Warn().Err(err).Str("user_id", userId).Msg("User cache write failed")
	}
	return user, nil
}

// Login authenticates a bearer token against one whiteboard. A user with no
// entry in the whiteboard's permission index gets ErrUnauthorized.
func (s *Service) Login(ctx context.Context, whiteboard PermissionSource, token string) (models.User, models.Tier, error) {
	subject, err := s.VerifyToken(token)
	if err != nil {
		return models.User{}, models.TierNone, err
	}

	user, err := s.ResolveUser(ctx, subject)
	if err != nil {
		return models.User{}, models.TierNone, err
	}

	tier, ok := whiteboard.PermissionFor(user.Id)
	if !ok {
		return user, models.TierNone, ErrUnauthorized
	}
	return user, tier, nil
}
