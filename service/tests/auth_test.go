package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zlnvch/boardsync/models"
	"github.com/zlnvch/boardsync/protocol"
	"github.com/zlnvch/boardsync/service"
	"github.com/zlnvch/boardsync/session"
	"github.com/zlnvch/boardsync/store"
)

type permissionTable map[string]models.Tier

func (p permissionTable) PermissionFor(userId string) (models.Tier, bool) {
	tier, ok := p[userId]
	return tier, ok
}

func TestCreateAndVerifyToken(t *testing.T) {
	svc, _, _, _, _ := setupService(t)

	token, err := svc.CreateJWT("user123", time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	subject, err := svc.VerifyToken(token)
	assert.NoError(t, err)
	assert.Equal(t, "user123", subject)
}

func TestVerifyToken_Expired(t *testing.T) {
	svc, _, _, _, _ := setupService(t)

	token, err := svc.CreateJWT("user123", -time.Minute)
	require.NoError(t, err)

	_, err = svc.VerifyToken(token)
	assert.ErrorIs(t, err, service.ErrTokenExpired)
}

func TestVerifyToken_Malformed(t *testing.T) {
	svc, _, _, _, _ := setupService(t)

	for _, token := range []string{"", "invalid.token.string", "abc"} {
		_, err := svc.VerifyToken(token)
		assert.ErrorIs(t, err, service.ErrTokenMalformed, "token %q", token)
	}
}

func TestVerifyToken_WrongSecret(t *testing.T) {
	svc, _, _, _, _ := setupService(t)
	other := &service.Service{JWTSecret: []byte("other-secret")}

	token, err := other.CreateJWT("user123", time.Hour)
	require.NoError(t, err)

	_, err = svc.VerifyToken(token)
	assert.ErrorIs(t, err, service.ErrTokenMalformed)
}

func TestVerifyToken_MissingSubject(t *testing.T) {
	svc, _, _, _, _ := setupService(t)

	claims := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)

	_, err = svc.VerifyToken(token)
	assert.ErrorIs(t, err, service.ErrTokenMalformed)
}

func TestVerifyToken_MissingExpiry(t *testing.T) {
	svc, _, _, _, _ := setupService(t)

	claims := jwt.RegisteredClaims{Subject: "user123"}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)

	_, err = svc.VerifyToken(token)
	assert.ErrorIs(t, err, service.ErrTokenMalformed)
}

func TestLogin_EditTier_CacheHit(t *testing.T) {
	svc, _, mockUsers, mockCache, _ := setupService(t)
	ctx := context.Background()

	user := models.User{Id: "u1", Username: "alice"}
	mockCache.On("GetUser", ctx, "u1").Return(user, true, nil)

	token, _ := svc.CreateJWT("u1", time.Hour)
	got, tier, err := svc.Login(ctx, permissionTable{"u1": models.TierEdit}, token)

	require.NoError(t, err)
	assert.Equal(t, user, got)
	assert.Equal(t, models.TierEdit, tier)
	assert.True(t, tier.CanEdit())
	mockUsers.AssertNotCalled(t, "GetUser", mock.Anything, mock.Anything)
}

func TestLogin_CacheMissSeedsCache(t *testing.T) {
	svc, _, mockUsers, mockCache, _ := setupService(t)
	ctx := context.Background()

	user := models.User{Id: "u1", Username: "alice", Email: "alice@example.com"}
	mockCache.On("GetUser", ctx, "u1").Return(models.User{}, false, nil)
	mockUsers.On("GetUser", ctx, "u1").Return(user, nil)
	mockCache.On("SetUser", ctx, user).Return(nil)

	token, _ := svc.CreateJWT("u1", time.Hour)
	got, tier, err := svc.Login(ctx, permissionTable{"u1": models.TierView}, token)

	require.NoError(t, err)
	assert.Equal(t, user, got)
	assert.Equal(t, models.TierView, tier)
	mockCache.AssertExpectations(t)
	mockUsers.AssertExpectations(t)
}

func TestLogin_CacheErrorFallsBackToStore(t *testing.T) {
	svc, _, mockUsers, mockCache, _ := setupService(t)
	ctx := context.Background()

	user := models.User{Id: "u1", Username: "alice"}
	mockCache.On("GetUser", ctx, "u1").Return(models.User{}, false, errors.New("redis down"))
	mockUsers.On("GetUser", ctx, "u1").Return(user, nil)
	mockCache.On("SetUser", ctx, user).Return(errors.New("redis down"))

	token, _ := svc.CreateJWT("u1", time.Hour)
	_, tier, err := svc.Login(ctx, permissionTable{"u1": models.TierOwn}, token)

	require.NoError(t, err)
	assert.Equal(t, models.TierOwn, tier)
}

func TestLogin_Unauthorized(t *testing.T) {
	svc, _, _, mockCache, _ := setupService(t)
	ctx := context.Background()

	mockCache.On("GetUser", ctx, "stranger").Return(models.User{Id: "stranger"}, true, nil)

	token, _ := svc.CreateJWT("stranger", time.Hour)
	_, tier, err := svc.Login(ctx, permissionTable{"u1": models.TierEdit}, token)

	assert.ErrorIs(t, err, service.ErrUnauthorized)
	assert.Equal(t, models.TierNone, tier)
}

func TestLogin_UserNotFound(t *testing.T) {
	svc, _, mockUsers, mockCache, _ := setupService(t)
	ctx := context.Background()

	mockCache.On("GetUser", ctx, "ghost").Return(models.User{}, false, nil)
	mockUsers.On("GetUser", ctx, "ghost").Return(models.User{}, store.ErrItemNotFound)

	token, _ := svc.CreateJWT("ghost", time.Hour)
	_, _, err := svc.Login(ctx, permissionTable{}, token)

	assert.ErrorIs(t, err, service.ErrUserNotFound)
	mockCache.AssertNotCalled(t, "SetUser", mock.Anything, mock.Anything)
}

func TestLogin_BadToken(t *testing.T) {
	svc, _, _, mockCache, _ := setupService(t)

	_, _, err := svc.Login(context.Background(), permissionTable{}, "garbage")

	assert.ErrorIs(t, err, service.ErrTokenMalformed)
	mockCache.AssertNotCalled(t, "GetUser", mock.Anything, mock.Anything)
}

func TestClientErrorFor(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   protocol.ErrorKind
		action string
	}{
		{"expired", service.ErrTokenExpired, protocol.KindAuthTokenExpired, ""},
		{"malformed", service.ErrTokenMalformed, protocol.KindInvalidAuth, ""},
		{"user not found", service.ErrUserNotFound, protocol.KindUserNotFound, ""},
		{"unauthorized", service.ErrUnauthorized, protocol.KindUnauthorized, ""},
		{"whiteboard not found", session.ErrWhiteboardNotFound, protocol.KindWhiteboardNotFound, ""},
		{"canvas not found", session.ErrCanvasNotFound, protocol.KindCanvasNotFound, ""},
		{"canvas forbidden", session.ErrCanvasForbidden, protocol.KindActionForbidden, protocol.TypeCreateShapes},
		{"invalid allowed user", session.ErrInvalidAllowedUser, protocol.KindOther, ""},
		{"invalid message", protocol.ErrInvalidMessage, protocol.KindInvalidMessage, ""},
		{"unknown", errors.New("dynamo exploded: secret table arn"), protocol.KindOther, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := service.ClientErrorFor(tt.err, protocol.TypeCreateShapes)
			assert.Equal(t, tt.kind, ce.Kind)
			assert.Equal(t, tt.action, ce.Action)
			assert.NotContains(t, ce.Message, "secret")
		})
	}
}

func TestPublishPresence_ErrorIsSwallowed(t *testing.T) {
	svc, _, _, mockCache, _ := setupService(t)

	users := []models.UserSummary{{UserId: "u1", Username: "alice"}}
	done := wrapMockWithSignal(mockCache.On("SetPresence", mock.Anything, "wb1", users).Return(errors.New("redis down")))

	svc.PublishPresence(context.Background(), "wb1", users)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SetPresence not called")
	}
}
