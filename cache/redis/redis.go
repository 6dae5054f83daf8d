package redis

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/zlnvch/boardsync/models"
)

const (
	cacheTTL    = 10 * time.Minute
	presenceTTL = 2 * time.Minute
)

type RedisCache struct {
	client redis.UniversalClient
}

func NewRedisCache(ctx context.Context, devMode bool, redisEndpoint string) (*RedisCache, error) {
	opts := &redis.Options{Addr: redisEndpoint}
	if !devMode {
		// AWS elasticache endpoints require TLS
		opts.TLSConfig = &tls.Config{}
	}
	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return NewRedisCacheWithClient(client), nil
}

func NewRedisCacheWithClient(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

// Hash tags keep a whiteboard's keys in one cluster slot.
func buildUserKey(userId string) string {
	return "user:{" + userId + "}"
}

func buildPresenceKey(whiteboardId string) string {
	return "whiteboard:{" + whiteboardId + "}:presence"
}

// PresenceChannel is where presence snapshots are published.
func PresenceChannel(whiteboardId string) string {
	return buildPresenceKey(whiteboardId)
}

func (redisCache *RedisCache) GetUser(ctx context.Context, userId string) (models.User, bool, error) {
	fields, err := redisCache.client.HGetAll(ctx, buildUserKey(userId)).Result()
	if err != nil {
		return models.User{}, false, err
	}
	if len(fields) == 0 {
		return models.User{}, false, nil
	}

	return models.User{
		Id:       userId,
		Username: fields["username"],
		Email:    fields["email"],
	}, true, nil
}

func (redisCache *RedisCache) SetUser(ctx context.Context, user models.User) error {
	key := buildUserKey(user.Id)

	pipe := redisCache.client.Pipeline()
	pipe.HSet(ctx, key, "username", user.Username, "email", user.Email)
	pipe.Expire(ctx, key, cacheTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// SetPresence stores the snapshot with a short TTL and publishes it. An
// empty list deletes the key.
func (redisCache *RedisCache) SetPresence(ctx context.Context, whiteboardId string, users []models.UserSummary) error {
	if users == nil {
		users = []models.UserSummary{}
	}
	data, err := json.Marshal(users)
	if err != nil {
		return err
	}

	key := buildPresenceKey(whiteboardId)
	pipe := redisCache.client.Pipeline()
	if len(users) == 0 {
		pipe.Del(ctx, key)
	} else {
		pipe.Set(ctx, key, data, presenceTTL)
	}
	pipe.Publish(ctx, PresenceChannel(whiteboardId), data)
	_, err = pipe.Exec(ctx)
	return err
}
