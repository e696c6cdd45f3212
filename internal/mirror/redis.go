// Package mirror publishes the broker's presence snapshots to Redis so
// processes outside the broker can watch who is online.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pelusa-v/pelusa-broker/internal/chat"
	"github.com/pelusa-v/pelusa-broker/internal/config"
)

// Snapshot is the payload published on the mirror channel.
type Snapshot struct {
	Type        string      `json:"type"`
	Users       []chat.User `json:"users"`
	Count       int         `json:"count"`
	PublishedAt time.Time   `json:"published_at"`
}

// RedisMirror publishes each snapshot on Channel and keeps the latest one
// under LatestKey for observers that start late.
type RedisMirror struct {
	client  redis.UniversalClient
	channel string
	timeout time.Duration
	now     func() time.Time
}

// NewRedisMirror connects to Redis and checks the connection.
func NewRedisMirror(ctx context.Context, cfg config.MirrorConfig) (*RedisMirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddress,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return newRedisMirror(client, cfg), nil
}

func newRedisMirror(client redis.UniversalClient, cfg config.MirrorConfig) *RedisMirror {
	return &RedisMirror{
		client:  client,
		channel: cfg.Channel,
		timeout: cfg.Timeout,
		now:     time.Now,
	}
}

// LatestKey is where the most recent snapshot is stored.
func (r *RedisMirror) LatestKey() string {
	return r.channel + ":latest"
}

func (r *RedisMirror) encode(users []chat.User) ([]byte, error) {
	if users == nil {
		users = []chat.User{}
	}
	data, err := json.Marshal(Snapshot{
		Type:        chat.EventPresenceUpdated,
		Users:       users,
		Count:       len(users),
		PublishedAt: r.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}

// PublishPresence implements chat.PresenceMirror.
func (r *RedisMirror) PublishPresence(ctx context.Context, users []chat.User) error {
	data, err := r.encode(users)
	if err != nil {
		return err
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.LatestKey(), data, 0)
		pipe.Publish(ctx, r.channel, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish presence: %w", err)
	}
	return nil
}

func (r *RedisMirror) Close() error {
	return r.client.Close()
}
