// internal/history/recorder.go
//
// Match history capture. Each applied envelope is pushed onto a Redis list;
// the historian service drains the list and persists it to PostgreSQL. The
// game never waits on the database.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"eightsync/internal/config"
	"eightsync/internal/protocol"
)

// DefaultQueueName is the Redis list the recorder pushes to and the
// historian pops from.
const DefaultQueueName = "eightsync_actions"

// ActionRecord is the queue payload: one applied envelope plus the metadata
// the historian needs to place it.
type ActionRecord struct {
	MatchID   uuid.UUID       `json:"match_id"`
	Seq       uint64          `json:"seq"`
	Author    uuid.UUID       `json:"author"`
	Type      string          `json:"type"`
	Action    json.RawMessage `json:"action"`
	Final     bool            `json:"final,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// RedisRecorder implements netsync.Recorder over a Redis list.
type RedisRecorder struct {
	rdb   *redis.Client
	queue string
}

// Connect builds a recorder from environment variables:
//   - REDIS_ADDR (default "localhost:6379")
//   - REDIS_DB (optional, default 0)
//   - HISTORIAN_QUEUE_NAME (default DefaultQueueName)
func Connect() (*RedisRecorder, error) {
	addr := config.Env("REDIS_ADDR", "localhost:6379")
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   config.EnvInt("REDIS_DB", 0),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis at %s: %w", addr, err)
	}
	return &RedisRecorder{rdb: rdb, queue: config.Env("HISTORIAN_QUEUE_NAME", DefaultQueueName)}, nil
}

// Record serializes the envelope and pushes it to the queue. Called from the
// session's goroutine, so the timeout is kept short.
func (r *RedisRecorder) Record(matchID uuid.UUID, env protocol.Envelope, final bool) error {
	action, err := json.Marshal(env.Action)
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}
	rec := ActionRecord{
		MatchID:   matchID,
		Seq:       env.Seq,
		Author:    env.Author,
		Type:      string(env.Action.Type),
		Action:    action,
		Final:     final,
		Timestamp: time.Now().UnixMilli(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal action record: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.rdb.RPush(ctx, r.queue, data).Err(); err != nil {
		return fmt.Errorf("rpush to %q: %w", r.queue, err)
	}
	return nil
}

// Close releases the Redis connection.
func (r *RedisRecorder) Close() error {
	return r.rdb.Close()
}
