package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/relaymesh/orchestrator/core"
)

// RedisHistorySink persists each session's turns to a capped, expiring
// Redis list so conversational context survives across replicas of this
// service without the core owning any storage of its own.
type RedisHistorySink struct {
	client     *redis.Client
	namespace  string
	maxEntries int64
	ttl        time.Duration
	log        core.Logger
}

// NewRedisHistorySink connects to redisURL and returns a sink whose keys
// are scoped under namespace. maxEntries caps how many messages are kept
// per session (oldest dropped first); ttl refreshes on every append so an
// idle session's history eventually expires.
func NewRedisHistorySink(redisURL, namespace string, maxEntries int64, ttl time.Duration, log core.Logger) (*RedisHistorySink, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, core.NewFrameworkError("orchestration.NewRedisHistorySink", core.KindInternal, fmt.Errorf("%w: %v", core.ErrInvalidConfiguration, err))
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, core.NewFrameworkError("orchestration.NewRedisHistorySink", core.KindUpstreamUnavailable, err)
	}

	if namespace == "" {
		namespace = "orchestrator"
	}
	if maxEntries <= 0 {
		maxEntries = 200
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if log == nil {
		log = &core.NoOpLogger{}
	}
	return &RedisHistorySink{client: client, namespace: namespace, maxEntries: maxEntries, ttl: ttl, log: log}, nil
}

func (s *RedisHistorySink) key(sessionID string) string {
	return fmt.Sprintf("%s:history:%s", s.namespace, sessionID)
}

// Append pushes msg onto sessionID's history, trims to maxEntries, and
// refreshes the session's TTL.
func (s *RedisHistorySink) Append(ctx context.Context, sessionID string, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return core.NewFrameworkError("RedisHistorySink.Append", core.KindInternal, err)
	}
	key := s.key(sessionID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, payload)
	pipe.LTrim(ctx, key, -s.maxEntries, -1)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return core.NewFrameworkError("RedisHistorySink.Append", core.KindUpstreamUnavailable, err)
	}
	return nil
}

// Load returns up to limit of the most recent messages for sessionID,
// oldest first. limit<=0 returns the full retained history.
func (s *RedisHistorySink) Load(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	key := s.key(sessionID)
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	raw, err := s.client.LRange(ctx, key, start, -1).Result()
	if err != nil {
		return nil, core.NewFrameworkError("RedisHistorySink.Load", core.KindUpstreamUnavailable, err)
	}
	out := make([]Message, 0, len(raw))
	for _, item := range raw {
		var m Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			s.log.Error("orchestration: history entry decode failed", map[string]interface{}{"session": sessionID, "error": err.Error()})
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Close releases the underlying Redis connection.
func (s *RedisHistorySink) Close() error {
	return s.client.Close()
}

var _ HistorySink = (*RedisHistorySink)(nil)
