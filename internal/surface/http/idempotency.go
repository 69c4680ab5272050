package http

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// idempotencyTTL bounds how long an Idempotency-Key is remembered. Long
// enough to cover client retry storms, short enough not to grow redis
// without bound.
const idempotencyTTL = 24 * time.Hour

const idempotencyKeyPrefix = "idem:"

// idempotencyStore resolves an Idempotency-Key header to the conversation_id
// it previously produced, so a retried POST /conversation/store returns the
// original id instead of creating a duplicate conversation. Narrowed to an
// interface over *redis.Client (pkg/component/redis) so tests can fake it.
type idempotencyStore interface {
	// reserve atomically claims key for conversationID if key is unseen,
	// returning ("", false) in that case (caller proceeds to ingest). If key
	// was already claimed, it returns the conversation id it was claimed
	// with and true.
	reserve(ctx context.Context, key, conversationID string) (string, bool, error)
}

type redisIdempotencyStore struct {
	client *goredis.Client
}

func newRedisIdempotencyStore(client *goredis.Client) *redisIdempotencyStore {
	return &redisIdempotencyStore{client: client}
}

// NewRedisIdempotencyStore builds the idempotency store New's idem
// parameter expects, backed by an already-connected redis client. Exported
// so cmd/memoryd can wire it without reaching into this package's
// unexported types.
func NewRedisIdempotencyStore(client *goredis.Client) idempotencyStore {
	return newRedisIdempotencyStore(client)
}

func (s *redisIdempotencyStore) reserve(ctx context.Context, key, conversationID string) (string, bool, error) {
	ok, err := s.client.SetNX(ctx, idempotencyKeyPrefix+key, conversationID, idempotencyTTL).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return "", false, nil
	}
	existing, err := s.client.Get(ctx, idempotencyKeyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			// Key expired between SetNX and Get; treat as unclaimed.
			return "", false, nil
		}
		return "", false, err
	}
	return existing, true, nil
}
