package syncer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"device-hub/internal/models"
)

const (
	outboundKey = "sync:outbound"
	// Cap kept generous; the remote consumer drains this list.
	outboundMax = 100000
)

// RedisStore is the production RemoteStore: one RPUSH pipeline per batch so
// a failed round trip commits nothing the synchronizer would forget.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an already-configured client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// WriteBatch implements RemoteStore.
func (r *RedisStore) WriteBatch(ctx context.Context, entries []models.SyncEntry) error {
	if len(entries) == 0 {
		return nil
	}
	payloads := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal sync entry %s: %w", e.ID, err)
		}
		payloads = append(payloads, data)
	}

	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, outboundKey, payloads...)
	pipe.LTrim(ctx, outboundKey, -outboundMax, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write sync batch: %w", err)
	}
	return nil
}
