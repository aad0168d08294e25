package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/docsession/uploader/internal/models"
	"github.com/docsession/uploader/pkg/logger"
)

const recentRecordsKey = "session:recent_files"

// RedisStore shares the record history between service instances.
type RedisStore struct {
	client *redis.Client
	logger logger.Logger
}

func NewRedisStore(log logger.Logger, client *redis.Client) *RedisStore {
	return &RedisStore{client: client, logger: log}
}

func (r *RedisStore) SaveRecords(ctx context.Context, records ...models.SessionFileRecord) error {
	if len(records) == 0 {
		return nil
	}

	pipe := r.client.TxPipeline()
	// LPUSH in reverse so records[0] ends up at the head
	for i := len(records) - 1; i >= 0; i-- {
		data, err := json.Marshal(records[i])
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		pipe.LPush(ctx, recentRecordsKey, data)
	}
	pipe.LTrim(ctx, recentRecordsKey, 0, maxStoredRecords-1)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save records: %w", err)
	}
	return nil
}

func (r *RedisStore) RecentRecords(ctx context.Context, limit int) ([]models.SessionFileRecord, error) {
	if limit <= 0 {
		limit = maxStoredRecords
	}

	raw, err := r.client.LRange(ctx, recentRecordsKey, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}

	out := make([]models.SessionFileRecord, 0, len(raw))
	for _, item := range raw {
		var rec models.SessionFileRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			r.logger.Warn("skipping corrupt record entry", logger.Error(err))
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
