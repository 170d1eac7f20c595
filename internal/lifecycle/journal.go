package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nimasrn/whatsapp-simulator/internal/model"
	"github.com/nimasrn/whatsapp-simulator/pkg/logger"
	"github.com/nimasrn/whatsapp-simulator/pkg/redis"
)

const DefaultJournalKey = "lifecycle:pending"

// Journal keeps armed events outside the process.
type Journal interface {
	Save(ctx context.Context, e model.StatusEvent) error
	// Delete removes the event and reports whether this call removed it.
	// Instances sharing a journal use it to claim an event before firing.
	Delete(ctx context.Context, e model.StatusEvent) (bool, error)
	Load(ctx context.Context) ([]model.StatusEvent, error)
}

// RedisJournal stores one hash field per event, keyed by wamid and status.
type RedisJournal struct {
	redis redis.RedisAdapter
	key   string
}

func NewRedisJournal(adapter redis.RedisAdapter, key string) *RedisJournal {
	if key == "" {
		key = DefaultJournalKey
	}
	return &RedisJournal{redis: adapter, key: key}
}

func (j *RedisJournal) Save(ctx context.Context, e model.StatusEvent) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return j.redis.HSet(ctx, j.key, e.Key(), string(raw))
}

func (j *RedisJournal) Delete(ctx context.Context, e model.StatusEvent) (bool, error) {
	n, err := j.redis.HDel(ctx, j.key, e.Key())
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Load returns every journaled event. Undecodable entries are dropped.
func (j *RedisJournal) Load(ctx context.Context) ([]model.StatusEvent, error) {
	all, err := j.redis.HGetAll(ctx, j.key)
	if err != nil {
		return nil, fmt.Errorf("load journal: %w", err)
	}

	events := make([]model.StatusEvent, 0, len(all))
	for field, raw := range all {
		var e model.StatusEvent
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			logger.Warn("dropping corrupt journal entry", "field", field, "error", err)
			_, _ = j.redis.HDel(ctx, j.key, field)
			continue
		}
		events = append(events, e)
	}
	return events, nil
}
