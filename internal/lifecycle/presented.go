package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// PresentedList remembers the order of the last reminder list shown to the user, so
// positional references like "delete 1 and 3" mean what the user saw.
type PresentedList interface {
	Save(ctx context.Context, ids []string) error
	Load(ctx context.Context) ([]string, error)
}

// RedisPresentedList keeps the list in a Redis list that expires after ttl.
type RedisPresentedList struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewRedisPresentedList(client *redis.Client, ttl time.Duration) *RedisPresentedList {
	return &RedisPresentedList{client: client, key: "presented_list", ttl: ttl}
}

func (p *RedisPresentedList) Save(ctx context.Context, ids []string) error {
	pipe := p.client.TxPipeline()
	pipe.Del(ctx, p.key)
	if len(ids) > 0 {
		vals := make([]any, len(ids))
		for i, id := range ids {
			vals[i] = id
		}
		pipe.RPush(ctx, p.key, vals...)
		pipe.Expire(ctx, p.key, p.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save presented list: %w", err)
	}
	return nil
}

// Load returns nil when no list was shown recently.
func (p *RedisPresentedList) Load(ctx context.Context) ([]string, error) {
	ids, err := p.client.LRange(ctx, p.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load presented list: %w", err)
	}
	return ids, nil
}
