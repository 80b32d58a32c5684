package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Backlog stores the retained frames of one room.
type Backlog interface {
	Append(ctx context.Context, frame []byte) error
	Frames(ctx context.Context) ([][]byte, error)
}

// memoryBacklog keeps the newest limit frames in memory.
type memoryBacklog struct {
	mu     sync.Mutex
	limit  int
	frames [][]byte
}

func newMemoryBacklog(limit int) *memoryBacklog {
	return &memoryBacklog{limit: limit}
}

func (b *memoryBacklog) Append(_ context.Context, frame []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = append(b.frames, frame)
	if over := len(b.frames) - b.limit; over > 0 {
		b.frames = append(b.frames[:0:0], b.frames[over:]...)
	}
	return nil
}

func (b *memoryBacklog) Frames(_ context.Context) ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.frames...), nil
}

// redisBacklog keeps the newest limit frames in a redis list.
type redisBacklog struct {
	client *redis.Client
	key    string
	limit  int
}

func newRedisBacklog(client *redis.Client, key string, limit int) *redisBacklog {
	return &redisBacklog{client: client, key: key, limit: limit}
}

func (b *redisBacklog) Append(ctx context.Context, frame []byte) error {
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, b.key, frame)
		pipe.LTrim(ctx, b.key, int64(-b.limit), -1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append backlog %s: %w", b.key, err)
	}
	return nil
}

func (b *redisBacklog) Frames(ctx context.Context) ([][]byte, error) {
	vals, err := b.client.LRange(ctx, b.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load backlog %s: %w", b.key, err)
	}
	frames := make([][]byte, len(vals))
	for i, v := range vals {
		frames[i] = []byte(v)
	}
	return frames, nil
}
