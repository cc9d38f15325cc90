package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"tasksync/domain"
)

// TaskBackend is the full task store contract.
type TaskBackend interface {
	Create(ctx context.Context, n domain.NewTask) (domain.Task, error)
	Update(ctx context.Context, id, owner string, p domain.Patch) (domain.Task, error)
	Delete(ctx context.Context, id, owner string) error
	ListByOwner(ctx context.Context, owner string) ([]domain.Task, error)
	Subscribe(ctx context.Context, owner string, l domain.Listener) (io.Closer, error)
}

// Cache wraps a TaskBackend with Redis-backed caching of owner lists.
// Every write through the cache evicts the owner's entry.
type Cache struct {
	base  TaskBackend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base TaskBackend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) ListByOwner(ctx context.Context, owner string) ([]domain.Task, error) {
	if tasks, ok := c.load(ctx, owner); ok {
		return tasks, nil
	}
	tasks, err := c.base.ListByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	c.store(ctx, owner, tasks)
	return tasks, nil
}

func (c *Cache) Create(ctx context.Context, n domain.NewTask) (domain.Task, error) {
	t, err := c.base.Create(ctx, n)
	c.Evict(ctx, n.Owner)
	return t, err
}

func (c *Cache) Update(ctx context.Context, id, owner string, p domain.Patch) (domain.Task, error) {
	t, err := c.base.Update(ctx, id, owner, p)
	c.Evict(ctx, owner)
	return t, err
}

func (c *Cache) Delete(ctx context.Context, id, owner string) error {
	err := c.base.Delete(ctx, id, owner)
	c.Evict(ctx, owner)
	return err
}

func (c *Cache) Subscribe(ctx context.Context, owner string, l domain.Listener) (io.Closer, error) {
	return c.base.Subscribe(ctx, owner, l)
}

// Evict drops the cached list of owner.
func (c *Cache) Evict(ctx context.Context, owner string) {
	evict(ctx, c.redis, owner)
}

// ListEvictor drops cached owner lists for processes that do not read them.
type ListEvictor struct {
	redis *redis.Client
}

func NewListEvictor(client *redis.Client) *ListEvictor {
	return &ListEvictor{redis: client}
}

func (e *ListEvictor) Evict(ctx context.Context, owner string) {
	evict(ctx, e.redis, owner)
}

func evict(ctx context.Context, client *redis.Client, owner string) {
	if client == nil {
		return
	}
	_ = client.Del(ctx, tasksCacheKey(owner)).Err()
}

func (c *Cache) load(ctx context.Context, owner string) ([]domain.Task, bool) {
	if c.redis == nil || c.ttl == 0 {
		return nil, false
	}
	data, err := c.redis.Get(ctx, tasksCacheKey(owner)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, tasksCacheKey(owner)).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, tasksCacheKey(owner)).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Cache) store(ctx context.Context, owner string, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, tasksCacheKey(owner), data, c.ttl).Err()
}

func tasksCacheKey(owner string) string {
	return "tasks:list:" + owner
}
