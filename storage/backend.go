package storage

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// BackendConfig names the resources of the task pipeline.
type BackendConfig struct {
	ConnectionString string
	TasksTable       string
	// ChangesQueue routes changes through the durable outbox. When empty,
	// changes are published on the feed directly.
	ChangesQueue string
	Redis        *redis.Client
	// CacheTTL enables the list cache when positive.
	CacheTTL time.Duration
}

// Backend is the wired task pipeline.
type Backend struct {
	Tasks  TaskBackend
	Store  *TaskStore
	Feed   *RedisFeed
	Outbox *QueueOutbox
	Cache  *Cache
}

// OpenBackend connects the task table, change outbox and feed.
func OpenBackend(cfg BackendConfig) (*Backend, error) {
	if cfg.ConnectionString == "" || cfg.TasksTable == "" {
		return nil, errors.New("storage: connection string and tasks table are required")
	}
	if cfg.Redis == nil {
		return nil, errors.New("storage: redis client is required for the change feed")
	}
	svc, err := NewTableService(cfg.ConnectionString)
	if err != nil {
		return nil, err
	}
	b := &Backend{Feed: NewRedisFeed(cfg.Redis)}

	var pub ChangePublisher = b.Feed
	if cfg.ChangesQueue != "" {
		if b.Outbox, err = NewQueueOutbox(cfg.ConnectionString, cfg.ChangesQueue); err != nil {
			return nil, err
		}
		pub = b.Outbox
	}
	b.Store = NewTaskStore(svc.NewClient(cfg.TasksTable), pub, b.Feed)
	b.Tasks = b.Store
	if cfg.CacheTTL > 0 {
		b.Cache = NewCache(b.Store, cfg.Redis, cfg.CacheTTL)
		b.Tasks = b.Cache
	}
	return b, nil
}
