package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"tasksync/config"
	"tasksync/relay"
	"tasksync/storage"
)

func main() {
	config.Load()
	log.Info("Change relay starting")

	vals, err := config.Require("STORAGE_CONNECTION_STRING", "CHANGES_QUEUE", "REDIS_CONNECTION_STRING")
	if err != nil {
		log.Fatal(err)
	}
	outbox, err := storage.NewQueueOutbox(vals["STORAGE_CONNECTION_STRING"], vals["CHANGES_QUEUE"])
	if err != nil {
		log.Fatalf("queue client: %v", err)
	}
	redisOpts, err := config.RedisOptions(vals["REDIS_CONNECTION_STRING"])
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	rc := redis.NewClient(redisOpts)
	defer rc.Close()

	opts := relay.Options{
		Visibility:    config.Duration("RELAY_VISIBILITY", 30*time.Second),
		Idle:          config.Duration("RELAY_IDLE", time.Second),
		MaxBackoff:    config.Duration("RELAY_MAX_BACKOFF", 30*time.Second),
		MaxDeliveries: int64(config.Int("RELAY_MAX_DELIVERIES", 5)),
	}
	if config.Bool("TASKS_CACHE", true) {
		opts.Evictor = storage.NewListEvictor(rc)
	}
	r := relay.New(outbox, storage.NewRedisFeed(rc), opts)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("relay: %v", err)
	}
	log.Info("Change relay stopped")
}
