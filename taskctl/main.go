package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"tasksync/cli"
	"tasksync/config"
	"tasksync/labeler"
	"tasksync/storage"
)

func main() {
	config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand(openBackend, config.String("TASKCTL_OWNER", ""))
	if err := root.ExecuteContext(ctx); err != nil {
		log.Error(err)
		stop()
		os.Exit(1)
	}
}

func openBackend(ctx context.Context) (*cli.Backend, error) {
	vals, err := config.Require("STORAGE_CONNECTION_STRING", "TASKS_TABLE", "REDIS_CONNECTION_STRING")
	if err != nil {
		return nil, err
	}
	redisOpts, err := config.RedisOptions(vals["REDIS_CONNECTION_STRING"])
	if err != nil {
		return nil, err
	}
	rc := redis.NewClient(redisOpts)
	b, err := storage.OpenBackend(storage.BackendConfig{
		ConnectionString: vals["STORAGE_CONNECTION_STRING"],
		TasksTable:       vals["TASKS_TABLE"],
		ChangesQueue:     config.String("CHANGES_QUEUE", ""),
		Redis:            rc,
	})
	if err != nil {
		rc.Close()
		return nil, err
	}

	var gen labeler.Generator
	if url := config.String("LABEL_FUNCTION_URL", ""); url != "" {
		gen = labeler.NewProxy(url, config.String("LABEL_FUNCTION_TOKEN", ""))
	} else if key := config.String("OPENAI_API_KEY", ""); key != "" {
		gen = labeler.NewOpenAI(key)
	}
	return &cli.Backend{Store: b.Tasks, Labels: gen, Close: rc.Close}, nil
}
