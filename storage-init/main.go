package main

import (
	"context"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"

	"tasksync/config"
	"tasksync/storage"
)

func main() {
	config.Load()
	log.Info("Storage init starting")

	vals, err := config.Require("STORAGE_CONNECTION_STRING")
	if err != nil {
		log.Fatal(err)
	}
	connStr := vals["STORAGE_CONNECTION_STRING"]

	ctx, cancel := context.WithTimeout(context.Background(), config.Duration("INIT_TIMEOUT", 2*time.Minute))
	defer cancel()

	if err := createTables(ctx, connStr, []string{
		config.String("TASKS_TABLE", ""),
		config.String("PROFILES_TABLE", ""),
	}); err != nil {
		log.Fatalf("create tables: %v", err)
	}
	if err := createQueues(ctx, connStr, []string{
		config.String("CHANGES_QUEUE", ""),
	}); err != nil {
		log.Fatalf("create queues: %v", err)
	}
	if err := createContainers(ctx, connStr, []string{
		config.String("AVATARS_CONTAINER", ""),
	}); err != nil {
		log.Fatalf("create containers: %v", err)
	}

	log.Info("Storage init complete")
}

func createTables(ctx context.Context, connStr string, names []string) error {
	svc, err := storage.NewTableService(connStr)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		_, err := svc.NewClient(name).CreateTable(ctx, nil)
		if err != nil && !hasCode(err, string(aztables.TableAlreadyExists)) {
			return err
		}
		log.WithField("table", name).Info("Table ready")
	}
	return nil
}

func createQueues(ctx context.Context, connStr string, names []string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
		if err != nil {
			return err
		}
		if _, err := q.Create(ctx, nil); err != nil && !hasCode(err, "QueueAlreadyExists") {
			return err
		}
		log.WithField("queue", name).Info("Queue ready")
	}
	return nil
}

func createContainers(ctx context.Context, connStr string, names []string) error {
	client, err := azblob.NewClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	// avatars are served by URL
	access := container.PublicAccessTypeBlob
	for _, name := range names {
		if name == "" {
			continue
		}
		_, err := client.CreateContainer(ctx, name, &azblob.CreateContainerOptions{Access: &access})
		if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
			return err
		}
		log.WithField("container", name).Info("Container ready")
	}
	return nil
}

func hasCode(err error, code string) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == code
}
