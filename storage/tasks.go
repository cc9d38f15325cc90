package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"tasksync/domain"
)

type tableAPI interface {
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	UpsertEntity(ctx context.Context, entity []byte, options *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
	NewListEntitiesPager(options *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
}

// ChangePublisher forwards committed changes to the notification pipeline.
type ChangePublisher interface {
	Publish(ctx context.Context, c domain.Change) error
}

// ChangeSubscriber opens per-owner change subscriptions.
type ChangeSubscriber interface {
	Subscribe(ctx context.Context, owner string, l domain.Listener) (io.Closer, error)
}

// TaskStore persists tasks in Azure Table Storage and reports every committed
// mutation to its publisher.
type TaskStore struct {
	table tableAPI
	pub   ChangePublisher
	feed  ChangeSubscriber
	now   func() time.Time
	log   *log.Entry
}

const updateAttempts = 3

// TableClientOptions are the retry settings shared by all table clients.
func TableClientOptions() *aztables.ClientOptions {
	return &aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
}

// NewTableService creates a table service client from a connection string.
func NewTableService(connStr string) (*aztables.ServiceClient, error) {
	return aztables.NewServiceClientFromConnectionString(connStr, TableClientOptions())
}

func NewTaskStore(table *aztables.Client, pub ChangePublisher, feed ChangeSubscriber) *TaskStore {
	return newTaskStore(table, pub, feed)
}

func newTaskStore(table tableAPI, pub ChangePublisher, feed ChangeSubscriber) *TaskStore {
	return &TaskStore{
		table: table,
		pub:   pub,
		feed:  feed,
		now:   func() time.Time { return time.Now().UTC() },
		log:   log.WithField("component", "task-store"),
	}
}

func (s *TaskStore) Create(ctx context.Context, n domain.NewTask) (t domain.Task, err error) {
	ctx, span := startSpan(ctx, "TaskStore.Create", attribute.String("owner", n.Owner))
	defer func() { endSpan(span, err) }()

	if err := n.Validate(); err != nil {
		return domain.Task{}, err
	}
	t = domain.Task{
		ID:        uuid.NewString(),
		Owner:     n.Owner,
		Title:     n.Title,
		CreatedAt: s.now().Truncate(time.Millisecond),
		Label:     n.Label,
		ClientRef: n.ClientRef,
	}
	payload, err := sonic.Marshal(newTaskEntity(t))
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.table.AddEntity(ctx, payload, nil); err != nil {
		return domain.Task{}, mapError(err)
	}
	s.publish(ctx, domain.InsertedChange(t, s.now().UnixMilli()))
	return t, nil
}

func (s *TaskStore) get(ctx context.Context, id, owner string) (taskEntity, azcore.ETag, error) {
	resp, err := s.table.GetEntity(ctx, owner, id, nil)
	if err != nil {
		return taskEntity{}, "", mapError(err)
	}
	var ent taskEntity
	if err := sonic.Unmarshal(resp.Value, &ent); err != nil {
		return taskEntity{}, "", err
	}
	return ent, resp.ETag, nil
}

// Update applies p to the owner's task using optimistic concurrency.
func (s *TaskStore) Update(ctx context.Context, id, owner string, p domain.Patch) (t domain.Task, err error) {
	ctx, span := startSpan(ctx, "TaskStore.Update", attribute.String("owner", owner), attribute.String("task", id))
	defer func() { endSpan(span, err) }()

	if p.Title != nil {
		if err := domain.ValidateTitle(*p.Title); err != nil {
			return domain.Task{}, err
		}
	}
	for attempt := 1; ; attempt++ {
		ent, etag, err := s.get(ctx, id, owner)
		if err != nil {
			return domain.Task{}, err
		}
		t = p.Apply(ent.task())
		payload, err := sonic.Marshal(newTaskEntity(t))
		if err != nil {
			return domain.Task{}, err
		}
		_, err = s.table.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeReplace})
		if err == nil {
			break
		}
		if isStatus(err, http.StatusPreconditionFailed) && attempt < updateAttempts {
			s.log.WithField("task", id).Debug("Concurrent update, retrying")
			continue
		}
		return domain.Task{}, mapError(err)
	}
	s.publish(ctx, domain.UpdatedChange(t, s.now().UnixMilli()))
	return t, nil
}

func (s *TaskStore) Delete(ctx context.Context, id, owner string) (err error) {
	ctx, span := startSpan(ctx, "TaskStore.Delete", attribute.String("owner", owner), attribute.String("task", id))
	defer func() { endSpan(span, err) }()

	if _, err := s.table.DeleteEntity(ctx, owner, id, nil); err != nil {
		return mapError(err)
	}
	s.publish(ctx, domain.DeletedChange(owner, id, s.now().UnixMilli()))
	return nil
}

// ListByOwner returns all tasks of owner, newest first.
func (s *TaskStore) ListByOwner(ctx context.Context, owner string) (tasks []domain.Task, err error) {
	ctx, span := startSpan(ctx, "TaskStore.ListByOwner", attribute.String("owner", owner))
	defer func() { endSpan(span, err) }()

	filter := fmt.Sprintf("PartitionKey eq '%s'", strings.ReplaceAll(owner, "'", "''"))
	pager := s.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks = []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, mapError(err)
		}
		for _, e := range resp.Entities {
			var ent taskEntity
			if err := sonic.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			tasks = append(tasks, ent.task())
		}
	}
	span.SetAttributes(attribute.Int("tasks", len(tasks)))
	return tasks, nil
}

func (s *TaskStore) Subscribe(ctx context.Context, owner string, l domain.Listener) (io.Closer, error) {
	if s.feed == nil {
		return nil, fmt.Errorf("%w: no change feed configured", domain.ErrRemoteUnavailable)
	}
	return s.feed.Subscribe(ctx, owner, l)
}

// publish reports a committed change. The mutation already succeeded, so a
// failure here only delays other subscribers until their next resync.
func (s *TaskStore) publish(ctx context.Context, c domain.Change) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(ctx, c); err != nil {
		s.log.WithError(err).WithFields(log.Fields{"owner": c.Owner, "task": c.TaskID()}).Error("Failed to publish change")
	}
}
