package reconciler

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"tasksync/domain"
)

// Store is the remote task backend. Mutations are scoped to id and owner.
// Subscribe delivers change events for one owner until the returned closer is
// closed.
type Store interface {
	Create(ctx context.Context, n domain.NewTask) (domain.Task, error)
	Update(ctx context.Context, id, owner string, p domain.Patch) (domain.Task, error)
	Delete(ctx context.Context, id, owner string) error
	ListByOwner(ctx context.Context, owner string) ([]domain.Task, error)
	Subscribe(ctx context.Context, owner string, l domain.Listener) (io.Closer, error)
}

// Options tune a Reconciler. Zero values select the defaults.
type Options struct {
	Logger *log.Logger
	Now    func() time.Time
	// NewID generates placeholder ids for optimistic inserts.
	NewID func() string
	// CorrelationWindow bounds the createdAt distance used to match an
	// Inserted event without client reference to a pending placeholder.
	CorrelationWindow time.Duration
	// RequestTimeout bounds each store call. Zero means no timeout.
	RequestTimeout time.Duration
	// OnChange is called after the snapshot changed.
	OnChange func()
	// OnFailure is called once per failed local mutation or failed recovery.
	OnFailure func(domain.Failure)
}

// InsertDone receives the outcome of the create call behind an optimistic
// insert.
type InsertDone func(rec domain.Task, err error)

const (
	defaultCorrelationWindow = 2 * time.Minute
	placeholderPrefix        = "local-"
)

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = log.StandardLogger()
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	if o.NewID == nil {
		o.NewID = func() string { return placeholderPrefix + uuid.NewString() }
	}
	if o.CorrelationWindow <= 0 {
		o.CorrelationWindow = defaultCorrelationWindow
	}
	return o
}

const (
	OpInsert = "insert"
	OpToggle = "toggle"
	OpDelete = "delete"
	OpResync = "resync"
)
