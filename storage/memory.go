package storage

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"tasksync/domain"
)

// MemoryStore is an in-process task store that emits synthetic change events
// to its subscribers. It backs tests and the offline CLI mode.
type MemoryStore struct {
	mu     sync.Mutex
	tasks  map[string]domain.Task
	subs   map[string]map[*memorySub]struct{}
	errs   map[string]error
	gate   chan struct{}
	nextID int
	now    func() time.Time
	newID  func() string

	dropClientRef bool
	silent        bool

	// deliver serializes event delivery in commit order.
	deliver sync.Mutex
}

type MemoryOption func(*MemoryStore)

// WithClock sets the createdAt source.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) { m.now = now }
}

// WithIDs sets the server id generator.
func WithIDs(next func() string) MemoryOption {
	return func(m *MemoryStore) { m.newID = next }
}

// WithoutClientRef makes the store forget client references, forcing
// correlation by title and creation time.
func WithoutClientRef() MemoryOption {
	return func(m *MemoryStore) { m.dropClientRef = true }
}

// Silent disables change events.
func Silent() MemoryOption {
	return func(m *MemoryStore) { m.silent = true }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		tasks: make(map[string]domain.Task),
		subs:  make(map[string]map[*memorySub]struct{}),
		errs:  make(map[string]error),
		now:   func() time.Time { return time.Now().UTC() },
	}
	m.newID = func() string {
		m.nextID++
		return strconv.Itoa(m.nextID)
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// FailWith makes every call of op ("create", "update", "delete", "list",
// "subscribe") return err until cleared with a nil error.
func (m *MemoryStore) FailWith(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, op)
		return
	}
	m.errs[op] = err
}

// Hold blocks mutations until Release is called.
func (m *MemoryStore) Hold() {
	m.mu.Lock()
	m.gate = make(chan struct{})
	m.mu.Unlock()
}

func (m *MemoryStore) Release() {
	m.mu.Lock()
	if m.gate != nil {
		close(m.gate)
		m.gate = nil
	}
	m.mu.Unlock()
}

// Seed stores tasks without emitting events. Numeric ids move the default
// id counter past them so later creates never reuse a seeded id.
func (m *MemoryStore) Seed(tasks ...domain.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tasks {
		m.tasks[t.ID] = t
		if n, err := strconv.Atoi(t.ID); err == nil && n > m.nextID {
			m.nextID = n
		}
	}
}

// Emit delivers c to the subscribers of owner regardless of c's content.
func (m *MemoryStore) Emit(owner string, c domain.Change) {
	m.mu.Lock()
	targets := m.targetsLocked(owner)
	m.deliver.Lock()
	m.mu.Unlock()
	defer m.deliver.Unlock()
	for _, s := range targets {
		s.l.Change(c)
	}
}

// Interrupt reports a lost stream to the subscribers of owner.
func (m *MemoryStore) Interrupt(owner string) {
	m.mu.Lock()
	targets := m.targetsLocked(owner)
	m.mu.Unlock()
	for _, s := range targets {
		s.l.Error(domain.ErrStreamInterrupted)
	}
}

// Subscribers returns the number of open subscriptions of owner.
func (m *MemoryStore) Subscribers(owner string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[owner])
}

func (m *MemoryStore) Create(ctx context.Context, n domain.NewTask) (domain.Task, error) {
	if err := n.Validate(); err != nil {
		return domain.Task{}, err
	}
	if err := m.wait(ctx, "create"); err != nil {
		return domain.Task{}, err
	}
	m.mu.Lock()
	t := domain.Task{
		ID:        m.newID(),
		Owner:     n.Owner,
		Title:     n.Title,
		CreatedAt: m.now(),
		Label:     n.Label,
	}
	if !m.dropClientRef {
		t.ClientRef = n.ClientRef
	}
	m.tasks[t.ID] = t
	m.publishLocked(t.Owner, domain.InsertedChange(t, m.now().UnixMilli()))
	return t, nil
}

func (m *MemoryStore) Update(ctx context.Context, id, owner string, p domain.Patch) (domain.Task, error) {
	if err := m.wait(ctx, "update"); err != nil {
		return domain.Task{}, err
	}
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok || t.Owner != owner {
		m.mu.Unlock()
		return domain.Task{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	if p.Title != nil {
		if err := domain.ValidateTitle(*p.Title); err != nil {
			m.mu.Unlock()
			return domain.Task{}, err
		}
	}
	t = p.Apply(t)
	m.tasks[id] = t
	m.publishLocked(owner, domain.UpdatedChange(t, m.now().UnixMilli()))
	return t, nil
}

func (m *MemoryStore) Delete(ctx context.Context, id, owner string) error {
	if err := m.wait(ctx, "delete"); err != nil {
		return err
	}
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok || t.Owner != owner {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	delete(m.tasks, id)
	m.publishLocked(owner, domain.DeletedChange(owner, id, m.now().UnixMilli()))
	return nil
}

func (m *MemoryStore) ListByOwner(ctx context.Context, owner string) ([]domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errs["list"]; err != nil {
		return nil, err
	}
	out := make([]domain.Task, 0)
	for _, t := range m.tasks {
		if t.Owner == owner {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return domain.Before(out[i], out[j]) })
	return out, nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, owner string, l domain.Listener) (io.Closer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errs["subscribe"]; err != nil {
		return nil, err
	}
	s := &memorySub{store: m, owner: owner, l: l}
	if m.subs[owner] == nil {
		m.subs[owner] = make(map[*memorySub]struct{})
	}
	m.subs[owner][s] = struct{}{}
	return s, nil
}

// wait honours Hold and returns the injected error for op.
func (m *MemoryStore) wait(ctx context.Context, op string) error {
	m.mu.Lock()
	gate := m.gate
	m.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errs[op]
}

func (m *MemoryStore) targetsLocked(owner string) []*memorySub {
	out := make([]*memorySub, 0, len(m.subs[owner]))
	for s := range m.subs[owner] {
		out = append(out, s)
	}
	return out
}

// publishLocked releases m.mu and delivers c in commit order.
func (m *MemoryStore) publishLocked(owner string, c domain.Change) {
	if m.silent {
		m.mu.Unlock()
		return
	}
	targets := m.targetsLocked(owner)
	m.deliver.Lock()
	m.mu.Unlock()
	defer m.deliver.Unlock()
	for _, s := range targets {
		s.l.Change(c)
	}
}

type memorySub struct {
	store *MemoryStore
	owner string
	l     domain.Listener
	once  sync.Once
}

func (s *memorySub) Close() error {
	s.once.Do(func() {
		s.store.mu.Lock()
		delete(s.store.subs[s.owner], s)
		s.store.mu.Unlock()
	})
	return nil
}
