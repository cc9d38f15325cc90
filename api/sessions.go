package api

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"tasksync/domain"
	"tasksync/reconciler"
)

const failureBuffer = 16

// subscriber is one SSE connection. wake carries at most one pending
// snapshot notification; failures are dropped when the client lags.
type subscriber struct {
	wake     chan struct{}
	failures chan domain.Failure
}

type updateBroker struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

func newUpdateBroker() *updateBroker {
	return &updateBroker{subs: make(map[*subscriber]struct{})}
}

func (b *updateBroker) subscribe() *subscriber {
	s := &subscriber{
		wake:     make(chan struct{}, 1),
		failures: make(chan domain.Failure, failureBuffer),
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

func (b *updateBroker) unsubscribe(s *subscriber) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

func (b *updateBroker) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *updateBroker) notify() {
	b.mu.Lock()
	for s := range b.subs {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	b.mu.Unlock()
}

func (b *updateBroker) fail(f domain.Failure) {
	b.mu.Lock()
	for s := range b.subs {
		select {
		case s.failures <- f:
		default:
		}
	}
	b.mu.Unlock()
}

// liveSession is the reconciler of one signed-in owner shared by all of
// their requests and streams.
type liveSession struct {
	owner  string
	rec    *reconciler.Reconciler
	broker *updateBroker

	ready    chan struct{}
	err      error
	lastUsed atomic.Int64
}

func (s *liveSession) touch(now time.Time) { s.lastUsed.Store(now.UnixNano()) }

func (s *liveSession) idleSince() time.Time { return time.Unix(0, s.lastUsed.Load()) }

// HubOptions configure a Hub. Reconciler is used as a template for every
// session; its OnChange and OnFailure hooks are replaced.
type HubOptions struct {
	IdleTTL    time.Duration
	Reconciler reconciler.Options
	Now        func() time.Time
}

// Hub maps owners to live sessions. Sessions start on first use and end on
// logout or after IdleTTL without requests or streams.
type Hub struct {
	store reconciler.Store
	opts  HubOptions
	log   *log.Entry

	mu       sync.Mutex
	sessions map[string]*liveSession
}

func NewHub(store reconciler.Store, opts HubOptions) *Hub {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Reconciler.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Hub{
		store:    store,
		opts:     opts,
		log:      logger.WithField("component", "hub"),
		sessions: make(map[string]*liveSession),
	}
}

// Acquire returns the owner's session, starting it when needed. Concurrent
// callers for the same owner share one start.
func (h *Hub) Acquire(ctx context.Context, owner string) (*liveSession, error) {
	h.mu.Lock()
	s, ok := h.sessions[owner]
	if !ok {
		s = h.newSession(owner)
		h.sessions[owner] = s
	}
	h.mu.Unlock()

	if !ok {
		// The session outlives this request; its spans must not nest under it.
		s.err = s.rec.StartSession(trace.ContextWithSpanContext(ctx, trace.SpanContext{}), owner)
		if s.err != nil {
			h.mu.Lock()
			if h.sessions[owner] == s {
				delete(h.sessions, owner)
			}
			h.mu.Unlock()
			_ = s.rec.Close()
		}
		close(s.ready)
	}

	select {
	case <-s.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	s.touch(h.opts.Now())
	return s, nil
}

func (h *Hub) newSession(owner string) *liveSession {
	s := &liveSession{
		owner:  owner,
		broker: newUpdateBroker(),
		ready:  make(chan struct{}),
	}
	s.touch(h.opts.Now())
	ro := h.opts.Reconciler
	ro.OnChange = s.broker.notify
	ro.OnFailure = s.broker.fail
	s.rec = reconciler.New(h.store, ro)
	return s
}

// End tears down the owner's session. It reports whether one existed.
func (h *Hub) End(owner string) bool {
	h.mu.Lock()
	s, ok := h.sessions[owner]
	if ok {
		delete(h.sessions, owner)
	}
	h.mu.Unlock()
	if !ok {
		return false
	}
	<-s.ready
	_ = s.rec.Close()
	s.broker.notify()
	h.log.WithField("owner", owner).Info("Session closed")
	return true
}

// Len returns the number of live sessions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Sweep ends sessions without streams that were idle longer than IdleTTL.
func (h *Hub) Sweep() int {
	if h.opts.IdleTTL <= 0 {
		return 0
	}
	cutoff := h.opts.Now().Add(-h.opts.IdleTTL)
	var idle []string
	h.mu.Lock()
	for owner, s := range h.sessions {
		select {
		case <-s.ready:
		default:
			continue
		}
		if s.broker.size() == 0 && s.idleSince().Before(cutoff) {
			idle = append(idle, owner)
		}
	}
	h.mu.Unlock()
	for _, owner := range idle {
		h.End(owner)
	}
	return len(idle)
}

// Run sweeps idle sessions until ctx is done, then closes every session.
func (h *Hub) Run(ctx context.Context) {
	interval := h.opts.IdleTTL / 2
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.Close()
			return
		case <-ticker.C:
			if n := h.Sweep(); n > 0 {
				h.log.WithField("sessions", n).Debug("Closed idle sessions")
			}
		}
	}
}

// Close ends all sessions.
func (h *Hub) Close() {
	h.mu.Lock()
	owners := make([]string, 0, len(h.sessions))
	for owner := range h.sessions {
		owners = append(owners, owner)
	}
	h.mu.Unlock()
	for _, owner := range owners {
		h.End(owner)
	}
}
