// Package reconciler keeps a local task list consistent with a remote store
// while the user mutates it optimistically and a change stream reports
// remote commits.
package reconciler

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"tasksync/domain"
)

// Reconciler owns the task list of the current session. All state changes are
// serialized by a mutex; store calls run on goroutines and never hold it.
type Reconciler struct {
	store Store
	opts  Options
	log   *log.Entry

	mu    sync.Mutex
	sess  *session
	epoch uint64

	inflight sync.WaitGroup
}

// effects collects what must be announced once the lock is released.
type effects struct {
	changed  bool
	failures []domain.Failure
}

func (fx *effects) fail(op, id string, err error) {
	fx.failures = append(fx.failures, domain.Failure{Op: op, TaskID: id, Err: err})
}

func New(store Store, opts Options) *Reconciler {
	opts = opts.withDefaults()
	return &Reconciler{
		store: store,
		opts:  opts,
		log:   opts.Logger.WithField("component", "reconciler"),
	}
}

// StartSession discards any previous session, subscribes to the owner's
// change stream and loads the full list. A failed subscription leaves no
// session behind.
func (r *Reconciler) StartSession(ctx context.Context, owner string) error {
	if owner == "" {
		return fmt.Errorf("%w: empty owner", domain.ErrUnauthorized)
	}
	r.mu.Lock()
	old := r.detachLocked()
	r.epoch++
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := newSession(owner, r.epoch, sctx, cancel)
	r.sess = s
	r.mu.Unlock()

	r.teardown(old)
	r.flush(effects{changed: old != nil})

	epoch := s.epoch
	sub, err := r.store.Subscribe(sctx, owner, domain.Listener{
		OnChange: func(c domain.Change) { r.applyRemote(epoch, c) },
		OnError:  func(err error) { r.interrupted(epoch, err) },
	})
	if err != nil {
		r.mu.Lock()
		if r.current(epoch) != nil {
			r.sess = nil
			r.epoch++
		}
		r.mu.Unlock()
		cancel()
		r.log.WithError(err).WithField("owner", owner).Error("Failed to subscribe to changes")
		return domain.Classify(err)
	}

	r.mu.Lock()
	if r.current(epoch) == nil {
		r.mu.Unlock()
		_ = sub.Close()
		return fmt.Errorf("%w: session replaced", domain.ErrUnauthorized)
	}
	s.sub = sub
	r.mu.Unlock()

	r.log.WithField("owner", owner).Info("Session started")
	return r.resync(ctx, epoch)
}

// EndSession drops all state and ignores every response still in flight.
func (r *Reconciler) EndSession() {
	r.mu.Lock()
	old := r.detachLocked()
	r.epoch++
	r.mu.Unlock()
	if old == nil {
		return
	}
	r.teardown(old)
	r.log.WithField("owner", old.owner).Info("Session ended")
	r.flush(effects{changed: true})
}

// Close ends the session and waits for in-flight calls to return.
func (r *Reconciler) Close() error {
	r.EndSession()
	r.Wait()
	return nil
}

// Wait blocks until every spawned store call has completed.
func (r *Reconciler) Wait() {
	r.inflight.Wait()
}

// Owner returns the owner of the active session or "".
func (r *Reconciler) Owner() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return ""
	}
	return r.sess.owner
}

// Snapshot returns the ordered task list of the active session.
func (r *Reconciler) Snapshot() []domain.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return nil
	}
	return r.sess.state.Snapshot()
}

func (r *Reconciler) Get(id string) (domain.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return domain.Task{}, false
	}
	return r.sess.state.Get(id)
}

// Pending reports whether id is a placeholder still waiting for its create
// response.
func (r *Reconciler) Pending(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return false
	}
	_, ok := r.sess.pending[id]
	return ok
}

// ApplyRemoteEvent applies a change event to the active session.
func (r *Reconciler) ApplyRemoteEvent(c domain.Change) {
	r.mu.Lock()
	var epoch uint64
	if r.sess != nil {
		epoch = r.sess.epoch
	}
	r.mu.Unlock()
	r.applyRemote(epoch, c)
}

// FullResync replaces the list with the store's current state and re-applies
// local intent that the store has not confirmed yet.
func (r *Reconciler) FullResync(ctx context.Context) error {
	r.mu.Lock()
	s := r.sess
	r.mu.Unlock()
	if s == nil {
		return fmt.Errorf("%w: no active session", domain.ErrUnauthorized)
	}
	return r.resync(ctx, s.epoch)
}

func (r *Reconciler) current(epoch uint64) *session {
	if r.sess != nil && r.sess.epoch == epoch {
		return r.sess
	}
	return nil
}

func (r *Reconciler) detachLocked() *session {
	old := r.sess
	r.sess = nil
	return old
}

func (r *Reconciler) teardown(s *session) {
	if s == nil {
		return
	}
	s.cancel()
	if s.sub != nil {
		if err := s.sub.Close(); err != nil {
			r.log.WithError(err).WithField("owner", s.owner).Warn("Failed to close subscription")
		}
	}
}

func (r *Reconciler) flush(fx effects) {
	if fx.changed && r.opts.OnChange != nil {
		r.opts.OnChange()
	}
	for _, f := range fx.failures {
		r.log.WithFields(log.Fields{"op": f.Op, "task": f.TaskID}).WithError(f.Err).Warn("Operation failed")
		if r.opts.OnFailure != nil {
			r.opts.OnFailure(f)
		}
	}
}

// spawn runs a store call bound to the session's lifetime.
func (r *Reconciler) spawn(s *session, call func(ctx context.Context)) {
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		ctx := s.ctx
		if r.opts.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.opts.RequestTimeout)
			defer cancel()
		}
		call(ctx)
	}()
}

func (r *Reconciler) applyRemote(epoch uint64, c domain.Change) {
	r.mu.Lock()
	s := r.current(epoch)
	if s == nil {
		r.mu.Unlock()
		r.log.WithField("type", c.Type).Debug("Ignoring change for inactive session")
		return
	}
	if c.Type == domain.Resync {
		owner := s.owner
		r.mu.Unlock()
		if c.Owner != owner {
			r.log.WithField("owner", c.Owner).Warn("Discarding resync hint for foreign owner")
			return
		}
		r.interrupted(epoch, fmt.Errorf("%w: resync requested", domain.ErrStreamInterrupted))
		return
	}
	if s.resyncs > 0 {
		s.buffered = append(s.buffered, c)
		r.mu.Unlock()
		return
	}
	changed := r.applyChangeLocked(s, c)
	r.mu.Unlock()
	r.flush(effects{changed: changed})
}

// applyChangeLocked applies one event. Replaying an event is a no-op.
func (r *Reconciler) applyChangeLocked(s *session, c domain.Change) bool {
	if err := c.Validate(); err != nil {
		r.log.WithError(err).Warn("Dropping malformed change")
		return false
	}
	if c.Owner != "" && c.Owner != s.owner {
		r.log.WithFields(log.Fields{"owner": c.Owner, "task": c.TaskID()}).Warn("Discarding change for foreign owner")
		return false
	}
	switch c.Type {
	case domain.Inserted, domain.Updated:
		rec := *c.New
		if rec.Owner != s.owner {
			r.log.WithFields(log.Fields{"owner": rec.Owner, "task": rec.ID}).Warn("Discarding record for foreign owner")
			return false
		}
		if _, deleting := s.deletes[rec.ID]; deleting {
			s.deletes[rec.ID] = rec
			return false
		}
		cur, ok := s.state.Get(rec.ID)
		if ok && sameTask(cur, rec) {
			return false
		}
		if !ok {
			if p := s.match(rec, r.opts.CorrelationWindow); p != nil {
				s.state.Remove(p.placeholder.ID)
				p.confirmedID = rec.ID
			}
		}
		return s.state.Put(rec)
	case domain.Deleted:
		id := c.OldID
		for _, p := range s.pending {
			if p.confirmedID == id {
				p.removed = true
			}
		}
		delete(s.deletes, id)
		delete(s.toggles, id)
		_, ok := s.state.Remove(id)
		return ok
	}
	return false
}

// interrupted schedules a resync. The session check and the spawn happen
// under one lock so Close never misses the call.
func (r *Reconciler) interrupted(epoch uint64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.current(epoch)
	if s == nil {
		return
	}
	r.log.WithError(err).WithField("owner", s.owner).Warn("Change stream interrupted, resyncing")
	r.spawn(s, func(ctx context.Context) {
		if err := r.resync(ctx, epoch); err != nil {
			r.log.WithError(err).WithField("owner", s.owner).Error("Resync after interruption failed")
		}
	})
}

func (r *Reconciler) resync(ctx context.Context, epoch uint64) error {
	r.mu.Lock()
	s := r.current(epoch)
	if s == nil {
		r.mu.Unlock()
		return fmt.Errorf("%w: session replaced", domain.ErrUnauthorized)
	}
	s.resyncs++
	s.resyncGen++
	gen := s.resyncGen
	owner := s.owner
	r.mu.Unlock()

	recs, err := r.store.ListByOwner(ctx, owner)

	r.mu.Lock()
	if r.current(epoch) == nil {
		r.mu.Unlock()
		return fmt.Errorf("%w: session replaced", domain.ErrUnauthorized)
	}
	s.resyncs--
	var fx effects
	if err != nil {
		err = domain.Classify(err)
		fx.fail(OpResync, "", err)
	} else if gen == s.resyncGen {
		s.state.ReplaceAll(recs)
		r.overlayLocked(s, recs)
		fx.changed = true
	}
	if s.resyncs == 0 && len(s.buffered) > 0 {
		buffered := s.buffered
		s.buffered = nil
		for _, c := range buffered {
			if r.applyChangeLocked(s, c) {
				fx.changed = true
			}
		}
	}
	r.mu.Unlock()
	r.flush(fx)
	return err
}

// overlayLocked re-applies unconfirmed local intent on top of a fresh list.
func (r *Reconciler) overlayLocked(s *session, recs []domain.Task) {
	for _, p := range s.pending {
		if p.confirmedID != "" {
			continue
		}
		adopted := false
		for _, rec := range recs {
			if rec.Owner != s.owner {
				continue
			}
			if _, ok := s.state.Get(rec.ID); !ok {
				continue
			}
			if m := s.match(rec, r.opts.CorrelationWindow); m == p {
				p.confirmedID = rec.ID
				adopted = true
				break
			}
		}
		if !adopted {
			s.state.Put(p.placeholder)
		}
	}
	for id := range s.deletes {
		s.state.Remove(id)
	}
	for id, completed := range s.toggles {
		if cur, ok := s.state.Get(id); ok && cur.Completed != completed {
			cur.Completed = completed
			s.state.Put(cur)
		}
	}
}
