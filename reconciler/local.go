package reconciler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tasksync/domain"
)

// ApplyLocalInsert inserts a placeholder with the default label and creates
// the record remotely. It returns the placeholder id.
func (r *Reconciler) ApplyLocalInsert(title string) (string, error) {
	return r.ApplyLocalInsertLabeled(title, domain.DefaultLabel)
}

// ApplyLocalInsertLabeled is ApplyLocalInsert with an explicit label.
func (r *Reconciler) ApplyLocalInsertLabeled(title, label string) (string, error) {
	return r.ApplyLocalInsertFunc(title, label, nil)
}

// ApplyLocalInsertFunc is ApplyLocalInsertLabeled with a completion callback.
// done runs once when the create call returns, with the stored record or the
// error, even if the session ended in the meantime.
func (r *Reconciler) ApplyLocalInsertFunc(title, label string, done InsertDone) (string, error) {
	title = strings.TrimSpace(title)
	if err := domain.ValidateTitle(title); err != nil {
		return "", err
	}
	label = strings.TrimSpace(label)
	if label == "" {
		label = domain.DefaultLabel
	}

	r.mu.Lock()
	s := r.sess
	if s == nil {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: no active session", domain.ErrUnauthorized)
	}
	id := r.opts.NewID()
	ph := domain.Task{
		ID:        id,
		Owner:     s.owner,
		Title:     title,
		CreatedAt: r.opts.Now(),
		Label:     label,
		ClientRef: id,
	}
	s.state.Put(ph)
	s.pending[id] = &pendingInsert{placeholder: ph}
	req := domain.NewTask{Title: title, Owner: s.owner, Label: label, ClientRef: id}
	r.spawn(s, func(ctx context.Context) {
		rec, err := r.store.Create(ctx, req)
		r.completeInsert(s.epoch, id, rec, err, done)
	})
	r.mu.Unlock()

	r.flush(effects{changed: true})
	return id, nil
}

func (r *Reconciler) completeInsert(epoch uint64, placeholderID string, rec domain.Task, err error, done InsertDone) {
	if err != nil {
		err = domain.Classify(err)
	}
	var fx effects
	if done != nil {
		defer func() {
			if err != nil {
				rec = domain.Task{}
			}
			done(rec, err)
		}()
	}

	r.mu.Lock()
	s := r.current(epoch)
	if s == nil {
		r.mu.Unlock()
		r.log.WithField("task", placeholderID).Debug("Ignoring create response for inactive session")
		return
	}
	p, ok := s.pending[placeholderID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(s.pending, placeholderID)

	if _, ok := s.state.Remove(placeholderID); ok {
		fx.changed = true
	}
	switch {
	case err != nil:
		fx.fail(OpInsert, placeholderID, err)
	case rec.Owner != s.owner:
		err = fmt.Errorf("%w: record owned by another user", domain.ErrUnauthorized)
		fx.fail(OpInsert, placeholderID, err)
	case p.removed:
	default:
		if _, deleting := s.deletes[rec.ID]; deleting {
			break
		}
		// A stream event already delivered this record and is at least as new.
		if _, ok := s.state.Get(rec.ID); ok {
			break
		}
		if s.state.Put(rec) {
			fx.changed = true
		}
	}
	r.mu.Unlock()
	r.flush(fx)
}

// ApplyLocalToggle flips completion optimistically and updates the store.
// A failed update restores the previous value unless a newer local operation
// on the same record superseded it.
func (r *Reconciler) ApplyLocalToggle(id string) error {
	r.mu.Lock()
	s := r.sess
	if s == nil {
		r.mu.Unlock()
		return fmt.Errorf("%w: no active session", domain.ErrUnauthorized)
	}
	if _, ok := s.pending[id]; ok {
		r.mu.Unlock()
		return domain.ErrTaskPending
	}
	cur, ok := s.state.Get(id)
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: task %s", domain.ErrNotFound, id)
	}
	prev := cur.Completed
	desired := !prev
	cur.Completed = desired
	s.state.Put(cur)
	s.toggles[id] = desired
	seq := s.bump(id)
	owner := s.owner
	r.spawn(s, func(ctx context.Context) {
		rec, err := r.store.Update(ctx, id, owner, domain.Patch{Completed: &desired})
		r.completeToggle(s.epoch, id, seq, prev, desired, rec, err)
	})
	r.mu.Unlock()

	r.flush(effects{changed: true})
	return nil
}

func (r *Reconciler) completeToggle(epoch uint64, id string, seq uint64, prev, desired bool, rec domain.Task, err error) {
	r.mu.Lock()
	s := r.current(epoch)
	if s == nil {
		r.mu.Unlock()
		r.log.WithField("task", id).Debug("Ignoring update response for inactive session")
		return
	}
	latest := s.settle(id, seq)
	if latest {
		delete(s.toggles, id)
	}

	var fx effects
	if err != nil {
		fx.fail(OpToggle, id, domain.Classify(err))
		if cur, ok := s.state.Get(id); latest && ok && cur.Completed == desired {
			cur.Completed = prev
			fx.changed = s.state.Put(cur)
		}
	} else if latest && rec.ID == id && rec.Owner == s.owner {
		if cur, ok := s.state.Get(id); ok && !sameTask(cur, rec) {
			fx.changed = s.state.Put(rec)
		}
	}
	r.mu.Unlock()
	r.flush(fx)
}

// ApplyLocalDelete removes the record optimistically and deletes it remotely.
// A failed delete restores the record.
func (r *Reconciler) ApplyLocalDelete(id string) error {
	r.mu.Lock()
	s := r.sess
	if s == nil {
		r.mu.Unlock()
		return fmt.Errorf("%w: no active session", domain.ErrUnauthorized)
	}
	if _, ok := s.pending[id]; ok {
		r.mu.Unlock()
		return domain.ErrTaskPending
	}
	cur, ok := s.state.Remove(id)
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: task %s", domain.ErrNotFound, id)
	}
	s.deletes[id] = cur
	delete(s.toggles, id)
	seq := s.bump(id)
	owner := s.owner
	r.spawn(s, func(ctx context.Context) {
		err := r.store.Delete(ctx, id, owner)
		r.completeDelete(s.epoch, id, seq, err)
	})
	r.mu.Unlock()

	r.flush(effects{changed: true})
	return nil
}

func (r *Reconciler) completeDelete(epoch uint64, id string, seq uint64, err error) {
	r.mu.Lock()
	s := r.current(epoch)
	if s == nil {
		r.mu.Unlock()
		r.log.WithField("task", id).Debug("Ignoring delete response for inactive session")
		return
	}
	latest := s.settle(id, seq)
	rec, had := s.deletes[id]
	if latest {
		delete(s.deletes, id)
	}

	var fx effects
	// Already gone remotely counts as success.
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		fx.fail(OpDelete, id, domain.Classify(err))
		if latest && had {
			if _, exists := s.state.Get(id); !exists {
				fx.changed = s.state.Put(rec)
			}
		}
	}
	r.mu.Unlock()
	r.flush(fx)
}
