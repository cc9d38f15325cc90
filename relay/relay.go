// Package relay forwards committed changes from the queue outbox to the
// realtime change feed.
package relay

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"tasksync/domain"
	"tasksync/storage"
)

type Outbox interface {
	Dequeue(ctx context.Context, visibility time.Duration) ([]storage.OutboxMessage, error)
	Delete(ctx context.Context, m storage.OutboxMessage) error
}

type Publisher interface {
	Publish(ctx context.Context, c domain.Change) error
}

// Evictor drops cached owner lists after a change was relayed.
type Evictor interface {
	Evict(ctx context.Context, owner string)
}

type Options struct {
	// Visibility hides dequeued messages while they are being relayed.
	Visibility time.Duration
	// Idle is the pause after an empty dequeue.
	Idle time.Duration
	// MaxBackoff caps the pause after consecutive failures.
	MaxBackoff time.Duration
	// MaxDeliveries drops a message after that many failed attempts.
	MaxDeliveries int64
	Evictor       Evictor
}

type Relay struct {
	outbox Outbox
	pub    Publisher
	opts   Options
	log    *log.Entry
}

func New(outbox Outbox, pub Publisher, opts Options) *Relay {
	if opts.Visibility <= 0 {
		opts.Visibility = 30 * time.Second
	}
	if opts.Idle <= 0 {
		opts.Idle = time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.MaxDeliveries <= 0 {
		opts.MaxDeliveries = 5
	}
	return &Relay{outbox: outbox, pub: pub, opts: opts, log: log.WithField("component", "relay")}
}

// Run relays until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	r.log.Info("Change relay started")
	backoff := r.opts.Idle
	for {
		n, err := r.Drain(ctx)
		if ctx.Err() != nil {
			r.log.Info("Change relay stopped")
			return nil
		}
		var wait time.Duration
		switch {
		case err != nil:
			r.log.WithError(err).Warn("Relay pass failed")
			wait = backoff
			backoff *= 2
			if backoff > r.opts.MaxBackoff {
				backoff = r.opts.MaxBackoff
			}
		case n == 0:
			wait = r.opts.Idle
			backoff = r.opts.Idle
		default:
			backoff = r.opts.Idle
			continue
		}
		select {
		case <-ctx.Done():
			r.log.Info("Change relay stopped")
			return nil
		case <-time.After(wait):
		}
	}
}

// Drain relays one batch and returns the number of messages forwarded. A
// message whose publish fails stays in the queue and reappears after its
// visibility timeout.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	msgs, err := r.outbox.Dequeue(ctx, r.opts.Visibility)
	if err != nil {
		return 0, err
	}
	forwarded := 0
	var firstErr error
	for _, m := range msgs {
		entry := r.log.WithField("message", m.ID)
		if m.Err != nil {
			entry.WithError(m.Err).Error("Dropping undecodable change")
			r.delete(ctx, m)
			continue
		}
		entry = entry.WithFields(log.Fields{"owner": m.Change.Owner, "task": m.Change.TaskID(), "type": m.Change.Type})
		if err := r.pub.Publish(ctx, m.Change); err != nil {
			if m.Dequeued >= r.opts.MaxDeliveries {
				entry.WithError(err).Error("Giving up on change after repeated failures")
				r.hintResync(ctx, m.Change.Owner)
				r.delete(ctx, m)
				continue
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if r.opts.Evictor != nil {
			r.opts.Evictor.Evict(ctx, m.Change.Owner)
		}
		r.delete(ctx, m)
		forwarded++
		entry.Debug("Change relayed")
	}
	return forwarded, firstErr
}

// hintResync tells the owner's subscribers that a change was lost so they
// reload the full list.
func (r *Relay) hintResync(ctx context.Context, owner string) {
	if r.opts.Evictor != nil {
		r.opts.Evictor.Evict(ctx, owner)
	}
	if err := r.pub.Publish(ctx, domain.ResyncChange(owner, time.Now().UnixMilli())); err != nil {
		r.log.WithError(err).WithField("owner", owner).Error("Failed to publish resync hint")
	}
}

func (r *Relay) delete(ctx context.Context, m storage.OutboxMessage) {
	if err := r.outbox.Delete(ctx, m); err != nil {
		r.log.WithError(err).WithField("message", m.ID).Warn("Failed to delete relayed message")
	}
}
