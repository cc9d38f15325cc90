package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"tasksync/domain"
)

const channelPrefix = "tasks:changes:"

// Channel is the pub/sub channel carrying changes of one owner.
func Channel(owner string) string {
	return channelPrefix + owner
}

// RedisFeed carries change events over Redis pub/sub, one channel per owner.
type RedisFeed struct {
	client *redis.Client
	log    *log.Entry
	// retry is the pause after a failed receive.
	retry time.Duration
}

func NewRedisFeed(client *redis.Client) *RedisFeed {
	return &RedisFeed{
		client: client,
		log:    log.WithField("component", "change-feed"),
		retry:  time.Second,
	}
}

func (f *RedisFeed) Publish(ctx context.Context, c domain.Change) (err error) {
	ctx, span := startSpan(ctx, "RedisFeed.Publish", attribute.String("owner", c.Owner), attribute.String("type", string(c.Type)))
	defer func() { endSpan(span, err) }()

	data, err := domain.EncodeChange(c)
	if err != nil {
		return err
	}
	if err := f.client.Publish(ctx, Channel(c.Owner), data).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrRemoteUnavailable, err)
	}
	return nil
}

// Subscribe listens on the owner's channel until the closer is closed or ctx
// ends. A resubscription after a dropped connection is reported through
// l.OnError since events may have been published in between.
func (f *RedisFeed) Subscribe(ctx context.Context, owner string, l domain.Listener) (io.Closer, error) {
	ps := f.client.Subscribe(ctx, Channel(owner))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%w: subscribe: %v", domain.ErrRemoteUnavailable, err)
	}
	sctx, cancel := context.WithCancel(ctx)
	sub := &feedSub{ps: ps, cancel: cancel}
	go f.run(sctx, ps, owner, l)
	f.log.WithField("owner", owner).Debug("Subscribed to changes")
	return sub, nil
}

func (f *RedisFeed) run(ctx context.Context, ps *redis.PubSub, owner string, l domain.Listener) {
	entry := f.log.WithField("owner", owner)
	for {
		msg, err := ps.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				return
			}
			entry.WithError(err).Warn("Change feed receive failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(f.retry):
			}
			continue
		}
		switch m := msg.(type) {
		case *redis.Subscription:
			if m.Kind == "subscribe" {
				l.Error(domain.ErrStreamInterrupted)
			}
		case *redis.Message:
			c, err := domain.DecodeChange([]byte(m.Payload))
			if err != nil {
				entry.WithError(err).Warn("Dropping malformed change")
				continue
			}
			l.Change(c)
		}
	}
}

type feedSub struct {
	ps     *redis.PubSub
	cancel context.CancelFunc
	once   sync.Once
	err    error
}

func (s *feedSub) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.err = s.ps.Close()
	})
	return s.err
}
