package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"tasksync/domain"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		rc.Close()
		m.Close()
	})
	return m, rc
}

func TestRedisFeedDeliversOwnerChanges(t *testing.T) {
	_, rc := setupRedis(t)
	feed := NewRedisFeed(rc)
	ctx := context.Background()

	got := make(chan domain.Change, 4)
	sub, err := feed.Subscribe(ctx, "u1", domain.Listener{OnChange: func(c domain.Change) { got <- c }})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	task := domain.Task{ID: "42", Owner: "u1", Title: "Buy milk", CreatedAt: time.Now().UTC()}
	other := domain.Task{ID: "7", Owner: "u2", Title: "not mine", CreatedAt: time.Now().UTC()}
	if err := feed.Publish(ctx, domain.InsertedChange(other, 1)); err != nil {
		t.Fatal(err)
	}
	if err := feed.Publish(ctx, domain.InsertedChange(task, 2)); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-got:
		if c.Type != domain.Inserted || c.New.ID != "42" {
			t.Fatalf("unexpected change %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no change received")
	}
	select {
	case c := <-got:
		t.Fatalf("received foreign change %+v", c)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRedisFeedDropsMalformedPayloads(t *testing.T) {
	_, rc := setupRedis(t)
	feed := NewRedisFeed(rc)
	ctx := context.Background()

	got := make(chan domain.Change, 2)
	sub, err := feed.Subscribe(ctx, "u1", domain.Listener{OnChange: func(c domain.Change) { got <- c }})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	if err := rc.Publish(ctx, Channel("u1"), "garbage").Err(); err != nil {
		t.Fatal(err)
	}
	if err := feed.Publish(ctx, domain.DeletedChange("u1", "1", 1)); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-got:
		if c.Type != domain.Deleted {
			t.Fatalf("unexpected change %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("valid change not delivered")
	}
}

func TestRedisFeedReportsReconnect(t *testing.T) {
	m, rc := setupRedis(t)
	feed := NewRedisFeed(rc)
	feed.retry = 10 * time.Millisecond

	interrupted := make(chan error, 4)
	sub, err := feed.Subscribe(context.Background(), "u1", domain.Listener{OnError: func(err error) { interrupted <- err }})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	addr := m.Addr()
	m.Close()
	if err := m.StartAddr(addr); err != nil {
		t.Fatalf("restart miniredis: %v", err)
	}

	select {
	case err := <-interrupted:
		if !errors.Is(err, domain.ErrStreamInterrupted) {
			t.Fatalf("unexpected error %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reconnect not reported")
	}
}

func TestRedisFeedSubscribeFailure(t *testing.T) {
	m, rc := setupRedis(t)
	m.Close()
	feed := NewRedisFeed(rc)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := feed.Subscribe(ctx, "u1", domain.Listener{}); !errors.Is(err, domain.ErrRemoteUnavailable) {
		t.Fatalf("expected remote unavailable, got %v", err)
	}
}

func TestRedisFeedCarriesResyncHints(t *testing.T) {
	_, rc := setupRedis(t)
	feed := NewRedisFeed(rc)
	ctx := context.Background()

	got := make(chan domain.Change, 1)
	sub, err := feed.Subscribe(ctx, "u1", domain.Listener{OnChange: func(c domain.Change) { got <- c }})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if err := feed.Publish(ctx, domain.ResyncChange("u1", 3)); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-got:
		if c.Type != domain.Resync || c.Owner != "u1" {
			t.Fatalf("unexpected change %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no hint received")
	}
}
