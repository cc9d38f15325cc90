package storage

import (
	"context"
	"errors"
	"testing"

	"tasksync/domain"
)

func TestMemoryStoreEmitsChanges(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	var got []domain.Change
	sub, err := m.Subscribe(ctx, "u1", domain.Listener{OnChange: func(c domain.Change) { got = append(got, c) }})
	if err != nil {
		t.Fatal(err)
	}

	created, err := m.Create(ctx, domain.NewTask{Title: "Buy milk", Owner: "u1", ClientRef: "local-1"})
	if err != nil {
		t.Fatal(err)
	}
	if created.ID != "1" || created.ClientRef != "local-1" {
		t.Fatalf("unexpected task %+v", created)
	}
	done := true
	if _, err := m.Update(ctx, created.ID, "u1", domain.Patch{Completed: &done}); err != nil {
		t.Fatal(err)
	}
	if err := m.Delete(ctx, created.ID, "u1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Create(ctx, domain.NewTask{Title: "other", Owner: "u2"}); err != nil {
		t.Fatal(err)
	}

	if len(got) != 3 || got[0].Type != domain.Inserted || got[1].Type != domain.Updated || got[2].Type != domain.Deleted {
		t.Fatalf("unexpected changes %+v", got)
	}

	sub.Close()
	sub.Close()
	if m.Subscribers("u1") != 0 {
		t.Fatal("subscription not removed")
	}
}

func TestMemoryStoreOwnerScopeAndFaults(t *testing.T) {
	m := NewMemoryStore(WithoutClientRef())
	ctx := context.Background()
	created, err := m.Create(ctx, domain.NewTask{Title: "Buy milk", Owner: "u1", ClientRef: "local-1"})
	if err != nil {
		t.Fatal(err)
	}
	if created.ClientRef != "" {
		t.Fatal("client ref should be dropped")
	}
	if err := m.Delete(ctx, created.ID, "u2"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	boom := errors.New("boom")
	m.FailWith("list", boom)
	if _, err := m.ListByOwner(ctx, "u1"); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	m.FailWith("list", nil)
	tasks, err := m.ListByOwner(ctx, "u1")
	if err != nil || len(tasks) != 1 {
		t.Fatalf("unexpected list %v %v", tasks, err)
	}
}

func TestMemoryStoreHoldHonoursContext(t *testing.T) {
	m := NewMemoryStore()
	m.Hold()
	defer m.Release()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Create(ctx, domain.NewTask{Title: "x", Owner: "u1"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestMemoryStoreCreateSkipsSeededIDs(t *testing.T) {
	m := NewMemoryStore()
	m.Seed(
		domain.Task{ID: "1", Owner: "u1", Title: "keep"},
		domain.Task{ID: "2", Owner: "u1", Title: "other"},
		domain.Task{ID: "abc", Owner: "u1", Title: "named"},
	)
	created, err := m.Create(context.Background(), domain.NewTask{Title: "new", Owner: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if created.ID != "3" {
		t.Fatalf("expected id 3, got %q", created.ID)
	}
	tasks, err := m.ListByOwner(context.Background(), "u1")
	if err != nil || len(tasks) != 4 {
		t.Fatalf("seeded task overwritten: %v %v", tasks, err)
	}
}
