package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"tasksync/domain"
)

func TestQueueOutboxRoundTrip(t *testing.T) {
	q := newFakeQueue()
	o := newQueueOutbox(q)
	ctx := context.Background()
	task := domain.Task{ID: "42", Owner: "u1", Title: "Buy milk", CreatedAt: time.Now().UTC()}

	if err := o.Publish(ctx, domain.InsertedChange(task, 1)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := o.Publish(ctx, domain.DeletedChange("u1", "42", 2)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msgs, err := o.Dequeue(ctx, 30*time.Second)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Err != nil || msgs[0].Change.Type != domain.Inserted || msgs[0].Change.New.ID != "42" {
		t.Fatalf("unexpected first message %+v", msgs[0])
	}
	if msgs[1].Change.Type != domain.Deleted || msgs[1].Change.OldID != "42" || msgs[1].Dequeued != 1 {
		t.Fatalf("unexpected second message %+v", msgs[1])
	}
	for _, m := range msgs {
		if err := o.Delete(ctx, m); err != nil {
			t.Fatalf("delete: %v", err)
		}
	}
	if q.len() != 0 {
		t.Fatalf("queue not drained: %d", q.len())
	}
}

func TestQueueOutboxPublishFailure(t *testing.T) {
	q := newFakeQueue()
	q.failAt = 0
	o := newQueueOutbox(q)
	err := o.Publish(context.Background(), domain.DeletedChange("u1", "1", 1))
	if !errors.Is(err, domain.ErrRemoteUnavailable) {
		t.Fatalf("expected remote unavailable, got %v", err)
	}
}

func TestQueueOutboxMalformedMessage(t *testing.T) {
	q := newFakeQueue()
	if _, err := q.EnqueueMessage(context.Background(), "{not json", nil); err != nil {
		t.Fatal(err)
	}
	msgs, err := newQueueOutbox(q).Dequeue(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Err == nil {
		t.Fatalf("expected decode error, got %+v", msgs)
	}
}
