package tasklist

import (
	"testing"
	"time"

	"tasksync/domain"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func task(id string, offset time.Duration) domain.Task {
	return domain.Task{ID: id, Owner: "u1", Title: "task " + id, CreatedAt: base.Add(offset)}
}

func ids(tasks []domain.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSnapshotOrderIndependentOfInsertion(t *testing.T) {
	orders := [][]domain.Task{
		{task("a", 0), task("b", time.Second), task("c", 0), task("d", -time.Second)},
		{task("d", -time.Second), task("c", 0), task("b", time.Second), task("a", 0)},
		{task("c", 0), task("a", 0), task("d", -time.Second), task("b", time.Second)},
	}
	want := []string{"b", "a", "c", "d"}
	for i, order := range orders {
		s := New("u1")
		for _, tk := range order {
			s.Put(tk)
		}
		if got := ids(s.Snapshot()); !equal(got, want) {
			t.Fatalf("order %d: got %v want %v", i, got, want)
		}
	}
}

func TestPutRejectsForeignOwner(t *testing.T) {
	s := New("u1")
	foreign := task("x", 0)
	foreign.Owner = "u2"
	if s.Put(foreign) {
		t.Fatal("foreign record admitted")
	}
	if s.Put(domain.Task{Owner: "u1"}) {
		t.Fatal("record without id admitted")
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty state, got %d", s.Len())
	}
}

func TestPutOverwritesSingleRecordPerID(t *testing.T) {
	s := New("u1")
	s.Put(task("a", 0))
	updated := task("a", 0)
	updated.Completed = true
	s.Put(updated)
	if s.Len() != 1 {
		t.Fatalf("expected one record, got %d", s.Len())
	}
	got, ok := s.Get("a")
	if !ok || !got.Completed {
		t.Fatalf("unexpected record %+v", got)
	}
}

func TestRemove(t *testing.T) {
	s := New("u1")
	s.Put(task("a", 0))
	if _, ok := s.Remove("a"); !ok {
		t.Fatal("expected removal")
	}
	if _, ok := s.Remove("a"); ok {
		t.Fatal("second removal should report absent")
	}
}

func TestReplaceAllIsWholesale(t *testing.T) {
	s := New("u1")
	s.Put(task("old", 0))
	foreign := task("f", 0)
	foreign.Owner = "u2"
	dup := task("n1", time.Minute)
	dup.Title = "latest"
	s.ReplaceAll([]domain.Task{task("n1", 0), task("n2", time.Second), foreign, dup})

	if _, ok := s.Get("old"); ok {
		t.Fatal("replace kept stale record")
	}
	if _, ok := s.Get("f"); ok {
		t.Fatal("replace admitted foreign record")
	}
	got, _ := s.Get("n1")
	if got.Title != "latest" {
		t.Fatalf("expected last duplicate to win, got %+v", got)
	}
	if got := ids(s.Snapshot()); !equal(got, []string{"n1", "n2"}) {
		t.Fatalf("unexpected snapshot %v", got)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := New("u1")
	s.Put(task("a", 0))
	snap := s.Snapshot()
	snap[0].Title = "mutated"
	got, _ := s.Get("a")
	if got.Title == "mutated" {
		t.Fatal("snapshot aliases internal state")
	}
}
