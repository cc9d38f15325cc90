// Package tasklist holds the ordered task collection for one owner.
//
// State has no locking of its own; the reconciler is its only writer and
// serializes access.
package tasklist

import (
	"sort"

	"tasksync/domain"
)

// State is the display collection of one owner's tasks.
type State struct {
	owner string
	byID  map[string]domain.Task
}

// New returns an empty collection bound to owner.
func New(owner string) *State {
	return &State{owner: owner, byID: make(map[string]domain.Task)}
}

func (s *State) Owner() string { return s.owner }

func (s *State) Len() int { return len(s.byID) }

// Snapshot returns the tasks sorted newest first, ids ascending on ties.
func (s *State) Snapshot() []domain.Task {
	out := make([]domain.Task, 0, len(s.byID))
	for _, t := range s.byID {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return domain.Before(out[i], out[j]) })
	return out
}

func (s *State) Get(id string) (domain.Task, bool) {
	t, ok := s.byID[id]
	return t, ok
}

// Put inserts or overwrites a task. Tasks of other owners are refused.
func (s *State) Put(t domain.Task) bool {
	if t.ID == "" || t.Owner != s.owner {
		return false
	}
	s.byID[t.ID] = t
	return true
}

func (s *State) Remove(id string) (domain.Task, bool) {
	t, ok := s.byID[id]
	if ok {
		delete(s.byID, id)
	}
	return t, ok
}

// ReplaceAll swaps the whole collection. Foreign records are dropped and the
// last record wins for a repeated id.
func (s *State) ReplaceAll(records []domain.Task) {
	next := make(map[string]domain.Task, len(records))
	for _, t := range records {
		if t.ID == "" || t.Owner != s.owner {
			continue
		}
		next[t.ID] = t
	}
	s.byID = next
}
