package reconciler

import (
	"context"
	"io"
	"time"

	"tasksync/domain"
	"tasksync/tasklist"
)

// session is the state owned by one authenticated identity. It is replaced
// wholesale on every identity change.
type session struct {
	owner  string
	epoch  uint64
	ctx    context.Context
	cancel context.CancelFunc
	state  *tasklist.State
	sub    io.Closer

	pending map[string]*pendingInsert
	deletes map[string]domain.Task
	toggles map[string]bool
	seq     map[string]uint64
	nextSeq uint64

	resyncs   int
	resyncGen uint64
	buffered  []domain.Change
}

// pendingInsert tracks an optimistic insert until the create call returns.
type pendingInsert struct {
	placeholder domain.Task
	// confirmedID is set once a stream event was matched to the placeholder.
	confirmedID string
	// removed marks a confirmed record deleted remotely before the response.
	removed bool
}

func newSession(owner string, epoch uint64, ctx context.Context, cancel context.CancelFunc) *session {
	return &session{
		owner:   owner,
		epoch:   epoch,
		ctx:     ctx,
		cancel:  cancel,
		state:   tasklist.New(owner),
		pending: make(map[string]*pendingInsert),
		deletes: make(map[string]domain.Task),
		toggles: make(map[string]bool),
		seq:     make(map[string]uint64),
	}
}

// bump records a new local operation on id and returns its sequence number.
func (s *session) bump(id string) uint64 {
	s.nextSeq++
	s.seq[id] = s.nextSeq
	return s.nextSeq
}

// settle reports whether seq is the newest operation on id and forgets it if so.
func (s *session) settle(id string, seq uint64) bool {
	if s.seq[id] != seq {
		return false
	}
	delete(s.seq, id)
	return true
}

// match finds the unconfirmed placeholder a stored record belongs to. An
// echoed client reference is exact; otherwise the closest placeholder with
// the same title inside window is chosen.
func (s *session) match(rec domain.Task, window time.Duration) *pendingInsert {
	if rec.ClientRef != "" {
		p, ok := s.pending[rec.ClientRef]
		if ok && p.confirmedID == "" {
			return p
		}
		return nil
	}
	var best *pendingInsert
	var bestDelta time.Duration
	for _, p := range s.pending {
		if p.confirmedID != "" || p.placeholder.Title != rec.Title {
			continue
		}
		delta := rec.CreatedAt.Sub(p.placeholder.CreatedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta > window {
			continue
		}
		if best == nil || delta < bestDelta || (delta == bestDelta && p.placeholder.ID < best.placeholder.ID) {
			best, bestDelta = p, delta
		}
	}
	return best
}

func sameTask(a, b domain.Task) bool {
	return a.ID == b.ID && a.Owner == b.Owner && a.Title == b.Title &&
		a.Completed == b.Completed && a.CreatedAt.Equal(b.CreatedAt) &&
		a.Label == b.Label && a.ClientRef == b.ClientRef
}
