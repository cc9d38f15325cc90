package cli

import (
	"context"
	"errors"
	"sync"

	"github.com/spf13/cobra"

	"tasksync/domain"
	"tasksync/reconciler"
)

// session is a reconciler started for one command run.
type session struct {
	rec     *reconciler.Reconciler
	backend *Backend

	mu       sync.Mutex
	failures []domain.Failure
	changed  chan struct{}
}

func (o *RootOptions) start(cmd *cobra.Command) (*session, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	b, err := o.open(ctx)
	if err != nil {
		return nil, err
	}
	s := &session{backend: b, changed: make(chan struct{}, 1)}
	s.rec = reconciler.New(b.Store, reconciler.Options{
		Logger:         o.logger(cmd),
		RequestTimeout: o.Timeout,
		OnChange: func() {
			select {
			case s.changed <- struct{}{}:
			default:
			}
		},
		OnFailure: func(f domain.Failure) {
			s.mu.Lock()
			s.failures = append(s.failures, f)
			s.mu.Unlock()
		},
	})
	if err := s.rec.StartSession(ctx, o.Owner); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

// settle waits for in-flight store calls and returns the failures they
// reported.
func (s *session) settle() error {
	s.rec.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	errs := make([]error, 0, len(s.failures))
	for _, f := range s.failures {
		errs = append(errs, f)
	}
	s.failures = nil
	return errors.Join(errs...)
}

func (s *session) takeFailures() []domain.Failure {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.failures
	s.failures = nil
	return out
}

func (s *session) close() {
	if s.rec != nil {
		_ = s.rec.Close()
	}
	if s.backend != nil && s.backend.Close != nil {
		_ = s.backend.Close()
	}
}

// confirmed returns the record that replaced placeholder id, if the store
// echoed the client reference.
func (s *session) confirmed(placeholder string) (domain.Task, bool) {
	if t, ok := s.rec.Get(placeholder); ok {
		return t, true
	}
	for _, t := range s.rec.Snapshot() {
		if t.ClientRef == placeholder {
			return t, true
		}
	}
	return domain.Task{}, false
}
