package domain

import (
	"fmt"
	"strings"
	"time"
)

// DefaultLabel is the placeholder category used when no generated label is available.
const DefaultLabel = "Task"

// MaxTitleLength bounds task titles accepted by the stores.
const MaxTitleLength = 500

// Task is a single to-do record owned by one user.
type Task struct {
	ID        string    `json:"id"`
	Owner     string    `json:"user_id"`
	Title     string    `json:"title"`
	Completed bool      `json:"is_complete"`
	CreatedAt time.Time `json:"created_at"`
	Label     string    `json:"label,omitempty"`
	// ClientRef carries the placeholder id the creating client supplied.
	ClientRef string `json:"client_ref,omitempty"`
}

// Before reports whether a sorts ahead of b in display order:
// newest first, ties broken by ascending id.
func Before(a, b Task) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID < b.ID
}

// NewTask is the create request sent to a task store.
type NewTask struct {
	Title     string `json:"title"`
	Owner     string `json:"user_id"`
	Label     string `json:"label,omitempty"`
	ClientRef string `json:"client_ref,omitempty"`
}

// Validate trims the title and checks the request.
func (n *NewTask) Validate() error {
	n.Title = strings.TrimSpace(n.Title)
	if n.Owner == "" {
		return fmt.Errorf("%w: owner is required", ErrUnauthorized)
	}
	if err := ValidateTitle(n.Title); err != nil {
		return err
	}
	if n.Label == "" {
		n.Label = DefaultLabel
	}
	return nil
}

func ValidateTitle(title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("%w: title is empty", ErrValidationFailed)
	}
	if len(title) > MaxTitleLength {
		return fmt.Errorf("%w: title exceeds %d bytes", ErrValidationFailed, MaxTitleLength)
	}
	return nil
}

// Patch carries the mutable fields of an update. Nil fields are left untouched.
type Patch struct {
	Title     *string `json:"title,omitempty"`
	Completed *bool   `json:"is_complete,omitempty"`
	Label     *string `json:"label,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Completed == nil && p.Label == nil
}

// Apply returns t with the patch applied. Identity fields never change.
func (p Patch) Apply(t Task) Task {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
	if p.Label != nil {
		t.Label = *p.Label
	}
	return t
}
