package domain

import "fmt"

// ChangeType is the kind of row change carried by the notification stream.
type ChangeType string

const (
	Inserted ChangeType = "INSERT"
	Updated  ChangeType = "UPDATE"
	Deleted  ChangeType = "DELETE"
	// Resync tells subscribers that changes of the owner were lost and the
	// full list must be reloaded.
	Resync ChangeType = "RESYNC"
)

// Change is one event from the change-notification stream. Inserted and Updated
// carry the full record in New; Deleted carries the removed id in OldID.
type Change struct {
	Type      ChangeType `json:"eventType"`
	Owner     string     `json:"owner"`
	New       *Task      `json:"new,omitempty"`
	OldID     string     `json:"oldId,omitempty"`
	Timestamp int64      `json:"commitTimestamp,omitempty"`
}

// InsertedChange builds an Inserted event for t.
func InsertedChange(t Task, ts int64) Change {
	return Change{Type: Inserted, Owner: t.Owner, New: &t, Timestamp: ts}
}

// UpdatedChange builds an Updated event for t.
func UpdatedChange(t Task, ts int64) Change {
	return Change{Type: Updated, Owner: t.Owner, New: &t, Timestamp: ts}
}

// DeletedChange builds a Deleted event.
func DeletedChange(owner, id string, ts int64) Change {
	return Change{Type: Deleted, Owner: owner, OldID: id, Timestamp: ts}
}

// ResyncChange builds a Resync hint for owner.
func ResyncChange(owner string, ts int64) Change {
	return Change{Type: Resync, Owner: owner, Timestamp: ts}
}

// TaskID returns the id the change refers to.
func (c Change) TaskID() string {
	if c.Type == Deleted {
		return c.OldID
	}
	if c.New != nil {
		return c.New.ID
	}
	return ""
}

// Validate rejects events that cannot be applied: unknown types, missing ids
// or missing payloads.
func (c Change) Validate() error {
	switch c.Type {
	case Inserted, Updated:
		if c.New == nil {
			return fmt.Errorf("%s event without record", c.Type)
		}
		if c.New.ID == "" {
			return fmt.Errorf("%s event without id", c.Type)
		}
	case Deleted:
		if c.OldID == "" {
			return fmt.Errorf("%s event without id", c.Type)
		}
	case Resync:
		if c.Owner == "" {
			return fmt.Errorf("%s event without owner", c.Type)
		}
	default:
		return fmt.Errorf("unknown event type %q", c.Type)
	}
	return nil
}

// Listener receives events from a change subscription. OnError is called when
// the stream was interrupted and events may have been missed.
type Listener struct {
	OnChange func(Change)
	OnError  func(error)
}

func (l Listener) Change(c Change) {
	if l.OnChange != nil {
		l.OnChange(c)
	}
}

func (l Listener) Error(err error) {
	if l.OnError != nil {
		l.OnError(err)
	}
}
