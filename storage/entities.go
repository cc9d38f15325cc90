package storage

import (
	"time"

	"tasksync/domain"
)

// Entity represents base table entity keys.
type Entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

const (
	EdmDateTime = "Edm.DateTime"
	EdmBoolean  = "Edm.Boolean"
)

// taskEntity is a task row: PartitionKey is the owner, RowKey the task id.
type taskEntity struct {
	Entity
	Title         string    `json:"Title"`
	IsComplete    bool      `json:"IsComplete"`
	Label         string    `json:"Label,omitempty"`
	ClientRef     string    `json:"ClientRef,omitempty"`
	CreatedAt     time.Time `json:"CreatedAt"`
	CreatedAtType string    `json:"CreatedAt@odata.type"`
}

func newTaskEntity(t domain.Task) taskEntity {
	return taskEntity{
		Entity:        Entity{PartitionKey: t.Owner, RowKey: t.ID},
		Title:         t.Title,
		IsComplete:    t.Completed,
		Label:         t.Label,
		ClientRef:     t.ClientRef,
		CreatedAt:     t.CreatedAt.UTC(),
		CreatedAtType: EdmDateTime,
	}
}

func (e taskEntity) task() domain.Task {
	return domain.Task{
		ID:        e.RowKey,
		Owner:     e.PartitionKey,
		Title:     e.Title,
		Completed: e.IsComplete,
		CreatedAt: e.CreatedAt.UTC(),
		Label:     e.Label,
		ClientRef: e.ClientRef,
	}
}

// profileEntity is keyed by user id in both keys.
type profileEntity struct {
	Entity
	AvatarPath    string    `json:"AvatarPath"`
	UpdatedAt     time.Time `json:"UpdatedAt"`
	UpdatedAtType string    `json:"UpdatedAt@odata.type"`
}

// Profile is a user's profile row.
type Profile struct {
	UserID     string    `json:"id"`
	AvatarPath string    `json:"avatar_path,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (e profileEntity) profile() Profile {
	return Profile{UserID: e.RowKey, AvatarPath: e.AvatarPath, UpdatedAt: e.UpdatedAt.UTC()}
}
