package api

import (
	"context"
	"time"

	"tasksync/profile"
)

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper records Idempotency-Key headers of add requests so a retried
// request returns the original task id. A key whose create failed is released.
type Deduper interface {
	// Claim reserves key. When it was already claimed, prior holds the
	// committed value, or "" while the first request is still running.
	Claim(ctx context.Context, userID, key string) (prior string, fresh bool, err error)
	// Commit stores the result for a claimed key.
	Commit(ctx context.Context, userID, key, value string) error
	// Release drops a claim so the client may retry.
	Release(ctx context.Context, userID, key string) error
}

// Profiles is the profile service used by the profile routes.
type Profiles interface {
	Login(ctx context.Context, userID string) (profile.View, error)
	Get(ctx context.Context, userID string) (profile.View, error)
	UploadAvatar(ctx context.Context, userID string, data []byte) (profile.View, error)
	RemoveAvatar(ctx context.Context, userID string) (profile.View, error)
}

const (
	maxTitleBody = 16 * 1024
	// dedupeTimeout bounds the deduper calls made after a create returned.
	dedupeTimeout = 5 * time.Second
)
