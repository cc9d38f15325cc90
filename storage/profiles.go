package storage

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
	"go.opentelemetry.io/otel/attribute"

	"tasksync/domain"
)

// ProfileStore keeps one profile row per user.
type ProfileStore struct {
	table tableAPI
	now   func() time.Time
}

func NewProfileStore(table *aztables.Client) *ProfileStore {
	return newProfileStore(table)
}

func newProfileStore(table tableAPI) *ProfileStore {
	return &ProfileStore{table: table, now: func() time.Time { return time.Now().UTC() }}
}

// Get returns the profile of userID or domain.ErrNotFound.
func (s *ProfileStore) Get(ctx context.Context, userID string) (p Profile, err error) {
	ctx, span := startSpan(ctx, "ProfileStore.Get", attribute.String("owner", userID))
	defer func() { endSpan(span, err) }()

	resp, err := s.table.GetEntity(ctx, userID, userID, nil)
	if err != nil {
		return Profile{}, mapError(err)
	}
	var ent profileEntity
	if err := sonic.Unmarshal(resp.Value, &ent); err != nil {
		return Profile{}, err
	}
	return ent.profile(), nil
}

// Ensure creates the profile row if it does not exist yet.
func (s *ProfileStore) Ensure(ctx context.Context, userID string) (Profile, error) {
	p, err := s.Get(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return Profile{}, err
	}
	ent := profileEntity{
		Entity:        Entity{PartitionKey: userID, RowKey: userID},
		UpdatedAt:     s.now(),
		UpdatedAtType: EdmDateTime,
	}
	payload, err := sonic.Marshal(ent)
	if err != nil {
		return Profile{}, err
	}
	if _, err := s.table.AddEntity(ctx, payload, nil); err != nil {
		// Lost a race with a concurrent login.
		if isStatus(err, http.StatusConflict) {
			return s.Get(ctx, userID)
		}
		return Profile{}, mapError(err)
	}
	return ent.profile(), nil
}

// SetAvatar stores path as the user's avatar; an empty path clears it.
func (s *ProfileStore) SetAvatar(ctx context.Context, userID, path string) (p Profile, err error) {
	ctx, span := startSpan(ctx, "ProfileStore.SetAvatar", attribute.String("owner", userID))
	defer func() { endSpan(span, err) }()

	ent := profileEntity{
		Entity:        Entity{PartitionKey: userID, RowKey: userID},
		AvatarPath:    path,
		UpdatedAt:     s.now(),
		UpdatedAtType: EdmDateTime,
	}
	payload, err := sonic.Marshal(ent)
	if err != nil {
		return Profile{}, err
	}
	mode := aztables.UpdateModeReplace
	if _, err := s.table.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: mode}); err != nil {
		return Profile{}, mapError(err)
	}
	return ent.profile(), nil
}

