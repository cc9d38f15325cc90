// Package profile manages user profiles and their avatar images.
package profile

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"tasksync/domain"
	"tasksync/storage"
)

type Profiles interface {
	Get(ctx context.Context, userID string) (storage.Profile, error)
	Ensure(ctx context.Context, userID string) (storage.Profile, error)
	SetAvatar(ctx context.Context, userID, path string) (storage.Profile, error)
}

type Avatars interface {
	Upload(ctx context.Context, name, contentType string, data []byte) error
	Remove(ctx context.Context, name string) error
	URL(name string) string
}

// MaxAvatarBytes bounds uploaded images.
const MaxAvatarBytes = 5 << 20

var extensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
}

// View is the profile as shown to its owner.
type View struct {
	UserID    string    `json:"id"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Service struct {
	profiles Profiles
	avatars  Avatars
	newName  func(userID, ext string) string
}

func NewService(p Profiles, a Avatars) *Service {
	return &Service{
		profiles: p,
		avatars:  a,
		newName: func(userID, ext string) string {
			return fmt.Sprintf("%s-%s.%s", userID, uuid.NewString(), ext)
		},
	}
}

func (s *Service) view(p storage.Profile) View {
	v := View{UserID: p.UserID, UpdatedAt: p.UpdatedAt}
	if p.AvatarPath != "" {
		v.AvatarURL = s.avatars.URL(p.AvatarPath)
	}
	return v
}

// Login makes sure a profile row exists for userID.
func (s *Service) Login(ctx context.Context, userID string) (View, error) {
	if userID == "" {
		return View{}, domain.ErrUnauthorized
	}
	p, err := s.profiles.Ensure(ctx, userID)
	if err != nil {
		return View{}, err
	}
	return s.view(p), nil
}

func (s *Service) Get(ctx context.Context, userID string) (View, error) {
	return s.Login(ctx, userID)
}

// UploadAvatar stores data as the user's new avatar and removes the previous
// image. Only JPEG, PNG and GIF are accepted; the content type is sniffed.
func (s *Service) UploadAvatar(ctx context.Context, userID string, data []byte) (View, error) {
	if userID == "" {
		return View{}, domain.ErrUnauthorized
	}
	if len(data) == 0 {
		return View{}, fmt.Errorf("%w: you must select an image to upload", domain.ErrValidationFailed)
	}
	if len(data) > MaxAvatarBytes {
		return View{}, fmt.Errorf("%w: image larger than %d bytes", domain.ErrValidationFailed, MaxAvatarBytes)
	}
	contentType := http.DetectContentType(data)
	ext, ok := extensions[contentType]
	if !ok {
		return View{}, fmt.Errorf("%w: unsupported image type %s", domain.ErrValidationFailed, contentType)
	}
	prev, err := s.profiles.Ensure(ctx, userID)
	if err != nil {
		return View{}, err
	}
	name := s.newName(userID, ext)
	if err := s.avatars.Upload(ctx, name, contentType, data); err != nil {
		return View{}, err
	}
	p, err := s.profiles.SetAvatar(ctx, userID, name)
	if err != nil {
		_ = s.avatars.Remove(ctx, name)
		return View{}, err
	}
	if prev.AvatarPath != "" && prev.AvatarPath != name {
		if err := s.avatars.Remove(ctx, prev.AvatarPath); err != nil {
			log.WithError(err).WithField("owner", userID).Warn("Failed to remove previous avatar")
		}
	}
	return s.view(p), nil
}

// RemoveAvatar deletes the avatar image and clears the profile path.
func (s *Service) RemoveAvatar(ctx context.Context, userID string) (View, error) {
	if userID == "" {
		return View{}, domain.ErrUnauthorized
	}
	cur, err := s.profiles.Ensure(ctx, userID)
	if err != nil {
		return View{}, err
	}
	if cur.AvatarPath == "" {
		return s.view(cur), nil
	}
	if err := s.avatars.Remove(ctx, cur.AvatarPath); err != nil {
		return View{}, err
	}
	p, err := s.profiles.SetAvatar(ctx, userID, "")
	if err != nil {
		return View{}, err
	}
	return s.view(p), nil
}
