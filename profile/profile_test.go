package profile

import (
	"context"
	"errors"
	"testing"
	"time"

	"tasksync/domain"
	"tasksync/storage"
)

type fakeProfiles struct {
	rows map[string]storage.Profile
	err  error
}

func (f *fakeProfiles) Get(ctx context.Context, id string) (storage.Profile, error) {
	p, ok := f.rows[id]
	if !ok {
		return storage.Profile{}, domain.ErrNotFound
	}
	return p, nil
}

func (f *fakeProfiles) Ensure(ctx context.Context, id string) (storage.Profile, error) {
	if p, ok := f.rows[id]; ok {
		return p, nil
	}
	p := storage.Profile{UserID: id, UpdatedAt: time.Now().UTC()}
	f.rows[id] = p
	return p, nil
}

func (f *fakeProfiles) SetAvatar(ctx context.Context, id, path string) (storage.Profile, error) {
	if f.err != nil {
		return storage.Profile{}, f.err
	}
	p := storage.Profile{UserID: id, AvatarPath: path, UpdatedAt: time.Now().UTC()}
	f.rows[id] = p
	return p, nil
}

type fakeAvatars struct {
	objects map[string]string
}

func (f *fakeAvatars) Upload(ctx context.Context, name, contentType string, data []byte) error {
	f.objects[name] = contentType
	return nil
}

func (f *fakeAvatars) Remove(ctx context.Context, name string) error {
	delete(f.objects, name)
	return nil
}

func (f *fakeAvatars) URL(name string) string { return "https://cdn/avatars/" + name }

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func newTestService() (*Service, *fakeProfiles, *fakeAvatars) {
	p := &fakeProfiles{rows: map[string]storage.Profile{}}
	a := &fakeAvatars{objects: map[string]string{}}
	s := NewService(p, a)
	n := 0
	s.newName = func(uid, ext string) string {
		n++
		return uid + "-" + string(rune('0'+n)) + "." + ext
	}
	return s, p, a
}

func TestUploadReplacesPreviousAvatar(t *testing.T) {
	s, _, a := newTestService()
	ctx := context.Background()

	v, err := s.UploadAvatar(ctx, "u1", pngHeader)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if v.AvatarURL != "https://cdn/avatars/u1-1.png" || a.objects["u1-1.png"] != "image/png" {
		t.Fatalf("unexpected view %+v objects %v", v, a.objects)
	}
	if _, err := s.UploadAvatar(ctx, "u1", pngHeader); err != nil {
		t.Fatal(err)
	}
	if _, ok := a.objects["u1-1.png"]; ok {
		t.Fatal("previous avatar not removed")
	}
	if len(a.objects) != 1 {
		t.Fatalf("unexpected objects %v", a.objects)
	}
}

func TestUploadRejectsNonImages(t *testing.T) {
	s, _, a := newTestService()
	_, err := s.UploadAvatar(context.Background(), "u1", []byte("just some text"))
	if !errors.Is(err, domain.ErrValidationFailed) {
		t.Fatalf("expected validation failure, got %v", err)
	}
	if _, err := s.UploadAvatar(context.Background(), "u1", nil); !errors.Is(err, domain.ErrValidationFailed) {
		t.Fatalf("expected validation failure for empty upload, got %v", err)
	}
	if len(a.objects) != 0 {
		t.Fatal("rejected upload stored")
	}
}

func TestUploadRollsBackOnProfileFailure(t *testing.T) {
	s, p, a := newTestService()
	p.err = errors.New("table down")
	if _, err := s.UploadAvatar(context.Background(), "u1", pngHeader); err == nil {
		t.Fatal("expected error")
	}
	if len(a.objects) != 0 {
		t.Fatalf("orphaned avatar %v", a.objects)
	}
}

func TestRemoveAvatar(t *testing.T) {
	s, p, a := newTestService()
	ctx := context.Background()
	if _, err := s.UploadAvatar(ctx, "u1", pngHeader); err != nil {
		t.Fatal(err)
	}
	v, err := s.RemoveAvatar(ctx, "u1")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if v.AvatarURL != "" || p.rows["u1"].AvatarPath != "" || len(a.objects) != 0 {
		t.Fatalf("avatar not cleared: %+v", v)
	}
	if _, err := s.RemoveAvatar(ctx, "u1"); err != nil {
		t.Fatalf("second remove: %v", err)
	}
}

func TestLoginRequiresUser(t *testing.T) {
	s, p, _ := newTestService()
	if _, err := s.Login(context.Background(), ""); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := s.Login(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}
	if _, ok := p.rows["u1"]; !ok {
		t.Fatal("profile not ensured")
	}
}
