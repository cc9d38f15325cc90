package storage

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"go.opentelemetry.io/otel/attribute"
)

type blobAPI interface {
	UploadBuffer(ctx context.Context, containerName string, blobName string, buffer []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error)
	DeleteBlob(ctx context.Context, containerName string, blobName string, o *azblob.DeleteBlobOptions) (azblob.DeleteBlobResponse, error)
	URL() string
}

// AvatarStore keeps avatar images in a blob container.
type AvatarStore struct {
	blobs     blobAPI
	container string
}

func NewAvatarStore(connStr, container string) (*AvatarStore, error) {
	c, err := azblob.NewClientFromConnectionString(connStr, nil)
	if err != nil {
		return nil, err
	}
	return newAvatarStore(c, container), nil
}

func newAvatarStore(b blobAPI, container string) *AvatarStore {
	return &AvatarStore{blobs: b, container: container}
}

func (s *AvatarStore) Upload(ctx context.Context, name, contentType string, data []byte) (err error) {
	ctx, span := startSpan(ctx, "AvatarStore.Upload", attribute.String("blob", name), attribute.Int("bytes", len(data)))
	defer func() { endSpan(span, err) }()

	_, err = s.blobs.UploadBuffer(ctx, s.container, name, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	return mapError(err)
}

// Remove deletes the blob; a missing blob is not an error.
func (s *AvatarStore) Remove(ctx context.Context, name string) (err error) {
	ctx, span := startSpan(ctx, "AvatarStore.Remove", attribute.String("blob", name))
	defer func() { endSpan(span, err) }()

	_, err = s.blobs.DeleteBlob(ctx, s.container, name, nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return nil
	}
	return mapError(err)
}

// URL returns the public address of the named blob.
func (s *AvatarStore) URL(name string) string {
	base := s.blobs.URL()
	if len(base) > 0 && base[len(base)-1] != '/' {
		base += "/"
	}
	return base + s.container + "/" + name
}
