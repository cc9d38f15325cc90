package storage

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"tasksync/domain"
)

func respErr(code int, errorCode string) error {
	return &azcore.ResponseError{StatusCode: code, ErrorCode: errorCode}
}

type fakeTable struct {
	mu        sync.Mutex
	rows      map[string][]byte
	etags     map[string]int
	conflicts int
	err       error
}

func newFakeTable() *fakeTable {
	return &fakeTable{rows: map[string][]byte{}, etags: map[string]int{}}
}

func rowKey(pk, rk string) string { return pk + "|" + rk }

func keysOf(entity []byte) (string, error) {
	var e Entity
	if err := sonic.Unmarshal(entity, &e); err != nil {
		return "", err
	}
	return rowKey(e.PartitionKey, e.RowKey), nil
}

func (f *fakeTable) AddEntity(ctx context.Context, entity []byte, o *aztables.AddEntityOptions) (aztables.AddEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return aztables.AddEntityResponse{}, f.err
	}
	k, err := keysOf(entity)
	if err != nil {
		return aztables.AddEntityResponse{}, err
	}
	if _, ok := f.rows[k]; ok {
		return aztables.AddEntityResponse{}, respErr(http.StatusConflict, "EntityAlreadyExists")
	}
	f.rows[k] = entity
	f.etags[k]++
	return aztables.AddEntityResponse{}, nil
}

func (f *fakeTable) GetEntity(ctx context.Context, pk, rk string, o *aztables.GetEntityOptions) (aztables.GetEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return aztables.GetEntityResponse{}, f.err
	}
	row, ok := f.rows[rowKey(pk, rk)]
	if !ok {
		return aztables.GetEntityResponse{}, respErr(http.StatusNotFound, "ResourceNotFound")
	}
	return aztables.GetEntityResponse{Value: row, ETag: azcore.ETag(strconv.Itoa(f.etags[rowKey(pk, rk)]))}, nil
}

func (f *fakeTable) UpdateEntity(ctx context.Context, entity []byte, o *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return aztables.UpdateEntityResponse{}, f.err
	}
	k, err := keysOf(entity)
	if err != nil {
		return aztables.UpdateEntityResponse{}, err
	}
	if _, ok := f.rows[k]; !ok {
		return aztables.UpdateEntityResponse{}, respErr(http.StatusNotFound, "ResourceNotFound")
	}
	if f.conflicts > 0 {
		f.conflicts--
		f.etags[k]++
		return aztables.UpdateEntityResponse{}, respErr(http.StatusPreconditionFailed, "UpdateConditionNotSatisfied")
	}
	if o != nil && o.IfMatch != nil && *o.IfMatch != azcore.ETagAny && string(*o.IfMatch) != strconv.Itoa(f.etags[k]) {
		return aztables.UpdateEntityResponse{}, respErr(http.StatusPreconditionFailed, "UpdateConditionNotSatisfied")
	}
	f.rows[k] = entity
	f.etags[k]++
	return aztables.UpdateEntityResponse{}, nil
}

func (f *fakeTable) UpsertEntity(ctx context.Context, entity []byte, o *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return aztables.UpsertEntityResponse{}, f.err
	}
	k, err := keysOf(entity)
	if err != nil {
		return aztables.UpsertEntityResponse{}, err
	}
	f.rows[k] = entity
	f.etags[k]++
	return aztables.UpsertEntityResponse{}, nil
}

func (f *fakeTable) DeleteEntity(ctx context.Context, pk, rk string, o *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return aztables.DeleteEntityResponse{}, f.err
	}
	k := rowKey(pk, rk)
	if _, ok := f.rows[k]; !ok {
		return aztables.DeleteEntityResponse{}, respErr(http.StatusNotFound, "ResourceNotFound")
	}
	delete(f.rows, k)
	return aztables.DeleteEntityResponse{}, nil
}

// NewListEntitiesPager supports the "PartitionKey eq '<pk>'" filter only.
func (f *fakeTable) NewListEntitiesPager(o *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse] {
	return runtime.NewPager(runtime.PagingHandler[aztables.ListEntitiesResponse]{
		More: func(aztables.ListEntitiesResponse) bool { return false },
		Fetcher: func(ctx context.Context, _ *aztables.ListEntitiesResponse) (aztables.ListEntitiesResponse, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.err != nil {
				return aztables.ListEntitiesResponse{}, f.err
			}
			pk := ""
			if o != nil && o.Filter != nil {
				pk = strings.TrimSuffix(strings.TrimPrefix(*o.Filter, "PartitionKey eq '"), "'")
				pk = strings.ReplaceAll(pk, "''", "'")
			}
			var resp aztables.ListEntitiesResponse
			for k, row := range f.rows {
				if strings.HasPrefix(k, pk+"|") {
					resp.Entities = append(resp.Entities, row)
				}
			}
			return resp, nil
		},
	})
}

type fakePublisher struct {
	mu      sync.Mutex
	changes []domain.Change
	err     error
}

func (p *fakePublisher) Publish(ctx context.Context, c domain.Change) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.changes = append(p.changes, c)
	return nil
}

func (p *fakePublisher) published() []domain.Change {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Change(nil), p.changes...)
}

type queuedMessage struct {
	id, receipt, text string
	count             int64
}

type fakeQueue struct {
	mu       sync.Mutex
	messages []*queuedMessage
	next     int
	failAt   int
	calls    int
}

func newFakeQueue() *fakeQueue { return &fakeQueue{failAt: -1} }

func (f *fakeQueue) EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	f.calls++
	if idx == f.failAt {
		return azqueue.EnqueueMessagesResponse{}, errors.New("enqueue failure")
	}
	f.next++
	id := strconv.Itoa(f.next)
	f.messages = append(f.messages, &queuedMessage{id: id, receipt: "r" + id, text: content})
	return azqueue.EnqueueMessagesResponse{}, nil
}

func (f *fakeQueue) DequeueMessages(ctx context.Context, o *azqueue.DequeueMessagesOptions) (azqueue.DequeueMessagesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	limit := len(f.messages)
	if o != nil && o.NumberOfMessages != nil && int(*o.NumberOfMessages) < limit {
		limit = int(*o.NumberOfMessages)
	}
	var resp azqueue.DequeueMessagesResponse
	for _, m := range f.messages[:limit] {
		m.count++
		id, receipt, text, count := m.id, m.receipt, m.text, m.count
		resp.Messages = append(resp.Messages, &azqueue.DequeuedMessage{MessageID: &id, PopReceipt: &receipt, MessageText: &text, DequeueCount: &count})
	}
	return resp, nil
}

func (f *fakeQueue) DeleteMessage(ctx context.Context, id, receipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, m := range f.messages {
		if m.id == id && m.receipt == receipt {
			f.messages = append(f.messages[:i], f.messages[i+1:]...)
			return azqueue.DeleteMessageResponse{}, nil
		}
	}
	return azqueue.DeleteMessageResponse{}, respErr(http.StatusNotFound, "MessageNotFound")
}

func (f *fakeQueue) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeBlobs) UploadBuffer(ctx context.Context, container, name string, buf []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[container+"/"+name] = buf
	if o != nil && o.HTTPHeaders != nil && o.HTTPHeaders.BlobContentType != nil {
		f.types[container+"/"+name] = *o.HTTPHeaders.BlobContentType
	}
	return azblob.UploadBufferResponse{}, nil
}

func (f *fakeBlobs) DeleteBlob(ctx context.Context, container, name string, o *azblob.DeleteBlobOptions) (azblob.DeleteBlobResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[container+"/"+name]; !ok {
		return azblob.DeleteBlobResponse{}, respErr(http.StatusNotFound, "BlobNotFound")
	}
	delete(f.objects, container+"/"+name)
	return azblob.DeleteBlobResponse{}, nil
}

func (f *fakeBlobs) URL() string { return "https://acct.blob.core.windows.net/" }
