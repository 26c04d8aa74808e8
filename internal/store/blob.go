package store

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/blobvault/blobvault/internal/blob"
)

// Blob is a live handle to one stored blob. Handles are shared: concurrent
// Get calls for the same ID receive the same handle, and its attribute
// state is guarded by mu so racing readers each observe a fully loaded
// blob.
type Blob struct {
	store *BlobStore
	id    blob.ID

	mu    sync.Mutex // held while loading or mutating attrs
	attrs *blob.Attributes
	stale bool
}

func newBlob(s *BlobStore, id blob.ID) *Blob {
	return &Blob{store: s, id: id}
}

func (b *Blob) lock()   { b.mu.Lock() }
func (b *Blob) unlock() { b.mu.Unlock() }

// ID returns the blob's identifier.
func (b *Blob) ID() blob.ID { return b.id }

// Headers returns the caller-supplied headers recorded in the properties
// object.
func (b *Blob) Headers() map[string]string {
	b.lock()
	defer b.unlock()
	if b.attrs == nil {
		return nil
	}
	return b.attrs.Headers
}

// Metrics returns the content measurements recorded at write time.
func (b *Blob) Metrics() blob.Metrics {
	b.lock()
	defer b.unlock()
	if b.attrs == nil {
		return blob.Metrics{}
	}
	return b.attrs.Metrics
}

// Attributes returns the blob's full parsed attributes.
func (b *Blob) Attributes() *blob.Attributes {
	b.lock()
	defer b.unlock()
	return b.attrs
}

// Open returns a reader over the blob's content. The caller closes it.
func (b *Blob) Open(ctx context.Context) (io.ReadCloser, error) {
	out, err := b.store.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.store.bucketName),
		Key:    aws.String(b.store.contentKey(b.id)),
	})
	if err != nil {
		return nil, fmt.Errorf("opening blob %s: %w", b.id, err)
	}
	return out.Body, nil
}

// refresh loads the blob's attributes from the properties object if the
// handle has none yet or they were marked stale. It reports false when the
// properties object does not exist. Callers hold the lock.
func (b *Blob) refresh(ctx context.Context) (bool, error) {
	if b.attrs != nil && !b.stale {
		return true, nil
	}
	attrs, ok, err := b.store.loadAttributes(ctx, b.id)
	if err != nil || !ok {
		return ok, err
	}
	b.attrs = attrs
	b.stale = false
	return true, nil
}

func (b *Blob) markStale() {
	b.lock()
	b.stale = true
	b.unlock()
}

func (b *Blob) setAttributes(attrs *blob.Attributes) {
	b.lock()
	b.attrs = attrs
	b.stale = false
	b.unlock()
}
