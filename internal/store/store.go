// Package store implements the blob lifecycle engine: create, promote,
// soft-delete, hard-delete, undelete, and teardown of a content-addressed
// blob store backed by an S3 bucket.
//
// Every logical blob is a pair of objects sharing one location fragment:
//
//	{prefix/}content/{location}.bytes
//	{prefix/}content/{location}.properties
//
// The properties object is the source of truth for lifecycle state; object
// tags mirror the deleted flag so the bucket's own lifecycle rules can
// expire soft-deleted content.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/blobvault/blobvault/internal/blob"
	"github.com/blobvault/blobvault/internal/bucket"
	"github.com/blobvault/blobvault/internal/config"
	"github.com/blobvault/blobvault/internal/metrics"
	"github.com/blobvault/blobvault/internal/properties"
	"github.com/blobvault/blobvault/internal/storage"
	"github.com/blobvault/blobvault/internal/transfer"
)

const (
	contentRoot = "content"

	// metadataFile marks the bucket prefix as belonging to a blob store of
	// a known layout.
	metadataFile  = "metadata.properties"
	storeTypeKey  = "type"
	storeTypeS3   = "s3/1"
	storeTypeFile = "file/1"

	// Objects are tagged deleted=true on soft delete; the bucket lifecycle
	// rule expires objects carrying the tag.
	deletedTagKey   = "deleted"
	deletedTagValue = "true"

	// hardDeleteReason marks soft deletes standing in for hard deletes
	// when expiry is preferred.
	hardDeleteReason = "hard-delete"

	// notImplementedCode is answered by S3-compatible stores without
	// object tagging support.
	notImplementedCode = "NotImplemented"

	asyncCleanupWorkers = 2
)

// ErrNotFound is returned when a blob's properties object does not exist
// (or the blob is soft-deleted, for callers that excluded deleted blobs).
var ErrNotFound = errors.New("blob not found")

// ErrTemporaryHeaderNotAllowed rejects promotion requests that re-declare
// the blob as temporary.
var ErrTemporaryHeaderNotAllowed = errors.New("promotion headers must not carry the temporary-blob marker")

// ErrUnsupportedStoreType is returned by Start when the bucket prefix is
// claimed by a blob store layout this engine does not understand.
var ErrUnsupportedStoreType = errors.New("unsupported blob store type")

// UsageChecker reports whether a blob is still referenced. Undelete
// consults it before resurrecting anything.
type UsageChecker func(ctx context.Context, s *BlobStore, id blob.ID) (bool, error)

// BlobStore is the lifecycle engine for one bucket-backed blob store.
type BlobStore struct {
	client   storage.S3API
	buckets  *bucket.Manager
	resolver blob.LocationResolver
	uploader transfer.Uploader
	copier   transfer.Copier

	name       string
	bucketName string
	prefix     string

	expirationDays  int
	preferExpire    bool
	forceHardDelete bool
	asyncCleanup    bool

	// live deduplicates in-flight loads so concurrent Get calls for one
	// ID share a single Blob and its attribute-loading lock. Entries are
	// removed once the call completes; the map never accumulates handles.
	live sync.Map // blob.ID -> *Blob

	// cleanupMu guards cleanupCh against enqueues racing Stop.
	cleanupMu sync.Mutex
	cleanupCh chan blob.ID
	cleanupWG sync.WaitGroup
}

// New assembles a blob store from configuration, selecting the transfer
// strategies by name.
func New(cfg *config.Config, client storage.S3API) (*BlobStore, error) {
	var uploader transfer.Uploader
	switch cfg.Transfer.Uploader {
	case "multipart":
		uploader = transfer.NewMultipartUploader(client, cfg.Transfer.PartSize)
	case "parallel":
		uploader = transfer.NewParallelUploader(client, cfg.Transfer.PartSize, cfg.Transfer.Concurrency)
	case "pipelined":
		uploader = transfer.NewPipelinedUploader(client, cfg.Transfer.PartSize, cfg.Transfer.Concurrency)
	default:
		return nil, fmt.Errorf("unknown uploader strategy %q", cfg.Transfer.Uploader)
	}

	var copier transfer.Copier
	switch cfg.Transfer.Copier {
	case "multipart":
		copier = transfer.NewMultipartCopier(client, cfg.Transfer.PartSize)
	case "parallel":
		copier = transfer.NewParallelCopier(client, cfg.Transfer.PartSize, cfg.Transfer.Concurrency)
	default:
		return nil, fmt.Errorf("unknown copier strategy %q", cfg.Transfer.Copier)
	}

	return &BlobStore{
		client:          client,
		buckets:         bucket.NewManager(client, cfg.Store.OwnershipCheckDisabled),
		resolver:        blob.NewVolumeChapterResolver(),
		uploader:        uploader,
		copier:          copier,
		name:            cfg.Store.Name,
		bucketName:      cfg.Store.Bucket,
		prefix:          cfg.Store.Prefix,
		expirationDays:  cfg.Store.Expiration(),
		preferExpire:    cfg.Store.PreferExpire,
		forceHardDelete: cfg.Store.ForceHardDelete,
		asyncCleanup:    cfg.Store.AsyncCleanup,
	}, nil
}

func (s *BlobStore) bucketConfig() bucket.Config {
	return bucket.Config{
		Name:           s.name,
		Bucket:         s.bucketName,
		Prefix:         s.prefix,
		ExpirationDays: s.expirationDays,
	}
}

func (s *BlobStore) prefixed(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func (s *BlobStore) contentKey(id blob.ID) string {
	return s.prefixed(contentRoot + "/" + s.resolver.Location(id) + blob.ContentSuffix)
}

func (s *BlobStore) attributesKey(id blob.ID) string {
	return s.prefixed(contentRoot + "/" + s.resolver.Location(id) + blob.AttributesSuffix)
}

// Start prepares the storage location and claims the bucket prefix with
// the metadata marker. A prefix claimed by an unrecognized layout is
// refused.
func (s *BlobStore) Start(ctx context.Context) error {
	if err := s.buckets.PrepareStorageLocation(ctx, s.bucketConfig()); err != nil {
		return err
	}

	marker := properties.NewFile(s.client, s.bucketName, s.prefixed(metadataFile))
	found, err := marker.Load(ctx)
	if err != nil {
		return err
	}
	if found {
		storeType, _ := marker.Get(storeTypeKey)
		switch storeType {
		case storeTypeS3:
		case storeTypeFile:
			// A store migrated from the file layout; reclaim it.
			marker.Set(storeTypeKey, storeTypeS3)
			if err := marker.Store(ctx); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: %q", ErrUnsupportedStoreType, storeType)
		}
	} else {
		marker.Set(storeTypeKey, storeTypeS3)
		if err := marker.Store(ctx); err != nil {
			return err
		}
	}

	if s.asyncCleanup {
		s.cleanupMu.Lock()
		s.cleanupCh = make(chan blob.ID, 128)
		s.cleanupMu.Unlock()
		ch := s.cleanupCh
		for range asyncCleanupWorkers {
			s.cleanupWG.Add(1)
			go s.cleanupWorker(ch)
		}
	}
	return nil
}

// Stop drains the async cleanup queue and releases cached handles.
func (s *BlobStore) Stop() {
	s.cleanupMu.Lock()
	ch := s.cleanupCh
	s.cleanupCh = nil
	s.cleanupMu.Unlock()
	if ch != nil {
		close(ch)
		s.cleanupWG.Wait()
	}
	s.live.Range(func(k, _ any) bool {
		s.live.Delete(k)
		return true
	})
}

func (s *BlobStore) cleanupWorker(ch chan blob.ID) {
	defer s.cleanupWG.Done()
	for id := range ch {
		if _, err := s.performHardDelete(context.Background(), id); err != nil {
			slog.Warn("async hard delete failed", "blob_id", id, "error", err)
		}
	}
}

// Create writes a new blob from src. Temporariness, direct-path placement,
// and all other lifecycle-relevant state come from the reserved header
// keys; the returned handle's ID carries no marker of its own.
func (s *BlobStore) Create(ctx context.Context, src io.Reader, headers map[string]string) (*Blob, error) {
	id := s.resolver.FromHeaders(headers)
	contentKey := s.contentKey(id)

	reader := newMetricsReader(src)
	if err := s.uploader.Upload(ctx, s.bucketName, contentKey, reader); err != nil {
		metrics.BlobOperationsTotal.WithLabelValues("create", "failure").Inc()
		return nil, err
	}

	attrs := &blob.Attributes{Headers: headers, Metrics: reader.Metrics()}
	if err := s.storeAttributes(ctx, id, attrs); err != nil {
		// Do not leave a content object with no attributes behind.
		s.deleteQuietly(ctx, contentKey)
		metrics.BlobOperationsTotal.WithLabelValues("create", "failure").Inc()
		return nil, err
	}

	metrics.BlobOperationsTotal.WithLabelValues("create", "success").Inc()
	metrics.BlobBytesWrittenTotal.Add(float64(attrs.Metrics.Size))

	b := newBlob(s, id)
	b.setAttributes(attrs)
	return b, nil
}

// Copy produces a new blob whose content is a server-side copy of the
// source blob's and whose headers are the given ones.
func (s *BlobStore) Copy(ctx context.Context, id blob.ID, headers map[string]string) (*Blob, error) {
	src, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	newID := s.resolver.FromHeaders(headers)
	if err := s.copier.Copy(ctx, s.bucketName, s.contentKey(id), s.contentKey(newID)); err != nil {
		return nil, err
	}

	attrs := &blob.Attributes{Headers: headers, Metrics: src.Metrics()}
	attrs.Metrics.CreationTime = time.Now().UTC()
	if err := s.storeAttributes(ctx, newID, attrs); err != nil {
		s.deleteQuietly(ctx, s.contentKey(newID))
		return nil, err
	}

	b := newBlob(s, newID)
	b.setAttributes(attrs)
	return b, nil
}

// MakeBlobPermanent promotes a temporary blob by rewriting its properties
// with the given headers, which must not re-declare temporariness.
func (s *BlobStore) MakeBlobPermanent(ctx context.Context, id blob.ID, headers map[string]string) (*Blob, error) {
	if _, ok := headers[blob.TemporaryBlobHeader]; ok {
		return nil, ErrTemporaryHeaderNotAllowed
	}

	attrs, found, err := s.loadAttributes(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}

	attrs.Headers = headers
	if err := s.storeAttributes(ctx, id, attrs); err != nil {
		return nil, err
	}

	b := newBlob(s, id)
	b.setAttributes(attrs)
	return b, nil
}

// Get returns a handle to a live blob, or ErrNotFound for absent and
// soft-deleted blobs. Safe for concurrent use per ID: racing callers share
// one handle and never observe a half-loaded blob.
func (s *BlobStore) Get(ctx context.Context, id blob.ID) (*Blob, error) {
	return s.get(ctx, id, false)
}

// GetIncludingDeleted is Get without the soft-delete filter.
func (s *BlobStore) GetIncludingDeleted(ctx context.Context, id blob.ID) (*Blob, error) {
	return s.get(ctx, id, true)
}

func (s *BlobStore) get(ctx context.Context, id blob.ID, includeDeleted bool) (*Blob, error) {
	b := s.handle(id)
	b.lock()
	defer b.unlock()
	// Callers still waiting on the lock share b; anyone arriving later
	// loads afresh.
	defer s.live.Delete(id)

	found, err := b.refresh(ctx)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	if b.attrs.Deleted && !includeDeleted {
		return nil, ErrNotFound
	}
	return b, nil
}

func (s *BlobStore) handle(id blob.ID) *Blob {
	entry, _ := s.live.LoadOrStore(id, newBlob(s, id))
	return entry.(*Blob)
}

// Delete removes a blob according to the store's retention policy: a soft
// delete when a retention window is configured, an immediate hard delete
// otherwise. Returns false for blobs that do not exist.
func (s *BlobStore) Delete(ctx context.Context, id blob.ID, reason string) (bool, error) {
	if s.forceHardDelete || s.expirationDays <= 0 {
		return s.DeleteHard(ctx, id)
	}
	return s.expire(ctx, id, reason)
}

// DeleteHard removes a blob's objects. When expiry is preferred and a
// retention window exists, the hard delete is downgraded to a soft delete
// and the bucket lifecycle rule performs the physical removal later. True
// means the object store confirmed the removal (or the downgrade took
// effect).
func (s *BlobStore) DeleteHard(ctx context.Context, id blob.ID) (bool, error) {
	if !s.forceHardDelete && s.preferExpire && s.expirationDays > 0 {
		return s.expire(ctx, id, hardDeleteReason)
	}
	return s.performHardDelete(ctx, id)
}

// DeleteHardAsync hands the blob to the background cleanup pool and
// returns once it is queued; the workers log failures. A store without a
// running pool deletes inline.
func (s *BlobStore) DeleteHardAsync(ctx context.Context, id blob.ID) error {
	s.cleanupMu.Lock()
	if s.cleanupCh != nil {
		s.cleanupCh <- id
		s.cleanupMu.Unlock()
		return nil
	}
	s.cleanupMu.Unlock()
	_, err := s.performHardDelete(ctx, id)
	return err
}

// DeleteIfTemp hard-deletes the blob only if its properties carry the
// temporary marker, reclaiming abandoned staging blobs cheaply. Absent and
// permanent blobs are left alone.
func (s *BlobStore) DeleteIfTemp(ctx context.Context, id blob.ID) (bool, error) {
	attrs, found, err := s.loadAttributes(ctx, id)
	if err != nil {
		return false, err
	}
	if !found || !attrs.IsTemporary() {
		return false, nil
	}
	return s.performHardDelete(ctx, id)
}

// expire soft-deletes: the deleted flag, reason, and timestamp go into the
// properties object, and both objects are tagged for the bucket's
// expiration rule. Expiring an absent or already-deleted blob is a no-op
// returning false.
func (s *BlobStore) expire(ctx context.Context, id blob.ID, reason string) (bool, error) {
	attrs, found, err := s.loadAttributes(ctx, id)
	if err != nil {
		slog.Warn("loading attributes for soft delete", "blob_id", id, "error", err)
		return false, nil
	}
	if !found || attrs.Deleted {
		return false, nil
	}

	attrs.Deleted = true
	attrs.DeletedReason = reason
	attrs.DeletedDateTime = time.Now().UTC()
	if err := s.storeAttributes(ctx, id, attrs); err != nil {
		return false, err
	}

	deletedTags := []types.Tag{{Key: aws.String(deletedTagKey), Value: aws.String(deletedTagValue)}}
	if err := s.tagObjects(ctx, deletedTags, s.contentKey(id), s.attributesKey(id)); err != nil {
		if storage.ErrorCode(err) == notImplementedCode {
			slog.Warn("bucket does not support object tagging", "bucket", s.bucketName, "error", err)
		} else {
			return false, err
		}
	}

	if entry, ok := s.live.Load(id); ok {
		entry.(*Blob).markStale()
	}
	metrics.BlobOperationsTotal.WithLabelValues("delete", "success").Inc()
	return true, nil
}

// performHardDelete removes both objects in one batch call. True means the
// object store confirmed both removals.
func (s *BlobStore) performHardDelete(ctx context.Context, id blob.ID) (bool, error) {
	keys := []string{s.contentKey(id), s.attributesKey(id)}
	objects := make([]types.ObjectIdentifier, len(keys))
	for i, key := range keys {
		objects[i] = types.ObjectIdentifier{Key: aws.String(key)}
	}

	out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.bucketName),
		Delete: &types.Delete{Objects: objects},
	})
	if err != nil {
		metrics.BlobOperationsTotal.WithLabelValues("delete", "failure").Inc()
		return false, fmt.Errorf("hard deleting blob %s: %w", id, err)
	}

	s.live.Delete(id)
	metrics.BlobOperationsTotal.WithLabelValues("delete", "success").Inc()
	return len(out.Deleted) == len(keys), nil
}

// Undelete resurrects a soft-deleted blob after the usage checker confirms
// it is still referenced. In dry-run mode the outcome is reported but
// neither properties nor tags are touched.
func (s *BlobStore) Undelete(ctx context.Context, check UsageChecker, id blob.ID, dryRun bool) (bool, error) {
	attrs, found, err := s.loadAttributes(ctx, id)
	if err != nil {
		return false, err
	}
	if !found || !attrs.Deleted {
		return false, nil
	}

	inUse, err := check(ctx, s, id)
	if err != nil {
		return false, err
	}
	if !inUse {
		return false, nil
	}
	if dryRun {
		return true, nil
	}

	attrs.Deleted = false
	attrs.DeletedReason = ""
	attrs.DeletedDateTime = time.Time{}
	if err := s.storeAttributes(ctx, id, attrs); err != nil {
		return false, err
	}
	if err := s.tagObjects(ctx, []types.Tag{}, s.contentKey(id), s.attributesKey(id)); err != nil {
		if storage.ErrorCode(err) != notImplementedCode {
			return false, err
		}
	}

	if entry, ok := s.live.Load(id); ok {
		entry.(*Blob).setAttributes(attrs)
	}
	return true, nil
}

// Exists reports whether the blob's properties object is present, with a
// single HEAD call.
func (s *BlobStore) Exists(ctx context.Context, id blob.ID) (bool, error) {
	return properties.NewFile(s.client, s.bucketName, s.attributesKey(id)).Exists(ctx)
}

// IsStorageAvailable probes the bucket.
func (s *BlobStore) IsStorageAvailable(ctx context.Context) bool {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucketName)})
	if err != nil {
		slog.Warn("storage unavailable", "bucket", s.bucketName, "error", err)
		return false
	}
	return true
}

// Remove tears down the blob store's storage location. With no content
// left, the metadata marker goes too and the bucket manager may delete the
// bucket. With content remaining, only the store's lifecycle footprint is
// removed; a bucket-not-empty refusal is a warning, not a failure.
func (s *BlobStore) Remove(ctx context.Context) error {
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucketName),
		Prefix:  aws.String(s.prefixed(contentRoot + "/")),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return fmt.Errorf("listing store content: %w", err)
	}

	if len(out.Contents) == 0 {
		if err := properties.NewFile(s.client, s.bucketName, s.prefixed(metadataFile)).Remove(ctx); err != nil {
			return err
		}
	} else {
		slog.Warn("blob store still has content, leaving objects in place",
			"store", s.name, "bucket", s.bucketName)
	}
	return s.buckets.DeleteStorageLocation(ctx, s.bucketConfig())
}

func (s *BlobStore) loadAttributes(ctx context.Context, id blob.ID) (*blob.Attributes, bool, error) {
	f := properties.NewFile(s.client, s.bucketName, s.attributesKey(id))
	found, err := f.Load(ctx)
	if err != nil || !found {
		return nil, found, err
	}
	attrs, err := blob.AttributesFromProperties(f.Map())
	if err != nil {
		return nil, true, fmt.Errorf("parsing attributes of blob %s: %w", id, err)
	}
	return attrs, true, nil
}

func (s *BlobStore) storeAttributes(ctx context.Context, id blob.ID, attrs *blob.Attributes) error {
	f := properties.NewFile(s.client, s.bucketName, s.attributesKey(id))
	f.Replace(attrs.ToProperties())
	return f.Store(ctx)
}

func (s *BlobStore) tagObjects(ctx context.Context, tags []types.Tag, keys ...string) error {
	for _, key := range keys {
		_, err := s.client.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
			Bucket:  aws.String(s.bucketName),
			Key:     aws.String(key),
			Tagging: &types.Tagging{TagSet: tags},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *BlobStore) deleteQuietly(ctx context.Context, key string) {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		slog.Warn("cleanup delete failed", "key", key, "error", err)
	}
}
