package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/blobvault/blobvault/internal/blob"
	"github.com/blobvault/blobvault/internal/config"
	"github.com/blobvault/blobvault/internal/storage/storagetest"
)

func testStore(t *testing.T, client *storagetest.Client, mutate func(*config.Config)) *BlobStore {
	t.Helper()
	cfg := &config.Config{
		Store: config.StoreConfig{
			Name:   "blobs",
			Bucket: "my-bucket",
		},
		Transfer: config.TransferConfig{
			Uploader:    "multipart",
			Copier:      "multipart",
			PartSize:    100,
			Concurrency: 2,
		},
	}
	if mutate != nil {
		mutate(cfg)
	}
	s, err := New(cfg, client)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func permanentHeaders() map[string]string {
	return map[string]string{
		blob.BlobNameHeader:    "test",
		blob.CreatedByHeader:   "admin",
		blob.ContentTypeHeader: "text/plain",
		blob.RepoNameHeader:    "test-repo",
	}
}

func temporaryHeaders() map[string]string {
	h := permanentHeaders()
	h[blob.TemporaryBlobHeader] = "true"
	return h
}

func TestCreateWritesContentAndProperties(t *testing.T) {
	client := storagetest.NewClient()
	s := testStore(t, client, nil)

	b, err := s.Create(context.Background(), strings.NewReader("hello world"), permanentHeaders())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	contentKey := s.contentKey(b.ID())
	if !strings.HasPrefix(contentKey, "content/vol-") || !strings.HasSuffix(contentKey, ".bytes") {
		t.Errorf("content key = %q", contentKey)
	}
	data, ok := client.Object(contentKey)
	if !ok || string(data) != "hello world" {
		t.Fatalf("content object = %q, %v", data, ok)
	}

	props, ok := client.Object(s.attributesKey(b.ID()))
	if !ok {
		t.Fatal("properties object missing")
	}
	for _, want := range []string{
		"@BlobStore.blob-name=test\n",
		"@BlobStore.created-by=admin\n",
		"@BlobStore.content-type=text/plain\n",
		"@Bucket.repo-name=test-repo\n",
		"size=11\n",
		"sha1=2aae6c35c94fcfb415dbe95f408b9ce91ee846ed\n",
	} {
		if !strings.Contains(string(props), want) {
			t.Errorf("properties missing %q:\n%s", want, props)
		}
	}

	m := b.Metrics()
	if m.Size != 11 || m.SHA1 != "2aae6c35c94fcfb415dbe95f408b9ce91ee846ed" {
		t.Errorf("metrics = %+v", m)
	}
}

func TestCreateTemporaryBlob(t *testing.T) {
	client := storagetest.NewClient()
	s := testStore(t, client, nil)

	b, err := s.Create(context.Background(), strings.NewReader("staging"), temporaryHeaders())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Temporariness is never encoded into the ID.
	if strings.Contains(string(b.ID()), "$") {
		t.Errorf("temporary blob ID carries a namespace prefix: %q", b.ID())
	}

	got, err := s.Get(context.Background(), b.ID())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Attributes().IsTemporary() {
		t.Error("attributes lost the temporary marker")
	}
}

func TestCreateDirectPathBlob(t *testing.T) {
	client := storagetest.NewClient()
	s := testStore(t, client, func(cfg *config.Config) {
		cfg.Store.Prefix = "myPrefix"
	})

	headers := permanentHeaders()
	headers[blob.BlobNameHeader] = "foo/bar/myblob"
	headers[blob.DirectPathBlobHeader] = "true"

	b, err := s.Create(context.Background(), strings.NewReader("direct"), headers)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	wantKey := "myPrefix/content/directpath/foo/bar/myblob.bytes"
	if _, ok := client.Object(wantKey); !ok {
		t.Errorf("direct-path content not at %q", wantKey)
	}

	// Same name again resolves to the same location.
	again := s.resolver.FromHeaders(headers)
	if again != b.ID() {
		t.Errorf("direct-path ID not deterministic: %q vs %q", again, b.ID())
	}
}

func TestOpenStreamsContent(t *testing.T) {
	client := storagetest.NewClient()
	s := testStore(t, client, nil)

	b, err := s.Create(context.Background(), strings.NewReader("hello world"), permanentHeaders())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	rc, err := b.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "hello world" {
		t.Errorf("content = %q", data)
	}
}

func TestCopyBlob(t *testing.T) {
	client := storagetest.NewClient()
	s := testStore(t, client, nil)

	src, err := s.Create(context.Background(), bytes.NewReader(bytes.Repeat([]byte("x"), 250)), permanentHeaders())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	headers := permanentHeaders()
	headers[blob.BlobNameHeader] = "copy"
	dst, err := s.Copy(context.Background(), src.ID(), headers)
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if dst.ID() == src.ID() {
		t.Fatal("copy reused the source ID")
	}
	data, ok := client.Object(s.contentKey(dst.ID()))
	if !ok || len(data) != 250 {
		t.Fatalf("copied content = %d bytes, %v", len(data), ok)
	}
	if client.UploadPartCopyCalls != 3 {
		t.Errorf("UploadPartCopyCalls = %d, want 3", client.UploadPartCopyCalls)
	}
	if name, _ := dst.Headers()[blob.BlobNameHeader]; name != "copy" {
		t.Errorf("copied headers not applied: %q", name)
	}
}

func TestMakeBlobPermanent(t *testing.T) {
	client := storagetest.NewClient()
	s := testStore(t, client, nil)
	ctx := context.Background()

	b, err := s.Create(ctx, strings.NewReader("staging"), temporaryHeaders())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := s.MakeBlobPermanent(ctx, b.ID(), temporaryHeaders()); !errors.Is(err, ErrTemporaryHeaderNotAllowed) {
		t.Fatalf("promotion with temporary header: err = %v", err)
	}

	promoted, err := s.MakeBlobPermanent(ctx, b.ID(), permanentHeaders())
	if err != nil {
		t.Fatalf("MakeBlobPermanent: %v", err)
	}
	if promoted.Attributes().IsTemporary() {
		t.Error("blob still temporary after promotion")
	}
	props, _ := client.Object(s.attributesKey(b.ID()))
	if strings.Contains(string(props), blob.TemporaryBlobHeader) {
		t.Error("temporary marker survived in properties object")
	}
}

func TestMakeBlobPermanentMissingBlob(t *testing.T) {
	s := testStore(t, storagetest.NewClient(), nil)
	_, err := s.MakeBlobPermanent(context.Background(), blob.NewID(), permanentHeaders())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteIfTemp(t *testing.T) {
	client := storagetest.NewClient()
	s := testStore(t, client, nil)
	ctx := context.Background()

	temp, err := s.Create(ctx, strings.NewReader("staging"), temporaryHeaders())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	perm, err := s.Create(ctx, strings.NewReader("durable"), permanentHeaders())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	deleted, err := s.DeleteIfTemp(ctx, temp.ID())
	if err != nil || !deleted {
		t.Fatalf("DeleteIfTemp(temp) = %v, %v, want true", deleted, err)
	}
	if _, err := s.Get(ctx, temp.ID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("temp blob still retrievable after DeleteIfTemp: %v", err)
	}

	deleted, err = s.DeleteIfTemp(ctx, perm.ID())
	if err != nil || deleted {
		t.Fatalf("DeleteIfTemp(permanent) = %v, %v, want false", deleted, err)
	}
	if _, err := s.Get(ctx, perm.ID()); err != nil {
		t.Errorf("permanent blob lost: %v", err)
	}

	deleted, err = s.DeleteIfTemp(ctx, blob.NewID())
	if err != nil || deleted {
		t.Errorf("DeleteIfTemp(absent) = %v, %v, want false, nil", deleted, err)
	}
}

func TestSoftDelete(t *testing.T) {
	client := storagetest.NewClient()
	s := testStore(t, client, nil) // default expiration window of 3 days
	ctx := context.Background()

	b, err := s.Create(ctx, strings.NewReader("doomed"), permanentHeaders())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	deleted, err := s.Delete(ctx, b.ID(), "cleanup")
	if err != nil || !deleted {
		t.Fatalf("Delete = %v, %v, want true", deleted, err)
	}

	// Content survives physically, tagged for the lifecycle rule.
	if _, ok := client.Object(s.contentKey(b.ID())); !ok {
		t.Error("soft delete removed the content object")
	}
	for _, key := range []string{s.contentKey(b.ID()), s.attributesKey(b.ID())} {
		tags := client.Tags(key)
		if len(tags) != 1 || *tags[0].Key != "deleted" || *tags[0].Value != "true" {
			t.Errorf("tags on %s = %+v", key, tags)
		}
	}
	props, _ := client.Object(s.attributesKey(b.ID()))
	if !strings.Contains(string(props), "deleted=true\n") ||
		!strings.Contains(string(props), "deletedReason=cleanup\n") {
		t.Errorf("properties not updated:\n%s", props)
	}

	if _, err := s.Get(ctx, b.ID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after soft delete = %v, want ErrNotFound", err)
	}
	if _, err := s.GetIncludingDeleted(ctx, b.ID()); err != nil {
		t.Errorf("GetIncludingDeleted after soft delete: %v", err)
	}

	// Soft deleting again is a no-op.
	deleted, err = s.Delete(ctx, b.ID(), "cleanup")
	if err != nil || deleted {
		t.Errorf("second Delete = %v, %v, want false, nil", deleted, err)
	}
}

func TestDeleteAbsentBlob(t *testing.T) {
	client := storagetest.NewClient()
	s := testStore(t, client, nil)

	deleted, err := s.Delete(context.Background(), blob.NewID(), "cleanup")
	if err != nil || deleted {
		t.Fatalf("Delete = %v, %v, want false, nil", deleted, err)
	}
	if client.PutObjectTaggingCalls != 0 || client.PutObjectCalls != 0 {
		t.Error("deleting an absent blob mutated the object store")
	}
}

func TestDeleteHardRemovesBothObjects(t *testing.T) {
	client := storagetest.NewClient()
	s := testStore(t, client, nil)
	ctx := context.Background()

	b, err := s.Create(ctx, strings.NewReader("doomed"), permanentHeaders())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	deleted, err := s.DeleteHard(ctx, b.ID())
	if err != nil || !deleted {
		t.Fatalf("DeleteHard = %v, %v, want true", deleted, err)
	}
	if _, ok := client.Object(s.contentKey(b.ID())); ok {
		t.Error("content object survived hard delete")
	}
	if _, ok := client.Object(s.attributesKey(b.ID())); ok {
		t.Error("properties object survived hard delete")
	}
}

func TestZeroExpirationMakesDeleteHard(t *testing.T) {
	client := storagetest.NewClient()
	zero := 0
	s := testStore(t, client, func(cfg *config.Config) {
		cfg.Store.ExpirationDays = &zero
	})
	ctx := context.Background()

	b, err := s.Create(ctx, strings.NewReader("doomed"), permanentHeaders())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	deleted, err := s.Delete(ctx, b.ID(), "cleanup")
	if err != nil || !deleted {
		t.Fatalf("Delete = %v, %v, want true", deleted, err)
	}
	if _, ok := client.Object(s.contentKey(b.ID())); ok {
		t.Error("delete with zero retention left the content object")
	}
}

func TestPreferExpireDowngradesHardDelete(t *testing.T) {
	client := storagetest.NewClient()
	s := testStore(t, client, func(cfg *config.Config) {
		cfg.Store.PreferExpire = true
	})
	ctx := context.Background()

	b, err := s.Create(ctx, strings.NewReader("doomed"), permanentHeaders())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	deleted, err := s.DeleteHard(ctx, b.ID())
	if err != nil || !deleted {
		t.Fatalf("DeleteHard = %v, %v, want true", deleted, err)
	}
	if _, ok := client.Object(s.contentKey(b.ID())); !ok {
		t.Fatal("prefer-expire hard delete removed the object physically")
	}
	props, _ := client.Object(s.attributesKey(b.ID()))
	if !strings.Contains(string(props), "deletedReason=hard-delete\n") {
		t.Errorf("expected hard-delete reason in properties:\n%s", props)
	}
}

func TestForceHardDeleteOverridesPreferExpire(t *testing.T) {
	client := storagetest.NewClient()
	s := testStore(t, client, func(cfg *config.Config) {
		cfg.Store.PreferExpire = true
		cfg.Store.ForceHardDelete = true
	})
	ctx := context.Background()

	b, err := s.Create(ctx, strings.NewReader("doomed"), permanentHeaders())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if deleted, err := s.Delete(ctx, b.ID(), "cleanup"); err != nil || !deleted {
		t.Fatalf("Delete = %v, %v, want true", deleted, err)
	}
	if _, ok := client.Object(s.contentKey(b.ID())); ok {
		t.Error("force-hard-delete left the content object")
	}
}

func TestExpireToleratesMissingTaggingSupport(t *testing.T) {
	client := storagetest.NewClient()
	client.PutObjectTaggingErr = storagetest.APIError("NotImplemented", "no tagging here", 501)
	s := testStore(t, client, nil)
	ctx := context.Background()

	b, err := s.Create(ctx, strings.NewReader("doomed"), permanentHeaders())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	deleted, err := s.Delete(ctx, b.ID(), "cleanup")
	if err != nil || !deleted {
		t.Fatalf("Delete = %v, %v, want true despite missing tagging", deleted, err)
	}
}

func TestUndelete(t *testing.T) {
	client := storagetest.NewClient()
	s := testStore(t, client, nil)
	ctx := context.Background()
	inUse := func(context.Context, *BlobStore, blob.ID) (bool, error) { return true, nil }

	b, err := s.Create(ctx, strings.NewReader("precious"), permanentHeaders())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Delete(ctx, b.ID(), "oops"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	t.Run("dry run mutates nothing", func(t *testing.T) {
		taggingBefore := client.PutObjectTaggingCalls
		restored, err := s.Undelete(ctx, inUse, b.ID(), true)
		if err != nil || !restored {
			t.Fatalf("Undelete dry-run = %v, %v, want true", restored, err)
		}
		props, _ := client.Object(s.attributesKey(b.ID()))
		if !strings.Contains(string(props), "deleted=true\n") {
			t.Error("dry run cleared the deleted flag")
		}
		if client.PutObjectTaggingCalls != taggingBefore {
			t.Error("dry run touched object tags")
		}
	})

	t.Run("real run restores the blob", func(t *testing.T) {
		restored, err := s.Undelete(ctx, inUse, b.ID(), false)
		if err != nil || !restored {
			t.Fatalf("Undelete = %v, %v, want true", restored, err)
		}
		if _, err := s.Get(ctx, b.ID()); err != nil {
			t.Fatalf("Get after undelete: %v", err)
		}
		for _, key := range []string{s.contentKey(b.ID()), s.attributesKey(b.ID())} {
			if tags := client.Tags(key); len(tags) != 0 {
				t.Errorf("tags on %s not cleared: %+v", key, tags)
			}
		}
	})

	t.Run("unreferenced blob stays deleted", func(t *testing.T) {
		if _, err := s.Delete(ctx, b.ID(), "again"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		unused := func(context.Context, *BlobStore, blob.ID) (bool, error) { return false, nil }
		restored, err := s.Undelete(ctx, unused, b.ID(), false)
		if err != nil || restored {
			t.Fatalf("Undelete of unused blob = %v, %v, want false", restored, err)
		}
	})
}

func TestGetConcurrent(t *testing.T) {
	client := storagetest.NewClient()
	s := testStore(t, client, nil)
	ctx := context.Background()

	b, err := s.Create(ctx, strings.NewReader("shared"), permanentHeaders())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := s.Get(ctx, b.ID())
			if err != nil {
				t.Errorf("Get: %v", err)
				return
			}
			if got == nil || got.Headers() == nil {
				t.Error("Get returned an unloaded blob")
			}
		}()
	}
	wg.Wait()
}

func TestExists(t *testing.T) {
	client := storagetest.NewClient()
	s := testStore(t, client, nil)
	ctx := context.Background()

	b, err := s.Create(ctx, strings.NewReader("x"), permanentHeaders())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ok, err := s.Exists(ctx, b.ID()); err != nil || !ok {
		t.Errorf("Exists = %v, %v, want true", ok, err)
	}
	if ok, err := s.Exists(ctx, blob.NewID()); err != nil || ok {
		t.Errorf("Exists(absent) = %v, %v, want false", ok, err)
	}
}

func TestIsStorageAvailable(t *testing.T) {
	client := storagetest.NewClient()
	s := testStore(t, client, nil)
	if !s.IsStorageAvailable(context.Background()) {
		t.Error("available bucket reported unavailable")
	}
	client.HeadBucketErr = storagetest.APIError("ServiceUnavailable", "down", 503)
	if s.IsStorageAvailable(context.Background()) {
		t.Error("unavailable bucket reported available")
	}
}

func TestStart(t *testing.T) {
	t.Run("fresh location writes the marker", func(t *testing.T) {
		client := storagetest.NewClient()
		s := testStore(t, client, nil)
		if err := s.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		data, ok := client.Object("metadata.properties")
		if !ok || !strings.Contains(string(data), "type=s3/1") {
			t.Errorf("marker = %q, %v", data, ok)
		}
	})

	t.Run("file layout is reclaimed", func(t *testing.T) {
		client := storagetest.NewClient()
		client.SetObject("metadata.properties", []byte("type=file/1\n"))
		s := testStore(t, client, nil)
		if err := s.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		data, _ := client.Object("metadata.properties")
		if !strings.Contains(string(data), "type=s3/1") {
			t.Errorf("marker not rewritten: %q", data)
		}
	})

	t.Run("unknown layout is refused", func(t *testing.T) {
		client := storagetest.NewClient()
		client.SetObject("metadata.properties", []byte("type=weird/9\n"))
		s := testStore(t, client, nil)
		if err := s.Start(context.Background()); !errors.Is(err, ErrUnsupportedStoreType) {
			t.Fatalf("Start = %v, want ErrUnsupportedStoreType", err)
		}
	})
}

func TestAsyncCleanup(t *testing.T) {
	client := storagetest.NewClient()
	s := testStore(t, client, func(cfg *config.Config) {
		zero := 0
		cfg.Store.ExpirationDays = &zero
		cfg.Store.AsyncCleanup = true
	})
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	b, err := s.Create(ctx, strings.NewReader("doomed"), permanentHeaders())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.DeleteHardAsync(ctx, b.ID()); err != nil {
		t.Fatalf("DeleteHardAsync: %v", err)
	}

	// Stop drains the queue.
	s.Stop()
	if _, ok := client.Object(s.contentKey(b.ID())); ok {
		t.Error("async cleanup never removed the content object")
	}
}

func TestDeleteHardReportsMissingWithAsyncCleanup(t *testing.T) {
	client := storagetest.NewClient()
	s := testStore(t, client, func(cfg *config.Config) {
		cfg.Store.AsyncCleanup = true
	})
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	// The synchronous contract holds even with the cleanup pool running:
	// true only when objects were actually removed.
	deleted, err := s.DeleteHard(ctx, blob.NewID())
	if err != nil || deleted {
		t.Fatalf("DeleteHard(absent) = %v, %v, want false, nil", deleted, err)
	}
}

func TestDeleteHardAsyncAfterStop(t *testing.T) {
	client := storagetest.NewClient()
	s := testStore(t, client, func(cfg *config.Config) {
		cfg.Store.AsyncCleanup = true
	})
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	b, err := s.Create(ctx, strings.NewReader("doomed"), permanentHeaders())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	s.Stop()

	// With the pool gone the delete happens inline instead of panicking on
	// a closed queue.
	if err := s.DeleteHardAsync(ctx, b.ID()); err != nil {
		t.Fatalf("DeleteHardAsync after Stop: %v", err)
	}
	if _, ok := client.Object(s.contentKey(b.ID())); ok {
		t.Error("content object survived inline delete")
	}
}

func TestHandlesReleasedAfterUse(t *testing.T) {
	client := storagetest.NewClient()
	s := testStore(t, client, nil)
	ctx := context.Background()

	var ids []blob.ID
	for _, content := range []string{"a", "b", "c"} {
		b, err := s.Create(ctx, strings.NewReader(content), permanentHeaders())
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, b.ID())
	}
	for _, id := range ids {
		if _, err := s.Get(ctx, id); err != nil {
			t.Fatalf("Get: %v", err)
		}
	}
	if _, err := s.Get(ctx, blob.NewID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(absent) = %v, want ErrNotFound", err)
	}

	resident := 0
	s.live.Range(func(_, _ any) bool {
		resident++
		return true
	})
	if resident != 0 {
		t.Errorf("%d handles still resident after calls completed", resident)
	}
}

func TestRemove(t *testing.T) {
	t.Run("empty store deletes marker and bucket", func(t *testing.T) {
		client := storagetest.NewClient()
		s := testStore(t, client, nil)
		ctx := context.Background()
		if err := s.Start(ctx); err != nil {
			t.Fatalf("Start: %v", err)
		}

		if err := s.Remove(ctx); err != nil {
			t.Fatalf("Remove: %v", err)
		}
		if _, ok := client.Object("metadata.properties"); ok {
			t.Error("marker object survived removal")
		}
		if client.DeleteBucketCalls != 1 {
			t.Errorf("DeleteBucketCalls = %d, want 1", client.DeleteBucketCalls)
		}
	})

	t.Run("store with content keeps objects and bucket", func(t *testing.T) {
		client := storagetest.NewClient()
		s := testStore(t, client, nil)
		ctx := context.Background()
		if err := s.Start(ctx); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if _, err := s.Create(ctx, strings.NewReader("keep"), permanentHeaders()); err != nil {
			t.Fatalf("Create: %v", err)
		}

		if err := s.Remove(ctx); err != nil {
			t.Fatalf("Remove: %v", err)
		}
		if client.DeleteBucketCalls != 0 {
			t.Errorf("DeleteBucketCalls = %d, want 0", client.DeleteBucketCalls)
		}
		if _, ok := client.Object("metadata.properties"); !ok {
			t.Error("marker removed although content remains")
		}
		// The store's lifecycle rule is gone.
		if client.DeleteLifecycleCalls == 0 && client.PutLifecycleCalls < 2 {
			t.Error("store lifecycle footprint not removed")
		}
	})
}
