package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/blobvault/blobvault/internal/blob"
	"github.com/blobvault/blobvault/internal/storage"
)

// ErrNegativeDuration rejects negative lookback windows before any network
// call.
var ErrNegativeDuration = errors.New("duration must not be negative")

// BlobIDs streams the IDs of permanent, regular blobs. Listing is lazy:
// pages are fetched as the consumer advances, and temporary blobs are
// filtered out with a metadata probe per candidate.
func (s *BlobStore) BlobIDs(ctx context.Context) iter.Seq2[blob.ID, error] {
	return func(yield func(blob.ID, error) bool) {
		for obj, err := range s.listObjects(ctx, s.prefixed(contentRoot+"/")) {
			if err != nil {
				yield("", err)
				return
			}
			id, ok := s.regularBlobID(aws.ToString(obj.Key))
			if !ok {
				continue
			}
			temp, ok := s.probeTemporary(ctx, aws.ToString(obj.Key))
			if !ok || temp {
				continue
			}
			if !yield(id, nil) {
				return
			}
		}
	}
}

// DirectPathBlobIDs streams the IDs of blobs in the direct-path namespace,
// optionally restricted to names under the given path prefix.
func (s *BlobStore) DirectPathBlobIDs(ctx context.Context, pathPrefix string) iter.Seq2[blob.ID, error] {
	root := s.prefixed(contentRoot + "/" + blob.DirectPathRoot + "/")
	return func(yield func(blob.ID, error) bool) {
		for obj, err := range s.listObjects(ctx, root+pathPrefix) {
			if err != nil {
				yield("", err)
				return
			}
			key := aws.ToString(obj.Key)
			name, ok := strings.CutSuffix(strings.TrimPrefix(key, root), blob.AttributesSuffix)
			if !ok {
				continue
			}
			if !yield(blob.NewDirectPathID(name), nil) {
				return
			}
		}
	}
}

// BlobIDsUpdatedSince streams regular blob IDs whose properties changed
// within the lookback window. A negative window is an argument error.
func (s *BlobStore) BlobIDsUpdatedSince(ctx context.Context, since time.Duration) (iter.Seq2[blob.ID, error], error) {
	if since < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNegativeDuration, since)
	}
	cutoff := time.Now().Add(-since)
	return func(yield func(blob.ID, error) bool) {
		for obj, err := range s.listObjects(ctx, s.prefixed(contentRoot+"/")) {
			if err != nil {
				yield("", err)
				return
			}
			if obj.LastModified != nil && obj.LastModified.Before(cutoff) {
				continue
			}
			id, ok := s.regularBlobID(aws.ToString(obj.Key))
			if !ok {
				continue
			}
			temp, ok := s.probeTemporary(ctx, aws.ToString(obj.Key))
			if !ok || temp {
				continue
			}
			if !yield(id, nil) {
				return
			}
		}
	}, nil
}

// listObjects pages through the bucket under prefix, yielding objects in
// key order.
func (s *BlobStore) listObjects(ctx context.Context, prefix string) iter.Seq2[types.Object, error] {
	return func(yield func(types.Object, error) bool) {
		var token *string
		for {
			out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
				Bucket:            aws.String(s.bucketName),
				Prefix:            aws.String(prefix),
				ContinuationToken: token,
			})
			if err != nil {
				yield(types.Object{}, fmt.Errorf("listing %s: %w", prefix, err))
				return
			}
			for _, obj := range out.Contents {
				if !yield(obj, nil) {
					return
				}
			}
			if !aws.ToBool(out.IsTruncated) {
				return
			}
			token = out.NextContinuationToken
		}
	}
}

// regularBlobID extracts the blob ID from a properties key outside the
// direct-path namespace.
func (s *BlobStore) regularBlobID(key string) (blob.ID, bool) {
	rel := strings.TrimPrefix(key, s.prefixed(contentRoot+"/"))
	if strings.HasPrefix(rel, blob.DirectPathRoot+"/") {
		return "", false
	}
	name, ok := strings.CutSuffix(rel, blob.AttributesSuffix)
	if !ok {
		return "", false
	}
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	return blob.ID(name), true
}

// probeTemporary checks the properties object's user metadata for the
// temporary marker without fetching its contents. A failed probe reports
// ok=false and the candidate is skipped: the blob may have been deleted
// between the listing page and the probe.
func (s *BlobStore) probeTemporary(ctx context.Context, key string) (temp, ok bool) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if !storage.IsNotFound(err) {
			slog.Debug("skipping unreadable blob", "key", key, "error", err)
		}
		return false, false
	}
	return out.Metadata[blob.TemporaryMetadataKey] == "true", true
}
