// Package transfer implements the upload and server-side copy strategies
// used to move blob content into the object store.
//
// All strategies share the same sizing rule: content shorter than one part
// is written with a single PutObject, anything else goes through the S3
// multipart protocol. A failed multipart transfer is aborted exactly once
// and the abort never masks the original error.
package transfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/blobvault/blobvault/internal/metrics"
	"github.com/blobvault/blobvault/internal/storage"
)

// MinPartSize is the S3 lower bound for every part but the last (5 MiB).
const MinPartSize = 5 * 1024 * 1024

// Uploader streams source content to an object-store key.
type Uploader interface {
	Upload(ctx context.Context, bucket, key string, src io.Reader) error
}

// Copier copies an existing object to another key without moving the bytes
// through this process.
type Copier interface {
	Copy(ctx context.Context, bucket, srcKey, dstKey string) error
}

// Error describes a failed transfer step with enough context to locate the
// object involved. It wraps the underlying SDK or stream error.
type Error struct {
	Op     string
	Bucket string
	Key    string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// readChunk fills buf from r and returns the filled prefix. A nil slice
// means the stream is exhausted. Callers must consume or copy the returned
// slice before the next call: it aliases buf.
func readChunk(r io.Reader, buf []byte) ([]byte, error) {
	n, err := io.ReadFull(r, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		err = nil
	}
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	return buf[:n], nil
}

// abortUpload aborts a failed multipart upload. It runs on a context
// detached from the caller's, since the usual trigger is that context being
// canceled. Abort failures are logged and swallowed so the caller reports
// the error that sank the transfer, not the cleanup's.
func abortUpload(ctx context.Context, client storage.S3API, bucket, key, uploadID string) {
	metrics.MultipartAbortsTotal.Inc()
	_, err := client.AbortMultipartUpload(context.WithoutCancel(ctx), &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		slog.Warn("aborting multipart upload failed",
			"bucket", bucket, "key", key, "upload_id", uploadID, "error", err)
	}
}
