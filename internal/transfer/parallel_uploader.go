package transfer

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/sync/errgroup"

	"github.com/blobvault/blobvault/internal/storage"
)

// ParallelUploader reads parts sequentially on the calling goroutine and
// uploads up to concurrency of them at once. The first failed part cancels
// the rest.
type ParallelUploader struct {
	client      storage.S3API
	partSize    int64
	concurrency int
}

// NewParallelUploader returns a bounded-parallel uploader.
func NewParallelUploader(client storage.S3API, partSize int64, concurrency int) *ParallelUploader {
	if concurrency < 1 {
		concurrency = 1
	}
	return &ParallelUploader{client: client, partSize: partSize, concurrency: concurrency}
}

// Upload implements Uploader.
func (u *ParallelUploader) Upload(ctx context.Context, bucket, key string, src io.Reader) error {
	buf := make([]byte, u.partSize)
	chunk, err := readChunk(src, buf)
	if err != nil {
		return &Error{Op: "read", Bucket: bucket, Key: key, Err: err}
	}
	if int64(len(chunk)) < u.partSize {
		return putWhole(ctx, u.client, bucket, key, chunk)
	}

	uploadID, err := createUpload(ctx, u.client, bucket, key)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.concurrency)

	var (
		mu        sync.Mutex
		completed []types.CompletedPart
		readErr   error
	)

	// g.Go blocks once concurrency uploads are in flight, which also
	// throttles reading ahead of the uploads.
	for partNumber := int32(1); len(chunk) > 0; partNumber++ {
		if gctx.Err() != nil {
			break
		}
		part := partNumber
		data := bytes.Clone(chunk)
		g.Go(func() error {
			out, err := u.client.UploadPart(gctx, &s3.UploadPartInput{
				Bucket:     aws.String(bucket),
				Key:        aws.String(key),
				UploadId:   aws.String(uploadID),
				PartNumber: aws.Int32(part),
				Body:       bytes.NewReader(data),
			})
			if err != nil {
				return &Error{Op: "upload part", Bucket: bucket, Key: key, Err: err}
			}
			mu.Lock()
			completed = append(completed, types.CompletedPart{
				ETag:       out.ETag,
				PartNumber: aws.Int32(part),
			})
			mu.Unlock()
			return nil
		})

		chunk, err = readChunk(src, buf)
		if err != nil {
			readErr = &Error{Op: "read", Bucket: bucket, Key: key, Err: err}
			break
		}
	}

	uploadErr := g.Wait()
	if readErr != nil {
		abortUpload(ctx, u.client, bucket, key, uploadID)
		return readErr
	}
	if uploadErr != nil {
		abortUpload(ctx, u.client, bucket, key, uploadID)
		return uploadErr
	}

	sort.Slice(completed, func(i, j int) bool {
		return aws.ToInt32(completed[i].PartNumber) < aws.ToInt32(completed[j].PartNumber)
	})
	return completeUpload(ctx, u.client, bucket, key, uploadID, completed)
}
