package transfer

import (
	"context"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/sync/errgroup"

	"github.com/blobvault/blobvault/internal/storage"
)

// ParallelCopier copies an object server-side with up to concurrency
// UploadPartCopy requests in flight. Copy parts carry no payload, so
// unlike uploads there is no read side to coordinate with.
//
// This is the default copy strategy.
type ParallelCopier struct {
	client      storage.S3API
	partSize    int64
	concurrency int
}

// NewParallelCopier returns a bounded-parallel server-side copier.
func NewParallelCopier(client storage.S3API, partSize int64, concurrency int) *ParallelCopier {
	if concurrency < 1 {
		concurrency = 1
	}
	return &ParallelCopier{client: client, partSize: partSize, concurrency: concurrency}
}

// Copy implements Copier.
func (c *ParallelCopier) Copy(ctx context.Context, bucket, srcKey, dstKey string) error {
	size, err := sourceSize(ctx, c.client, bucket, srcKey)
	if err != nil {
		return err
	}
	if size < c.partSize {
		return copyWhole(ctx, c.client, bucket, srcKey, dstKey)
	}

	uploadID, err := createUpload(ctx, c.client, bucket, dstKey)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	var (
		mu        sync.Mutex
		completed []types.CompletedPart
	)
	for part := int32(1); part <= PartCount(size, c.partSize); part++ {
		part := part
		g.Go(func() error {
			out, err := c.client.UploadPartCopy(gctx, &s3.UploadPartCopyInput{
				Bucket:          aws.String(bucket),
				Key:             aws.String(dstKey),
				UploadId:        aws.String(uploadID),
				PartNumber:      aws.Int32(part),
				CopySource:      aws.String(bucket + "/" + srcKey),
				CopySourceRange: aws.String(copyRange(part, c.partSize, size)),
			})
			if err != nil {
				return &Error{Op: "copy part", Bucket: bucket, Key: dstKey, Err: err}
			}
			mu.Lock()
			completed = append(completed, types.CompletedPart{
				ETag:       out.CopyPartResult.ETag,
				PartNumber: aws.Int32(part),
			})
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		abortUpload(ctx, c.client, bucket, dstKey, uploadID)
		return err
	}

	sort.Slice(completed, func(i, j int) bool {
		return aws.ToInt32(completed[i].PartNumber) < aws.ToInt32(completed[j].PartNumber)
	})
	return completeUpload(ctx, c.client, bucket, dstKey, uploadID, completed)
}
