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
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/blobvault/blobvault/internal/metrics"
	"github.com/blobvault/blobvault/internal/storage"
)

// PipelinedUploader decouples reading from uploading: one producer reads
// chunks from the source while concurrency consumers upload them. The chunk
// channel is bounded at concurrency, so a slow object store backpressures
// the reader instead of buffering the stream in memory.
//
// This is the default upload strategy.
type PipelinedUploader struct {
	client      storage.S3API
	partSize    int64
	concurrency int
}

// NewPipelinedUploader returns a pipelined uploader.
func NewPipelinedUploader(client storage.S3API, partSize int64, concurrency int) *PipelinedUploader {
	if concurrency < 1 {
		concurrency = 1
	}
	return &PipelinedUploader{client: client, partSize: partSize, concurrency: concurrency}
}

type pipelineChunk struct {
	number int32
	data   []byte
}

// Upload implements Uploader.
func (u *PipelinedUploader) Upload(ctx context.Context, bucket, key string, src io.Reader) error {
	buf := make([]byte, u.partSize)

	readTimer := prometheus.NewTimer(metrics.ChunkReadSeconds)
	first, err := readChunk(src, buf)
	readTimer.ObserveDuration()
	if err != nil {
		return &Error{Op: "read", Bucket: bucket, Key: key, Err: err}
	}
	if int64(len(first)) < u.partSize {
		return putWhole(ctx, u.client, bucket, key, first)
	}

	wholeTimer := prometheus.NewTimer(metrics.MultipartUploadSeconds)
	defer wholeTimer.ObserveDuration()

	uploadID, err := createUpload(ctx, u.client, bucket, key)
	if err != nil {
		return err
	}

	chunks := make(chan pipelineChunk, u.concurrency)
	g, gctx := errgroup.WithContext(ctx)

	// Producer. Owns buf; every chunk handed off is a copy.
	g.Go(func() error {
		defer close(chunks)
		chunk := first
		for number := int32(1); len(chunk) > 0; number++ {
			select {
			case chunks <- pipelineChunk{number: number, data: bytes.Clone(chunk)}:
			case <-gctx.Done():
				return gctx.Err()
			}
			t := prometheus.NewTimer(metrics.ChunkReadSeconds)
			var err error
			chunk, err = readChunk(src, buf)
			t.ObserveDuration()
			if err != nil {
				return &Error{Op: "read", Bucket: bucket, Key: key, Err: err}
			}
		}
		return nil
	})

	var (
		mu        sync.Mutex
		completed []types.CompletedPart
	)
	for range u.concurrency {
		g.Go(func() error {
			for chunk := range chunks {
				t := prometheus.NewTimer(metrics.ChunkUploadSeconds)
				out, err := u.client.UploadPart(gctx, &s3.UploadPartInput{
					Bucket:     aws.String(bucket),
					Key:        aws.String(key),
					UploadId:   aws.String(uploadID),
					PartNumber: aws.Int32(chunk.number),
					Body:       bytes.NewReader(chunk.data),
				})
				t.ObserveDuration()
				if err != nil {
					return &Error{Op: "upload part", Bucket: bucket, Key: key, Err: err}
				}
				mu.Lock()
				completed = append(completed, types.CompletedPart{
					ETag:       out.ETag,
					PartNumber: aws.Int32(chunk.number),
				})
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		abortUpload(ctx, u.client, bucket, key, uploadID)
		return err
	}

	sort.Slice(completed, func(i, j int) bool {
		return aws.ToInt32(completed[i].PartNumber) < aws.ToInt32(completed[j].PartNumber)
	})
	return completeUpload(ctx, u.client, bucket, key, uploadID, completed)
}
