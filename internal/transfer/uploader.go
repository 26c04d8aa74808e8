package transfer

import (
	"bytes"
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/blobvault/blobvault/internal/storage"
)

// MultipartUploader uploads content one part at a time, reading and
// uploading alternately on the calling goroutine. It is the simplest
// strategy and the baseline the concurrent ones must match byte for byte.
type MultipartUploader struct {
	client   storage.S3API
	partSize int64
}

// NewMultipartUploader returns a sequential uploader with the given part
// size. Part sizes below MinPartSize are rejected by S3 for multipart
// transfers; callers validate at configuration time.
func NewMultipartUploader(client storage.S3API, partSize int64) *MultipartUploader {
	return &MultipartUploader{client: client, partSize: partSize}
}

// Upload implements Uploader.
func (u *MultipartUploader) Upload(ctx context.Context, bucket, key string, src io.Reader) error {
	buf := make([]byte, u.partSize)
	chunk, err := readChunk(src, buf)
	if err != nil {
		return &Error{Op: "read", Bucket: bucket, Key: key, Err: err}
	}

	// A short first read means the whole content fits in one part.
	if int64(len(chunk)) < u.partSize {
		return putWhole(ctx, u.client, bucket, key, chunk)
	}

	uploadID, err := createUpload(ctx, u.client, bucket, key)
	if err != nil {
		return err
	}

	var completed []types.CompletedPart
	for partNumber := int32(1); len(chunk) > 0; partNumber++ {
		out, err := u.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(bucket),
			Key:        aws.String(key),
			UploadId:   aws.String(uploadID),
			PartNumber: aws.Int32(partNumber),
			Body:       bytes.NewReader(chunk),
		})
		if err != nil {
			abortUpload(ctx, u.client, bucket, key, uploadID)
			return &Error{Op: "upload part", Bucket: bucket, Key: key, Err: err}
		}
		completed = append(completed, types.CompletedPart{
			ETag:       out.ETag,
			PartNumber: aws.Int32(partNumber),
		})

		chunk, err = readChunk(src, buf)
		if err != nil {
			abortUpload(ctx, u.client, bucket, key, uploadID)
			return &Error{Op: "read", Bucket: bucket, Key: key, Err: err}
		}
	}

	return completeUpload(ctx, u.client, bucket, key, uploadID, completed)
}

// putWhole writes content that fits in a single part with one PutObject.
func putWhole(ctx context.Context, client storage.S3API, bucket, key string, data []byte) error {
	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return &Error{Op: "put object", Bucket: bucket, Key: key, Err: err}
	}
	return nil
}

func createUpload(ctx context.Context, client storage.S3API, bucket, key string) (string, error) {
	out, err := client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", &Error{Op: "create multipart upload", Bucket: bucket, Key: key, Err: err}
	}
	return aws.ToString(out.UploadId), nil
}

// completeUpload finishes a multipart upload, aborting it if completion
// itself fails. Parts must already be ordered by part number.
func completeUpload(ctx context.Context, client storage.S3API, bucket, key, uploadID string, parts []types.CompletedPart) error {
	_, err := client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: parts,
		},
	})
	if err != nil {
		abortUpload(ctx, client, bucket, key, uploadID)
		return &Error{Op: "complete multipart upload", Bucket: bucket, Key: key, Err: err}
	}
	return nil
}
