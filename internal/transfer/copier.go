package transfer

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/blobvault/blobvault/internal/storage"
)

// MultipartCopier copies an object server-side, part by part, on the
// calling goroutine. Objects shorter than one part are copied with a
// single CopyObject.
type MultipartCopier struct {
	client   storage.S3API
	partSize int64
}

// NewMultipartCopier returns a sequential server-side copier.
func NewMultipartCopier(client storage.S3API, partSize int64) *MultipartCopier {
	return &MultipartCopier{client: client, partSize: partSize}
}

// Copy implements Copier.
func (c *MultipartCopier) Copy(ctx context.Context, bucket, srcKey, dstKey string) error {
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

	var completed []types.CompletedPart
	for part := int32(1); part <= PartCount(size, c.partSize); part++ {
		out, err := c.client.UploadPartCopy(ctx, &s3.UploadPartCopyInput{
			Bucket:          aws.String(bucket),
			Key:             aws.String(dstKey),
			UploadId:        aws.String(uploadID),
			PartNumber:      aws.Int32(part),
			CopySource:      aws.String(bucket + "/" + srcKey),
			CopySourceRange: aws.String(copyRange(part, c.partSize, size)),
		})
		if err != nil {
			abortUpload(ctx, c.client, bucket, dstKey, uploadID)
			return &Error{Op: "copy part", Bucket: bucket, Key: dstKey, Err: err}
		}
		completed = append(completed, types.CompletedPart{
			ETag:       out.CopyPartResult.ETag,
			PartNumber: aws.Int32(part),
		})
	}

	return completeUpload(ctx, c.client, bucket, dstKey, uploadID, completed)
}

// sourceSize looks up the content length of the copy source.
func sourceSize(ctx context.Context, client storage.S3API, bucket, key string) (int64, error) {
	head, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, &Error{Op: "head object", Bucket: bucket, Key: key, Err: err}
	}
	return aws.ToInt64(head.ContentLength), nil
}

// copyWhole copies an object that fits in one part with a single CopyObject.
func copyWhole(ctx context.Context, client storage.S3API, bucket, srcKey, dstKey string) error {
	_, err := client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(bucket + "/" + srcKey),
	})
	if err != nil {
		return &Error{Op: "copy object", Bucket: bucket, Key: dstKey, Err: err}
	}
	return nil
}
