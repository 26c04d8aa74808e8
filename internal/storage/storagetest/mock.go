// Package storagetest provides an in-memory S3API implementation for unit
// tests, with call counters and failure injection.
package storagetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// apiError satisfies smithy.APIError so production error classification
// works against the mock.
type apiError struct {
	code    string
	message string
	status  int
}

func (e *apiError) Error() string               { return fmt.Sprintf("%s: %s", e.code, e.message) }
func (e *apiError) ErrorCode() string           { return e.code }
func (e *apiError) ErrorMessage() string        { return e.message }
func (e *apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }
func (e *apiError) HTTPStatusCode() int         { return e.status }

var _ smithy.APIError = (*apiError)(nil)

// APIError builds an error carrying the given S3 error code, for injecting
// failures into the mock.
func APIError(code, message string, status int) error {
	return &apiError{code: code, message: message, status: status}
}

type multipartUpload struct {
	key   string
	parts map[int32][]byte
}

// Client is an in-memory S3API double. All objects live in one flat key
// space; the bucket name on requests is ignored except where noted.
type Client struct {
	mu sync.Mutex

	objects      map[string][]byte
	metadata     map[string]map[string]string
	tags         map[string][]types.Tag
	lastModified map[string]time.Time
	uploads      map[string]*multipartUpload
	nextUploadID int

	// LifecycleRules is the bucket's current rule set; nil means no
	// lifecycle configuration exists.
	LifecycleRules []types.LifecycleRule
	// PutLifecycleRules captures the rule set of the latest
	// PutBucketLifecycleConfiguration call.
	PutLifecycleRules []types.LifecycleRule

	// BucketMissing makes HeadBucket report 404.
	BucketMissing bool
	// PageSize caps ListObjectsV2 pages to exercise pagination (0 = 1000).
	PageSize int32

	// Failure injection.
	HeadBucketErr       error
	CreateBucketErr     error
	GetBucketPolicyErr  error
	PutObjectErr        error
	PutObjectTaggingErr error
	FailUploadPart      int32 // part number that fails, 0 = none
	FailUploadPartCopy  int32

	// HeadObjectErrs fails HeadObject for specific keys.
	HeadObjectErrs map[string]error

	// Call counters.
	PutObjectCalls         int
	GetObjectCalls         int
	HeadObjectCalls        int
	DeleteObjectCalls      int
	DeleteObjectsCalls     int
	CopyObjectCalls        int
	CreateMultipartCalls   int
	UploadPartCalls        int
	UploadPartCopyCalls    int
	CompleteMultipartCalls int
	AbortMultipartCalls    int
	ListObjectsCalls       int
	PutObjectTaggingCalls  int
	PutLifecycleCalls      int
	DeleteLifecycleCalls   int
	GetBucketPolicyCalls   int
	CreateBucketCalls      int
	DeleteBucketCalls      int
}

// NewClient returns an empty mock client.
func NewClient() *Client {
	return &Client{
		objects:      make(map[string][]byte),
		metadata:     make(map[string]map[string]string),
		tags:         make(map[string][]types.Tag),
		lastModified: make(map[string]time.Time),
		uploads:      make(map[string]*multipartUpload),
	}
}

// Object returns the stored bytes for a key, and whether it exists.
func (c *Client) Object(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.objects[key]
	return data, ok
}

// SetObject seeds an object directly.
func (c *Client) SetObject(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[key] = data
	c.lastModified[key] = time.Now()
}

// SetObjectMetadata seeds user metadata for a key.
func (c *Client) SetObjectMetadata(key string, md map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata[key] = md
}

// SetLastModified overrides a key's last-modified timestamp.
func (c *Client) SetLastModified(key string, t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastModified[key] = t
}

// Tags returns the current tag set for a key.
func (c *Client) Tags(key string) []types.Tag {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tags[key]
}

// ActiveUploads reports the number of multipart uploads that were initiated
// but neither completed nor aborted.
func (c *Client) ActiveUploads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.uploads)
}

func (c *Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PutObjectCalls++
	if c.PutObjectErr != nil {
		return nil, c.PutObjectErr
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(params.Key)
	c.objects[key] = data
	c.lastModified[key] = time.Now()
	if len(params.Metadata) > 0 {
		md := make(map[string]string, len(params.Metadata))
		for k, v := range params.Metadata {
			md[k] = v
		}
		c.metadata[key] = md
	} else {
		delete(c.metadata, key)
	}
	return &s3.PutObjectOutput{}, nil
}

func (c *Client) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.GetObjectCalls++
	data, ok := c.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &apiError{code: "NoSuchKey", message: "The specified key does not exist.", status: 404}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (c *Client) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.HeadObjectCalls++
	key := aws.ToString(params.Key)
	if err, ok := c.HeadObjectErrs[key]; ok {
		return nil, err
	}
	data, ok := c.objects[key]
	if !ok {
		return nil, &apiError{code: "NotFound", message: "Not Found", status: 404}
	}
	out := &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(data))),
		LastModified:  aws.Time(c.lastModified[key]),
	}
	if md, ok := c.metadata[key]; ok {
		out.Metadata = md
	}
	return out, nil
}

func (c *Client) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.DeleteObjectCalls++
	key := aws.ToString(params.Key)
	delete(c.objects, key)
	delete(c.metadata, key)
	delete(c.tags, key)
	return &s3.DeleteObjectOutput{}, nil
}

func (c *Client) DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.DeleteObjectsCalls++
	var deleted []types.DeletedObject
	for _, obj := range params.Delete.Objects {
		key := aws.ToString(obj.Key)
		if _, ok := c.objects[key]; ok {
			deleted = append(deleted, types.DeletedObject{Key: obj.Key})
		}
		delete(c.objects, key)
		delete(c.metadata, key)
		delete(c.tags, key)
	}
	return &s3.DeleteObjectsOutput{Deleted: deleted}, nil
}

func (c *Client) CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CopyObjectCalls++
	srcKey, err := copySourceKey(params.CopySource)
	if err != nil {
		return nil, err
	}
	data, ok := c.objects[srcKey]
	if !ok {
		return nil, &apiError{code: "NoSuchKey", message: "The specified key does not exist.", status: 404}
	}
	dstKey := aws.ToString(params.Key)
	c.objects[dstKey] = bytes.Clone(data)
	c.lastModified[dstKey] = time.Now()
	return &s3.CopyObjectOutput{}, nil
}

func (c *Client) CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CreateMultipartCalls++
	c.nextUploadID++
	uploadID := fmt.Sprintf("upload-%d", c.nextUploadID)
	c.uploads[uploadID] = &multipartUpload{
		key:   aws.ToString(params.Key),
		parts: make(map[int32][]byte),
	}
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(uploadID)}, nil
}

func (c *Client) UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	c.mu.Lock()
	fail := c.FailUploadPart
	c.UploadPartCalls++
	upload, ok := c.uploads[aws.ToString(params.UploadId)]
	c.mu.Unlock()
	if !ok {
		return nil, &apiError{code: "NoSuchUpload", message: "No such upload", status: 404}
	}
	partNumber := aws.ToInt32(params.PartNumber)
	if fail != 0 && partNumber == fail {
		return nil, &apiError{code: "InternalError", message: "injected part failure", status: 500}
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	upload.parts[partNumber] = data
	c.mu.Unlock()
	return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf(`"part-%d"`, partNumber))}, nil
}

func (c *Client) UploadPartCopy(ctx context.Context, params *s3.UploadPartCopyInput, optFns ...func(*s3.Options)) (*s3.UploadPartCopyOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.UploadPartCopyCalls++
	partNumber := aws.ToInt32(params.PartNumber)
	if c.FailUploadPartCopy != 0 && partNumber == c.FailUploadPartCopy {
		return nil, &apiError{code: "InternalError", message: "injected copy-part failure", status: 500}
	}
	upload, ok := c.uploads[aws.ToString(params.UploadId)]
	if !ok {
		return nil, &apiError{code: "NoSuchUpload", message: "No such upload", status: 404}
	}
	srcKey, err := copySourceKey(params.CopySource)
	if err != nil {
		return nil, err
	}
	data, ok := c.objects[srcKey]
	if !ok {
		return nil, &apiError{code: "NoSuchKey", message: "The specified key does not exist.", status: 404}
	}
	if r := aws.ToString(params.CopySourceRange); r != "" {
		first, last, err := parseRange(r, int64(len(data)))
		if err != nil {
			return nil, err
		}
		data = data[first : last+1]
	}
	upload.parts[partNumber] = bytes.Clone(data)
	return &s3.UploadPartCopyOutput{
		CopyPartResult: &types.CopyPartResult{ETag: aws.String(fmt.Sprintf(`"part-%d"`, partNumber))},
	}, nil
}

func (c *Client) CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CompleteMultipartCalls++
	uploadID := aws.ToString(params.UploadId)
	upload, ok := c.uploads[uploadID]
	if !ok {
		return nil, &apiError{code: "NoSuchUpload", message: "No such upload", status: 404}
	}
	var assembled bytes.Buffer
	for _, cp := range params.MultipartUpload.Parts {
		data, ok := upload.parts[aws.ToInt32(cp.PartNumber)]
		if !ok {
			return nil, &apiError{code: "InvalidPart", message: "Part not found", status: 400}
		}
		assembled.Write(data)
	}
	c.objects[upload.key] = assembled.Bytes()
	c.lastModified[upload.key] = time.Now()
	delete(c.uploads, uploadID)
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (c *Client) AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.AbortMultipartCalls++
	delete(c.uploads, aws.ToString(params.UploadId))
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (c *Client) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ListObjectsCalls++

	prefix := aws.ToString(params.Prefix)
	var keys []string
	for key := range c.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	start := 0
	if token := aws.ToString(params.ContinuationToken); token != "" {
		start, _ = strconv.Atoi(token)
	}
	pageSize := c.PageSize
	if pageSize == 0 {
		pageSize = 1000
	}
	end := start + int(pageSize)
	if end > len(keys) {
		end = len(keys)
	}

	out := &s3.ListObjectsV2Output{}
	for _, key := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(key),
			Size:         aws.Int64(int64(len(c.objects[key]))),
			LastModified: aws.Time(c.lastModified[key]),
		})
	}
	if end < len(keys) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	} else {
		out.IsTruncated = aws.Bool(false)
	}
	return out, nil
}

func (c *Client) PutObjectTagging(ctx context.Context, params *s3.PutObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.PutObjectTaggingOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PutObjectTaggingCalls++
	if c.PutObjectTaggingErr != nil {
		return nil, c.PutObjectTaggingErr
	}
	key := aws.ToString(params.Key)
	c.tags[key] = params.Tagging.TagSet
	return &s3.PutObjectTaggingOutput{}, nil
}

func (c *Client) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.HeadBucketErr != nil {
		return nil, c.HeadBucketErr
	}
	if c.BucketMissing {
		return nil, &apiError{code: "NotFound", message: "Not Found", status: 404}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (c *Client) CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CreateBucketCalls++
	if c.CreateBucketErr != nil {
		return nil, c.CreateBucketErr
	}
	c.BucketMissing = false
	return &s3.CreateBucketOutput{}, nil
}

func (c *Client) DeleteBucket(ctx context.Context, params *s3.DeleteBucketInput, optFns ...func(*s3.Options)) (*s3.DeleteBucketOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.DeleteBucketCalls++
	if len(c.objects) > 0 {
		return nil, &apiError{code: "BucketNotEmpty", message: "The bucket you tried to delete is not empty", status: 409}
	}
	return &s3.DeleteBucketOutput{}, nil
}

func (c *Client) GetBucketPolicy(ctx context.Context, params *s3.GetBucketPolicyInput, optFns ...func(*s3.Options)) (*s3.GetBucketPolicyOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.GetBucketPolicyCalls++
	if c.GetBucketPolicyErr != nil {
		return nil, c.GetBucketPolicyErr
	}
	return &s3.GetBucketPolicyOutput{Policy: aws.String("{}")}, nil
}

func (c *Client) GetBucketLifecycleConfiguration(ctx context.Context, params *s3.GetBucketLifecycleConfigurationInput, optFns ...func(*s3.Options)) (*s3.GetBucketLifecycleConfigurationOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.LifecycleRules == nil {
		return nil, &apiError{code: "NoSuchLifecycleConfiguration", message: "The lifecycle configuration does not exist", status: 404}
	}
	return &s3.GetBucketLifecycleConfigurationOutput{Rules: c.LifecycleRules}, nil
}

func (c *Client) PutBucketLifecycleConfiguration(ctx context.Context, params *s3.PutBucketLifecycleConfigurationInput, optFns ...func(*s3.Options)) (*s3.PutBucketLifecycleConfigurationOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PutLifecycleCalls++
	c.PutLifecycleRules = params.LifecycleConfiguration.Rules
	c.LifecycleRules = params.LifecycleConfiguration.Rules
	return &s3.PutBucketLifecycleConfigurationOutput{}, nil
}

func (c *Client) DeleteBucketLifecycle(ctx context.Context, params *s3.DeleteBucketLifecycleInput, optFns ...func(*s3.Options)) (*s3.DeleteBucketLifecycleOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.DeleteLifecycleCalls++
	c.LifecycleRules = nil
	return &s3.DeleteBucketLifecycleOutput{}, nil
}

// copySourceKey strips the bucket component from a CopySource value of the
// form "bucket/key".
func copySourceKey(src *string) (string, error) {
	parts := strings.SplitN(aws.ToString(src), "/", 2)
	if len(parts) < 2 {
		return "", &apiError{code: "InvalidArgument", message: "Invalid copy source", status: 400}
	}
	return parts[1], nil
}

// parseRange parses a "bytes=first-last" copy range.
func parseRange(r string, size int64) (int64, int64, error) {
	var first, last int64
	if _, err := fmt.Sscanf(r, "bytes=%d-%d", &first, &last); err != nil {
		return 0, 0, &apiError{code: "InvalidArgument", message: "Invalid range", status: 400}
	}
	if first < 0 || last < first || last >= size {
		return 0, 0, &apiError{code: "InvalidRange", message: "The requested range is not satisfiable", status: 416}
	}
	return first, last, nil
}
