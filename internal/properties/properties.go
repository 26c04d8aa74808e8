// Package properties persists a flat string map as a sorted key=value
// object in the object store. It backs both blob attribute sidecars and the
// store's own metadata marker object.
package properties

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/blobvault/blobvault/internal/blob"
	"github.com/blobvault/blobvault/internal/storage"
)

// File is a property map bound to one object-store key. The zero map state
// is valid; Load and Store move it to and from the object store.
type File struct {
	client storage.S3API
	bucket string
	key    string
	props  map[string]string
}

// NewFile binds a property file to the given key.
func NewFile(client storage.S3API, bucket, key string) *File {
	return &File{
		client: client,
		bucket: bucket,
		key:    key,
		props:  make(map[string]string),
	}
}

// Key returns the object key the file is bound to.
func (f *File) Key() string { return f.key }

// Get returns the value for a property key.
func (f *File) Get(key string) (string, bool) {
	v, ok := f.props[key]
	return v, ok
}

// Set stores one property.
func (f *File) Set(key, value string) {
	f.props[key] = value
}

// Map returns the live property map.
func (f *File) Map() map[string]string {
	return f.props
}

// Replace swaps the whole property map.
func (f *File) Replace(props map[string]string) {
	f.props = props
}

// Load reads and parses the object. It reports false, with no error, when
// the object does not exist.
func (f *File) Load(ctx context.Context) (bool, error) {
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key),
	})
	if err != nil {
		if storage.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("loading properties %s: %w", f.key, err)
	}
	defer out.Body.Close()

	props := make(map[string]string)
	scanner := bufio.NewScanner(out.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		props[k] = v
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("reading properties %s: %w", f.key, err)
	}
	f.props = props
	return true, nil
}

// Store writes the property map as sorted key=value lines. When the map
// carries the temporary-blob header, the marker is mirrored into S3 user
// metadata so a HeadObject probe can classify the blob without a read.
func (f *File) Store(ctx context.Context) error {
	data := Encode(f.props)

	input := &s3.PutObjectInput{
		Bucket:        aws.String(f.bucket),
		Key:           aws.String(f.key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if _, ok := f.props["@"+blob.TemporaryBlobHeader]; ok {
		input.Metadata = map[string]string{blob.TemporaryMetadataKey: "true"}
	}

	if _, err := f.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("storing properties %s: %w", f.key, err)
	}
	return nil
}

// Remove deletes the backing object. Removing an absent file is not an
// error.
func (f *File) Remove(ctx context.Context) error {
	_, err := f.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key),
	})
	if err != nil {
		return fmt.Errorf("removing properties %s: %w", f.key, err)
	}
	return nil
}

// Exists checks for the backing object without loading it.
func (f *File) Exists(ctx context.Context) (bool, error) {
	_, err := f.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key),
	})
	if err != nil {
		if storage.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking properties %s: %w", f.key, err)
	}
	return true, nil
}

// Encode renders a property map as key=value lines in sorted key order, so
// the serialized form is deterministic.
func Encode(props map[string]string) []byte {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		buf.WriteString(k)
		buf.WriteByte('=')
		buf.WriteString(props[k])
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}
