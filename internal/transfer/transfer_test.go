package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/blobvault/blobvault/internal/storage/storagetest"
)

// pattern returns n deterministic non-repeating bytes so assembled parts in
// the wrong order would not compare equal.
func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + i/251)
	}
	return data
}

func TestFirstByte(t *testing.T) {
	tests := []struct {
		part     int32
		partSize int64
		want     int64
	}{
		{1, 100, 0},
		{2, 100, 100},
		{4, 100, 300},
		{1, 5 * 1024 * 1024, 0},
	}
	for _, tt := range tests {
		if got := FirstByte(tt.part, tt.partSize); got != tt.want {
			t.Errorf("FirstByte(%d, %d) = %d, want %d", tt.part, tt.partSize, got, tt.want)
		}
	}
}

func TestLastByte(t *testing.T) {
	tests := []struct {
		name      string
		part      int32
		partSize  int64
		totalSize int64
		want      int64
	}{
		{"interior part", 1, 100, 345, 99},
		{"interior part 2", 2, 100, 345, 199},
		{"final short part", 4, 100, 345, 344},
		{"final exact part", 3, 100, 300, 299},
		{"part past the end is clamped", 5, 100, 345, 344},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LastByte(tt.part, tt.partSize, tt.totalSize); got != tt.want {
				t.Errorf("LastByte(%d, %d, %d) = %d, want %d", tt.part, tt.partSize, tt.totalSize, got, tt.want)
			}
		})
	}
}

func TestPartCount(t *testing.T) {
	tests := []struct {
		totalSize int64
		partSize  int64
		want      int32
	}{
		{345, 100, 4},
		{300, 100, 3},
		{100, 100, 1},
		{101, 100, 2},
		{1, 100, 1},
	}
	for _, tt := range tests {
		if got := PartCount(tt.totalSize, tt.partSize); got != tt.want {
			t.Errorf("PartCount(%d, %d) = %d, want %d", tt.totalSize, tt.partSize, got, tt.want)
		}
	}
}

// Ranges of consecutive parts must tile the object exactly.
func TestRangesTileObject(t *testing.T) {
	const partSize, totalSize = 100, 345
	var next int64
	for part := int32(1); part <= PartCount(totalSize, partSize); part++ {
		first := FirstByte(part, partSize)
		if first != next {
			t.Fatalf("part %d starts at %d, want %d", part, first, next)
		}
		next = LastByte(part, partSize, totalSize) + 1
	}
	if next != totalSize {
		t.Fatalf("parts cover %d bytes, want %d", next, totalSize)
	}
}

func TestReadChunk(t *testing.T) {
	buf := make([]byte, 10)

	r := bytes.NewReader([]byte("hello world!"))
	chunk, err := readChunk(r, buf)
	if err != nil || string(chunk) != "hello worl" {
		t.Fatalf("first chunk = %q, %v", chunk, err)
	}
	chunk, err = readChunk(r, buf)
	if err != nil || string(chunk) != "d!" {
		t.Fatalf("second chunk = %q, %v", chunk, err)
	}
	chunk, err = readChunk(r, buf)
	if err != nil || chunk != nil {
		t.Fatalf("chunk after end = %q, %v, want nil", chunk, err)
	}
}

func uploaders(client *storagetest.Client, partSize int64) map[string]Uploader {
	return map[string]Uploader{
		"multipart": NewMultipartUploader(client, partSize),
		"parallel":  NewParallelUploader(client, partSize, 3),
		"pipelined": NewPipelinedUploader(client, partSize, 3),
	}
}

func TestUploadShortContentUsesSinglePut(t *testing.T) {
	for name := range uploaders(nil, 100) {
		t.Run(name, func(t *testing.T) {
			client := storagetest.NewClient()
			u := uploaders(client, 100)[name]
			data := pattern(99)

			if err := u.Upload(context.Background(), "bkt", "k", bytes.NewReader(data)); err != nil {
				t.Fatalf("Upload: %v", err)
			}
			stored, ok := client.Object("k")
			if !ok || !bytes.Equal(stored, data) {
				t.Fatalf("stored object mismatch")
			}
			if client.PutObjectCalls != 1 {
				t.Errorf("PutObjectCalls = %d, want 1", client.PutObjectCalls)
			}
			if client.CreateMultipartCalls != 0 {
				t.Errorf("CreateMultipartCalls = %d, want 0", client.CreateMultipartCalls)
			}
		})
	}
}

func TestUploadEmptyContent(t *testing.T) {
	for name := range uploaders(nil, 100) {
		t.Run(name, func(t *testing.T) {
			client := storagetest.NewClient()
			u := uploaders(client, 100)[name]

			if err := u.Upload(context.Background(), "bkt", "k", bytes.NewReader(nil)); err != nil {
				t.Fatalf("Upload: %v", err)
			}
			stored, ok := client.Object("k")
			if !ok || len(stored) != 0 {
				t.Fatalf("stored object = %v, want empty", stored)
			}
			if client.PutObjectCalls != 1 {
				t.Errorf("PutObjectCalls = %d, want 1", client.PutObjectCalls)
			}
		})
	}
}

func TestUploadMultipart(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		wantParts int
	}{
		{"one byte over a part", 101, 2},
		{"exact multiple of part size", 300, 3},
		{"several parts with remainder", 345, 4},
	}
	for _, tt := range tests {
		for name := range uploaders(nil, 100) {
			t.Run(tt.name+"/"+name, func(t *testing.T) {
				client := storagetest.NewClient()
				u := uploaders(client, 100)[name]
				data := pattern(tt.size)

				if err := u.Upload(context.Background(), "bkt", "k", bytes.NewReader(data)); err != nil {
					t.Fatalf("Upload: %v", err)
				}
				stored, ok := client.Object("k")
				if !ok {
					t.Fatal("object not stored")
				}
				if !bytes.Equal(stored, data) {
					t.Fatal("stored bytes differ from source")
				}
				if client.PutObjectCalls != 0 {
					t.Errorf("PutObjectCalls = %d, want 0", client.PutObjectCalls)
				}
				if client.UploadPartCalls != tt.wantParts {
					t.Errorf("UploadPartCalls = %d, want %d", client.UploadPartCalls, tt.wantParts)
				}
				if client.CompleteMultipartCalls != 1 {
					t.Errorf("CompleteMultipartCalls = %d, want 1", client.CompleteMultipartCalls)
				}
				if client.ActiveUploads() != 0 {
					t.Errorf("ActiveUploads = %d, want 0", client.ActiveUploads())
				}
			})
		}
	}
}

func TestUploadPartFailureAbortsOnce(t *testing.T) {
	for name := range uploaders(nil, 100) {
		t.Run(name, func(t *testing.T) {
			client := storagetest.NewClient()
			client.FailUploadPart = 2
			u := uploaders(client, 100)[name]

			err := u.Upload(context.Background(), "bkt", "k", bytes.NewReader(pattern(345)))
			if err == nil {
				t.Fatal("Upload succeeded, want error")
			}
			var terr *Error
			if !errors.As(err, &terr) {
				t.Fatalf("error %T does not wrap *transfer.Error", err)
			}
			if client.AbortMultipartCalls != 1 {
				t.Errorf("AbortMultipartCalls = %d, want 1", client.AbortMultipartCalls)
			}
			if client.CompleteMultipartCalls != 0 {
				t.Errorf("CompleteMultipartCalls = %d, want 0", client.CompleteMultipartCalls)
			}
			if client.ActiveUploads() != 0 {
				t.Errorf("upload left dangling after abort")
			}
			if _, ok := client.Object("k"); ok {
				t.Error("failed upload still produced an object")
			}
		})
	}
}

// failingReader fails partway through the second part.
type failingReader struct {
	data []byte
	err  error
	off  int
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.off >= len(r.data) {
		return 0, r.err
	}
	n := copy(p, r.data[r.off:])
	r.off += n
	return n, nil
}

func TestUploadReadFailureAborts(t *testing.T) {
	readErr := errors.New("source stream broke")
	for name := range uploaders(nil, 100) {
		t.Run(name, func(t *testing.T) {
			client := storagetest.NewClient()
			u := uploaders(client, 100)[name]
			src := &failingReader{data: pattern(150), err: readErr}

			err := u.Upload(context.Background(), "bkt", "k", src)
			if !errors.Is(err, readErr) {
				t.Fatalf("Upload error = %v, want wrapped %v", err, readErr)
			}
			if client.AbortMultipartCalls != 1 {
				t.Errorf("AbortMultipartCalls = %d, want 1", client.AbortMultipartCalls)
			}
			if client.ActiveUploads() != 0 {
				t.Errorf("upload left dangling after abort")
			}
		})
	}
}

func copiers(client *storagetest.Client, partSize int64) map[string]Copier {
	return map[string]Copier{
		"multipart": NewMultipartCopier(client, partSize),
		"parallel":  NewParallelCopier(client, partSize, 3),
	}
}

func TestCopyShortObjectUsesCopyObject(t *testing.T) {
	for name := range copiers(nil, 100) {
		t.Run(name, func(t *testing.T) {
			client := storagetest.NewClient()
			data := pattern(99)
			client.SetObject("src", data)
			c := copiers(client, 100)[name]

			if err := c.Copy(context.Background(), "bkt", "src", "dst"); err != nil {
				t.Fatalf("Copy: %v", err)
			}
			stored, ok := client.Object("dst")
			if !ok || !bytes.Equal(stored, data) {
				t.Fatal("copied object mismatch")
			}
			if client.CopyObjectCalls != 1 {
				t.Errorf("CopyObjectCalls = %d, want 1", client.CopyObjectCalls)
			}
			if client.UploadPartCopyCalls != 0 {
				t.Errorf("UploadPartCopyCalls = %d, want 0", client.UploadPartCopyCalls)
			}
		})
	}
}

func TestCopyLargeObjectUsesMultipart(t *testing.T) {
	for name := range copiers(nil, 100) {
		t.Run(name, func(t *testing.T) {
			client := storagetest.NewClient()
			data := pattern(345)
			client.SetObject("src", data)
			c := copiers(client, 100)[name]

			if err := c.Copy(context.Background(), "bkt", "src", "dst"); err != nil {
				t.Fatalf("Copy: %v", err)
			}
			stored, ok := client.Object("dst")
			if !ok || !bytes.Equal(stored, data) {
				t.Fatal("copied object mismatch")
			}
			if client.CopyObjectCalls != 0 {
				t.Errorf("CopyObjectCalls = %d, want 0", client.CopyObjectCalls)
			}
			if client.UploadPartCopyCalls != 4 {
				t.Errorf("UploadPartCopyCalls = %d, want 4", client.UploadPartCopyCalls)
			}
			if client.ActiveUploads() != 0 {
				t.Errorf("ActiveUploads = %d, want 0", client.ActiveUploads())
			}
		})
	}
}

func TestCopyPartFailureAbortsOnce(t *testing.T) {
	for name := range copiers(nil, 100) {
		t.Run(name, func(t *testing.T) {
			client := storagetest.NewClient()
			client.SetObject("src", pattern(345))
			client.FailUploadPartCopy = 3
			c := copiers(client, 100)[name]

			if err := c.Copy(context.Background(), "bkt", "src", "dst"); err == nil {
				t.Fatal("Copy succeeded, want error")
			}
			if client.AbortMultipartCalls != 1 {
				t.Errorf("AbortMultipartCalls = %d, want 1", client.AbortMultipartCalls)
			}
			if client.ActiveUploads() != 0 {
				t.Errorf("upload left dangling after abort")
			}
		})
	}
}

func TestCopyMissingSource(t *testing.T) {
	client := storagetest.NewClient()
	c := NewMultipartCopier(client, 100)

	err := c.Copy(context.Background(), "bkt", "nope", "dst")
	if err == nil {
		t.Fatal("Copy succeeded, want error")
	}
	var terr *Error
	if !errors.As(err, &terr) || terr.Op != "head object" {
		t.Fatalf("error = %v, want head object transfer error", err)
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := io.ErrClosedPipe
	err := &Error{Op: "read", Bucket: "b", Key: "k", Err: cause}
	if !errors.Is(err, cause) {
		t.Error("Unwrap does not expose the cause")
	}
	if err.Error() != "read b/k: io: read/write on closed pipe" {
		t.Errorf("Error() = %q", err.Error())
	}
}
