package store

import (
	"crypto/sha1"
	"encoding/hex"
	"hash"
	"io"
	"time"

	"github.com/blobvault/blobvault/internal/blob"
)

// metricsReader measures content as it streams through an upload: SHA-1
// and byte count, recorded into the blob's attributes afterward.
type metricsReader struct {
	r    io.Reader
	sha1 hash.Hash
	size int64
}

func newMetricsReader(r io.Reader) *metricsReader {
	return &metricsReader{r: r, sha1: sha1.New()}
}

func (m *metricsReader) Read(p []byte) (int, error) {
	n, err := m.r.Read(p)
	if n > 0 {
		m.sha1.Write(p[:n])
		m.size += int64(n)
	}
	return n, err
}

// Metrics returns the measurements taken so far, stamped with the current
// time as the creation time.
func (m *metricsReader) Metrics() blob.Metrics {
	return blob.Metrics{
		SHA1:         hex.EncodeToString(m.sha1.Sum(nil)),
		Size:         m.size,
		CreationTime: time.Now().UTC(),
	}
}
