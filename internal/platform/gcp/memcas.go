package gcp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemCAS is an in-memory CASStore for tests and local development without an
// emulator. Semantics match the real store: uploads report the digest of the
// stored bytes, downloads return exactly what was stored.
type MemCAS struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string]memObject
}

type memObject struct {
	data        []byte
	contentType string
	updated     time.Time
}

func NewMemCAS(bucket string) *MemCAS {
	return &MemCAS{bucket: bucket, objects: map[string]memObject{}}
}

func (m *MemCAS) BucketName() string { return m.bucket }

func (m *MemCAS) Upload(_ context.Context, key string, r io.Reader, contentType string) (PutResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return PutResult{}, err
	}
	m.mu.Lock()
	m.objects[key] = memObject{data: data, contentType: contentType, updated: time.Now().UTC()}
	m.mu.Unlock()
	sum := sha256.Sum256(data)
	return PutResult{SHA256: hex.EncodeToString(sum[:]), Size: int64(len(data))}, nil
}

func (m *MemCAS) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	data, _, err := m.DownloadBytes(ctx, key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(string(data))), nil
}

func (m *MemCAS) DownloadBytes(_ context.Context, key string) ([]byte, string, error) {
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, "", fmt.Errorf("blob %q not found", key)
	}
	sum := sha256.Sum256(obj.data)
	return append([]byte{}, obj.data...), hex.EncodeToString(sum[:]), nil
}

func (m *MemCAS) GetObjectAttrs(_ context.Context, key string) (*ObjectAttrs, error) {
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("blob %q not found", key)
	}
	return &ObjectAttrs{
		Size:        int64(len(obj.data)),
		ContentType: obj.contentType,
		Updated:     obj.updated,
	}, nil
}

func (m *MemCAS) ListKeys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []string{}
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}
