package storage

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"sealreg/internal/domain"
)

// Memory is an in-process object store for development and tests. Its signed
// URLs carry an expiry but are not cryptographically signed.
type Memory struct {
	mu      sync.RWMutex
	bucket  string
	baseURL string
	objects map[string]memoryObject
	now     func() time.Time
}

type memoryObject struct {
	contentType string
	data        []byte
}

func NewMemory(bucket, baseURL string) *Memory {
	if bucket == "" {
		bucket = "local"
	}
	if baseURL == "" {
		baseURL = "memory://objects"
	}
	return &Memory{bucket: bucket, baseURL: baseURL, objects: map[string]memoryObject{}, now: time.Now}
}

func (m *Memory) Bucket() string {
	return m.bucket
}

func (m *Memory) Upload(ctx context.Context, ptr domain.Pointer, contentType string, data []byte) error {
	if ptr.Path == "" {
		return fmt.Errorf("upload requires a path")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[m.key(ptr)] = memoryObject{contentType: contentType, data: append([]byte(nil), data...)}
	return nil
}

func (m *Memory) Download(ctx context.Context, ptr domain.Pointer) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[m.key(ptr)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), obj.data...), nil
}

func (m *Memory) SignedURL(ctx context.Context, ptr domain.Pointer, expires time.Duration) (string, error) {
	if ptr.Path == "" {
		return "", fmt.Errorf("sign requires a path")
	}
	bucket := ptr.Bucket
	if bucket == "" {
		bucket = m.bucket
	}
	q := url.Values{}
	q.Set("expires", m.now().Add(expires).UTC().Format(time.RFC3339))
	return m.baseURL + "/" + url.PathEscape(bucket) + "/" + escapePath(ptr.Path) + "?" + q.Encode(), nil
}

func (m *Memory) key(ptr domain.Pointer) string {
	bucket := ptr.Bucket
	if bucket == "" {
		bucket = m.bucket
	}
	return bucket + "/" + ptr.Path
}

func escapePath(p string) string {
	u := url.URL{Path: p}
	return u.EscapedPath()
}
