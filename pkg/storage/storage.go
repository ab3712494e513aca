// Package storage 提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"kbqa-go/pkg/errs"
)

// ObjectStore 保存上传的原始文件。
type ObjectStore interface {
	Put(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, objectName string) ([]byte, error)
	Delete(ctx context.Context, objectName string) error
}

// MemoryStore 是进程内的对象存储，用于 testing 模式与 CLI。
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (s *MemoryStore) Put(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}
	s.mu.Lock()
	s.objects[objectName] = buf.Bytes()
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, objectName string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[objectName]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", objectName, errs.ErrNotFound)
	}
	return data, nil
}

func (s *MemoryStore) Delete(ctx context.Context, objectName string) error {
	s.mu.Lock()
	delete(s.objects, objectName)
	s.mu.Unlock()
	return nil
}
