package storage

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryObject 内存中的对象
type MemoryObject struct {
	Data        []byte
	ContentType string
}

// MemoryStorage 内存对象存储,用于未启用对象存储的开发环境
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string]MemoryObject
	baseURL string
}

// NewMemoryStorage 创建内存对象存储
func NewMemoryStorage(baseURL string) *MemoryStorage {
	if baseURL == "" {
		baseURL = "memory://reports"
	}
	return &MemoryStorage{
		objects: make(map[string]MemoryObject),
		baseURL: baseURL,
	}
}

// Upload 保存对象
func (s *MemoryStorage) Upload(ctx context.Context, reader io.Reader, size int64, objectPath string, contentType string) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("failed to read object %s: %w", objectPath, err)
	}
	s.mu.Lock()
	s.objects[objectPath] = MemoryObject{Data: data, ContentType: contentType}
	s.mu.Unlock()
	return s.FileURL(objectPath), nil
}

// Delete 删除对象,不存在时不报错
func (s *MemoryStorage) Delete(ctx context.Context, objectPath string) error {
	s.mu.Lock()
	delete(s.objects, objectPath)
	s.mu.Unlock()
	return nil
}

// Exists 判断对象是否存在
func (s *MemoryStorage) Exists(ctx context.Context, objectPath string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[objectPath]
	return ok, nil
}

// FileURL 返回对象地址
func (s *MemoryStorage) FileURL(objectPath string) string {
	return s.baseURL + "/" + objectPath
}

// Get 读取对象
func (s *MemoryStorage) Get(objectPath string) (MemoryObject, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[objectPath]
	return obj, ok
}

// Len 对象数量
func (s *MemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
