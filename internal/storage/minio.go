package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/mautops/report-gin/internal/config"
)

// MinioStorage 基于 S3 协议的对象存储实现
type MinioStorage struct {
	client *minio.Client
	bucket string
	domain string
	secure bool
	host   string
}

// NewMinioStorage 创建对象存储客户端
func NewMinioStorage(cfg config.StorageConfig) (*MinioStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.AccessKeySecret, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}

	return &MinioStorage{
		client: client,
		bucket: cfg.Bucket,
		domain: strings.TrimRight(cfg.Domain, "/"),
		secure: cfg.UseSSL,
		host:   cfg.Endpoint,
	}, nil
}

// EnsureBucket 确保 bucket 存在
func (s *MinioStorage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Upload 上传文件
func (s *MinioStorage) Upload(ctx context.Context, reader io.Reader, size int64, objectPath string, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, objectPath, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", objectPath, err)
	}
	return s.FileURL(objectPath), nil
}

// Delete 删除文件
func (s *MinioStorage) Delete(ctx context.Context, objectPath string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectPath, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete %s: %w", objectPath, err)
	}
	return nil
}

// Exists 判断文件是否存在
func (s *MinioStorage) Exists(ctx context.Context, objectPath string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, objectPath, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", objectPath, err)
}

// FileURL 返回文件访问地址,配置了访问域名时优先使用
func (s *MinioStorage) FileURL(objectPath string) string {
	if s.domain != "" {
		return s.domain + "/" + objectPath
	}
	scheme := "http"
	if s.secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, s.host, s.bucket, objectPath)
}
