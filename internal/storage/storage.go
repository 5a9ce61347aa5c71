// Package storage 对象存储
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"
)

// ErrEmptyURL 上传成功但没有返回访问地址
var ErrEmptyURL = errors.New("object storage returned empty url")

// ObjectStorage 对象存储接口
type ObjectStorage interface {
	// Upload 上传文件并返回访问地址
	Upload(ctx context.Context, reader io.Reader, size int64, objectPath string, contentType string) (string, error)
	Delete(ctx context.Context, objectPath string) error
	Exists(ctx context.Context, objectPath string) (bool, error)
	FileURL(objectPath string) string
}

// ObjectPath 生成对象路径: <prefix>yyyy/MM/dd/<name><ext>
func ObjectPath(prefix string, name string, ext string, now time.Time) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	prefix = strings.TrimLeft(prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + path.Join(now.Format("2006/01/02"), name+ext)
}
