package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

// ErrNotFound 对象不存在
var ErrNotFound = errors.New("storage: object not found")

// Object 读取到的对象
type Object struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

// Backend 附件/上传文件的对象存储
type Backend interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) (int64, error)
	Get(ctx context.Context, key string) (*Object, error)
	DeletePrefix(ctx context.Context, prefix string) error
}

// Key 拼接对象 key，各段先做清洗，防止 ../ 逃逸出存储根目录
func Key(parts ...string) string {
	clean := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ReplaceAll(p, "\\", "/")
		for _, seg := range strings.Split(p, "/") {
			seg = strings.TrimSpace(seg)
			if seg == "" || seg == "." || seg == ".." {
				continue
			}
			clean = append(clean, seg)
		}
	}
	return path.Join(clean...)
}
