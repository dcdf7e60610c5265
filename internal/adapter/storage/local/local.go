package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"

	"nodeforge/internal/adapter/storage"
)

// Backend 本地文件系统存储
type Backend struct {
	root string
}

var _ storage.Backend = (*Backend)(nil)

// New 创建本地存储，根目录不存在时自动创建
func New(root string) (*Backend, error) {
	if root == "" {
		return nil, fmt.Errorf("local storage: base path is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Backend{root: root}, nil
}

func (b *Backend) path(key string) (string, error) {
	clean := storage.Key(key)
	if clean == "" {
		return "", fmt.Errorf("local storage: empty key")
	}
	return filepath.Join(b.root, filepath.FromSlash(clean)), nil
}

// Put 写入文件（先写临时文件再 rename）
func (b *Backend) Put(_ context.Context, key string, r io.Reader, _ string) (int64, error) {
	p, err := b.path(key)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return 0, err
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return 0, err
	}
	return n, nil
}

// Get 打开文件，content type 按扩展名推断
func (b *Backend) Get(_ context.Context, key string) (*storage.Object, error) {
	p, err := b.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	ct := mime.TypeByExtension(filepath.Ext(p))
	if ct == "" {
		ct = "application/octet-stream"
	}
	return &storage.Object{Body: f, ContentType: ct, Size: st.Size()}, nil
}

// DeletePrefix 删除目录（prefix 视为目录）
func (b *Backend) DeletePrefix(_ context.Context, prefix string) error {
	p, err := b.path(prefix)
	if err != nil {
		return err
	}
	return os.RemoveAll(p)
}
