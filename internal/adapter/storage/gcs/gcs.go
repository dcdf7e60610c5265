package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/auth/credentials"
	gcstorage "cloud.google.com/go/storage"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"nodeforge/internal/adapter/storage"
)

// Backend Google Cloud Storage 存储
type Backend struct {
	client *gcstorage.Client
	bucket *gcstorage.BucketHandle
}

var _ storage.Backend = (*Backend)(nil)

// New 使用应用默认凭据连接 bucket
func New(ctx context.Context, bucketName string) (*Backend, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("gcs storage: bucket name is required")
	}
	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		Scopes: []string{gcstorage.ScopeReadWrite},
	})
	if err != nil {
		return nil, fmt.Errorf("get credentials for storage: %w", err)
	}
	client, err := gcstorage.NewClient(ctx, option.WithAuthCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &Backend{client: client, bucket: client.Bucket(bucketName)}, nil
}

// Close 关闭客户端
func (b *Backend) Close() error { return b.client.Close() }

// Put 上传对象
func (b *Backend) Put(ctx context.Context, key string, r io.Reader, contentType string) (int64, error) {
	w := b.bucket.Object(storage.Key(key)).NewWriter(ctx)
	w.ContentType = contentType
	n, err := io.Copy(w, r)
	if err != nil {
		w.Close()
		return 0, fmt.Errorf("gcs upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("gcs upload: %w", err)
	}
	return n, nil
}

// Get 读取对象
func (b *Backend) Get(ctx context.Context, key string) (*storage.Object, error) {
	r, err := b.bucket.Object(storage.Key(key)).NewReader(ctx)
	if errors.Is(err, gcstorage.ErrObjectNotExist) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("gcs read: %w", err)
	}
	return &storage.Object{Body: r, ContentType: r.Attrs.ContentType, Size: r.Attrs.Size}, nil
}

// DeletePrefix 并发删除前缀下的所有对象
func (b *Backend) DeletePrefix(ctx context.Context, prefix string) error {
	it := b.bucket.Objects(ctx, &gcstorage.Query{Prefix: storage.Key(prefix) + "/"})
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(8)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return fmt.Errorf("gcs list: %w", err)
		}
		name := attrs.Name
		eg.Go(func() error {
			err := b.bucket.Object(name).Delete(egCtx)
			if errors.Is(err, gcstorage.ErrObjectNotExist) {
				return nil
			}
			return err
		})
	}
	return eg.Wait()
}
