package remote

import (
	"context"
	"errors"
	"io"

	"cloud.google.com/go/storage"
	"github.com/retroplay/retroplay/pkg/logger"
	"google.golang.org/api/iterator"
)

// GoogleCloudStore is a Google Cloud Storage bucket.
// The credentials are taken from the environment.
type GoogleCloudStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	log    *logger.Logger
}

func NewGoogleCloudStore(bucket string, log *logger.Logger) (*GoogleCloudStore, error) {
	client, err := storage.NewClient(context.Background())
	if err != nil {
		return nil, err
	}
	return &GoogleCloudStore{client: client, bucket: client.Bucket(bucket), log: log}, nil
}

func (g *GoogleCloudStore) Put(ctx context.Context, name string, data []byte, meta map[string]string) error {
	w := g.bucket.Object(name).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	w.Metadata = meta
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	g.log.Debug().Str("name", name).Int("size", len(data)).Msg("uploaded")
	return nil
}

func (g *GoogleCloudStore) Get(ctx context.Context, name string) (data []byte, meta map[string]string, err error) {
	obj := g.bucket.Object(name)
	attrs, err := obj.Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, nil, errObjectNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	r, err := obj.Generation(attrs.Generation).NewReader(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer func() { err = errors.Join(err, r.Close()) }()
	if data, err = io.ReadAll(r); err != nil {
		return nil, nil, err
	}
	return data, copyMeta(attrs.Metadata), nil
}

func (g *GoogleCloudStore) List(ctx context.Context, prefix string) ([]Object, error) {
	var list []Object
	it := g.bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		list = append(list, Object{Name: attrs.Name, Meta: copyMeta(attrs.Metadata)})
	}
	return list, nil
}

func (g *GoogleCloudStore) Delete(ctx context.Context, name string) error {
	err := g.bucket.Object(name).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return err
}

func (g *GoogleCloudStore) Close() error { return g.client.Close() }
