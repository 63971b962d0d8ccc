package remote

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/retroplay/retroplay/pkg/logger"
)

// S3Store is a bucket in some S3-compatible storage.
type S3Store struct {
	c      *minio.Client
	bucket string
	log    *logger.Logger
}

func NewS3Store(ctx context.Context, endpoint, bucket, key, secret string, secure bool, log *logger.Logger) (*S3Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(key, secret, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, err
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.New("bucket doesn't exist")
	}

	return &S3Store{c: client, bucket: bucket, log: log}, nil
}

func (s *S3Store) Put(ctx context.Context, name string, data []byte, meta map[string]string) error {
	opts := minio.PutObjectOptions{
		ContentType:    "application/octet-stream",
		SendContentMd5: true,
		UserMetadata:   meta,
	}
	info, err := s.c.PutObject(ctx, s.bucket, name, bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		return err
	}
	s.log.Debug().Str("name", info.Key).Int64("size", info.Size).Msg("uploaded")
	return nil
}

func (s *S3Store) Get(ctx context.Context, name string) (data []byte, meta map[string]string, err error) {
	r, err := s.c.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, s.wrap(err)
	}
	defer func() { err = errors.Join(err, r.Close()) }()

	info, err := r.Stat()
	if err != nil {
		return nil, nil, s.wrap(err)
	}
	if data, err = io.ReadAll(r); err != nil {
		return nil, nil, s.wrap(err)
	}
	return data, copyMeta(info.UserMetadata), nil
}

// List needs a stat call per object, S3 listings don't carry the user metadata.
func (s *S3Store) List(ctx context.Context, prefix string) ([]Object, error) {
	var list []Object
	for obj := range s.c.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		info, err := s.c.StatObject(ctx, s.bucket, obj.Key, minio.StatObjectOptions{})
		if err != nil {
			if errors.Is(s.wrap(err), errObjectNotFound) {
				continue
			}
			return nil, err
		}
		list = append(list, Object{Name: obj.Key, Meta: copyMeta(info.UserMetadata)})
	}
	return list, nil
}

func (s *S3Store) Delete(ctx context.Context, name string) error {
	return s.c.RemoveObject(ctx, s.bucket, name, minio.RemoveObjectOptions{})
}

func (s *S3Store) Close() error { return nil }

func (s *S3Store) wrap(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return errObjectNotFound
	}
	return err
}
