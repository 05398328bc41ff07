package storage

import (
	"bytes"
	"context"
	"strings"

	errors "github.com/Laisky/errors/v2"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/sync/errgroup"
)

// S3MirrorConfig describes an S3-compatible bucket used as a replica.
type S3MirrorConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// Prefix is prepended to every object key.
	Prefix string
}

// S3Mirror replicates stored objects into an S3-compatible bucket.
type S3Mirror struct {
	cli    *minio.Client
	bucket string
	prefix string
}

// NewS3Mirror builds a mirror for cfg.
func NewS3Mirror(cfg S3MirrorConfig) (*S3Mirror, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("s3 endpoint and bucket are required")
	}

	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "new minio client")
	}

	return &S3Mirror{
		cli:    cli,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (s *S3Mirror) objectKey(relPath string) string {
	if s.prefix == "" {
		return relPath
	}
	return s.prefix + "/" + relPath
}

// Put uploads data under relPath.
func (s *S3Mirror) Put(ctx context.Context, relPath string, data []byte, contentType string) error {
	_, err := s.cli.PutObject(ctx,
		s.bucket,
		s.objectKey(relPath),
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{
			ContentType: contentType,
		},
	)
	if err != nil {
		return errors.Wrapf(err, "put object %s", relPath)
	}
	return nil
}

// Remove deletes relPath, or every object below it when relPath ends with '/'.
func (s *S3Mirror) Remove(ctx context.Context, relPath string) error {
	if !strings.HasSuffix(relPath, "/") {
		if err := s.cli.RemoveObject(ctx, s.bucket, s.objectKey(relPath), minio.RemoveObjectOptions{}); err != nil {
			return errors.Wrapf(err, "remove object %s", relPath)
		}
		return nil
	}

	var pool errgroup.Group
	pool.SetLimit(8)
	for obj := range s.cli.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.objectKey(relPath),
		Recursive: true,
	}) {
		if obj.Err != nil {
			_ = pool.Wait()
			return errors.Wrapf(obj.Err, "list objects %s", relPath)
		}

		key := obj.Key
		pool.Go(func() error {
			if err := s.cli.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
				return errors.Wrapf(err, "remove object %s", key)
			}
			return nil
		})
	}

	return pool.Wait()
}
