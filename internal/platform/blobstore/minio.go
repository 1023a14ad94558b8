package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioOptions configures NewMinioStore.
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioStore keeps blobs in an S3-compatible bucket. Tags are stored as
// user metadata on the object.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to the endpoint and creates the bucket if missing.
func NewMinioStore(ctx context.Context, opts MinioOptions) (*MinioStore, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", opts.Bucket, err)
		}
	}
	return &MinioStore{client: client, bucket: opts.Bucket}, nil
}

// Put uploads content under meta.Key.
func (s *MinioStore) Put(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	data, err := readContent(meta, content)
	if err != nil {
		return nil, err
	}

	meta.Hash = hashOf(data)
	tags := copyTags(meta.Tags)
	tags["sha256"] = meta.Hash

	info, err := s.client.PutObject(ctx, s.bucket, meta.Key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  meta.ContentType,
		UserMetadata: tags,
	})
	if err != nil {
		return nil, fmt.Errorf("put object %s: %w", meta.Key, err)
	}

	meta.Size = info.Size
	meta.CreatedAt = info.LastModified.UTC()
	meta.Tags = copyTags(meta.Tags)
	return &meta, nil
}

// Get streams the object. The caller closes the reader.
func (s *MinioStore) Get(ctx context.Context, key string) (io.ReadCloser, *BlobMetadata, error) {
	meta, err := s.Stat(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("get object %s: %w", key, err)
	}
	return obj, meta, nil
}

// Stat returns the object metadata.
func (s *MinioStore) Stat(ctx context.Context, key string) (*BlobMetadata, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("stat object %s: %w", key, err)
	}
	return objectMetadata(info), nil
}

// Delete removes the object.
func (s *MinioStore) Delete(ctx context.Context, key string) error {
	if _, err := s.Stat(ctx, key); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	return nil
}

// List returns the objects under prefix, sorted by key.
func (s *MinioStore) List(ctx context.Context, prefix string) ([]*BlobMetadata, error) {
	out := []*BlobMetadata{}
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:       prefix,
		Recursive:    true,
		WithMetadata: true,
	}) {
		if info.Err != nil {
			return nil, fmt.Errorf("list objects %s: %w", prefix, info.Err)
		}
		out = append(out, objectMetadata(info))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func objectMetadata(info minio.ObjectInfo) *BlobMetadata {
	meta := &BlobMetadata{
		Key:         info.Key,
		ContentType: info.ContentType,
		Size:        info.Size,
		CreatedAt:   info.LastModified.UTC(),
		Tags:        map[string]string{},
	}
	for k, v := range info.UserMetadata {
		if strings.EqualFold(k, "sha256") {
			meta.Hash = v
			continue
		}
		meta.Tags[k] = v
	}
	return meta
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchObject"
}
