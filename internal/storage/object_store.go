package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore implements BlobStore on MinIO/S3-compatible object storage,
// for deployments where letters must outlive a single host's disk. Blob
// names are generated the same way as the disk backend.
type ObjectStore struct {
	client *minio.Client
	bucket string
}

// NewObjectStore connects to the object store and ensures the bucket exists.
func NewObjectStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*ObjectStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init object store client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &ObjectStore{client: client, bucket: bucket}, nil
}

// Save uploads the payload under a generated name.
func (o *ObjectStore) Save(ctx context.Context, ext string, r io.Reader) (string, error) {
	name := newBlobName(ext)
	_, err := o.client.PutObject(ctx, o.bucket, name, r, -1,
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return "", fmt.Errorf("put blob: %w", err)
	}
	return name, nil
}

// Open returns a read handle for a stored object.
func (o *ObjectStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if !validBlobName(name) {
		return nil, fmt.Errorf("%q: %w", name, ErrBlobNotFound)
	}
	// GetObject defers errors to the first read, so stat first to surface
	// missing objects as a clean not-found.
	if _, err := o.client.StatObject(ctx, o.bucket, name, minio.StatObjectOptions{}); err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return nil, fmt.Errorf("%q: %w", name, ErrBlobNotFound)
		}
		return nil, fmt.Errorf("stat blob: %w", err)
	}
	obj, err := o.client.GetObject(ctx, o.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get blob: %w", err)
	}
	return obj, nil
}

// Remove deletes a stored object.
func (o *ObjectStore) Remove(ctx context.Context, name string) error {
	if !validBlobName(name) {
		return nil
	}
	if err := o.client.RemoveObject(ctx, o.bucket, name, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove blob: %w", err)
	}
	return nil
}
