package cache

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Secure    bool
	Region    string
}

// MinioBlobStore implements BlobStore on an S3-compatible object store.
// Each adapter owns the bucket BucketName(adapter); objects are keyed by fingerprint.
type MinioBlobStore struct {
	client *minio.Client
}

func NewMinioClient(cfg MinioConfig) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return client, nil
}

func NewMinioBlobStore(client *minio.Client) *MinioBlobStore {
	return &MinioBlobStore{client: client}
}

func (s *MinioBlobStore) EnsurePartition(ctx context.Context, partition string) error {
	if err := ValidatePartition(partition); err != nil {
		return err
	}
	bucket := BucketName(partition)

	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("minio bucket exists %s failed: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		// Another replica may have created it between the two calls.
		if resp := minio.ToErrorResponse(err); resp.Code == "BucketAlreadyOwnedByYou" {
			return nil
		}
		return fmt.Errorf("minio make bucket %s failed: %w", bucket, err)
	}
	return nil
}

// Get treats NoSuchKey as a clean miss.
func (s *MinioBlobStore) Get(ctx context.Context, partition string, fp Fingerprint) (Blob, bool, error) {
	obj, err := s.client.GetObject(ctx, BucketName(partition), fp.String(), minio.GetObjectOptions{})
	if err != nil {
		return Blob{}, false, fmt.Errorf("minio get failed: %w", err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return Blob{}, false, nil
		}
		return Blob{}, false, fmt.Errorf("minio stat failed: %w", err)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return Blob{}, false, fmt.Errorf("minio read failed: %w", err)
	}

	return Blob{Data: data, ContentType: info.ContentType}, true, nil
}

func (s *MinioBlobStore) Put(ctx context.Context, partition string, fp Fingerprint, blob Blob) error {
	contentType := blob.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := s.client.PutObject(ctx, BucketName(partition), fp.String(),
		bytes.NewReader(blob.Data), int64(len(blob.Data)),
		minio.PutObjectOptions{ContentType: contentType},
	)
	if err != nil {
		return fmt.Errorf("minio put failed: %w", err)
	}
	return nil
}

func (s *MinioBlobStore) Delete(ctx context.Context, partition string, fp Fingerprint) error {
	err := s.client.RemoveObject(ctx, BucketName(partition), fp.String(), minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("minio delete failed: %w", err)
	}
	return nil
}

// Clear removes every object in the adapter's bucket; the bucket itself stays.
func (s *MinioBlobStore) Clear(ctx context.Context, partition string) error {
	bucket := BucketName(partition)

	// Cancelling stops the lister goroutine if we return early.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	objects := s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Recursive: true})
	for obj := range objects {
		if obj.Err != nil {
			return fmt.Errorf("minio list %s failed: %w", bucket, obj.Err)
		}
		if err := s.client.RemoveObject(ctx, bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("minio delete %s/%s failed: %w", bucket, obj.Key, err)
		}
	}
	return nil
}
