package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	blobFieldData        = "data"
	blobFieldContentType = "content_type"
	scanBatch            = 500
)

// RedisBlobStore implements BlobStore on Redis hashes.
//
// Layout:
//
//	<prefix>:buckets                 set of provisioned bucket names
//	<prefix>:<bucket>:<fingerprint>  hash {data, content_type}
type RedisBlobStore struct {
	client *redis.Client
	prefix string
}

type RedisConfig struct {
	Prefix string
}

// NewRedisBlobStore creates a Redis-backed blob store.
func NewRedisBlobStore(client *redis.Client, config RedisConfig) *RedisBlobStore {
	return &RedisBlobStore{
		client: client,
		prefix: config.Prefix,
	}
}

// key builds the final Redis key with prefix.
func (s *RedisBlobStore) key(parts ...string) string {
	k := strings.Join(parts, ":")
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func (s *RedisBlobStore) objectKey(partition string, fp Fingerprint) string {
	return s.key(BucketName(partition), fp.String())
}

func (s *RedisBlobStore) EnsurePartition(ctx context.Context, partition string) error {
	if err := ValidatePartition(partition); err != nil {
		return err
	}
	if err := s.client.SAdd(ctx, s.key("buckets"), BucketName(partition)).Err(); err != nil {
		return fmt.Errorf("redis ensure bucket %s failed: %w", BucketName(partition), err)
	}
	return nil
}

// Get returns a clean miss when the hash does not exist.
func (s *RedisBlobStore) Get(ctx context.Context, partition string, fp Fingerprint) (Blob, bool, error) {
	if err := ctx.Err(); err != nil {
		return Blob{}, false, fmt.Errorf("context error: %w", err)
	}

	vals, err := s.client.HMGet(ctx, s.objectKey(partition, fp), blobFieldData, blobFieldContentType).Result()
	if errors.Is(err, redis.Nil) {
		return Blob{}, false, nil
	}
	if err != nil {
		return Blob{}, false, fmt.Errorf("redis get failed: %w", err)
	}

	data, ok := vals[0].(string)
	if !ok {
		return Blob{}, false, nil
	}
	contentType, _ := vals[1].(string)

	return Blob{Data: []byte(data), ContentType: contentType}, true, nil
}

func (s *RedisBlobStore) Put(ctx context.Context, partition string, fp Fingerprint, blob Blob) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}

	contentType := blob.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	err := s.client.HSet(ctx, s.objectKey(partition, fp),
		blobFieldData, blob.Data,
		blobFieldContentType, contentType,
	).Err()
	if err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (s *RedisBlobStore) Delete(ctx context.Context, partition string, fp Fingerprint) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}
	if err := s.client.Del(ctx, s.objectKey(partition, fp)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// Clear walks the bucket with SCAN so large buckets do not block the server.
func (s *RedisBlobStore) Clear(ctx context.Context, partition string) error {
	pattern := s.key(BucketName(partition), "*")

	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return fmt.Errorf("redis scan failed: %w", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis clear failed: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Ping checks if Redis connection is healthy.
func (s *RedisBlobStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}
	return s.client.Ping(ctx).Err()
}
