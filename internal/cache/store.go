package cache

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

var (
	// ErrInvalidInput is returned when request parameters cannot be canonically encoded.
	ErrInvalidInput = errors.New("cache: invalid input")

	// ErrPartitionMissing is returned by stores when the partition was never provisioned.
	ErrPartitionMissing = errors.New("cache: partition not provisioned")

	// ErrInvalidPartition is returned for adapter names that cannot be used as table or bucket names.
	ErrInvalidPartition = errors.New("cache: invalid partition name")
)

// Fingerprint is the hex SHA-256 identity of a (request params, user) pair.
type Fingerprint string

func (f Fingerprint) String() string { return string(f) }

// Short returns a prefix suitable for log lines.
func (f Fingerprint) Short() string {
	if len(f) <= 8 {
		return string(f)
	}
	return string(f[:8])
}

// StructuredEntry is what a text adapter writes through after a backend call.
// Request and Response hold JSON documents.
type StructuredEntry struct {
	Fingerprint Fingerprint
	Request     []byte
	Response    []byte
	OwnerUserID string
}

// StructuredRecord is a stored entry with its bookkeeping timestamps.
type StructuredRecord struct {
	StructuredEntry
	CreatedAt  time.Time
	AccessedAt time.Time
}

// StructuredStore keeps JSON responses, one partition (table) per adapter.
// Implemented by SQLStructuredStore (prod) and MemoryStructuredStore (dev/tests).
type StructuredStore interface {
	// Get returns the response payload and refreshes the entry's last-accessed time.
	Get(ctx context.Context, partition string, fp Fingerprint) ([]byte, bool, error)
	// Put inserts or replaces the entry keyed by its fingerprint.
	Put(ctx context.Context, partition string, entry StructuredEntry) error
	// Clear deletes the owner's entries, or every entry when ownerUserID is empty.
	Clear(ctx context.Context, partition, ownerUserID string) error
	EnsurePartition(ctx context.Context, partition string) error
}

// Blob is an opaque binary artifact with its media type.
type Blob struct {
	Data        []byte
	ContentType string
}

// BlobStore keeps binary artifacts, one bucket per adapter.
// Blobs carry no owner, so Clear is partition-wide only.
type BlobStore interface {
	Get(ctx context.Context, partition string, fp Fingerprint) (Blob, bool, error)
	Put(ctx context.Context, partition string, fp Fingerprint, blob Blob) error
	Delete(ctx context.Context, partition string, fp Fingerprint) error
	Clear(ctx context.Context, partition string) error
	EnsurePartition(ctx context.Context, partition string) error
}

var partitionPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,40}$`)

// ValidatePartition rejects names that are unsafe to splice into DDL or bucket names.
func ValidatePartition(partition string) error {
	if !partitionPattern.MatchString(partition) {
		return fmt.Errorf("%w: %q", ErrInvalidPartition, partition)
	}
	return nil
}

// TableName is the structured partition name for an adapter.
func TableName(partition string) string { return "cache_" + partition }

// BucketName is the blob partition name for an adapter.
// Underscores are not allowed in S3 bucket names.
func BucketName(partition string) string {
	b := []byte(partition)
	for i, c := range b {
		if c == '_' {
			b[i] = '-'
		}
	}
	return string(b) + "-cache"
}
