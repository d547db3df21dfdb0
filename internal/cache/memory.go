package cache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStructuredStore is an in-process StructuredStore.
// Entries never expire; they live until cleared or the process exits.
type MemoryStructuredStore struct {
	mu         sync.RWMutex
	partitions map[string]map[Fingerprint]*StructuredRecord
	now        func() time.Time
}

func NewMemoryStructuredStore() *MemoryStructuredStore {
	return &MemoryStructuredStore{
		partitions: make(map[string]map[Fingerprint]*StructuredRecord),
		now:        time.Now,
	}
}

func (s *MemoryStructuredStore) EnsurePartition(_ context.Context, partition string) error {
	if err := ValidatePartition(partition); err != nil {
		return err
	}
	s.mu.Lock()
	if _, ok := s.partitions[partition]; !ok {
		s.partitions[partition] = make(map[Fingerprint]*StructuredRecord)
	}
	s.mu.Unlock()
	return nil
}

// Get takes the write lock because a hit bumps AccessedAt.
func (s *MemoryStructuredStore) Get(_ context.Context, partition string, fp Fingerprint) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, ok := s.partitions[partition]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrPartitionMissing, TableName(partition))
	}
	rec, ok := entries[fp]
	if !ok {
		return nil, false, nil
	}
	rec.AccessedAt = s.now()
	return cloneBytes(rec.Response), true, nil
}

func (s *MemoryStructuredStore) Put(_ context.Context, partition string, entry StructuredEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, ok := s.partitions[partition]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPartitionMissing, TableName(partition))
	}

	now := s.now()
	if rec, exists := entries[entry.Fingerprint]; exists {
		rec.Response = cloneBytes(entry.Response)
		rec.AccessedAt = now
		return nil
	}

	entries[entry.Fingerprint] = &StructuredRecord{
		StructuredEntry: StructuredEntry{
			Fingerprint: entry.Fingerprint,
			Request:     cloneBytes(entry.Request),
			Response:    cloneBytes(entry.Response),
			OwnerUserID: entry.OwnerUserID,
		},
		CreatedAt:  now,
		AccessedAt: now,
	}
	return nil
}

func (s *MemoryStructuredStore) Clear(_ context.Context, partition, ownerUserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, ok := s.partitions[partition]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPartitionMissing, TableName(partition))
	}
	if ownerUserID == "" {
		s.partitions[partition] = make(map[Fingerprint]*StructuredRecord)
		return nil
	}
	for fp, rec := range entries {
		if rec.OwnerUserID == ownerUserID {
			delete(entries, fp)
		}
	}
	return nil
}

// Record returns a copy of the stored entry without touching AccessedAt.
func (s *MemoryStructuredStore) Record(partition string, fp Fingerprint) (StructuredRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.partitions[partition][fp]
	if !ok {
		return StructuredRecord{}, false
	}
	return *rec, true
}

// Len returns the number of entries in a partition.
func (s *MemoryStructuredStore) Len(partition string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.partitions[partition])
}

// MemoryBlobStore is an in-process BlobStore.
type MemoryBlobStore struct {
	mu      sync.RWMutex
	buckets map[string]map[Fingerprint]Blob
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{buckets: make(map[string]map[Fingerprint]Blob)}
}

func (s *MemoryBlobStore) EnsurePartition(_ context.Context, partition string) error {
	if err := ValidatePartition(partition); err != nil {
		return err
	}
	s.mu.Lock()
	if _, ok := s.buckets[partition]; !ok {
		s.buckets[partition] = make(map[Fingerprint]Blob)
	}
	s.mu.Unlock()
	return nil
}

func (s *MemoryBlobStore) Get(_ context.Context, partition string, fp Fingerprint) (Blob, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bucket, ok := s.buckets[partition]
	if !ok {
		return Blob{}, false, fmt.Errorf("%w: %s", ErrPartitionMissing, BucketName(partition))
	}
	b, ok := bucket[fp]
	if !ok {
		return Blob{}, false, nil
	}
	return Blob{Data: cloneBytes(b.Data), ContentType: b.ContentType}, true, nil
}

func (s *MemoryBlobStore) Put(_ context.Context, partition string, fp Fingerprint, blob Blob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.buckets[partition]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPartitionMissing, BucketName(partition))
	}
	bucket[fp] = Blob{Data: cloneBytes(blob.Data), ContentType: blob.ContentType}
	return nil
}

func (s *MemoryBlobStore) Delete(_ context.Context, partition string, fp Fingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets[partition], fp)
	return nil
}

func (s *MemoryBlobStore) Clear(_ context.Context, partition string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.buckets[partition]; !ok {
		return fmt.Errorf("%w: %s", ErrPartitionMissing, BucketName(partition))
	}
	s.buckets[partition] = make(map[Fingerprint]Blob)
	return nil
}

// Len returns the number of blobs in a partition.
func (s *MemoryBlobStore) Len(partition string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buckets[partition])
}

// Copy to decouple from caller's buffer
func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
