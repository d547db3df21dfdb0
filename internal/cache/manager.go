package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"simmgate-aigateway/internal/metrics"
	"simmgate-aigateway/pkg/logging/logging"

	"go.uber.org/zap"
)

const (
	storeStructured = "structured"
	storeBlob       = "blob"
)

// Manager is the fail-soft boundary between adapters and the two stores.
//
// Store and serialisation errors on the request path are logged, counted and
// downgraded to a miss or a no-op; they never reach the adapter pipeline.
// Only EnsurePartitions and Clear report errors to the caller.
type Manager struct {
	structured StructuredStore
	blob       BlobStore
	enabled    bool
}

func NewManager(structured StructuredStore, blob BlobStore, enabled bool) *Manager {
	return &Manager{structured: structured, blob: blob, enabled: enabled}
}

// Enabled reports whether reads and write-throughs are active.
func (m *Manager) Enabled() bool { return m.enabled }

// EnsurePartitions provisions a table and a bucket for every adapter name.
func (m *Manager) EnsurePartitions(ctx context.Context, names ...string) error {
	logger := loggerFromContext(ctx)
	for _, name := range names {
		if err := m.structured.EnsurePartition(ctx, name); err != nil {
			return fmt.Errorf("provision %s: %w", TableName(name), err)
		}
		if err := m.blob.EnsurePartition(ctx, name); err != nil {
			return fmt.Errorf("provision %s: %w", BucketName(name), err)
		}
		logger.Info("cache_partition_ready",
			zap.String("adapter", name),
			zap.String("table", TableName(name)),
			zap.String("bucket", BucketName(name)),
		)
	}
	return nil
}

// GetStructured returns the cached response payload for fp, or false.
func (m *Manager) GetStructured(ctx context.Context, adapter string, fp Fingerprint) (map[string]any, bool) {
	if !m.enabled {
		return nil, false
	}

	start := time.Now()
	raw, ok, err := m.structured.Get(ctx, adapter, fp)
	m.logLookup(ctx, adapter, storeStructured, fp, ok, err, start)
	if err != nil || !ok {
		return nil, false
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		loggerFromContext(ctx).Warn("cache_decode_error",
			zap.String("adapter", adapter),
			zap.String("fingerprint", fp.Short()),
			zap.Error(err),
		)
		return nil, false
	}
	return payload, true
}

// PutStructured writes request and response through to the structured store.
func (m *Manager) PutStructured(ctx context.Context, adapter string, fp Fingerprint, request, response map[string]any, ownerUserID string) {
	if !m.enabled {
		return
	}

	start := time.Now()
	entry, err := encodeEntry(fp, request, response, ownerUserID)
	if err == nil {
		err = m.structured.Put(ctx, adapter, entry)
	}
	m.logWrite(ctx, adapter, storeStructured, fp, err, start)
}

// GetBlob returns the cached artifact for fp, or false.
func (m *Manager) GetBlob(ctx context.Context, adapter string, fp Fingerprint) (Blob, bool) {
	if !m.enabled {
		return Blob{}, false
	}

	start := time.Now()
	blob, ok, err := m.blob.Get(ctx, adapter, fp)
	m.logLookup(ctx, adapter, storeBlob, fp, ok, err, start)
	if err != nil || !ok {
		return Blob{}, false
	}
	return blob, true
}

// PutBlob writes an artifact through to the blob store.
func (m *Manager) PutBlob(ctx context.Context, adapter string, fp Fingerprint, blob Blob) {
	if !m.enabled {
		return
	}

	start := time.Now()
	err := m.blob.Put(ctx, adapter, fp, blob)
	m.logWrite(ctx, adapter, storeBlob, fp, err, start)
}

// DeleteBlob removes one artifact. Like Clear it is an explicit operator
// action, so the store error is returned as well as logged.
func (m *Manager) DeleteBlob(ctx context.Context, adapter string, fp Fingerprint) error {
	if err := m.blob.Delete(ctx, adapter, fp); err != nil {
		loggerFromContext(ctx).Warn("blob_delete_error",
			zap.String("adapter", adapter),
			zap.String("fingerprint", fp.Short()),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// Clear empties an adapter's structured entries for ownerUserID, or the
// whole adapter (structured and blob) when ownerUserID is empty. Blobs have
// no owner and are left in place on a user-scoped clear.
func (m *Manager) Clear(ctx context.Context, adapter, ownerUserID string) error {
	logger := loggerFromContext(ctx)

	var errs []error
	if err := m.structured.Clear(ctx, adapter, ownerUserID); err != nil {
		errs = append(errs, err)
	}
	if ownerUserID == "" {
		if err := m.blob.Clear(ctx, adapter); err != nil {
			errs = append(errs, err)
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		logger.Error("cache_clear",
			zap.String("adapter", adapter),
			zap.String("user_id", ownerUserID),
			zap.Error(err),
		)
		return err
	}

	logger.Info("cache_clear",
		zap.String("adapter", adapter),
		zap.String("user_id", ownerUserID),
		zap.Bool("blobs_cleared", ownerUserID == ""),
	)
	return nil
}

func encodeEntry(fp Fingerprint, request, response map[string]any, ownerUserID string) (StructuredEntry, error) {
	req, err := json.Marshal(request)
	if err != nil {
		return StructuredEntry{}, fmt.Errorf("encode request: %w", err)
	}
	resp, err := json.Marshal(response)
	if err != nil {
		return StructuredEntry{}, fmt.Errorf("encode response: %w", err)
	}
	return StructuredEntry{
		Fingerprint: fp,
		Request:     req,
		Response:    resp,
		OwnerUserID: ownerUserID,
	}, nil
}

func (m *Manager) logLookup(ctx context.Context, adapter, store string, fp Fingerprint, hit bool, err error, start time.Time) {
	result := "miss"
	if err != nil {
		result = "error"
	} else if hit {
		result = "hit"
	}
	metrics.CacheLookupsTotal.WithLabelValues(adapter, store, result).Inc()

	fields := []zap.Field{
		zap.String("adapter", adapter),
		zap.String("store", store),
		zap.String("fingerprint", fp.Short()),
		zap.String("cache_result", result), // hit | miss | error
		zap.Float64("latency_ms", float64(time.Since(start).Microseconds())/1000.0),
	}

	logger := loggerFromContext(ctx)
	if err != nil {
		logger.Error("cache_get", append(fields, zap.Error(err))...)
		return
	}
	logger.Debug("cache_get", fields...)
}

func (m *Manager) logWrite(ctx context.Context, adapter, store string, fp Fingerprint, err error, start time.Time) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.CacheWritesTotal.WithLabelValues(adapter, store, result).Inc()

	fields := []zap.Field{
		zap.String("adapter", adapter),
		zap.String("store", store),
		zap.String("fingerprint", fp.Short()),
		zap.Float64("latency_ms", float64(time.Since(start).Microseconds())/1000.0),
	}

	logger := loggerFromContext(ctx)
	if err != nil {
		logger.Error("cache_set", append(fields, zap.Error(err))...)
		return
	}
	logger.Debug("cache_set", fields...)
}

func loggerFromContext(ctx context.Context) *zap.Logger {
	return logging.L(ctx)
}
