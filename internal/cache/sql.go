package cache

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// structuredRow maps one row of a cache_<adapter> table.
// The table name is chosen per call, so the struct carries no gorm table tags.
type structuredRow struct {
	ID           uint      `gorm:"column:id;primaryKey"`
	CacheKey     string    `gorm:"column:cache_key"`
	RequestData  string    `gorm:"column:request_data"`
	ResponseData string    `gorm:"column:response_data"`
	UserID       string    `gorm:"column:user_id"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	AccessedAt   time.Time `gorm:"column:accessed_at"`
}

// SQLStructuredStore implements StructuredStore with one table per adapter.
// PostgreSQL stores request and response as JSONB; SQLite stores them as TEXT.
type SQLStructuredStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewSQLStructuredStore(db *gorm.DB) *SQLStructuredStore {
	return &SQLStructuredStore{db: db, now: time.Now}
}

// EnsurePartition creates the adapter table and its indexes if absent.
func (s *SQLStructuredStore) EnsurePartition(ctx context.Context, partition string) error {
	if err := ValidatePartition(partition); err != nil {
		return err
	}
	table := TableName(partition)

	for _, stmt := range s.ddl(table) {
		if err := s.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("create %s failed: %w", table, err)
		}
	}
	return nil
}

func (s *SQLStructuredStore) ddl(table string) []string {
	var create string
	switch s.db.Dialector.Name() {
	case "postgres":
		create = `CREATE TABLE IF NOT EXISTS ` + table + ` (
			id SERIAL PRIMARY KEY,
			cache_key VARCHAR(64) UNIQUE NOT NULL,
			request_data JSONB NOT NULL,
			response_data JSONB NOT NULL,
			user_id VARCHAR(255) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			accessed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`
	default:
		create = `CREATE TABLE IF NOT EXISTS ` + table + ` (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cache_key TEXT UNIQUE NOT NULL,
			request_data TEXT NOT NULL,
			response_data TEXT NOT NULL,
			user_id TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			accessed_at DATETIME NOT NULL
		)`
	}
	return []string{
		create,
		`CREATE INDEX IF NOT EXISTS idx_` + table + `_user_id ON ` + table + ` (user_id)`,
	}
}

// Get reads the response payload and bumps accessed_at on a hit.
func (s *SQLStructuredStore) Get(ctx context.Context, partition string, fp Fingerprint) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, fmt.Errorf("context error: %w", err)
	}
	table := TableName(partition)

	var row structuredRow
	res := s.db.WithContext(ctx).
		Table(table).
		Select("response_data").
		Where("cache_key = ?", fp.String()).
		Limit(1).
		Find(&row)
	if res.Error != nil {
		return nil, false, fmt.Errorf("select from %s failed: %w", table, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, false, nil
	}

	err := s.db.WithContext(ctx).
		Table(table).
		Where("cache_key = ?", fp.String()).
		Update("accessed_at", s.now()).Error
	if err != nil {
		return nil, false, fmt.Errorf("touch %s failed: %w", table, err)
	}

	return []byte(row.ResponseData), true, nil
}

// Put upserts on cache_key: the response is replaced and accessed_at bumped.
func (s *SQLStructuredStore) Put(ctx context.Context, partition string, entry StructuredEntry) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}
	table := TableName(partition)
	now := s.now()

	row := structuredRow{
		CacheKey:     entry.Fingerprint.String(),
		RequestData:  string(entry.Request),
		ResponseData: string(entry.Response),
		UserID:       entry.OwnerUserID,
		CreatedAt:    now,
		AccessedAt:   now,
	}

	err := s.db.WithContext(ctx).
		Table(table).
		Omit("id").
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "cache_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"response_data", "accessed_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert into %s failed: %w", table, err)
	}
	return nil
}

func (s *SQLStructuredStore) Clear(ctx context.Context, partition, ownerUserID string) error {
	table := TableName(partition)
	q := s.db.WithContext(ctx).Table(table)

	var res *gorm.DB
	if ownerUserID != "" {
		res = q.Where("user_id = ?", ownerUserID).Delete(&structuredRow{})
	} else {
		res = q.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&structuredRow{})
	}
	if res.Error != nil {
		return fmt.Errorf("clear %s failed: %w", table, res.Error)
	}
	return nil
}

// Record loads a full row without touching accessed_at.
func (s *SQLStructuredStore) Record(ctx context.Context, partition string, fp Fingerprint) (StructuredRecord, bool, error) {
	var row structuredRow
	res := s.db.WithContext(ctx).
		Table(TableName(partition)).
		Where("cache_key = ?", fp.String()).
		Limit(1).
		Find(&row)
	if res.Error != nil {
		return StructuredRecord{}, false, res.Error
	}
	if res.RowsAffected == 0 {
		return StructuredRecord{}, false, nil
	}
	return StructuredRecord{
		StructuredEntry: StructuredEntry{
			Fingerprint: Fingerprint(row.CacheKey),
			Request:     []byte(row.RequestData),
			Response:    []byte(row.ResponseData),
			OwnerUserID: row.UserID,
		},
		CreatedAt:  row.CreatedAt,
		AccessedAt: row.AccessedAt,
	}, true, nil
}

// Count returns the number of rows in a partition.
func (s *SQLStructuredStore) Count(ctx context.Context, partition string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Table(TableName(partition)).Count(&n).Error
	return n, err
}
