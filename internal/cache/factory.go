package cache

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/minio/minio-go/v7"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type DBConfig struct {
	Driver          string // "postgres" or "sqlite"
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// OpenDB opens the database that backs the structured store.
func OpenDB(cfg DBConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: postgres, sqlite)", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return db, nil
}

// NewStructuredStore picks the structured backend: "sql" or "memory".
func NewStructuredStore(backend string, db *gorm.DB) (StructuredStore, error) {
	switch backend {
	case "sql":
		if db == nil {
			return nil, fmt.Errorf("structured backend %q needs a database", backend)
		}
		return NewSQLStructuredStore(db), nil
	case "memory", "":
		return NewMemoryStructuredStore(), nil
	default:
		return nil, fmt.Errorf("unknown structured backend %q", backend)
	}
}

// NewBlobStore picks the blob backend: "minio", "redis" or "memory".
func NewBlobStore(backend string, minioClient *minio.Client, redisClient *redis.Client, prefix string) (BlobStore, error) {
	switch backend {
	case "minio":
		if minioClient == nil {
			return nil, fmt.Errorf("blob backend %q needs a minio client", backend)
		}
		return NewMinioBlobStore(minioClient), nil
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("blob backend %q needs a redis client", backend)
		}
		return NewRedisBlobStore(redisClient, RedisConfig{Prefix: prefix}), nil
	case "memory", "":
		return NewMemoryBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown blob backend %q", backend)
	}
}
