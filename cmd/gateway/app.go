package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/minio/minio-go/v7"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"simmgate-aigateway/internal/auth"
	"simmgate-aigateway/internal/cache"
	"simmgate-aigateway/internal/config"
	"simmgate-aigateway/internal/dispatch"
	"simmgate-aigateway/internal/llm"
	"simmgate-aigateway/internal/plugin"
	"simmgate-aigateway/internal/plugin/chatgpt"
	"simmgate-aigateway/internal/plugin/chatterbox"
	"simmgate-aigateway/internal/plugin/flux"
	"simmgate-aigateway/internal/ratelimit"
	"simmgate-aigateway/pkg/logging/logging"
)

// app holds the process-wide dependencies built from the config.
type app struct {
	cfg    config.Config
	logger *zap.Logger

	db    *gorm.DB
	redis *redis.Client
	minio *minio.Client

	manager *cache.Manager
	// redisBlob is set when blobs live in Redis; /health pings through it.
	redisBlob *cache.RedisBlobStore
	closers   []func() error
}

func loadApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Options{
		Level:        cfg.Log.Level,
		Development:  cfg.Log.Development,
		Dir:          cfg.Log.Dir,
		RotationDays: cfg.Log.RotationDays,
	})
	if err != nil {
		return nil, err
	}
	logging.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger}
	if err := a.openStores(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) openStores() error {
	cfg := a.cfg

	if cfg.Cache.StructuredBackend == "sql" {
		db, err := cache.OpenDB(cache.DBConfig{
			Driver:          cfg.Database.Driver,
			DSN:             cfg.Database.URL,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return err
		}
		a.db = db
		a.closers = append(a.closers, func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		})
	}

	switch cfg.Cache.BlobBackend {
	case "redis":
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, a.redis.Close)
	case "minio":
		mc, err := cache.NewMinioClient(cache.MinioConfig{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Secure:    cfg.Minio.Secure,
			Region:    cfg.Minio.Region,
		})
		if err != nil {
			return err
		}
		a.minio = mc
	}

	structured, err := cache.NewStructuredStore(cfg.Cache.StructuredBackend, a.db)
	if err != nil {
		return err
	}
	blob, err := cache.NewBlobStore(cfg.Cache.BlobBackend, a.minio, a.redis, cfg.Cache.RedisPrefix)
	if err != nil {
		return err
	}
	if rs, ok := blob.(*cache.RedisBlobStore); ok {
		a.redisBlob = rs
	}
	a.manager = cache.NewManager(structured, blob, cfg.Cache.Enabled)

	a.logger.Info("cache stores ready",
		zap.Bool("enabled", cfg.Cache.Enabled),
		zap.String("structured_backend", cfg.Cache.StructuredBackend),
		zap.String("blob_backend", cfg.Cache.BlobBackend),
	)
	return nil
}

// adapters returns the names of the enabled adapters in a stable order.
func (a *app) adapters() []string {
	names := make([]string, 0, 3)
	for name := range a.cfg.RateLimits() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (a *app) newLimiter() *ratelimit.SlidingWindow {
	return ratelimit.NewSlidingWindow(10)
}

func (a *app) buildRegistry(limiter *ratelimit.SlidingWindow) (*plugin.Registry, error) {
	reg := plugin.NewRegistry()
	pc := a.cfg.Plugins

	if pc.ChatGPT.Enabled {
		client, err := llm.NewClient(llm.Config{
			BaseURL:         pc.ChatGPT.BaseURL,
			APIKey:          pc.ChatGPT.APIKey,
			UpstreamTimeout: pc.ChatGPT.Timeout,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		if closer, ok := client.(interface{ Close() error }); ok {
			a.closers = append(a.closers, closer.Close)
		}
		p, err := chatgpt.New(chatgpt.Config{
			Model:        pc.ChatGPT.Model,
			Timeout:      pc.ChatGPT.Timeout,
			RateLimit:    pc.ChatGPT.RateLimit,
			ContextsFile: pc.ChatGPT.ContextsFile,
		}, client, limiter, a.manager)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(p); err != nil {
			return nil, err
		}
	}

	if pc.Flux.Enabled {
		p, err := flux.New(flux.Config{
			BaseURL:   pc.Flux.BaseURL,
			Model:     pc.Flux.Model,
			Timeout:   pc.Flux.Timeout,
			RateLimit: pc.Flux.RateLimit,
		}, limiter, a.manager)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(p); err != nil {
			return nil, err
		}
	}

	if pc.Chatterbox.Enabled {
		p, err := chatterbox.New(chatterbox.Config{
			BaseURL:   pc.Chatterbox.BaseURL,
			Model:     pc.Chatterbox.Model,
			Timeout:   pc.Chatterbox.Timeout,
			RateLimit: pc.Chatterbox.RateLimit,
		}, limiter, a.manager)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(p); err != nil {
			return nil, err
		}
	}

	applyLimits(limiter, reg)
	a.logger.Info("plugins registered", zap.Strings("plugins", reg.Names()))
	return reg, nil
}

// applyLimits enforces the threshold each adapter advertises in /plugins.
func applyLimits(limiter *ratelimit.SlidingWindow, reg *plugin.Registry) {
	for _, p := range reg.List() {
		limiter.SetLimit(p.Name(), p.Describe().RateLimit)
	}
}

// checks are the shared dependencies reported by /health.
func (a *app) checks() map[string]dispatch.Check {
	out := make(map[string]dispatch.Check)
	if a.db != nil {
		db := a.db
		out["database"] = func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}
	}
	if a.redisBlob != nil {
		out["redis"] = a.redisBlob.Ping
	}
	if a.minio != nil {
		mc := a.minio
		out["minio"] = func(ctx context.Context) error {
			_, err := mc.ListBuckets(ctx)
			return err
		}
	}
	return out
}

func (a *app) verifier() (*auth.Verifier, error) {
	ac := a.cfg.Auth
	cfg := auth.Config{
		Algorithm: ac.Algorithm,
		Secret:    ac.Secret,
		Issuer:    ac.Issuer,
	}
	if ac.PublicKeyFile != "" {
		pem, err := os.ReadFile(ac.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read public key: %w", err)
		}
		cfg.PublicKey = string(pem)
	}
	return auth.NewVerifier(cfg)
}

func (a *app) close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("close dependencies", zap.Error(err))
	}
	_ = a.logger.Sync()
}
