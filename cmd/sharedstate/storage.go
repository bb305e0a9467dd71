package main

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"

	"github.com/vango-dev/sharedstate/internal/config"
	"github.com/vango-dev/sharedstate/internal/errors"
	"github.com/vango-dev/sharedstate/pkg/persist"
)

// backend is an opened storage plus whatever must be released with it.
type backend struct {
	persist.Storage
	release func() error
}

// Close closes the storage and releases the client or database behind it.
func (b *backend) Close() error {
	err := b.Storage.Close()
	if b.release != nil {
		if rerr := b.release(); err == nil {
			err = rerr
		}
	}
	return err
}

// openStorage connects the backend selected by cfg.
func openStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error) {
	sc := cfg.Storage
	logger = logger.With("backend", sc.Backend)

	switch sc.Backend {
	case config.BackendMemory:
		logger.Info("storage ready")
		return &backend{Storage: persist.NewMemoryStorage()}, nil

	case config.BackendRedis:
		opts, err := redis.ParseURL(sc.Redis.URL)
		if err != nil {
			return nil, errors.New("C001").WithSubject("storage.redis.url").Wrap(err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, errors.New("P001").WithSubject(opts.Addr).Wrap(err)
		}

		ropts := []persist.RedisOption{persist.WithRedisPrefix(sc.Redis.Prefix)}
		if sc.Redis.Channel != "" {
			ropts = append(ropts, persist.WithRedisChannel(sc.Redis.Channel))
		}
		logger.Info("storage ready", "addr", opts.Addr, "db", opts.DB)
		return &backend{
			Storage: persist.NewRedisStorage(client, ropts...),
			release: client.Close,
		}, nil

	case config.BackendSQLite:
		db, err := sql.Open("sqlite3", sc.SQLite.Path)
		if err != nil {
			return nil, errors.New("P001").WithSubject(sc.SQLite.Path).Wrap(err)
		}
		store, err := persist.NewSQLStorage(ctx, db, persist.WithSQLTableName(sc.SQLite.Table))
		if err != nil {
			_ = db.Close()
			return nil, errors.New("P001").WithSubject(sc.SQLite.Path).Wrap(err)
		}
		logger.Info("storage ready", "path", sc.SQLite.Path, "table", sc.SQLite.Table)
		return &backend{Storage: store, release: db.Close}, nil

	case config.BackendS3:
		var loadOpts []func(*awsconfig.LoadOptions) error
		if sc.S3.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(sc.S3.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, errors.New("C001").WithSubject("storage.s3").Wrap(err)
		}
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if sc.S3.Endpoint != "" {
				o.BaseEndpoint = aws.String(sc.S3.Endpoint)
				o.UsePathStyle = true
			}
		})
		logger.Info("storage ready", "bucket", sc.S3.Bucket, "prefix", sc.S3.Prefix)
		return &backend{Storage: persist.NewS3Storage(client, sc.S3.Bucket, sc.S3.Prefix)}, nil
	}

	return nil, errors.New("C002").WithSubject(sc.Backend)
}
