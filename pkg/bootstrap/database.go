package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"erpmigrate/internal/config"
	"erpmigrate/internal/constants"
	"erpmigrate/internal/logger"
	"erpmigrate/internal/store"
	"erpmigrate/pkg/migrations"
)

// Stores holds the service's optional backing stores. A nil field means the store
// is not configured or was unreachable at startup, and callers use the in-process
// fallback instead.
type Stores struct {
	Redis   *redis.Client
	Mongo   *mongo.Client
	LN      *sql.DB
	Results *store.ResultCache
	Runs    *store.RunRepository
}

// OpenStores connects every configured store. Unreachable stores are logged and
// skipped; only a failure to prepare a reachable store is returned.
func OpenStores(ctx context.Context, cfg config.DatabaseConfig, log logger.Logger) (*Stores, error) {
	s := &Stores{}

	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			log.WarnwCtx(ctx, "Redis unreachable, extraction results stay in memory", "error", err)
		} else {
			s.Redis = rdb
			s.Results = store.NewResultCache(rdb, cfg.Redis.TTL(), log)
		}
	}

	if cfg.MongoDB.Enabled() {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoDB.URI))
		if err == nil {
			if err = client.Ping(ctx, nil); err != nil {
				_ = client.Disconnect(ctx)
			}
		}
		if err != nil {
			log.WarnwCtx(ctx, "MongoDB unreachable, run reports stay in memory", "error", err)
		} else {
			s.Mongo = client
			name := cfg.MongoDB.Database
			if name == "" {
				name = constants.DefaultMongoDBName
			}
			db := client.Database(name)
			if err := migrations.EnsureMongoCollections(ctx, db); err != nil {
				return s, err
			}
			s.Runs = store.NewRunRepository(db)
		}
	}

	// LN profiles open their own pools; this handle backs the health check.
	if cfg.Postgres.Enabled() {
		db, err := sql.Open("postgres", cfg.Postgres.DSN())
		if err == nil {
			if err = db.PingContext(ctx); err != nil {
				_ = db.Close()
			}
		}
		if err != nil {
			log.WarnwCtx(ctx, "LN database unreachable, direct table reads will fail", "error", err)
		} else {
			s.LN = db
		}
	}

	return s, nil
}

// Close releases every open store and returns the errors it met.
func (s *Stores) Close(ctx context.Context) []error {
	var errs []error
	if s == nil {
		return errs
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}
	if s.LN != nil {
		if err := s.LN.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres close error: %w", err))
		}
	}
	if s.Mongo != nil {
		if err := s.Mongo.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mongodb disconnect error: %w", err))
		}
	}
	return errs
}
