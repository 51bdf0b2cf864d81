package app

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/modmon/internal/data/db"
	"github.com/yungbote/modmon/internal/data/repos"
	"github.com/yungbote/modmon/internal/modules/process"
	"github.com/yungbote/modmon/internal/modules/storage"
	"github.com/yungbote/modmon/internal/observability"
	apperr "github.com/yungbote/modmon/internal/pkg/errors"
	"github.com/yungbote/modmon/internal/platform/gcp"
	"github.com/yungbote/modmon/internal/platform/logger"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Cfg      *Config
	Repos    *repos.Set
	Services Services
	Mirror   gcp.BucketService

	shutdownTracing func(context.Context) error
}

type Options struct {
	// Version is reported in trace resources.
	Version string
	// Logger replaces the one built from cfg.Log.Mode.
	Logger *logger.Logger
	// Executor replaces real process execution.
	Executor process.Executor
	// Migrate forces schema migration regardless of database.auto_migrate.
	Migrate bool
	// OptionalStore continues without a database when it cannot be opened.
	// Only commands that never touch the store set it.
	OptionalStore bool
}

func New(ctx context.Context, cfg *Config, opts Options) (*App, error) {
	log := opts.Logger
	if log == nil {
		var err error
		if log, err = logger.New(cfg.Log.Mode); err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
	}

	shutdown := observability.InitOTel(ctx, log, cfg.Tracing.Otel(opts.Version))

	theDB, err := db.Open(cfg.Database.DB(), log)
	if err != nil {
		if !opts.OptionalStore {
			log.Sync()
			_ = shutdown(ctx)
			return nil, fmt.Errorf("%w: open database: %v", apperr.ErrStore, err)
		}
		log.Warn("database unavailable, continuing without store", "error", err)
		theDB = nil
	}
	closeDB := func() {
		if theDB == nil {
			return
		}
		if sqlDB, err := theDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if theDB != nil && (cfg.Database.AutoMigrate || opts.Migrate) {
		if err := db.AutoMigrateAll(theDB); err != nil {
			closeDB()
			log.Sync()
			_ = shutdown(ctx)
			return nil, fmt.Errorf("%w: %v", apperr.ErrStore, err)
		}
	}

	bucket, err := resolveMirror(ctx, log, cfg.Storage.Mirror)
	if err != nil {
		closeDB()
		log.Sync()
		_ = shutdown(ctx)
		return nil, err
	}
	var mirror storage.Mirror
	if bucket != nil {
		mirror = bucket
	}

	reposet := repos.NewSet(theDB, log)
	services := wireServices(theDB, log, cfg, reposet, mirror, opts.Executor)

	return &App{
		Log:             log,
		DB:              theDB,
		Cfg:             cfg,
		Repos:           reposet,
		Services:        services,
		Mirror:          bucket,
		shutdownTracing: shutdown,
	}, nil
}

// Close flushes traces and releases the database and mirror clients.
func (a *App) Close(ctx context.Context) {
	if a == nil {
		return
	}
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			a.Log.Warn("trace shutdown failed", "error", err)
		}
	}
	if a.Mirror != nil {
		if err := a.Mirror.Close(); err != nil {
			a.Log.Warn("storage mirror close failed", "error", err)
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
