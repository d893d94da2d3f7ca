// Package daemon composes the panel's components into the running
// process: lock, storage, device registry, retention, HTTP API.
package daemon

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/wapanel/wapanel/internal/bus"
	"github.com/wapanel/wapanel/internal/config"
	"github.com/wapanel/wapanel/internal/device"
	"github.com/wapanel/wapanel/internal/lock"
	"github.com/wapanel/wapanel/internal/logging"
	"github.com/wapanel/wapanel/internal/retention"
	"github.com/wapanel/wapanel/internal/store"
	"github.com/wapanel/wapanel/internal/wa"
)

// Module returns the fx module for the panel daemon, composing all
// providers and lifecycle hooks.
func Module(cfg *config.Config) fx.Option {
	return fx.Module("daemon",
		fx.Supply(cfg),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideDB,
			provideRegistry,
			provideRetention,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.LogPath())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	l, err := lock.Acquire(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("data directory locked", zap.String("dir", cfg.DataDir))
	return l, nil
}

// provideDB opens the panel database in sqlite storage mode; in log mode
// the handle stays nil and each device owns its own files.
func provideDB(cfg *config.Config, logger *zap.Logger) (*store.DB, error) {
	if cfg.Storage != config.StorageSQLite {
		return nil, nil
	}
	db, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	return db, nil
}

func provideRegistry(cfg *config.Config, db *store.DB, b *bus.Bus, logger *zap.Logger) (*device.Registry, error) {
	return device.NewRegistry(device.Options{
		Bus:       b,
		Logger:    logger,
		DataDir:   cfg.DataDir,
		Retention: cfg.Retention(),
		Storage:   cfg.Storage,
		DB:        db,
		Connect: func(ctx context.Context, id string) (device.Connector, error) {
			return wa.NewAdapter(ctx, cfg.SessionDBPath(id), cfg.MediaDir(id),
				logger.Named("wa").With(zap.String("device", id)))
		},
	})
}

func provideRetention(cfg *config.Config, reg *device.Registry, logger *zap.Logger) *retention.Manager {
	targets := func() []retention.Target {
		devs := reg.List()
		out := make([]retention.Target, len(devs))
		for i, d := range devs {
			out[i] = d
		}
		return out
	}
	return retention.NewManager(targets, cfg.SweepInterval(), logger.Named("retention"))
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, reg *device.Registry, mgr *retention.Manager, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Restoring devices dials the network; do not hold up boot.
			go func() {
				if err := reg.Restore(context.Background()); err != nil {
					logger.Error("restore devices", zap.Error(err))
				}
			}()

			mgr.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			mgr.Stop()
			srv.Stop(ctx)
			reg.StopAll()
			if db != nil {
				_ = db.Close()
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
