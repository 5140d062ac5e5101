// Package app assembles the runtime shared by the CLI commands: config,
// logger, database, event bus, engine and webhook delivery.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pfmt/internal/config"
	"pfmt/internal/db"
	"pfmt/internal/engine"
	"pfmt/internal/events"
	"pfmt/internal/logging"
	"pfmt/internal/metrics"
	"pfmt/internal/migrate"
	"pfmt/internal/webhook"
)

// Settings are the process-level knobs, usually bound from flags and
// PFMT_* environment variables.
type Settings struct {
	Workspace   string
	ConfigPath  string
	DBDriver    string
	DatabaseURL string
	LogLevel    string
	LogFormat   string
	// SkipMigrate leaves the schema untouched on open.
	SkipMigrate bool
	MaxRetries  int
	Logger      *zap.Logger
}

type Runtime struct {
	Config   *config.Config
	Log      *zap.Logger
	Gateway  *db.Gateway
	Bus      *events.Bus
	Metrics  *metrics.Metrics
	Engine   engine.Engine
	Webhooks *webhook.Dispatcher
}

// LoadConfig reads an explicit config file when one is given and the
// workspace pfmt.yml otherwise.
func LoadConfig(s Settings) (*config.Config, error) {
	if s.ConfigPath != "" {
		return config.FromFile(s.ConfigPath)
	}
	return config.Load(s.Workspace)
}

func Open(ctx context.Context, s Settings) (*Runtime, error) {
	cfg, err := LoadConfig(s)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := s.Logger
	if log == nil {
		log, err = logging.New(s.LogLevel, s.LogFormat)
		if err != nil {
			return nil, err
		}
	}
	g, err := db.Open(ctx, db.Config{
		Driver:     s.DBDriver,
		Workspace:  s.Workspace,
		URL:        s.DatabaseURL,
		Logger:     log,
		MaxRetries: s.MaxRetries,
	})
	if err != nil {
		return nil, err
	}
	if !s.SkipMigrate {
		if err := migrate.Migrate(ctx, g); err != nil {
			g.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	m := metrics.New()
	bus := events.NewBus(events.LogSubscriber(log), m.Subscriber())
	e, err := engine.New(g, cfg, bus, log)
	if err != nil {
		g.Close()
		return nil, err
	}
	return &Runtime{
		Config:   cfg,
		Log:      log,
		Gateway:  g,
		Bus:      bus,
		Metrics:  m,
		Engine:   e,
		Webhooks: webhook.New(e.Repo, cfg.Webhooks, log.Named("webhook")),
	}, nil
}

// Close releases the database and flushes the logger.
func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	if r.Gateway != nil {
		errs = append(errs, r.Gateway.Close())
	}
	if r.Log != nil {
		_ = r.Log.Sync()
	}
	return errors.Join(errs...)
}

// StartWebhooks runs webhook delivery until ctx is done. The returned
// channel closes once the dispatcher has stopped.
func (r *Runtime) StartWebhooks(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	if interval > 0 {
		r.Webhooks.Interval = interval
	}
	go func() {
		defer close(done)
		r.Webhooks.Run(ctx)
	}()
	return done
}
