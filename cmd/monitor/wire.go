package main

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/web-monitor/internal/analysis/gemini"
	"github.com/JakeFAU/web-monitor/internal/api"
	"github.com/JakeFAU/web-monitor/internal/config"
	"github.com/JakeFAU/web-monitor/internal/index/es"
	"github.com/JakeFAU/web-monitor/internal/monitor"
	"github.com/JakeFAU/web-monitor/internal/orchestrator"
	pubsubpublisher "github.com/JakeFAU/web-monitor/internal/publisher/pubsub"
	"github.com/JakeFAU/web-monitor/internal/search/dataforseo"
	"github.com/JakeFAU/web-monitor/internal/search/gnews"
	gcsstorage "github.com/JakeFAU/web-monitor/internal/storage/gcs"
	localstorage "github.com/JakeFAU/web-monitor/internal/storage/local"
	"github.com/JakeFAU/web-monitor/internal/storage/memory"
	"github.com/JakeFAU/web-monitor/internal/storage/postgres"
	"github.com/JakeFAU/web-monitor/internal/taskqueue"
)

// wiring owns the long-lived clients and releases them in reverse order.
type wiring struct {
	store   monitor.Store
	pinger  api.Pinger
	pubsub  *pubsub.Client
	closers []func() error
}

func newWiring(ctx context.Context, cfg config.Config, logger *zap.Logger) (*wiring, error) {
	w := &wiring{}
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		pg, err := postgres.New(ctx, postgres.Config{
			DSN:      cfg.Database.URL,
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("init postgres: %w", err)
		}
		if cfg.Database.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				pg.Close()
				return nil, fmt.Errorf("migrate postgres: %w", err)
			}
			logger.Info("database schema applied")
		}
		w.store = pg
		w.pinger = pg
	default:
		logger.Warn("using in-memory store, data is lost on restart")
		w.store = memory.NewStore()
	}
	w.closers = append(w.closers, func() error {
		w.store.Close()
		return nil
	})

	if cfg.NeedsPubSub() {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			w.close(logger)
			return nil, fmt.Errorf("init pubsub client: %w", err)
		}
		w.pubsub = client
		w.closers = append(w.closers, client.Close)
	}
	return w, nil
}

func (w *wiring) buildBroker(ctx context.Context, cfg config.Config, logger *zap.Logger) (taskqueue.Broker, error) {
	if cfg.Tasks.Broker != config.BrokerPubSub {
		broker := taskqueue.NewMemoryBroker(cfg.Tasks.QueueCapacity)
		w.closers = append(w.closers, broker.Close)
		return broker, nil
	}
	topic := w.pubsub.Topic(cfg.PubSub.TaskTopic)
	sub := w.pubsub.Subscription(cfg.PubSub.TaskSubscription)
	ok, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check task subscription: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("task subscription %q does not exist", cfg.PubSub.TaskSubscription)
	}
	broker := taskqueue.NewPubSubBroker(topic, sub, taskqueue.PubSubConfig{
		MaxOutstanding: cfg.PubSub.MaxOutstanding,
		MaxExtension:   cfg.PubSub.MaxExtension,
	}, logger)
	w.closers = append(w.closers, broker.Close)
	return broker, nil
}

// attachSidecars fills the optional orchestrator collaborators.
func (w *wiring) attachSidecars(ctx context.Context, cfg config.Config, deps *orchestrator.Deps, logger *zap.Logger) error {
	switch cfg.Storage.Backend {
	case config.ArchiveMemory:
		deps.Archive = memory.NewBlobStore()
	case config.ArchiveLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			return fmt.Errorf("init local archive: %w", err)
		}
		deps.Archive = store
	case config.ArchiveGCS:
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		w.closers = append(w.closers, client.Close)
		store, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket: cfg.Storage.GCSBucket,
			Prefix: cfg.Storage.Prefix,
		})
		if err != nil {
			return fmt.Errorf("init gcs archive: %w", err)
		}
		deps.Archive = store
	}

	if cfg.PubSub.EventsTopic != "" {
		pub := pubsubpublisher.New(w.pubsub)
		w.closers = append(w.closers, func() error {
			pub.Close()
			return nil
		})
		deps.Events = pub
	}

	if cfg.Index.Enabled {
		client, err := es.NewClient(es.Config{
			Addresses: cfg.Index.Addresses,
			Index:     cfg.Index.Name,
			Username:  cfg.Index.Username,
			Password:  cfg.Index.Password,
		})
		if err != nil {
			return fmt.Errorf("init elasticsearch client: %w", err)
		}
		indexer, err := es.New(client, cfg.Index.Name, logger)
		if err != nil {
			return fmt.Errorf("init indexer: %w", err)
		}
		if err := indexer.EnsureIndex(ctx); err != nil {
			return fmt.Errorf("ensure index: %w", err)
		}
		deps.Index = indexer
	}
	return nil
}

func (w *wiring) close(logger *zap.Logger) {
	for i := len(w.closers) - 1; i >= 0; i-- {
		if err := w.closers[i](); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}
}

func buildSearch(cfg config.Config, clock monitor.Clock) (monitor.SearchProvider, error) {
	switch cfg.Search.Provider {
	case config.ProviderGNews:
		opts := []gnews.Option{gnews.WithClock(clock)}
		if cfg.Search.GNews.BaseURL != "" {
			opts = append(opts, gnews.WithBaseURL(cfg.Search.GNews.BaseURL))
		}
		return gnews.New(opts...), nil
	default:
		opts := []dataforseo.Option{dataforseo.WithClock(clock)}
		if cfg.Search.DataForSEO.BaseURL != "" {
			opts = append(opts, dataforseo.WithBaseURL(cfg.Search.DataForSEO.BaseURL))
		}
		if cfg.Search.DataForSEO.CostPerCall > 0 {
			opts = append(opts, dataforseo.WithCostPerCall(cfg.Search.DataForSEO.CostPerCall))
		}
		client, err := dataforseo.New(cfg.Search.DataForSEO.Login, cfg.Search.DataForSEO.Password, opts...)
		if err != nil {
			return nil, fmt.Errorf("init dataforseo: %w", err)
		}
		return client, nil
	}
}

func buildAnalysis(ctx context.Context, cfg config.Config) (monitor.AnalysisProvider, error) {
	var opts []gemini.Option
	if cfg.Analysis.Gemini.Model != "" {
		opts = append(opts, gemini.WithModel(cfg.Analysis.Gemini.Model))
	}
	if cfg.Analysis.Gemini.BaseURL != "" {
		opts = append(opts, gemini.WithBaseURL(cfg.Analysis.Gemini.BaseURL))
	}
	client, err := gemini.New(ctx, cfg.Analysis.Gemini.APIKey, opts...)
	if err != nil {
		return nil, fmt.Errorf("init gemini: %w", err)
	}
	return client, nil
}
