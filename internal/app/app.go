// Package app wires configuration into a running prospector service.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/NofaBC/prospector-api/internal/api"
	"github.com/NofaBC/prospector-api/internal/clock/system"
	"github.com/NofaBC/prospector-api/internal/config"
	"github.com/NofaBC/prospector-api/internal/engine"
	"github.com/NofaBC/prospector-api/internal/enrich"
	"github.com/NofaBC/prospector-api/internal/export/gcs"
	"github.com/NofaBC/prospector-api/internal/geocode"
	"github.com/NofaBC/prospector-api/internal/id/uuid"
	"github.com/NofaBC/prospector-api/internal/metrics"
	"github.com/NofaBC/prospector-api/internal/notify"
	"github.com/NofaBC/prospector-api/internal/places"
	"github.com/NofaBC/prospector-api/internal/prospector"
	"github.com/NofaBC/prospector-api/internal/ratelimit"
	"github.com/NofaBC/prospector-api/internal/sheets"
	"github.com/NofaBC/prospector-api/internal/storage/memory"
	"github.com/NofaBC/prospector-api/internal/storage/postgres"
)

// App holds the assembled service and its cleanup hooks.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	server  *http.Server
	limiter *ratelimit.Limiter
	closers []func()
}

// New assembles the service from configuration: stores, provider
// clients, the engine, and the HTTP server.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	a := &App{cfg: cfg, logger: logger}

	jobs, prospects, err := a.buildStores(ctx)
	if err != nil {
		return nil, err
	}

	searchClient, err := places.New(places.Config{
		APIKey:  cfg.Google.APIKey,
		Timeout: cfg.SearchTimeout(),
	}, logger.Named("places"))
	if err != nil {
		return nil, fmt.Errorf("building places client: %w", err)
	}

	geocoder, err := geocode.New(geocode.Config{
		APIKey:  cfg.Google.APIKey,
		Timeout: cfg.SearchTimeout(),
	}, logger.Named("geocode"))
	if err != nil {
		return nil, fmt.Errorf("building geocode client: %w", err)
	}

	enricher := enrich.New(enrich.Config{
		UserAgent:    cfg.Enrich.UserAgent,
		Timeout:      cfg.EnrichTimeout(),
		MaxBodyBytes: cfg.Enrich.MaxBodyBytes,
		HostRPS:      cfg.Enrich.HostRPS,
	}, logger.Named("enrich"))

	sink, err := a.buildSink(ctx)
	if err != nil {
		return nil, err
	}

	notifier, err := a.buildNotifier(ctx)
	if err != nil {
		return nil, err
	}

	eng := engine.New(engine.Config{
		CallTimeout: cfg.SearchTimeout(),
	}, engine.Deps{
		Jobs:      jobs,
		Prospects: prospects,
		Geocoder:  geocoder,
		Search:    searchClient,
		Enricher:  enricher,
		Sink:      sink,
		Notifier:  notifier,
		Clock:     system.New(),
		IDs:       uuid.NewGenerator(),
		Retry:     prospector.NewRetryPolicy(),
		Logger:    logger.Named("engine"),
	})

	a.limiter = ratelimit.New(ratelimit.Config{
		MaxTokens: float64(cfg.RateLimit.Max),
		Window:    cfg.RateLimitWindow(),
	})

	srv := api.NewServer(api.Options{
		Service: eng,
		Limiter: a.limiter,
		Auth:    cfg.Auth,
		Search:  cfg.Search,
		Timeout: time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
		Logger:  logger.Named("api"),
	})

	a.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// Run serves HTTP until the context finishes, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	a.limiter.StartSweeper(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		a.close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err := a.server.Shutdown(shutdownCtx)
	a.close()
	if err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	a.logger.Info("server stopped")
	return nil
}

func (a *App) buildStores(ctx context.Context) (prospector.JobStore, prospector.ProspectStore, error) {
	switch a.cfg.Storage.Provider {
	case "memory":
		store := memory.NewStore()
		return store, store, nil
	case "postgres":
		store, err := postgres.NewStore(ctx, postgres.StoreConfig{
			DSN:      a.cfg.Storage.DSN,
			MaxConns: a.cfg.Storage.MaxConns,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("building postgres store: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("ensuring postgres schema: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage provider: %s", a.cfg.Storage.Provider)
	}
}

func (a *App) buildSink(ctx context.Context) (prospector.ExportSink, error) {
	switch a.cfg.Export.Provider {
	case "sheets":
		credentials, err := os.ReadFile(a.cfg.Google.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("reading service account credentials: %w", err)
		}
		client, err := sheets.New(ctx, sheets.Config{
			CredentialsJSON: credentials,
			Timeout:         a.cfg.SearchTimeout(),
		}, a.logger.Named("sheets"))
		if err != nil {
			return nil, fmt.Errorf("building sheets client: %w", err)
		}
		return client, nil
	case "gcs":
		sink, err := gcs.New(ctx, a.cfg.Export.GCSBucket, a.cfg.Export.GCSPrefix, a.logger.Named("gcs"))
		if err != nil {
			return nil, fmt.Errorf("building gcs sink: %w", err)
		}
		return sink, nil
	case "noop":
		return noopSink{}, nil
	default:
		return nil, fmt.Errorf("unknown export provider: %s", a.cfg.Export.Provider)
	}
}

func (a *App) buildNotifier(ctx context.Context) (prospector.Notifier, error) {
	switch a.cfg.Notify.Provider {
	case "webhook":
		return notify.NewWebhook(10*time.Second, a.logger.Named("notify")), nil
	case "pubsub":
		notifier, err := notify.NewPubSub(ctx, a.cfg.Google.ProjectID, a.cfg.Notify.PubSubTopic, a.logger.Named("notify"))
		if err != nil {
			return nil, fmt.Errorf("building pubsub notifier: %w", err)
		}
		a.closers = append(a.closers, func() { _ = notifier.Close() })
		return notifier, nil
	case "noop":
		return notify.Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown notify provider: %s", a.cfg.Notify.Provider)
	}
}

func (a *App) close() {
	for _, closer := range a.closers {
		closer()
	}
}

// noopSink discards exports; useful for local development without
// Google credentials.
type noopSink struct{}

func (noopSink) CreateSheet(context.Context, string) (string, string, error) {
	return "noop", "", nil
}

func (noopSink) AppendRows(context.Context, string, [][]string) error { return nil }

func (noopSink) MakePublic(context.Context, string) error { return nil }
