package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/field-capture/internal/config"
	"github.com/kirillkom/field-capture/internal/core/ports"
	"github.com/kirillkom/field-capture/internal/core/usecase"
	"github.com/kirillkom/field-capture/internal/infrastructure/auth"
	"github.com/kirillkom/field-capture/internal/infrastructure/connectivity"
	"github.com/kirillkom/field-capture/internal/infrastructure/imaging"
	"github.com/kirillkom/field-capture/internal/infrastructure/llm/gateway"
	"github.com/kirillkom/field-capture/internal/infrastructure/queue/nats"
	"github.com/kirillkom/field-capture/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/field-capture/internal/infrastructure/resilience"
	"github.com/kirillkom/field-capture/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/field-capture/internal/infrastructure/storage/s3"
	"github.com/kirillkom/field-capture/internal/infrastructure/storage/sqlite"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Drafts       *sqlite.DraftStore
	Queue        *sqlite.OfflineQueue
	Storage      ports.ObjectStorage
	LocalMedia   *localfs.Storage
	Repo         *postgres.MediaRepository
	Bus          *nats.Bus
	Gateway      *gateway.Client
	Compressor   *imaging.Compressor
	Connectivity *connectivity.Probe
	MediaSync    *usecase.MediaSyncUseCase

	closers []func()
}

// New opens every collaborator shared by the api and the worker. syncObserver
// may be nil.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, syncObserver usecase.SyncObserver) (_ *App, err error) {
	app := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	executor := resilience.NewExecutor(resilience.DefaultConfig(), logger)

	localDB, err := sqlite.Open(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	app.onClose(func() { _ = localDB.Close() })
	app.Drafts = sqlite.NewDraftStore(localDB)
	app.Queue = sqlite.NewOfflineQueue(localDB)

	if err := app.openStorage(ctx, executor); err != nil {
		return nil, err
	}

	remoteDB, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	app.onClose(func() { _ = remoteDB.Close() })
	app.Repo = postgres.NewMediaRepository(remoteDB)
	if err := app.Repo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	app.Bus, err = nats.New(cfg.NATSURL, nats.Options{
		SyncedSubject:      cfg.NATSSyncedSubject,
		RequestSubject:     cfg.NATSRequestSubject,
		ResilienceExecutor: executor,
		Logger:             logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init message bus: %w", err)
	}
	app.onClose(app.Bus.Close)

	app.Gateway = gateway.New(gateway.Options{
		BaseURL:     cfg.GatewayURL,
		APIKey:      cfg.GatewayAPIKey,
		HTTPTimeout: cfg.GatewayTimeout,
		LabelRate:   cfg.LabelRateRPS,
		LabelBurst:  cfg.LabelRateBurst,
	}, executor, logger)
	app.Compressor = imaging.NewCompressor(cfg.JPEGQuality)
	app.Connectivity = connectivity.NewProbe(connectivity.Options{
		HealthURL:    strings.TrimRight(cfg.GatewayURL, "/") + cfg.GatewayHealthPath,
		Timeout:      cfg.ConnectivityTimeout,
		TTL:          cfg.ConnectivityTTL,
		ForceOffline: cfg.ForceOffline,
		Logger:       logger,
	})

	app.MediaSync = usecase.NewMediaSyncUseCase(
		app.Storage,
		app.Repo,
		app.Bus,
		app.Queue,
		syncObserver,
		logger,
		cfg.WorkerBatchSize,
	)
	return app, nil
}

func (a *App) openStorage(ctx context.Context, executor *resilience.Executor) error {
	cfg := a.Config
	switch strings.ToLower(cfg.StorageBackend) {
	case "s3":
		store, err := s3.New(ctx, s3.Options{
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			Bucket:       cfg.S3Bucket,
			UsePathStyle: cfg.S3UsePathStyle,
		}, executor)
		if err != nil {
			return fmt.Errorf("init s3 storage: %w", err)
		}
		a.Storage = store
	case "localfs", "":
		key := []byte(cfg.StorageSigningKey)
		if len(key) == 0 && cfg.JWTSecret != "" {
			key = localfs.DeriveSigningKey(cfg.JWTSecret)
		}
		store, err := localfs.New(cfg.StoragePath, cfg.StoragePublicURL, key)
		if err != nil {
			return fmt.Errorf("init local storage: %w", err)
		}
		a.Storage = store
		a.LocalMedia = store
	default:
		return fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
	return nil
}

// SessionRegistry builds the per-user capture session registry used by the api.
func (a *App) SessionRegistry(observer usecase.PipelineObserver) *usecase.SessionRegistry {
	cfg := a.Config
	reportLimits := usecase.ReportLimits{
		AIPhotoCap:     cfg.AIPhotoCap,
		AIImageMaxDim:  cfg.AIImageMaxDim,
		SettleWait:     cfg.SettleWait,
		SettlePoll:     cfg.SettlePoll,
		SummaryTimeout: cfg.SummaryTimeout,
		SignedURLTTL:   cfg.SignedURLTTL,
	}
	captureLimits := usecase.CaptureLimits{
		AIPhotoCap:       cfg.AIPhotoCap,
		DraftQuietPeriod: cfg.DraftQuietPeriod,
		LabelTimeout:     cfg.LabelTimeout,
		LabelImageMaxDim: cfg.AIImageMaxDim,
	}

	deps := usecase.SessionDeps{
		Drafts:       a.Drafts,
		Queue:        a.Queue,
		Labeler:      gateway.NewLabeler(a.Gateway),
		Transcriber:  gateway.NewTranscriber(a.Gateway),
		Compressor:   a.Compressor,
		Thumbnails:   usecase.NewThumbnailUploader(a.Storage, a.Compressor, cfg.AIImageMaxDim, observer, a.Logger),
		Reports:      usecase.NewReportGenerator(a.Storage, gateway.NewSummaryService(a.Gateway), a.Compressor, reportLimits, observer, a.Logger),
		Handoff:      a.MediaSync,
		Identity:     auth.ContextIdentity{},
		Connectivity: a.Connectivity,
		Observer:     observer,
		Logger:       a.Logger,
	}
	return usecase.NewSessionRegistry(deps, captureLimits)
}

// Tokens returns the bearer token verifier. The api refuses to start without a secret.
func (a *App) Tokens() (*auth.Tokens, error) {
	if a.Config.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	return auth.NewTokens(a.Config.JWTSecret, a.Config.JWTIssuer)
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases collaborators in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

