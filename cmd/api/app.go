package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/scanara/internal/api"
	"github.com/onnwee/scanara/internal/archive"
	"github.com/onnwee/scanara/internal/audit"
	"github.com/onnwee/scanara/internal/auth"
	"github.com/onnwee/scanara/internal/capture"
	"github.com/onnwee/scanara/internal/config"
	"github.com/onnwee/scanara/internal/engine"
	"github.com/onnwee/scanara/internal/github"
	"github.com/onnwee/scanara/internal/health"
	"github.com/onnwee/scanara/internal/lock"
	"github.com/onnwee/scanara/internal/middleware"
	"github.com/onnwee/scanara/internal/project"
	"github.com/onnwee/scanara/internal/snapshot"
	"github.com/onnwee/scanara/internal/store"
	"github.com/onnwee/scanara/internal/workspace"
)

const serviceName = "scanara-api"

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// repositories groups the persistence backends selected by DATABASE_URL.
type repositories struct {
	projects    project.Repository
	credentials project.CredentialRepository
	snapshots   snapshot.Repository
	audits      audit.Repository
	tokens      github.TokenStore
}

// app is the assembled server and the resources to release on shutdown.
type app struct {
	handler http.Handler
	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("failed to close resource", "error", err)
		}
	}
}

// buildApp wires every component from cfg. Background goroutines stop when
// ctx is cancelled.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{}
	checkers := map[string]api.HealthChecker{}

	repos, err := openRepositories(ctx, cfg, a, checkers)
	if err != nil {
		a.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics := middleware.NewMetrics()
	captureMetrics := capture.NewMetrics()
	auditMetrics := audit.NewMetrics()
	for _, m := range []interface{ Register(prometheus.Registerer) error }{httpMetrics, captureMetrics, auditMetrics} {
		if err := m.Register(reg); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	var (
		locker         lock.Locker = lock.NewKeyedMutex()
		rateLimitStore middleware.RateLimitStore
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		a.closers = append(a.closers, client.Close)
		locker = lock.NewRedisLocker(client)
		rateLimitStore = middleware.NewRedisRateLimitStore(client).WithMetrics(httpMetrics)
		checkers["redis"] = health.NewRedisChecker(client)
		logger.Info("using redis for project locks and rate limiting")
	} else {
		mem := middleware.NewInMemoryRateLimitStore()
		go mem.RunCleanup(ctx, time.Minute)
		rateLimitStore = mem
	}

	registry := project.NewRegistry(repos.projects, repos.credentials, project.WithLocker(locker))
	jwtService := auth.NewJWTServiceWithRotation(cfg.JWTSecret, cfg.JWTPreviousSecret)
	gate := auth.NewGate(jwtService, registry)

	engineClient := engine.NewClient(engine.Config{
		URL:              cfg.EngineURL,
		APIKey:           cfg.EngineAPIKey,
		Model:            cfg.EngineModel,
		MaxTokens:        cfg.EngineMaxTokens,
		Timeout:          time.Duration(cfg.EngineTimeoutSeconds) * time.Second,
		MaxResponseBytes: int64(cfg.EngineMaxResponseBytes),
		JSONMode:         cfg.EngineJSONMode,
	}, engine.WithLogger(logger))
	checkers["engine"] = health.NewEngineChecker(cfg.EngineURL, cfg.EngineAPIKey, nil)

	auditOpts := []audit.Option{audit.WithMetrics(auditMetrics)}
	if cfg.ArchiveEnabled() {
		archiver, err := archive.NewS3Archiver(archive.Config{
			BucketName:      cfg.ArchiveBucket,
			AccessKeyID:     cfg.ArchiveAccessKeyID,
			SecretAccessKey: cfg.ArchiveSecretAccessKey,
			Endpoint:        cfg.ArchiveEndpoint,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create archiver: %w", err)
		}
		auditOpts = append(auditOpts, audit.WithArchiver(archiver))
		logger.Info("archiving raw engine responses", "bucket", cfg.ArchiveBucket)
	}

	captures := capture.NewService(registry, repos.snapshots, locker, captureMetrics)
	orchestrator := audit.NewOrchestrator(registry, repos.snapshots, repos.audits, engineClient, locker, auditOpts...)

	deps := api.Deps{
		Gate:     gate,
		Projects: registry,
		Uploads:  captures,
		Inline:   captures,
		Audits:   orchestrator,
		Health:   api.NewHealthHandlers(version, checkers),
		Metrics:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
	}

	if cfg.GitHubEnabled() {
		gh := github.NewService(github.Config{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			RedirectURL:  cfg.GitHubRedirectURL,
			FrontendURL:  cfg.FrontendURL,
		}, cfg.JWTSecret, repos.tokens, registry)

		workspaces := workspace.NewManager(cfg.WorkspaceDir,
			workspace.WithRetryPolicy(workspace.RetryPolicy{
				Attempts: cfg.CleanupRetries,
				Backoff:  time.Duration(cfg.CleanupBackoffMS) * time.Millisecond,
			}),
			workspace.WithFailureHook(captureMetrics.IncCleanupFailure),
		)
		cloner := capture.NewGitCloner(time.Duration(cfg.CloneTimeoutSeconds) * time.Second)

		deps.GitHub = gh
		deps.Repos = capture.NewRepoChannel(captures, gh, workspaces, cloner, capture.NewWalker(cfg.WalkExcludeGlobs...), github.Host)
		logger.Info("github integration enabled")
	}

	var handler http.Handler = api.NewRouter(deps)
	handler = middleware.RateLimiter(rateLimitStore, middleware.PerMinute(cfg.RateLimitPerMinute), middleware.ClientKey, httpMetrics)(handler)
	handler = middleware.CORS(middleware.DefaultCORSConfig(cfg.CORSAllowedOrigins))(handler)
	handler = middleware.HTTPMetrics(httpMetrics)(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.Tracing(serviceName)(handler)
	a.handler = middleware.RequestID(handler)
	return a, nil
}

// openRepositories selects SQL repositories when DATABASE_URL is set and
// in-memory ones otherwise.
func openRepositories(ctx context.Context, cfg *config.Config, a *app, checkers map[string]api.HealthChecker) (*repositories, error) {
	if cfg.DatabaseURL == "" {
		slog.Warn("DATABASE_URL not set, using in-memory repositories")
		return &repositories{
			projects:    project.NewInMemoryRepository(),
			credentials: project.NewInMemoryCredentialRepository(),
			snapshots:   snapshot.NewInMemoryRepository(),
			audits:      audit.NewInMemoryRepository(),
			tokens:      github.NewInMemoryTokenStore(),
		}, nil
	}

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	if err := db.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	checkers["database"] = health.NewDBChecker(db)
	slog.Info("connected to database", "dialect", db.Dialect())

	return &repositories{
		projects:    store.NewProjectRepository(db),
		credentials: store.NewCredentialRepository(db),
		snapshots:   store.NewSnapshotRepository(db),
		audits:      store.NewAuditRepository(db),
		tokens:      store.NewTokenRepository(db),
	}, nil
}
