package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/orgsite/orgsite/internal/access"
	"github.com/orgsite/orgsite/internal/app"
	"github.com/orgsite/orgsite/internal/audit"
	audithttp "github.com/orgsite/orgsite/internal/audit/http"
	"github.com/orgsite/orgsite/internal/authority"
	"github.com/orgsite/orgsite/internal/content"
	"github.com/orgsite/orgsite/internal/identity"
	"github.com/orgsite/orgsite/internal/observability"
	"github.com/orgsite/orgsite/internal/platform/cache"
	"github.com/orgsite/orgsite/internal/platform/db"
	"github.com/orgsite/orgsite/internal/rolestore"
	"github.com/orgsite/orgsite/internal/shared"
	"github.com/orgsite/orgsite/internal/view"
	"github.com/orgsite/orgsite/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := &cobra.Command{
		Use:           "orgsite",
		Short:         "Organization website with role-gated admin console.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP server",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return serve(cmd.Context())
			},
		},
		newMigrateCommand(),
		newRolesCommand(),
		newJobsCommand(),
	)

	if err := root.ExecuteContext(ctx); err != nil {
		var exit exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// deps holds connections shared by the subcommands.
type deps struct {
	cfg    *app.Config
	logger *slog.Logger
	pool   *pgxpool.Pool
	redis  *redis.Client
}

func connect(ctx context.Context) (*deps, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &deps{cfg: cfg, logger: logger, pool: pool, redis: redisClient}, nil
}

func (d *deps) close() {
	if err := d.redis.Close(); err != nil {
		d.logger.Warn("redis close", slog.Any("error", err))
	}
	d.pool.Close()
}

func (d *deps) redisOpts() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: d.cfg.RedisAddr, Password: d.cfg.RedisPassword, DB: d.cfg.RedisDB}
}

// resolver builds the lookup chain: configured partitions, then the remote
// authority when one is configured.
func (d *deps) resolver(observer access.ResolutionObserver) ([]rolestore.Partition, *access.Resolver, *authority.Issuer, error) {
	parts, err := rolestore.Open(d.cfg.RoleStoreBackend, d.cfg.Partitions(), d.redis, d.pool)
	if err != nil {
		return nil, nil, nil, err
	}
	issuer, err := authority.NewIssuer(d.cfg.AuthoritySecret, d.cfg.AuthorityAssertionTTL)
	if err != nil {
		return nil, nil, nil, err
	}
	sources := rolestore.Sources(parts)
	if d.cfg.AuthorityURL != "" {
		sources = append(sources, authority.NewClient(d.cfg.AuthorityURL, issuer, nil))
	}
	resolver := access.NewResolver(access.ResolverConfig{
		Sources:  sources,
		Timeout:  d.cfg.RoleResolveTimeout,
		Logger:   d.logger,
		Observer: observer,
	})
	return parts, resolver, issuer, nil
}

func serve(ctx context.Context) error {
	d, err := connect(ctx)
	if err != nil {
		return err
	}
	defer d.close()
	cfg, logger := d.cfg, d.logger

	metrics := observability.NewMetrics()
	_, resolver, issuer, err := d.resolver(metrics)
	if err != nil {
		return fmt.Errorf("init role resolver: %w", err)
	}
	registry := access.NewRegistry(access.RegistryConfig{
		Context:  ctx,
		Resolver: resolver,
		Logger:   logger,
		Observer: metrics,
		Size:     cfg.SessionRegistrySize,
		TTL:      cfg.SessionRegistryTTL,
	})
	metrics.TrackSessions(registry.Len)

	templates, err := view.NewEngine()
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}
	auditLogger := shared.NewAuditLogger(d.pool, logger)
	gate := access.Gate{
		Registry:  registry,
		Responder: view.AccessResponder{Engine: templates, Logger: logger},
		Logger:    logger,
		Audit:     auditLogger,
	}
	sessionManager := shared.NewSessionManager(d.redis, cfg.SessionCookie, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	jobClient, err := jobs.NewClient(d.redisOpts())
	if err != nil {
		return fmt.Errorf("init job client: %w", err)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(d.redisOpts())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	contentService := content.NewService(content.NewPGRepository(d.pool), auditLogger, jobClient, logger)
	contentHandler := content.NewHandler(logger, contentService, templates, csrfManager, gate)
	auditHandler := audithttp.NewHandler(logger, audit.NewService(audit.NewPGRepository(d.pool)), templates, csrfManager, gate)

	// The authority answers from PostgreSQL only, whatever backend the site reads.
	authorityParts, err := rolestore.Open(rolestore.BackendPostgres, cfg.Partitions(), nil, d.pool)
	if err != nil {
		return fmt.Errorf("init authority partitions: %w", err)
	}
	authorityHandler := authority.NewHandler(logger, issuer, rolestore.Sources(authorityParts))

	var identityHandler *identity.Handler
	if cfg.OIDCEnabled() {
		provider, err := identity.NewOIDCProvider(ctx, identity.OIDCConfig{
			IssuerURL:    cfg.OIDCIssuerURL,
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			RedirectURL:  cfg.OIDCRedirectURL,
			Scopes:       cfg.OIDCScopes,
		})
		if err != nil {
			return fmt.Errorf("init identity provider: %w", err)
		}
		identityHandler = identity.NewHandler(logger, provider, sessionManager, registry, auditLogger)
	} else {
		logger.Warn("OIDC_ISSUER_URL not set, sign-in is disabled")
	}

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		SessionManager:   sessionManager,
		CSRFManager:      csrfManager,
		IdentityHandler:  identityHandler,
		ContentHandler:   contentHandler,
		AuditHandler:     auditHandler,
		AuthorityHandler: authorityHandler,
		JobHandler:       jobs.NewHandler(inspector, logger),
		Metrics:          metrics,
		HealthChecks: map[string]app.HealthCheck{
			"postgres": func(ctx context.Context) error { return d.pool.Ping(ctx) },
			"redis":    func(ctx context.Context) error { return d.redis.Ping(ctx).Err() },
		},
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	return nil
}
