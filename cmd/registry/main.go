// The registry server: agent identity, mutual permissions, and DPoP-bound
// interaction tokens over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	agentmetrics "authed/internal/agent/metrics"
	agentservice "authed/internal/agent/service"
	agentstore "authed/internal/agent/store"
	"authed/internal/dpop"
	"authed/internal/health"
	"authed/internal/keys"
	"authed/internal/platform/config"
	"authed/internal/platform/crypto"
	"authed/internal/platform/httpserver"
	"authed/internal/platform/logger"
	"authed/internal/platform/metrics"
	"authed/internal/platform/middleware"
	"authed/internal/platform/postgres"
	"authed/internal/platform/redis"
	"authed/internal/platform/tracing"
	providermetrics "authed/internal/provider/metrics"
	providerservice "authed/internal/provider/service"
	providerstore "authed/internal/provider/store"
	tokenmetrics "authed/internal/token/metrics"
	"authed/internal/token/revocation"
	tokenservice "authed/internal/token/service"
	httptransport "authed/internal/transport/http"
	"authed/pkg/platform/audit"
	"authed/pkg/platform/audit/kafka"
	"authed/pkg/platform/audit/publisher"
	auditmemory "authed/pkg/platform/audit/store/memory"
	auditpostgres "authed/pkg/platform/audit/store/postgres"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	// Key material. Development instances generate what they are not given.
	registryKeys, err := keys.LoadOrGenerate(cfg.Security.RegistryPublicKey, cfg.Security.RegistryPrivateKey)
	if err != nil {
		return fmt.Errorf("load registry keys: %w", err)
	}
	signingKey, _, err := registryKeys.Load()
	if err != nil {
		return fmt.Errorf("parse registry keys: %w", err)
	}

	dbKey := cfg.Security.DBEncryptionKey
	if dbKey == "" {
		if dbKey, err = crypto.GenerateKey(); err != nil {
			return fmt.Errorf("generate db encryption key: %w", err)
		}
		log.Warn("DB_ENCRYPTION_KEY not set, generated an ephemeral key; stored agent keys will not survive a restart")
	}
	cipher, err := crypto.NewFieldCipher(dbKey)
	if err != nil {
		return fmt.Errorf("build field cipher: %w", err)
	}

	// Token claims get their own cipher so the claim key can rotate
	// independently of the at-rest key. Falls back to the at-rest cipher.
	tokenCipher := cipher
	if cfg.Security.RegistryEncryptionKey != "" {
		if tokenCipher, err = crypto.NewFieldCipher(cfg.Security.RegistryEncryptionKey); err != nil {
			return fmt.Errorf("build registry field cipher: %w", err)
		}
	}

	// Stores. Postgres and Redis are optional in development; in-memory
	// fallbacks keep a bare `go run` useful.
	probes := map[string]health.Probe{}

	var (
		providerStore providerservice.Store = providerstore.NewInMemory()
		agentStore    agentservice.Store    = agentstore.NewInMemory()
		auditLog      audit.Log             = auditmemory.NewStore()
		revocations   revocation.Store      = revocation.NewMemory()
		replay        dpop.ReplayCache      = dpop.NewMemoryReplayCache()
	)

	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		providerStore = providerstore.NewPostgres(db)
		agentStore = agentstore.NewPostgres(db)
		auditLog = auditpostgres.New(db)
		revocations = revocation.NewPostgres(db)
		probes["database"] = func(ctx context.Context) error { return postgres.Health(ctx, db) }
	} else {
		log.Warn("DATABASE_URL not set, using in-memory stores")
	}

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
		replay = dpop.NewRedisReplayCache(redisClient.Client)
		revocations = revocation.NewRedis(redisClient.Client)
		probes["redis"] = redisClient.Health
	}

	// Audit pipeline: Postgres (or memory) is the primary log, Kafka an
	// optional fan-out sink.
	publisherOpts := []publisher.Option{
		publisher.WithLogger(log),
		publisher.WithAsyncBuffer(cfg.Audit.Buffer),
	}
	if len(cfg.Audit.Brokers) > 0 {
		producer, err := kafka.NewProducer(ctx, cfg.Audit.Brokers, cfg.Audit.Topic)
		if err != nil {
			return fmt.Errorf("connect kafka: %w", err)
		}
		defer producer.Close()
		publisherOpts = append(publisherOpts, publisher.WithSink(producer))
	}
	auditor := publisher.NewPublisher(auditLog, publisherOpts...)
	defer auditor.Close()

	// Services.
	providers := providerservice.New(providerStore,
		providerservice.WithLogger(log),
		providerservice.WithAuditTrail(auditor),
		providerservice.WithMetrics(providermetrics.New()),
	)
	agents := agentservice.New(agentStore, providers, cipher, cfg.Security.UnclaimedAgentCap,
		agentservice.WithLogger(log),
		agentservice.WithAuditTrail(auditor),
		agentservice.WithMetrics(agentmetrics.New()),
	)
	providers.SetAgentDirectory(agents)

	verifier := dpop.NewVerifier(replay, cfg.Security.DPoPProofMaxAge)
	tokens := tokenservice.New(agents, verifier, revocations, tokenCipher, signingKey, cfg.Security.TokenTTL(),
		tokenservice.WithLogger(log),
		tokenservice.WithAuditTrail(auditor),
		tokenservice.WithMetrics(tokenmetrics.New()),
	)

	router := httptransport.New(httptransport.Deps{
		Providers:    providers,
		ProviderAuth: providers,
		Agents:       agents,
		AgentAuth:    agents,
		Tokens:       tokens,
		Health:       health.New(probes),
		HTTPMetrics:  metrics.New(),
		RateLimiter:  middleware.NewRateLimiter(cfg.Limits.Requests, cfg.Limits.Window(), log, middleware.WithRateLimitAudit(auditor)),
		InternalKey:  cfg.Security.InternalAPIKey,
		CORSOrigins:  cfg.CORS.AllowedOrigins,
		Logger:       log,
	})

	srv := httpserver.New(cfg.Server, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("registry listening", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
