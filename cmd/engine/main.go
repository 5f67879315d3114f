package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"

	"github.com/Meridian-Markets/engine/internal/admin"
	"github.com/Meridian-Markets/engine/internal/alerting"
	"github.com/Meridian-Markets/engine/internal/api"
	"github.com/Meridian-Markets/engine/internal/broker"
	"github.com/Meridian-Markets/engine/internal/fraud"
	"github.com/Meridian-Markets/engine/internal/limits"
	"github.com/Meridian-Markets/engine/internal/order"
	"github.com/Meridian-Markets/engine/internal/rate"
	"github.com/Meridian-Markets/engine/internal/risk"
	"github.com/Meridian-Markets/engine/internal/store"
	"github.com/Meridian-Markets/engine/internal/stream"
	"github.com/Meridian-Markets/engine/internal/telemetry"
	"github.com/Meridian-Markets/engine/pkg/config"
	"github.com/Meridian-Markets/engine/pkg/eventbus"
	"github.com/Meridian-Markets/engine/pkg/logger"
	"github.com/Meridian-Markets/engine/pkg/model"
	"github.com/Meridian-Markets/engine/pkg/secrets"
	"github.com/Meridian-Markets/engine/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()
	logg.Info("starting [engine]...")
	if cfg.DatabaseURL != "" {
		logg.Info("connection to DSN: ", utils.MaskDSN(cfg.DatabaseURL))
	} else {
		logg.Warn("DATABASE_URL not configured; durable writes and aggregates disabled")
	}

	defaultLimits, err := parseDefaultLimits(cfg)
	if err != nil {
		logg.Fatalw("invalid default risk limits", "error", err)
	}

	// --- Per-account limit overrides (secrets cached in-memory) ---
	var provider secrets.Provider
	if cfg.SecretPrefix != "" {
		provider, err = secrets.NewAWSProvider(cfg.AWSRegion)
		if err != nil {
			logg.Fatalw("failed to create AWS Secrets Manager provider", "error", err)
		}
	} else {
		logg.Warn("SECRET_PREFIX not configured; all accounts use default risk limits")
	}

	limitsCache := secrets.NewCache[model.RiskLimits](cfg.LimitsCacheTTL)
	stopCleaner := make(chan struct{})
	go limitsCache.StartCleaner(cfg.LimitsCacheTTL, stopCleaner)

	limitsResolver := limits.NewResolver(
		logger.L(),
		cfg.SecretPrefix,
		provider,
		limitsCache,
		defaultLimits,
	)

	// --- Connect to NATS ---
	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		logg.Fatalw("failed to connect to NATS", "error", err)
	}

	// --- Telemetry publisher ---
	pub, err := telemetry.New(logger.L(), nc, telemetry.Config{
		SubjectPrefix:  cfg.TelemetrySubject,
		Service:        cfg.ServiceName,
		Buffer:         cfg.TelemetryBuffer,
		EnqueueTimeout: cfg.EnqueueTimeout,
		RetryMax:       cfg.PublishRetryMax,
	})
	if err != nil {
		logg.Fatalw("failed to init telemetry publisher", "error", err)
	}
	pub.Start(ctx)

	// --- Store (Redis + Postgres hybrid) ---
	st, err := store.NewHybrid(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB, cfg.DatabaseURL, store.PGPoolConfig{
		MaxConns:          int32(cfg.PGMaxConns),
		MinConns:          int32(cfg.PGMinConns),
		MaxConnLifetime:   cfg.PGMaxConnLifetime,
		MaxConnIdleTime:   cfg.PGMaxConnIdleTime,
		HealthCheckPeriod: cfg.PGHealthCheckPeriod,
	}, logger.L())
	if err != nil {
		logg.Fatalw("failed to init store", "error", err)
	}

	// --- Fraud gate ---
	var oracle fraud.Oracle
	if cfg.FraudOracleURL != "" {
		rateMgr := rate.NewManager(rate.Config{
			RequestsPerSecond: 50,
			Burst:             100,
		})
		oracle = fraud.NewHTTPOracle(logger.L(), rateMgr, cfg.FraudOracleURL)
		logg.Infow("fraud scoring via external oracle", "url", cfg.FraudOracleURL)
	} else {
		oracle = &fraud.LocalOracle{}
		logg.Warn("FRAUD_ORACLE_URL not configured; using local heuristic scorer")
	}

	var policy fraud.FailurePolicy = fraud.FailOpen{ModelVersion: cfg.FraudModelVersion}
	if cfg.FraudFailClosed {
		policy = fraud.FailClosed{ModelVersion: cfg.FraudModelVersion}
	}
	gate := fraud.NewGate(logger.L(), oracle, policy, st, cfg.FraudOracleTimeout, cfg.FraudModelVersion)
	logg.Infow("fraud gate ready", "policy", policy.Name(), "rules", len(gate.Rules()))

	// --- Broker adapter ---
	paper := broker.NewPaperBroker(logger.L())

	// --- Event bus + order manager ---
	bus := eventbus.New()

	mgr, err := order.NewManager(order.Config{
		Logger:    logger.L(),
		Store:     st,
		Broker:    paper,
		Gate:      gate,
		Telemetry: pub,
		Risk:      risk.NewValidator(),
		Limits:    limitsResolver,
		Bus:       bus,
	})
	if err != nil {
		logg.Fatalw("failed to init order manager", "error", err)
	}

	// --- Fraud alert fan-out (RabbitMQ) ---
	var alerts *alerting.Publisher
	if cfg.AMQPURL != "" {
		alerts, err = alerting.NewPublisher(cfg.AMQPURL, cfg.FraudAlertQueue, bus, logger.L())
		if err != nil {
			logg.Fatalw("failed to init alert publisher", "error", err)
		}
	} else {
		logg.Warn("AMQP_URL not configured; fraud alert fan-out disabled")
	}

	// --- Auth ---
	resolver := api.StaticResolver{
		AdminToken: cfg.AdminToken,
		UserTokens: parseUserTokens(cfg.UserTokens),
	}
	if cfg.AdminToken == "" {
		logg.Warn("ADMIN_TOKEN not configured; admin endpoints unreachable")
	}

	// --- Websocket order stream ---
	hub := stream.NewHub(logger.L(), bus, api.StreamAuthenticator(resolver))
	go func() {
		logg.Infof("order stream listening on %s", cfg.StreamAddr)
		if err := hub.Run(ctx, cfg.StreamAddr); err != nil {
			logg.Errorw("stream.serve_failed", "error", err)
		}
	}()

	// --- Fiber HTTP Server ---
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
		BodyLimit:    cfg.HTTPBodyLimit,
	})

	view := admin.NewView(logger.L(), st, gate, pub)
	orderHandler := api.NewOrderHandler(logger.L(), mgr)
	adminHandler := api.NewAdminHandler(logger.L(), view)

	api.RegisterRoutes(app, nc, st, resolver, orderHandler, adminHandler)

	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	// --- Main process stays alive until interrupted ---
	logg.Infow("[engine] running",
		"nats", cfg.NATSURL,
		"env", cfg.Env,
		"broker", paper.Name(),
		"fraud_policy", policy.Name())

	<-ctx.Done()
	logg.Info("shutting down [engine]...")

	close(stopCleaner)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	pub.Stop()
	if alerts != nil {
		if err := alerts.Close(); err != nil {
			logg.Warnw("alerting.close_failed", "error", err)
		}
	}
	if err := nc.Drain(); err != nil {
		logg.Warnw("nats.drain_failed", "error", err)
	}
	if err := st.Close(); err != nil {
		logg.Warnw("store.close_failed", "error", err)
	}
}

func parseDefaultLimits(cfg *config.Config) (model.RiskLimits, error) {
	size, err := decimal.NewFromString(cfg.MaxPositionSize)
	if err != nil {
		return model.RiskLimits{}, fmt.Errorf("MAX_POSITION_SIZE: %w", err)
	}
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
		return model.RiskLimits{}, fmt.Errorf("MIN_CONFIDENCE must be within [0,1]")
	}
	return model.RiskLimits{
		MaxPositionSize: size,
		MinConfidence:   cfg.MinConfidence,
	}, nil
}

// parseUserTokens reads "token:userId" pairs, comma separated. Malformed
// pairs are skipped.
func parseUserTokens(raw string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		token, userID, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || token == "" || userID == "" {
			continue
		}
		out[token] = userID
	}
	return out
}
