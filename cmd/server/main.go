package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	applicanttoken "studentcheck/internal/applicant_token"
	"studentcheck/internal/platform/config"
	"studentcheck/internal/platform/httpserver"
	"studentcheck/internal/platform/kafka"
	"studentcheck/internal/platform/logger"
	"studentcheck/internal/platform/metrics"
	"studentcheck/internal/platform/middleware"
	"studentcheck/internal/platform/redis"
	"studentcheck/internal/verification/backend"
	"studentcheck/internal/verification/handler"
	vmetrics "studentcheck/internal/verification/metrics"
	"studentcheck/internal/verification/ports"
	"studentcheck/internal/verification/session"
	"studentcheck/internal/verification/widget"
	"studentcheck/internal/verification/widget/remote"
	"studentcheck/pkg/platform/audit"
	"studentcheck/pkg/platform/audit/publisher"
	auditkafka "studentcheck/pkg/platform/audit/publishers/kafka"
	"studentcheck/pkg/platform/audit/store/memory"
	"studentcheck/pkg/platform/httputil"
	request "studentcheck/pkg/platform/middleware/request"
	"studentcheck/pkg/platform/middleware/requesttime"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal/verification.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	reg := metrics.NewRegistry()
	httpMetrics := metrics.New(reg)
	verificationMetrics := vmetrics.New(reg)

	host, err := remote.New(remote.Config{
		APIBaseURL: cfg.Provider.APIBaseURL,
		APIKey:     cfg.Provider.APIKey,
	}, remote.WithLogger(log))
	if err != nil {
		return err
	}

	client, err := backend.NewClient(backend.Config{
		BaseURL: cfg.Backend.BaseURL,
		Timeout: cfg.Backend.Timeout,
	}, backend.WithLogger(log), backend.WithMetrics(verificationMetrics))
	if err != nil {
		return err
	}
	var (
		status    ports.StatusSource = client
		submitter ports.Submitter    = client
	)

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		cache := backend.NewCachedStatusSource(client, client, redisClient,
			backend.WithTTL(cfg.Redis.StatusTTL),
			backend.WithCacheLogger(log),
		)
		status, submitter = cache, cache
		log.Info("status cache enabled", "ttl", cfg.Redis.StatusTTL.String())
	}

	auditStore, closeAudit, err := buildAuditStore(ctx, cfg.Kafka, reg, log)
	if err != nil {
		return err
	}
	defer closeAudit()
	auditPublisher := publisher.NewPublisher(auditStore,
		publisher.WithAsyncBuffer(1024),
		publisher.WithLogger(log),
	)
	defer auditPublisher.Close()

	manager, err := session.NewManager(session.Config{
		Widget: widget.Config{
			ProgramURL:          cfg.Provider.ProgramURL,
			ScriptURL:           cfg.Provider.ScriptURL,
			StylesheetURL:       cfg.Provider.StylesheetURL,
			AvailabilityTimeout: cfg.Provider.AvailabilityTimeout,
		},
		MaxRetries:   cfg.Session.MaxRetries,
		MaxFileBytes: cfg.Uploads.MaxFileBytes,
		AllowedMIME:  cfg.Uploads.AllowedMIME,
	}, session.Deps{
		Host:      host,
		Submitter: submitter,
		Status:    status,
		Publisher: auditPublisher,
		Metrics:   verificationMetrics,
		Logger:    log,
	})
	if err != nil {
		return err
	}
	go manager.RunReaper(ctx, cfg.Session.ReapInterval, cfg.Session.IdleTimeout)

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Logger(log))
	r.Use(middleware.Latency(httpMetrics))
	r.Use(chimw.Timeout(cfg.Server.RequestTimeout))

	tokens := applicanttoken.NewAdapter(applicanttoken.NewService(cfg.Auth.SigningKey, cfg.Auth.Issuer, cfg.Auth.Audience))
	handler.New(manager, host, tokens, log,
		handler.WithWebhookToken(cfg.Provider.WebhookToken),
		handler.WithMaxFileBytes(cfg.Uploads.MaxFileBytes),
		handler.WithSettleTimeout(cfg.Session.SettleTimeout),
		handler.WithActivity(auditPublisher),
	).Register(r)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"status": "ok", "open_sessions": manager.Len()}
		if redisClient != nil {
			if err := redisClient.Health(r.Context()); err != nil {
				body["status"] = "degraded"
				body["redis"] = err.Error()
			}
		}
		httputil.WriteJSON(w, http.StatusOK, body)
	})
	r.Handle("/metrics", metrics.Handler(reg))

	srv := httpserver.New(cfg.Server.Addr, r)
	serveErr := httpserver.Serve(ctx, srv, cfg.Server.ShutdownTimeout, log)

	// Release every provider runtime before the audit sink closes.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		log.Warn("verification sessions did not stop in time", "error", err)
	}
	return serveErr
}

// buildAuditStore keeps audit in memory and, when brokers are configured,
// forwards every event to Kafka as well.
func buildAuditStore(ctx context.Context, cfg config.KafkaConfig, reg prometheus.Registerer, log *slog.Logger) (audit.Store, func(), error) {
	local := memory.NewInMemoryStore()
	if len(cfg.Brokers) == 0 {
		return local, func() {}, nil
	}
	producer, err := kafka.NewProducer(kafka.Config{Brokers: cfg.Brokers, ClientID: cfg.ClientID}, log)
	if err != nil {
		return nil, nil, err
	}
	if err := producer.EnsureTopic(ctx, cfg.AuditTopic, 3, 1); err != nil {
		log.Warn("could not ensure audit topic", "topic", cfg.AuditTopic, "error", err)
	}
	store := auditkafka.New(local, producer, cfg.AuditTopic,
		auditkafka.WithLogger(log),
		auditkafka.WithMetrics(auditkafka.NewMetrics(reg)),
	)
	return store, producer.Close, nil
}
