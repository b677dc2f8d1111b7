package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/example/tablebook/libs/config"
	"github.com/example/tablebook/libs/db"
	"github.com/example/tablebook/libs/httpx"
	"github.com/example/tablebook/libs/kafkax"
	otelx "github.com/example/tablebook/libs/otel"
	"github.com/example/tablebook/libs/runtime"
	"github.com/example/tablebook/services/reservation-service/internal/handlers"
	"github.com/example/tablebook/services/reservation-service/internal/outbox"
	"github.com/example/tablebook/services/reservation-service/internal/schedule"
	"github.com/example/tablebook/services/reservation-service/internal/session"
	"github.com/example/tablebook/services/reservation-service/internal/storage"
	"github.com/example/tablebook/services/reservation-service/internal/timeslot"
	"github.com/example/tablebook/services/reservation-service/internal/workflow"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func windowFromEnv(defaults schedule.Window) schedule.Window {
	w := defaults
	if open, err := timeslot.ParseClock(config.String("WINDOW_OPEN", w.Open.String())); err == nil {
		w.Open = open
	}
	if closeAt, err := timeslot.ParseClock(config.String("WINDOW_CLOSE", w.Close.String())); err == nil {
		w.Close = closeAt
	}
	w.StepMinutes = config.Int("SLOT_STEP_MINUTES", w.StepMinutes)
	w.DefaultDurationMinutes = config.Int("DEFAULT_DURATION_MINUTES", w.DefaultDurationMinutes)
	return w
}

func main() {
	service := config.String("SERVICE_NAME", "reservation-service")
	port, err := config.Port("PORT", "8081")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	if err := storage.EnsureSchema(ctx, pool); err != nil {
		logger.Error("schema migration failed", "err", err)
		panic(err)
	}

	window := windowFromEnv(schedule.DefaultWindow())
	policy := workflow.ConflictPolicy(config.String("CONFLICT_POLICY", string(workflow.PolicySuggestConfirm)))
	if policy != workflow.PolicyAutoSubstitute && policy != workflow.PolicySuggestConfirm {
		logger.Warn("unknown conflict policy; using suggest_confirm", "policy", string(policy))
		policy = workflow.PolicySuggestConfirm
	}

	outboxRepo := outbox.NewRepository(pool)
	repo := storage.NewReservationRepository(pool, outboxRepo, window, logger)
	engine := workflow.NewEngine(repo, window, policy, logger)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	var sessions session.Store = session.NewMemoryStore()
	var rdb *redis.Client
	if redisAddr := config.String("REDIS_ADDR", ""); redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: redisAddr})
		defer rdb.Close()
		ttl := time.Duration(config.Int("SESSION_TTL_MINUTES", 30)) * time.Minute
		sessions = session.NewRedisStore(rdb, ttl)
	} else {
		logger.Warn("REDIS_ADDR not set; using in-memory sessions (single instance only)")
	}

	reservationHandler := handlers.NewReservationHandler(repo, engine, window, logger)
	dialogHandler := handlers.NewDialogHandler(engine, sessions, logger)

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
	}
	if brokers := config.String("KAFKA_BROKERS", ""); brokers != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}
	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	mux.HandleFunc("/api/v1/schedule", reservationHandler.Schedule)
	mux.HandleFunc("/api/v1/slots", reservationHandler.Slots)
	mux.HandleFunc("/api/v1/reservations", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			reservationHandler.List(w, r)
			return
		}
		reservationHandler.Book(w, r)
	})
	mux.HandleFunc("/api/v1/reservations/update", reservationHandler.Update)
	mux.HandleFunc("/api/v1/reservations/cancel", reservationHandler.Cancel)
	mux.HandleFunc("/api/v1/dialog", dialogHandler.Handle)

	middlewares := []httpx.Middleware{
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(int64(config.Int("MAX_BODY_BYTES", 64<<10))),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: strings.Split(config.String("CORS_ALLOWED_ORIGINS", ""), ","),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "X-Request-Id"},
			MaxAge:         10 * time.Minute,
		}),
	}
	rateLimit := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if rdb != nil {
		limiter := httpx.NewRedisRateLimiter(rdb, rateLimit, time.Minute, service)
		middlewares = append(middlewares, limiter.Middleware(logger, true))
	} else {
		middlewares = append(middlewares, httpx.NewRateLimiter(rateLimit, time.Minute).Middleware())
	}
	httpHandler := httpx.Chain(mux, middlewares...)
	httpHandler = otelhttp.NewHandler(httpHandler, "reservation")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
