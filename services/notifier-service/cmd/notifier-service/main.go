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
	"github.com/example/tablebook/services/notifier-service/internal/consumer"
	"github.com/example/tablebook/services/notifier-service/internal/email"
	"github.com/example/tablebook/services/notifier-service/internal/inbox"
	"github.com/example/tablebook/services/notifier-service/internal/notify"
	"github.com/example/tablebook/services/notifier-service/internal/storage"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "notifier-service")
	port, err := config.Port("PORT", "8082")
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

	inboxRepo := inbox.NewRepository(pool)
	notificationsRepo := storage.NewRepository(pool)

	// Announcements go to one shared address (the room calendar list), the
	// way the original chat bots posted to a single group. Empty means
	// log-only; notifications are still recorded.
	notifyTo := strings.TrimSpace(config.String("NOTIFY_EMAIL", ""))
	var emailSender email.Sender
	if notifyTo != "" {
		emailSender = email.NewSMTPSender(
			config.String("SMTP_HOST", "mailpit"),
			config.String("SMTP_PORT", "1025"),
			config.String("SMTP_FROM", "no-reply@tablebook.local"),
		)
	} else {
		logger.Warn("NOTIFY_EMAIL not set; recording notifications without sending")
	}

	handle := func(ctx context.Context, msg kafka.Message) error {
		ev, err := notify.Decode(msg.Value)
		if err != nil {
			logger.Error("invalid reservation event payload", "err", err, "topic", msg.Topic)
			return nil
		}

		subject := notify.Subject(msg.Topic, ev)
		body := notify.Body(msg.Topic, ev)

		status := "recorded"
		channel := "log"
		if emailSender != nil {
			channel = "email"
			if err := emailSender.Send(notifyTo, subject, body); err != nil {
				status = "failed"
				logger.Error("email send failed", "err", err, "reservation_id", ev.ReservationID)
			} else {
				status = "sent"
			}
		}

		if err := notificationsRepo.Insert(ctx, storage.Notification{
			ReservationID: ev.ReservationID,
			RequesterID:   ev.RequesterID,
			EventType:     msg.Topic,
			Channel:       channel,
			Recipient:     notifyTo,
			Message:       body,
			Payload: map[string]any{
				"date":       ev.Date,
				"start_time": ev.StartTime,
				"end_time":   ev.EndTime,
			},
			Status: status,
		}); err != nil {
			logger.Error("failed to persist notification", "err", err)
			return err
		}

		logger.Info("reservation event processed",
			"reservation_id", ev.ReservationID, "event_type", msg.Topic, "status", status)
		return nil
	}

	brokers := config.String("KAFKA_BROKERS", "")
	groupID := config.String("KAFKA_GROUP_ID", "notifier-service")
	topics := strings.Split(config.String("KAFKA_CONSUME_TOPICS",
		"reservation.booked.v1,reservation.rescheduled.v1,reservation.cancelled.v1"), ",")
	for _, topic := range topics {
		topic = strings.TrimSpace(topic)
		if topic == "" {
			continue
		}
		c := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: brokers,
			GroupID: groupID,
			Topic:   topic,
		}, handle)
		go c.Run(ctx)
	}

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "notifier")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
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
