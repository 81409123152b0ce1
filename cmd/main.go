package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"quote-service/internal/audit"
	"quote-service/internal/bookings"
	"quote-service/internal/logging"
	"quote-service/internal/notify"
	"quote-service/internal/quotes"
	"quote-service/internal/tracking"
	"quote-service/migrations"
	"quote-service/pkg/config"
	"quote-service/pkg/db"
	"quote-service/pkg/jwt"
	"quote-service/pkg/kafka"
	qredis "quote-service/pkg/redis"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── 1. Config and logger ──
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	// ── 2. JWT secret ──
	if err := jwt.Init(cfg.JWTSecret); err != nil {
		log.Fatal(err)
	}

	// ── 3. PostgreSQL ──
	database, err := db.Connect(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer database.Close()

	if err := database.RunMigrations(ctx, migrations.FS); err != nil {
		log.Fatal("migrations failed:", err)
	}

	// ── 4. Redis ──
	redisClient, err := qredis.NewClient(cfg.RedisAddr, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer redisClient.Close()

	// ── 5. Kafka ──
	kafkaClient := kafka.NewClient(cfg.Brokers(), logger)
	if err := kafkaClient.EnsureTopics(ctx,
		kafka.TopicQuoteSubmitted,
		kafka.TopicQuoteResponded,
		kafka.TopicBookingCreated,
		kafka.TopicDriverAssigned,
		kafka.TopicDriverLocation,
		kafka.TopicNotifyEmail,
	); err != nil {
		log.Fatal(err)
	}

	// ── 6. Notification dispatcher ──
	dispatcher := notify.NewDispatcher(&notify.KafkaSender{Client: kafkaClient}, cfg.NotifyQueueSize, logger)
	defer dispatcher.Close()

	// ── 7. Audit recorder ──
	recorder := &audit.Logged{Inner: audit.NewPGRecorder(database.Pool), Log: logger}

	// ── 8. Services ──
	bookingSvc := bookings.NewService(bookings.NewPGStore(database.Pool), recorder, kafkaClient, dispatcher, logger)
	quoteSvc := quotes.NewService(quotes.NewPGStore(database.Pool), bookingSvc, recorder, kafkaClient, dispatcher, redisClient, logger)

	// ── 9. Background consumers ──
	bookingSvc.StartDriverAssignedConsumer(ctx, kafkaClient)

	// ── 10. Location hub ──
	hub := tracking.NewHub(logger)
	trackingHandler := tracking.NewHandler(hub, redisClient, kafkaClient, logger)

	// ── 11. HTTP router ──
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(jwt.OptionalAuth)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"quote-service"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Mount("/quotes", quotes.NewHandler(quoteSvc).Routes())
	r.Mount("/bookings", bookings.NewHandler(bookingSvc).Routes())
	r.Mount("/locations", trackingHandler.LocationRoutes())
	r.With(jwt.RequireAuth).Get("/ws", trackingHandler.HandleWS)

	// ── 12. Start server ──
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		logger.Info("quote-service listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	// ── 13. Graceful shutdown ──
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutCancel()
	srv.Shutdown(shutCtx)
	cancel() // stop consumers
}
