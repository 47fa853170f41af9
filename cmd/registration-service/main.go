package main

import (
	"context"
	"expvar"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/NikWasHere/magang-rspb-sub000/internal/app"
	"github.com/NikWasHere/magang-rspb-sub000/internal/config"
	"github.com/NikWasHere/magang-rspb-sub000/internal/events"
	"github.com/NikWasHere/magang-rspb-sub000/internal/httpapi"
	"github.com/NikWasHere/magang-rspb-sub000/internal/hub"
	"github.com/NikWasHere/magang-rspb-sub000/internal/logging"
	"github.com/NikWasHere/magang-rspb-sub000/internal/notify"
	"github.com/NikWasHere/magang-rspb-sub000/internal/store"
	"github.com/NikWasHere/magang-rspb-sub000/internal/store/memory"
	"github.com/NikWasHere/magang-rspb-sub000/internal/store/postgres"
	"github.com/NikWasHere/magang-rspb-sub000/internal/telemetry"
)

func main() {
	cfg := config.Load()

	logger, err := logging.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	shutdownTracing := telemetry.Setup("registration-service", cfg.OTLPEndpoint, logger)

	notifier := notify.New(notify.Config{
		SMSProvider:      cfg.SMSProvider,
		EmailProvider:    cfg.EmailProvider,
		TelegramProvider: cfg.TelegramProvider,
		TelegramToken:    cfg.TelegramToken,
		WebhookURL:       cfg.WebhookURL,
		WebhookToken:     cfg.WebhookToken,
	}, logger)

	displayHub := hub.New(logger)
	publishers := []events.Publisher{displayHub}
	if cfg.NATSURL != "" {
		natsPublisher, err := events.ConnectNATS(cfg.NATSURL, "klinik.queue", logger)
		if err != nil {
			logger.Warn("nats unavailable, events stay local", zap.Error(err))
		} else {
			defer natsPublisher.Close()
			publishers = append(publishers, natsPublisher)
		}
	}
	publisher := events.Multi(publishers...)

	reservations, cleanup, err := buildStore(cfg, notifier, publisher, logger)
	if err != nil {
		logger.Fatal("store init", zap.Error(err))
	}
	defer cleanup()

	sessions := httpapi.NewStaticSessions(staffSessions(cfg))
	handler := httpapi.NewHandler(reservations, httpapi.Options{})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		PerMinute: cfg.RateLimitPerMinute,
		Burst:     cfg.RateLimitBurst,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/realtime/", realtimeHandler(displayHub))
	mux.Handle("/", handler.Routes())

	chain := httpapi.CORSMiddleware(
		httpapi.LoggingMiddleware(logger,
			limiter.Middleware(
				httpapi.AuthMiddleware(sessions, mux))))

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(chain, "registration-service"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("registration-service listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	go func() {
		if cfg.ExpireScanInterval <= 0 {
			return
		}
		ticker := time.NewTicker(cfg.ExpireScanInterval)
		defer ticker.Stop()
		for range ticker.C {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			count, err := reservations.ExpireStale(ctx, time.Now().UTC())
			cancel()
			if err != nil {
				logger.Error("expire scan", zap.Error(err))
				continue
			}
			if count > 0 {
				logger.Info("expire scan", zap.Int("expired", count))
			}
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
	notifier.Wait()
	if err := shutdownTracing(ctx); err != nil {
		logger.Error("tracing shutdown", zap.Error(err))
	}
}

// buildStore picks postgres when a DSN is configured and the in-memory store
// otherwise, so a single binary serves both the clinic deployment and local
// development.
func buildStore(cfg config.Config, notifier *notify.Notifier, publisher events.Publisher, logger *zap.Logger) (store.ReservationStore, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Info("using in-memory store")
		return memory.NewStore(memory.Options{
			Notifier:          notifier,
			Publisher:         publisher,
			Logger:            logger,
			MinutesPerPatient: cfg.MinutesPerPatient,
		}), func() {}, nil
	}

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}

	migrator, err := app.NewMigrator(pool, cfg.MigrationsDir, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := migrator.Run(context.Background()); err != nil {
		pool.Close()
		return nil, nil, err
	}
	_ = migrator.Close()

	return postgres.NewStore(pool, postgres.Options{
		Notifier:          notifier,
		Publisher:         publisher,
		Logger:            logger,
		MinutesPerPatient: cfg.MinutesPerPatient,
	}), pool.Close, nil
}

func staffSessions(cfg config.Config) map[string]store.Session {
	sessions := make(map[string]store.Session, len(cfg.StaffTokens))
	for token, staff := range cfg.StaffTokens {
		sessions[token] = store.Session{StaffID: staff.StaffID, Role: staff.Role}
	}
	return sessions
}

// realtimeHandler is the sockjs endpoint waiting-room displays connect to.
// A client narrows its feed with a subscribe message naming a doctor and
// visit date.
func realtimeHandler(displayHub *hub.Hub) http.Handler {
	return sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
		displayHub.Register(client)
		defer displayHub.Unregister(client)

		go func() {
			for msg := range client.Send {
				_ = session.Send(string(msg))
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := hub.ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if parsed.Action == "unsubscribe" {
				displayHub.UpdateSubscription(client, hub.Subscription{})
				continue
			}
			displayHub.UpdateSubscription(client, hub.Subscription{
				DoctorID:  parsed.DoctorID,
				VisitDate: parsed.VisitDate,
			})
		}
	})
}
