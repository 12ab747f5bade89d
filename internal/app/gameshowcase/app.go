// Package gameshowcase собирает основное HTTP-приложение: базу,
// миграции, кэш, платёжный клиент, брокер уведомлений и маршруты.
package gameshowcase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/game-showcase/internal/billing"
	"github.com/magabrotheeeer/game-showcase/internal/cache"
	"github.com/magabrotheeeer/game-showcase/internal/config"
	"github.com/magabrotheeeer/game-showcase/internal/http/sessioncookie"
	"github.com/magabrotheeeer/game-showcase/internal/migrations"
	"github.com/magabrotheeeer/game-showcase/internal/rabbitmq"
	authservice "github.com/magabrotheeeer/game-showcase/internal/services/auth"
	reconcilerservice "github.com/magabrotheeeer/game-showcase/internal/services/reconciler"
	subscriptionservice "github.com/magabrotheeeer/game-showcase/internal/services/subscription"
	usersservice "github.com/magabrotheeeer/game-showcase/internal/services/users"
	"github.com/magabrotheeeer/game-showcase/internal/storage/repository"
)

// App представляет основное HTTP-приложение.
type App struct {
	server *http.Server
	logger *slog.Logger
	db     *repository.Storage
	conn   *amqp.Connection
	ch     *amqp.Channel
}

// New создает App: подключает зависимости, собирает сервисы и маршруты.
// Брокер уведомлений необязателен: без него письма о смене доступа
// просто не отправляются.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		return nil, fmt.Errorf("cache not initialized: %w", err)
	}

	var conn *amqp.Connection
	var ch *amqp.Channel
	var notifier reconcilerservice.Publisher
	if cfg.RabbitMQURL != "" {
		conn, err = rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
		if err != nil {
			return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
		}
		ch, err = rabbitmq.SetupChannel(conn, rabbitmq.GetNotificationQueues())
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
		}
		notifier = rabbitmq.NewPublisher(ch)
	} else {
		logger.Warn("rabbitmq url is empty, entitlement notifications are disabled")
	}

	billingClient := billing.NewClient(cfg.StripeSecretKey)

	reconcilerService := reconcilerservice.New(db, billingClient, cacheRedis, notifier, logger)
	authService := authservice.NewAuthService(db, db, reconcilerService, cacheRedis, cfg.SessionTTL, logger)
	subscriptionService := subscriptionservice.New(billingClient, db, reconcilerService, cfg.StripePriceID, logger)
	usersService := usersservice.New(db, cacheRedis, logger)

	cookie := sessioncookie.New(cfg.SessionCookie, cfg.IsProduction())

	router := chi.NewRouter()
	RegisterRoutes(router, logger, authService, reconcilerService,
		subscriptionService, usersService, cookie, cfg.StripeWebhookSecret)

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server: srv,
		logger: logger,
		db:     db,
		conn:   conn,
		ch:     ch,
	}, nil
}

// Run запускает HTTP-сервер и останавливает его при отмене контекста.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		if a.ch != nil {
			_ = a.ch.Close()
		}
		if a.conn != nil {
			_ = a.conn.Close()
		}
		_ = a.db.DB.Close()
		return err
	}
}
