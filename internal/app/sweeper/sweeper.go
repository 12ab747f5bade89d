// Package sweeper собирает приложение планового обхода подписок:
// истёкшие отменённые подписки понижаются без ожидания webhook-события.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/game-showcase/internal/billing"
	"github.com/magabrotheeeer/game-showcase/internal/cache"
	"github.com/magabrotheeeer/game-showcase/internal/config"
	"github.com/magabrotheeeer/game-showcase/internal/rabbitmq"
	reconcilerservice "github.com/magabrotheeeer/game-showcase/internal/services/reconciler"
	sweeperservice "github.com/magabrotheeeer/game-showcase/internal/services/sweeper"
	"github.com/magabrotheeeer/game-showcase/internal/storage/repository"
)

// App представляет приложение планового обхода.
type App struct {
	sweeperService *sweeperservice.SweeperService
	conn           *amqp.Connection
	ch             *amqp.Channel
	db             *repository.Storage
	logger         *slog.Logger
}

func waitForDB(db *repository.Storage) error {
	for i := 0; i < 10; i++ {
		err := repository.CheckDatabaseReady(db)
		if err == nil {
			return nil
		}
		time.Sleep(3 * time.Second)
	}
	return fmt.Errorf("database not ready after retries")
}

// New создает новый экземпляр приложения планового обхода.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}
	if err := waitForDB(db); err != nil {
		return nil, err
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
	sweeperService := sweeperservice.NewSweeperService(db, db, reconcilerService, cfg.SweepInterval, logger)

	return &App{
		sweeperService: sweeperService,
		conn:           conn,
		ch:             ch,
		db:             db,
		logger:         logger,
	}, nil
}

// Run запускает плановый обход и останавливает его при отмене контекста.
func (a *App) Run(ctx context.Context) error {
	go a.sweeperService.Run(ctx)

	<-ctx.Done()

	a.logger.Info("shutting down sweeper service")

	if a.ch != nil {
		_ = a.ch.Close()
	}
	if a.conn != nil {
		_ = a.conn.Close()
	}
	_ = a.db.DB.Close()
	return nil
}
