// Package sweeper реализует фоновый обход пользователей, у которых
// льготный период после отмены подписки уже истёк. Без обхода такой
// пользователь оставался бы подписчиком до следующего входа, запроса
// статуса или webhook-события.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/game-showcase/internal/billing"
	"github.com/magabrotheeeer/game-showcase/internal/lib/sl"
	"github.com/magabrotheeeer/game-showcase/internal/models"
)

// UserRepository находит строки, требующие понижения роли.
type UserRepository interface {
	FindLapsedCanceled(ctx context.Context, now time.Time) ([]*models.User, error)
}

// SessionRepository удаляет просроченные сессии.
type SessionRepository interface {
	DeleteExpiredSessions(ctx context.Context) (int, error)
}

// Reconciler применяет состояние подписки к пользователю.
type Reconciler interface {
	Reconcile(ctx context.Context, user *models.User, sub *billing.Subscription) (*models.User, error)
}

// SweeperService периодически понижает пользователей с истёкшим льготным
// периодом и удаляет просроченные сессии.
type SweeperService struct {
	repo       UserRepository
	sessions   SessionRepository
	reconciler Reconciler
	interval   time.Duration
	log        *slog.Logger
}

// NewSweeperService создает новый экземпляр SweeperService.
func NewSweeperService(repo UserRepository, sessions SessionRepository, reconciler Reconciler, interval time.Duration, log *slog.Logger) *SweeperService {
	return &SweeperService{
		repo:       repo,
		sessions:   sessions,
		reconciler: reconciler,
		interval:   interval,
		log:        log,
	}
}

// Run запускает обход сразу и затем по тикеру до отмены контекста.
func (s *SweeperService) Run(ctx context.Context) {
	s.RunSweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunSweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunSweep выполняет один проход: каждому найденному пользователю повторно
// применяется его же сохранённое отменённое состояние — раз период истёк,
// сверка сама понизит статус до inactive и роль до user.
func (s *SweeperService) RunSweep(ctx context.Context) {
	now := time.Now()
	s.log.Info("starting sweep for lapsed canceled subscriptions")

	if deleted, err := s.sessions.DeleteExpiredSessions(ctx); err != nil {
		s.log.Error("failed to delete expired sessions", sl.Err(err))
	} else if deleted > 0 {
		s.log.Info("deleted expired sessions", "count", deleted)
	}

	users, err := s.repo.FindLapsedCanceled(ctx, now)
	if err != nil {
		s.log.Error("failed to find lapsed subscriptions", sl.Err(err))
		return
	}
	if len(users) == 0 {
		s.log.Info("no lapsed subscriptions found")
		return
	}
	s.log.Info("found lapsed subscriptions", "count", len(users))

	for _, user := range users {
		sub := &billing.Subscription{
			Status: billing.SubscriptionCanceled,
		}
		if user.SubscriptionID != nil {
			sub.ID = *user.SubscriptionID
		}
		if user.SubscriptionEnd != nil {
			sub.CurrentPeriodEnd = user.SubscriptionEnd.Unix()
		}
		if _, err := s.reconciler.Reconcile(ctx, user, sub); err != nil {
			s.log.Error("failed to downgrade lapsed user",
				slog.String("user_uid", user.UID), sl.Err(err))
		}
	}
}
