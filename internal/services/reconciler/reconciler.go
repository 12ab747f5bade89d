// Package reconciler содержит ядро синхронизации доступа: по локальной
// записи пользователя и свежему состоянию подписки у платёжного провайдера
// вычисляется корректная роль и статус, решение сохраняется одним атомарным
// обновлением. Вызывается при входе, из webhook-обработчика, по явному
// запросу статуса и из фонового обхода.
//
// Сервис не ретраит и не глотает ошибки записи: политику повторов
// определяет вызывающая сторона.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/game-showcase/internal/billing"
	"github.com/magabrotheeeer/game-showcase/internal/cache"
	"github.com/magabrotheeeer/game-showcase/internal/lib/sl"
	"github.com/magabrotheeeer/game-showcase/internal/models"
	"github.com/magabrotheeeer/game-showcase/internal/rabbitmq"
	"github.com/magabrotheeeer/game-showcase/internal/storage/repository"
)

// UserRepository определяет методы хранилища, нужные для сверки.
type UserRepository interface {
	// GetUserByStripeCustomerID возвращает пользователя по идентификатору клиента провайдера.
	GetUserByStripeCustomerID(ctx context.Context, customerID string) (*models.User, error)
	// UpdateSubscriptionState применяет решение сверки одним атомарным обновлением.
	UpdateSubscriptionState(ctx context.Context, userUID string, upd repository.SubscriptionUpdate) (*models.User, error)
	// UpdateSubscriptionStateByCustomer — то же с ключом по клиенту провайдера.
	UpdateSubscriptionStateByCustomer(ctx context.Context, customerID string, upd repository.SubscriptionUpdate) (*models.User, error)
	// ClearSubscription деактивирует подписку, которой больше нет у провайдера.
	ClearSubscription(ctx context.Context, userUID, role string) (*models.User, error)
}

// BillingClient запрашивает актуальное состояние подписки у провайдера.
type BillingClient interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*billing.Subscription, error)
}

// Cache описывает инвалидацию кешированных представлений пользователя.
type Cache interface {
	Invalidate(key string) error
}

// Publisher публикует уведомления об изменении уровня доступа.
type Publisher interface {
	Publish(routingKey string, message any) error
}

// Service реализует сверку роли и статуса подписки.
type Service struct {
	users    UserRepository
	billing  BillingClient
	cache    Cache
	notifier Publisher
	log      *slog.Logger
}

// New создает новый экземпляр Service. notifier может быть nil, если
// очередь уведомлений не развёрнута.
func New(users UserRepository, billingClient BillingClient, c Cache, notifier Publisher, log *slog.Logger) *Service {
	return &Service{
		users:    users,
		billing:  billingClient,
		cache:    c,
		notifier: notifier,
		log:      log,
	}
}

// Decision — результат чистого вычисления сверки: целевые статус и роль
// плюс признак того, что запись в базу вообще нужна.
type Decision struct {
	Status         string
	Role           string
	SubscriptionID *string
	PeriodEnd      *time.Time
	Changed        bool
}

// ShouldBeSubscriber определяет, даёт ли состояние подписки право доступа
// подписчика прямо сейчас. Отменённая подписка остаётся действующей до
// конца оплаченного периода: возврата денег при отмене нет.
func ShouldBeSubscriber(sub *billing.Subscription, now time.Time) bool {
	switch sub.Status {
	case billing.SubscriptionActive, billing.SubscriptionTrialing:
		return true
	case billing.SubscriptionCanceled:
		return sub.CurrentPeriodEnd > 0 && time.Unix(sub.CurrentPeriodEnd, 0).After(now)
	default:
		return false
	}
}

// MapStatus отображает статус Stripe во внутренний статус подписки.
// Отменённая подписка с неистёкшим периодом остаётся canceled, с истёкшим
// сразу становится inactive. Неизвестные статусы проходят как есть.
func MapStatus(sub *billing.Subscription, now time.Time) string {
	switch sub.Status {
	case billing.SubscriptionActive, billing.SubscriptionTrialing:
		return models.StatusActive
	case billing.SubscriptionIncomplete:
		return models.StatusPending
	case billing.SubscriptionPastDue:
		return models.StatusPastDue
	case billing.SubscriptionCanceled:
		if sub.CurrentPeriodEnd > 0 && time.Unix(sub.CurrentPeriodEnd, 0).After(now) {
			return models.StatusCanceled
		}
		return models.StatusInactive
	case billing.SubscriptionUnpaid, billing.SubscriptionIncompleteExpired:
		return models.StatusInactive
	default:
		return sub.Status
	}
}

// Decide — чистая функция сверки: (локальная запись, состояние у провайдера,
// текущее время) -> решение. Роль admin назначается вручную и сверкой не
// трогается.
func Decide(user *models.User, sub *billing.Subscription, now time.Time) Decision {
	status := MapStatus(sub, now)

	role := models.RoleUser
	if ShouldBeSubscriber(sub, now) {
		role = models.RoleSubscriber
	}
	if user.Role == models.RoleAdmin {
		role = models.RoleAdmin
	}

	var subscriptionID *string
	if sub.ID != "" {
		id := sub.ID
		subscriptionID = &id
	} else {
		subscriptionID = user.SubscriptionID
	}

	var periodEnd *time.Time
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		periodEnd = &end
	}

	changed := role != user.Role ||
		status != user.SubscriptionStatus ||
		!equalStringPtr(subscriptionID, user.SubscriptionID) ||
		!equalTimePtr(periodEnd, user.SubscriptionEnd)

	return Decision{
		Status:         status,
		Role:           role,
		SubscriptionID: subscriptionID,
		PeriodEnd:      periodEnd,
		Changed:        changed,
	}
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// Reconcile применяет состояние подписки к пользователю. Повторный вызов
// с тем же состоянием не выполняет записей.
func (s *Service) Reconcile(ctx context.Context, user *models.User, sub *billing.Subscription) (*models.User, error) {
	const op = "reconciler.Reconcile"

	d := Decide(user, sub, time.Now())
	if !d.Changed {
		s.log.Debug("reconcile: no change",
			slog.String("user_uid", user.UID),
			slog.String("status", d.Status))
		return user, nil
	}

	updated, err := s.users.UpdateSubscriptionState(ctx, user.UID, repository.SubscriptionUpdate{
		Status:         d.Status,
		Role:           d.Role,
		SubscriptionID: d.SubscriptionID,
		PeriodEnd:      d.PeriodEnd,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.afterUpdate(user, updated)
	return updated, nil
}

// ReconcileByCustomer сверяет пользователя, найденного по идентификатору
// клиента провайдера. Webhook-события несут только его.
func (s *Service) ReconcileByCustomer(ctx context.Context, customerID string, sub *billing.Subscription) (*models.User, error) {
	const op = "reconciler.ReconcileByCustomer"

	user, err := s.users.GetUserByStripeCustomerID(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	d := Decide(user, sub, time.Now())
	if !d.Changed {
		s.log.Debug("reconcile: no change",
			slog.String("customer_id", customerID),
			slog.String("status", d.Status))
		return user, nil
	}

	updated, err := s.users.UpdateSubscriptionStateByCustomer(ctx, customerID, repository.SubscriptionUpdate{
		Status:         d.Status,
		Role:           d.Role,
		SubscriptionID: d.SubscriptionID,
		PeriodEnd:      d.PeriodEnd,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.afterUpdate(user, updated)
	return updated, nil
}

// ReconcileLive запрашивает актуальное состояние подписки у провайдера и
// применяет его. Ответ resource_missing означает, что подписка удалена на
// стороне провайдера, и трактуется как сигнал деактивировать её локально.
// Прочие ошибки провайдера поднимаются наверх: политика деградации у
// каждого вызывающего своя.
func (s *Service) ReconcileLive(ctx context.Context, user *models.User) (*models.User, error) {
	const op = "reconciler.ReconcileLive"

	if user.SubscriptionID == nil || user.StripeCustomerID == nil {
		return user, nil
	}

	sub, err := s.billing.GetSubscription(ctx, *user.SubscriptionID)
	if err != nil {
		var apiErr *billing.Error
		if errors.As(err, &apiErr) && apiErr.IsResourceMissing() {
			s.log.Info("subscription gone at provider, deactivating",
				slog.String("user_uid", user.UID),
				slog.String("subscription_id", *user.SubscriptionID))
			return s.Deactivate(ctx, user)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s.Reconcile(ctx, user, sub)
}

// Deactivate локально гасит подписку, которой больше нет у провайдера:
// статус inactive, роль user (admin не трогается), идентификатор подписки
// и дата окончания очищаются.
func (s *Service) Deactivate(ctx context.Context, user *models.User) (*models.User, error) {
	const op = "reconciler.Deactivate"

	role := models.RoleUser
	if user.Role == models.RoleAdmin {
		role = models.RoleAdmin
	}
	updated, err := s.users.ClearSubscription(ctx, user.UID, role)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.afterUpdate(user, updated)
	return updated, nil
}

// ActivateFromInvoice — быстрый путь успешного продления: статус active,
// роль subscriber, границы периода из счёта, без вычисления предиката.
func (s *Service) ActivateFromInvoice(ctx context.Context, inv *billing.Invoice) (*models.User, error) {
	const op = "reconciler.ActivateFromInvoice"

	user, err := s.users.GetUserByStripeCustomerID(ctx, inv.Customer)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	role := models.RoleSubscriber
	if user.Role == models.RoleAdmin {
		role = models.RoleAdmin
	}
	var subscriptionID *string
	if inv.Subscription != "" {
		id := inv.Subscription
		subscriptionID = &id
	} else {
		subscriptionID = user.SubscriptionID
	}
	var periodEnd *time.Time
	if inv.PeriodEnd > 0 {
		end := time.Unix(inv.PeriodEnd, 0).UTC()
		periodEnd = &end
	}

	if user.Role == role && user.SubscriptionStatus == models.StatusActive &&
		equalStringPtr(subscriptionID, user.SubscriptionID) &&
		equalTimePtr(periodEnd, user.SubscriptionEnd) {
		s.log.Debug("invoice renewal: no change", slog.String("user_uid", user.UID))
		return user, nil
	}

	updated, err := s.users.UpdateSubscriptionStateByCustomer(ctx, inv.Customer, repository.SubscriptionUpdate{
		Status:         models.StatusActive,
		Role:           role,
		SubscriptionID: subscriptionID,
		PeriodEnd:      periodEnd,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.afterUpdate(user, updated)
	return updated, nil
}

// afterUpdate инвалидирует кеш пользователя и, если роль изменилась,
// публикует уведомление. Обе операции вспомогательные: их ошибки
// логируются и не отменяют уже сохранённое решение.
func (s *Service) afterUpdate(old, updated *models.User) {
	if err := s.cache.Invalidate(cache.UserKey(updated.UID)); err != nil {
		s.log.Warn("failed to invalidate user cache",
			slog.String("user_uid", updated.UID), sl.Err(err))
	}

	s.log.Info("reconciled subscription state",
		slog.String("user_uid", updated.UID),
		slog.String("status", updated.SubscriptionStatus),
		slog.String("role", updated.Role))

	if s.notifier == nil || old.Role == updated.Role {
		return
	}
	var email string
	if updated.Email != nil {
		email = *updated.Email
	}
	notice := models.EntitlementNotice{
		Email:    email,
		Username: updated.Username,
		OldRole:  old.Role,
		NewRole:  updated.Role,
		Status:   updated.SubscriptionStatus,
		EndDate:  updated.SubscriptionEnd,
	}
	if err := s.notifier.Publish(rabbitmq.RoutingKeyEntitlement, notice); err != nil {
		s.log.Warn("failed to publish entitlement notice",
			slog.String("user_uid", updated.UID), sl.Err(err))
	}
}
