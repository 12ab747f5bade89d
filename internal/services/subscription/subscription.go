// Package subscription реализует оформление платной подписки:
// создание клиента у платёжного провайдера, создание подписки и выдачу
// client secret для подтверждения платежа на фронтенде.
package subscription

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/game-showcase/internal/billing"
	"github.com/magabrotheeeer/game-showcase/internal/lib/sl"
	"github.com/magabrotheeeer/game-showcase/internal/models"
)

// BillingClient — операции платёжного провайдера для оформления подписки.
type BillingClient interface {
	CreateCustomer(ctx context.Context, email, paymentMethodID string) (*billing.Customer, error)
	CreateSubscription(ctx context.Context, customerID, priceID string) (*billing.Subscription, error)
}

// UserRepository — операции с таблицей пользователей.
type UserRepository interface {
	SetStripeCustomerID(ctx context.Context, uid, customerID, email string) error
}

// Reconciler приводит локальное состояние к состоянию подписки у провайдера.
type Reconciler interface {
	Reconcile(ctx context.Context, user *models.User, sub *billing.Subscription) (*models.User, error)
}

// Service оформляет подписки.
type Service struct {
	billing    BillingClient
	users      UserRepository
	reconciler Reconciler
	priceID    string
	log        *slog.Logger
}

// New создает Service.
func New(billingClient BillingClient, users UserRepository, reconciler Reconciler,
	priceID string, log *slog.Logger) *Service {
	return &Service{
		billing:    billingClient,
		users:      users,
		reconciler: reconciler,
		priceID:    priceID,
		log:        log,
	}
}

// Checkout создает подписку для пользователя и возвращает client secret
// платёжного намерения. Если у пользователя еще нет клиента у провайдера,
// он создается и сохраняется в базе.
func (s *Service) Checkout(ctx context.Context, user *models.User,
	email, paymentMethodID string) (string, error) {
	const op = "services.subscription.Checkout"

	customerID := ""
	if user.StripeCustomerID != nil {
		customerID = *user.StripeCustomerID
	} else {
		customer, err := s.billing.CreateCustomer(ctx, email, paymentMethodID)
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		customerID = customer.ID
		if err := s.users.SetStripeCustomerID(ctx, user.UID, customerID, email); err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		s.log.Info("created billing customer",
			slog.String("uid", user.UID),
			slog.String("customer_id", customerID))
	}

	sub, err := s.billing.CreateSubscription(ctx, customerID, s.priceID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	if _, err := s.reconciler.Reconcile(ctx, user, sub); err != nil {
		s.log.Warn("failed to store pending subscription", sl.Err(err),
			slog.String("uid", user.UID))
	}

	if sub.LatestInvoice == nil || sub.LatestInvoice.PaymentIntent == nil ||
		sub.LatestInvoice.PaymentIntent.ClientSecret == "" {
		return "", fmt.Errorf("%s: subscription has no payment intent", op)
	}
	return sub.LatestInvoice.PaymentIntent.ClientSecret, nil
}
