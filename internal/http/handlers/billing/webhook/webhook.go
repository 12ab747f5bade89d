// Package webhook реализует HTTP-обработчик webhook-событий платёжного
// провайдера. Подпись проверяется по сырому телу запроса, поэтому
// маршрут не должен проходить через middleware, читающие тело.
package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/game-showcase/internal/billing"
	"github.com/magabrotheeeer/game-showcase/internal/http/response"
	"github.com/magabrotheeeer/game-showcase/internal/lib/sl"
	"github.com/magabrotheeeer/game-showcase/internal/models"
	"github.com/magabrotheeeer/game-showcase/internal/storage/repository"
)

// maxBodySize ограничивает размер тела webhook-события.
const maxBodySize = 1 << 20

// Service описывает приведение локального состояния по событиям провайдера.
type Service interface {
	ReconcileByCustomer(ctx context.Context, customerID string, sub *billing.Subscription) (*models.User, error)
	ActivateFromInvoice(ctx context.Context, inv *billing.Invoice) (*models.User, error)
}

// Handler обрабатывает webhook-события.
type Handler struct {
	log        *slog.Logger
	reconciler Service
	secret     string
}

// New создает новый экземпляр Handler. secret — ключ webhook-эндпоинта.
func New(log *slog.Logger, reconciler Service, secret string) *Handler {
	return &Handler{log: log, reconciler: reconciler, secret: secret}
}

// ServeHTTP godoc
// @Summary Webhook платёжного провайдера
// @Description Проверяет подпись события и приводит локальное состояние подписки.
// @Tags Billing
// @Accept  json
// @Produce  json
// @Success 200 {object} map[string]bool "Событие принято"
// @Failure 400 {object} response.ErrorResponse "Неверная подпись или тело события"
// @Failure 500 {object} response.ErrorResponse "Ошибка обработки, провайдер повторит доставку"
// @Router /webhook [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.billing.webhook"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		log.Error("failed to read request body", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	sigHeader := r.Header.Get("stripe-signature")
	if err := billing.VerifySignature(body, sigHeader, h.secret, time.Now()); err != nil {
		log.Warn("webhook signature verification failed", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid signature"))
		return
	}

	payload, err := billing.ParseEvent(body)
	if err != nil {
		log.Error("failed to parse webhook event", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid event payload"))
		return
	}

	if err := h.dispatch(r.Context(), log, payload); err != nil {
		// Событие для неизвестного клиента не станет валиднее при повторной
		// доставке: подтверждаем его, чтобы провайдер не ретраил впустую.
		if errors.Is(err, repository.ErrUserNotFound) {
			log.Warn("webhook event for unknown customer acknowledged", sl.Err(err))
			render.JSON(w, r, map[string]bool{"received": true})
			return
		}
		log.Error("failed to process webhook event", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to process event"))
		return
	}

	render.JSON(w, r, map[string]bool{"received": true})
}

func (h *Handler) dispatch(ctx context.Context, log *slog.Logger, payload billing.EventPayload) error {
	switch p := payload.(type) {
	case billing.SubscriptionUpserted:
		log.Info("subscription event received",
			slog.String("subscription_id", p.Subscription.ID),
			slog.String("provider_status", p.Subscription.Status))
		_, err := h.reconciler.ReconcileByCustomer(ctx, p.Subscription.Customer, &p.Subscription)
		return err
	case billing.SubscriptionDeleted:
		// Событие deleted несёт последнее состояние подписки; провайдер
		// помечает её canceled, но статус дублируется явно на случай
		// неполного объекта.
		sub := p.Subscription
		sub.Status = billing.SubscriptionCanceled
		log.Info("subscription deleted event received",
			slog.String("subscription_id", sub.ID))
		_, err := h.reconciler.ReconcileByCustomer(ctx, sub.Customer, &sub)
		return err
	case billing.InvoicePaid:
		log.Info("invoice paid event received",
			slog.String("invoice_id", p.Invoice.ID),
			slog.String("subscription_id", p.Invoice.Subscription))
		_, err := h.reconciler.ActivateFromInvoice(ctx, &p.Invoice)
		return err
	case billing.IgnoredEvent:
		log.Info("ignored webhook event", slog.String("type", p.Type))
		return nil
	default:
		return errors.New("unknown event payload")
	}
}
