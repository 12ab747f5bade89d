// Package status реализует HTTP-обработчик актуального статуса подписки:
// перед ответом состояние сверяется с платёжным провайдером.
package status

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/game-showcase/internal/http/middlewarectx"
	"github.com/magabrotheeeer/game-showcase/internal/http/response"
	"github.com/magabrotheeeer/game-showcase/internal/lib/sl"
	"github.com/magabrotheeeer/game-showcase/internal/models"
)

// Service описывает сверку подписки с провайдером.
type Service interface {
	ReconcileLive(ctx context.Context, user *models.User) (*models.User, error)
}

// Handler обрабатывает HTTP-запросы статуса подписки.
type Handler struct {
	log        *slog.Logger
	reconciler Service
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, reconciler Service) *Handler {
	return &Handler{log: log, reconciler: reconciler}
}

// ServeHTTP godoc
// @Summary Статус подписки
// @Description Запрашивает подписку у провайдера, приводит локальное состояние и возвращает его.
// @Tags Subscription
// @Produce  json
// @Success 200 {object} map[string]any "Актуальный статус подписки"
// @Failure 401 {object} response.ErrorResponse "Сессия отсутствует или истекла"
// @Failure 500 {object} response.ErrorResponse "Провайдер недоступен"
// @Router /api/subscription/status [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.status"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	user, ok := middlewarectx.UserFromContext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		render.JSON(w, r, response.Error("not authenticated"))
		return
	}

	fresh, err := h.reconciler.ReconcileLive(r.Context(), user)
	if err != nil {
		log.Error("failed to refresh subscription state", sl.Err(err),
			slog.String("uid", user.UID))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to refresh subscription status"))
		return
	}

	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"subscription_status":   fresh.SubscriptionStatus,
		"subscription_end_date": fresh.SubscriptionEnd,
		"role":                  fresh.Role,
	}))
}
