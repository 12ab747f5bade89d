// Package checkout реализует HTTP-обработчик оформления подписки:
// создание клиента и подписки у провайдера и выдача client secret
// для подтверждения платежа на фронтенде.
package checkout

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/game-showcase/internal/http/middlewarectx"
	"github.com/magabrotheeeer/game-showcase/internal/http/response"
	"github.com/magabrotheeeer/game-showcase/internal/lib/sl"
	"github.com/magabrotheeeer/game-showcase/internal/models"
)

// Request — структура входных данных для оформления подписки.
type Request struct {
	Email           string `json:"email" validate:"required,email"`
	PaymentMethodID string `json:"paymentMethodId" validate:"required"`
}

// Service описывает бизнес-логику оформления подписки.
type Service interface {
	Checkout(ctx context.Context, user *models.User, email, paymentMethodID string) (string, error)
}

// Handler обрабатывает HTTP-запросы оформления подписки.
type Handler struct {
	log          *slog.Logger
	subscription Service
	validate     *validator.Validate
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, subscriptionService Service) *Handler {
	return &Handler{
		log:          log,
		subscription: subscriptionService,
		validate:     validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Оформление подписки
// @Description Создает подписку у провайдера и возвращает client secret платёжного намерения.
// @Tags Subscription
// @Accept  json
// @Produce  json
// @Param request body Request true "Email и способ оплаты"
// @Success 200 {object} map[string]any "Client secret для подтверждения платежа"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 401 {object} response.ErrorResponse "Сессия отсутствует или истекла"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Провайдер недоступен"
// @Router /api/subscription/checkout [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.checkout"

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

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	clientSecret, err := h.subscription.Checkout(r.Context(), user, req.Email, req.PaymentMethodID)
	if err != nil {
		log.Error("failed to create subscription", sl.Err(err),
			slog.String("uid", user.UID))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to create subscription"))
		return
	}

	log.Info("subscription checkout started", slog.String("uid", user.UID))
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"client_secret": clientSecret,
	}))
}
