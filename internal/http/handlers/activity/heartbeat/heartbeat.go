// Package heartbeat реализует HTTP-обработчик учёта времени на сайте.
// Фронтенд периодически шлёт прошедшие секунды; сервер накапливает их
// в профиле пользователя и продлевает отметку активности сессии.
package heartbeat

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
)

// Request — структура входных данных heartbeat.
//
// Seconds ограничен сверху, чтобы один запрос не мог накрутить счётчик.
type Request struct {
	Seconds int64 `json:"seconds" validate:"required,gt=0,lte=300"`
}

// Service описывает учёт активности пользователя.
type Service interface {
	RecordActivity(ctx context.Context, userUID, token string, seconds int64) error
}

// Handler обрабатывает HTTP-запросы heartbeat.
type Handler struct {
	log      *slog.Logger
	activity Service
	validate *validator.Validate
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, activityService Service) *Handler {
	return &Handler{
		log:      log,
		activity: activityService,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Учёт времени на сайте
// @Description Прибавляет прошедшие секунды к счётчику пользователя и продлевает сессию.
// @Tags Activity
// @Accept  json
// @Produce  json
// @Param request body Request true "Секунды с прошлого heartbeat"
// @Success 200 {object} response.Response "Время учтено"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 401 {object} response.ErrorResponse "Сессия отсутствует или истекла"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Router /api/activity/heartbeat [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.activity.heartbeat"

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
	token, _ := middlewarectx.SessionTokenFromContext(r.Context())

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

	if err := h.activity.RecordActivity(r.Context(), user.UID, token, req.Seconds); err != nil {
		log.Error("failed to record activity", sl.Err(err),
			slog.String("uid", user.UID))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	render.JSON(w, r, response.OK())
}
