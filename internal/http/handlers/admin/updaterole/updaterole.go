// Package updaterole реализует административный HTTP-обработчик смены
// роли пользователя.
package updaterole

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/game-showcase/internal/http/response"
	"github.com/magabrotheeeer/game-showcase/internal/lib/sl"
)

// Request — структура входных данных для смены роли.
type Request struct {
	UserUID string `json:"user_uid" validate:"required,uuid"`
	Role    string `json:"role" validate:"required,oneof=user subscriber admin"`
}

// Service описывает смену роли пользователя.
type Service interface {
	UpdateRole(ctx context.Context, uid, role string) (int, error)
}

// Handler обрабатывает HTTP-запросы смены роли.
type Handler struct {
	log      *slog.Logger
	users    Service
	validate *validator.Validate
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, usersService Service) *Handler {
	return &Handler{
		log:      log,
		users:    usersService,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Смена роли пользователя
// @Description Назначает пользователю роль user, subscriber или admin. Доступно только администраторам.
// @Tags Admin
// @Accept  json
// @Produce  json
// @Param request body Request true "UID пользователя и новая роль"
// @Success 200 {object} response.Response "Роль обновлена"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 403 {object} response.ErrorResponse "Недостаточно прав"
// @Failure 404 {object} response.ErrorResponse "Пользователь не найден"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Router /api/update-role [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.updaterole"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

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

	count, err := h.users.UpdateRole(r.Context(), req.UserUID, req.Role)
	if err != nil {
		log.Error("failed to update role", sl.Err(err),
			slog.String("uid", req.UserUID))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}
	if count == 0 {
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, response.Error("user not found"))
		return
	}

	log.Info("role updated",
		slog.String("uid", req.UserUID),
		slog.String("role", req.Role))
	render.JSON(w, r, response.OK())
}
