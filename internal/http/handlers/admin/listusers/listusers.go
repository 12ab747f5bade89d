// Package listusers реализует административный HTTP-обработчик списка
// пользователей с постраничной выдачей.
package listusers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/game-showcase/internal/http/response"
	"github.com/magabrotheeeer/game-showcase/internal/lib/sl"
	"github.com/magabrotheeeer/game-showcase/internal/models"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Service описывает выборку пользователей.
type Service interface {
	ListUsers(ctx context.Context, limit, offset int) ([]*models.User, error)
}

// Handler обрабатывает HTTP-запросы списка пользователей.
type Handler struct {
	log   *slog.Logger
	users Service
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, usersService Service) *Handler {
	return &Handler{log: log, users: usersService}
}

// ServeHTTP godoc
// @Summary Список пользователей
// @Description Возвращает страницу пользователей. Доступно только администраторам.
// @Tags Admin
// @Produce  json
// @Param limit query int false "Размер страницы (по умолчанию 50, максимум 200)"
// @Param offset query int false "Смещение"
// @Success 200 {object} map[string]any "Список пользователей"
// @Failure 403 {object} response.ErrorResponse "Недостаточно прав"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Router /api/users [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.listusers"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= maxLimit {
			limit = v
		}
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			offset = v
		}
	}

	users, err := h.users.ListUsers(r.Context(), limit, offset)
	if err != nil {
		log.Error("failed to list users", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	views := make([]models.UserView, 0, len(users))
	for _, u := range users {
		views = append(views, u.View())
	}

	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"users": views,
		"count": len(views),
	}))
}
