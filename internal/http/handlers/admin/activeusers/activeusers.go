// Package activeusers реализует административный HTTP-обработчик списка
// пользователей, активных за последние минуты.
package activeusers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/game-showcase/internal/http/response"
	"github.com/magabrotheeeer/game-showcase/internal/lib/sl"
	"github.com/magabrotheeeer/game-showcase/internal/models"
)

const (
	defaultWindowMinutes = 15
	maxWindowMinutes     = 24 * 60
)

// Service описывает выборку активных пользователей.
type Service interface {
	ListActiveUsers(ctx context.Context, since time.Time) ([]*models.ActiveUser, error)
}

// Handler обрабатывает HTTP-запросы активных пользователей.
type Handler struct {
	log   *slog.Logger
	users Service
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, usersService Service) *Handler {
	return &Handler{log: log, users: usersService}
}

// ServeHTTP godoc
// @Summary Активные пользователи
// @Description Возвращает пользователей, активных за окно minutes (по умолчанию 15). Доступно только администраторам.
// @Tags Admin
// @Produce  json
// @Param minutes query int false "Размер окна в минутах"
// @Success 200 {object} map[string]any "Активные пользователи"
// @Failure 403 {object} response.ErrorResponse "Недостаточно прав"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Router /api/active-users [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.activeusers"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	minutes := defaultWindowMinutes
	if raw := r.URL.Query().Get("minutes"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= maxWindowMinutes {
			minutes = v
		}
	}
	since := time.Now().Add(-time.Duration(minutes) * time.Minute)

	users, err := h.users.ListActiveUsers(r.Context(), since)
	if err != nil {
		log.Error("failed to list active users", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"active_users": users,
		"count":        len(users),
	}))
}
