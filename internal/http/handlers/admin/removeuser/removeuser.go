// Package removeuser реализует административный HTTP-обработчик удаления
// пользователя вместе с его сессиями.
package removeuser

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/magabrotheeeer/game-showcase/internal/http/response"
	"github.com/magabrotheeeer/game-showcase/internal/lib/sl"
)

// Service описывает удаление пользователя.
type Service interface {
	RemoveUser(ctx context.Context, uid string) (int, error)
}

// Handler обрабатывает HTTP-запросы удаления пользователя.
type Handler struct {
	log   *slog.Logger
	users Service
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, usersService Service) *Handler {
	return &Handler{log: log, users: usersService}
}

// ServeHTTP godoc
// @Summary Удаление пользователя
// @Description Удаляет пользователя и все его сессии. Доступно только администраторам.
// @Tags Admin
// @Produce  json
// @Param uid path string true "UID пользователя"
// @Success 200 {object} response.Response "Пользователь удалён"
// @Failure 400 {object} response.ErrorResponse "Некорректный UID"
// @Failure 403 {object} response.ErrorResponse "Недостаточно прав"
// @Failure 404 {object} response.ErrorResponse "Пользователь не найден"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Router /api/users/{uid} [delete]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.removeuser"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	uid := chi.URLParam(r, "uid")
	if _, err := uuid.Parse(uid); err != nil {
		log.Error("invalid user uid", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid user uid"))
		return
	}

	count, err := h.users.RemoveUser(r.Context(), uid)
	if err != nil {
		log.Error("failed to remove user", sl.Err(err), slog.String("uid", uid))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}
	if count == 0 {
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, response.Error("user not found"))
		return
	}

	log.Info("user removed", slog.String("uid", uid))
	render.JSON(w, r, response.OK())
}
