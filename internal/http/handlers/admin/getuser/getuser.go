// Package getuser реализует административный HTTP-обработчик просмотра
// профиля пользователя по uid.
package getuser

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/magabrotheeeer/game-showcase/internal/http/response"
	"github.com/magabrotheeeer/game-showcase/internal/lib/sl"
	"github.com/magabrotheeeer/game-showcase/internal/models"
	"github.com/magabrotheeeer/game-showcase/internal/storage/repository"
)

// Service описывает выборку пользователя.
type Service interface {
	GetUser(ctx context.Context, uid string) (*models.User, error)
}

// Handler обрабатывает HTTP-запросы просмотра пользователя.
type Handler struct {
	log   *slog.Logger
	users Service
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, usersService Service) *Handler {
	return &Handler{log: log, users: usersService}
}

// ServeHTTP godoc
// @Summary Профиль пользователя
// @Description Возвращает профиль пользователя по uid. Доступно только администраторам.
// @Tags Admin
// @Produce  json
// @Param uid path string true "UID пользователя"
// @Success 200 {object} map[string]any "Профиль пользователя"
// @Failure 400 {object} response.ErrorResponse "Некорректный UID"
// @Failure 403 {object} response.ErrorResponse "Недостаточно прав"
// @Failure 404 {object} response.ErrorResponse "Пользователь не найден"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Router /api/users/{uid} [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.getuser"

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

	user, err := h.users.GetUser(r.Context(), uid)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error("user not found"))
			return
		}
		log.Error("failed to get user", sl.Err(err), slog.String("uid", uid))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"user": user.View(),
	}))
}
