// Package currentuser реализует HTTP-обработчик, возвращающий профиль
// пользователя текущей сессии.
package currentuser

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/game-showcase/internal/http/middlewarectx"
	"github.com/magabrotheeeer/game-showcase/internal/http/response"
)

// Handler обрабатывает HTTP-запросы профиля текущего пользователя.
type Handler struct {
	log *slog.Logger
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger) *Handler {
	return &Handler{log: log}
}

// ServeHTTP godoc
// @Summary Текущий пользователь
// @Description Возвращает профиль пользователя, привязанного к сессии из cookie.
// @Tags Auth
// @Produce  json
// @Success 200 {object} map[string]any "Профиль пользователя"
// @Failure 401 {object} response.ErrorResponse "Сессия отсутствует или истекла"
// @Router /api/auth/current-user [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.currentuser"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	user, ok := middlewarectx.UserFromContext(r.Context())
	if !ok {
		log.Info("no authenticated user in context")
		w.WriteHeader(http.StatusUnauthorized)
		render.JSON(w, r, response.Error("not authenticated"))
		return
	}

	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"user": user.View(),
	}))
}
