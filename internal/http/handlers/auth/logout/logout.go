// Package logout реализует HTTP-обработчик выхода пользователя:
// удаление серверной сессии и гашение cookie.
package logout

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/game-showcase/internal/http/middlewarectx"
	"github.com/magabrotheeeer/game-showcase/internal/http/response"
	"github.com/magabrotheeeer/game-showcase/internal/http/sessioncookie"
	"github.com/magabrotheeeer/game-showcase/internal/lib/sl"
)

// Service описывает бизнес-логику выхода.
type Service interface {
	Logout(ctx context.Context, token string) error
}

// Handler обрабатывает HTTP-запросы выхода.
type Handler struct {
	log    *slog.Logger
	auth   Service
	cookie sessioncookie.Writer
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, authService Service, cookie sessioncookie.Writer) *Handler {
	return &Handler{log: log, auth: authService, cookie: cookie}
}

// ServeHTTP godoc
// @Summary Выход пользователя
// @Description Удаляет серверную сессию и гасит cookie. Идемпотентен: без cookie тоже отвечает 200.
// @Tags Auth
// @Produce  json
// @Success 200 {object} response.Response "Выход выполнен"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Router /api/auth/logout [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.logout"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	token, ok := middlewarectx.SessionTokenFromContext(r.Context())
	if ok && token != "" {
		if err := h.auth.Logout(r.Context(), token); err != nil {
			log.Error("failed to end session", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error("internal error"))
			return
		}
	}

	h.cookie.Clear(w)

	log.Info("logout success")
	render.JSON(w, r, response.OK())
}
