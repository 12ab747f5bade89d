// Package login реализует HTTP-обработчик входа пользователя.
//
// Обработчик декодирует и валидирует учетные данные, делегирует вход
// сервису аутентификации и выдаёт httpOnly cookie с токеном сессии.
// Если запрос пришёл с анонимной сессией, она привязывается к пользователю.
package login

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/game-showcase/internal/http/middlewarectx"
	"github.com/magabrotheeeer/game-showcase/internal/http/response"
	"github.com/magabrotheeeer/game-showcase/internal/http/sessioncookie"
	"github.com/magabrotheeeer/game-showcase/internal/lib/sl"
	"github.com/magabrotheeeer/game-showcase/internal/models"
	"github.com/magabrotheeeer/game-showcase/internal/services/auth"
)

// Request — структура входных данных для входа.
type Request struct {
	Username   string            `json:"username" validate:"required,min=3,max=50"`
	Password   string            `json:"password" validate:"required,min=6"`
	DeviceInfo models.DeviceInfo `json:"deviceInfo"`
}

// Service описывает бизнес-логику входа.
type Service interface {
	Login(ctx context.Context, username, rawPassword string,
		device models.DeviceInfo, existingToken string) (*models.User, string, error)
}

// Handler обрабатывает HTTP-запросы входа.
type Handler struct {
	log      *slog.Logger
	auth     Service
	cookie   sessioncookie.Writer
	validate *validator.Validate
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, authService Service, cookie sessioncookie.Writer) *Handler {
	return &Handler{
		log:      log,
		auth:     authService,
		cookie:   cookie,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Вход пользователя
// @Description Проверяет учетные данные, сверяет подписку с провайдером и выдаёт cookie сессии.
// @Tags Auth
// @Accept  json
// @Produce  json
// @Param request body Request true "Учетные данные пользователя"
// @Success 200 {object} map[string]any "Успешный вход"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 401 {object} response.ErrorResponse "Неверные учетные данные"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Router /api/auth/login [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.login"

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

	existingToken, _ := middlewarectx.SessionTokenFromContext(r.Context())

	user, token, err := h.auth.Login(r.Context(), req.Username, req.Password, req.DeviceInfo, existingToken)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			log.Info("invalid credentials", slog.String("username", req.Username))
			w.WriteHeader(http.StatusUnauthorized)
			render.JSON(w, r, response.Error("invalid credentials"))
			return
		}
		log.Error("login failed", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	h.cookie.Set(w, token)

	log.Info("login success",
		slog.String("username", user.Username),
		slog.String("role", user.Role))
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"user": user.View(),
	}))
}
