// Package middlewarectx содержит HTTP middleware для разрешения сессий
// и проверки прав доступа.
//
// SessionMiddleware читает сессионную cookie и, если сессия привязана к
// пользователю, кладёт его в контекст запроса. RequireAuth и RequireRole
// отклоняют запросы без аутентификации или с недостаточной ролью.
package middlewarectx

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/game-showcase/internal/http/response"
	"github.com/magabrotheeeer/game-showcase/internal/http/sessioncookie"
	"github.com/magabrotheeeer/game-showcase/internal/lib/sl"
	"github.com/magabrotheeeer/game-showcase/internal/models"
)

// Key тип для ключей контекста HTTP-запроса.
type Key string

const (
	// CtxUser — ключ для пользователя в контексте.
	CtxUser Key = "user"
	// CtxSessionToken — ключ для токена сессии в контексте.
	CtxSessionToken Key = "session_token"
)

// SessionResolver разрешает токен сессии во владельца и заводит
// анонимные сессии для новых посетителей.
type SessionResolver interface {
	ResolveSession(ctx context.Context, token string) (*models.User, error)
	StartAnonymousSession(ctx context.Context) (string, error)
}

// UserFromContext возвращает пользователя, положенного SessionMiddleware.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(CtxUser).(*models.User)
	return user, ok
}

// SessionTokenFromContext возвращает токен сессии текущего запроса.
func SessionTokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(CtxSessionToken).(string)
	return token, ok && token != ""
}

// SessionMiddleware возвращает middleware, разрешающее сессионную cookie.
//
// Первый запрос без cookie получает анонимную сессию и Set-Cookie с её
// токеном. Запрос с анонимной или просроченной сессией проходит дальше
// без пользователя в контексте: решение об отказе принимают RequireAuth
// и RequireRole.
func SessionMiddleware(resolver SessionResolver, cookie sessioncookie.Writer, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, err := r.Cookie(cookie.Name())
			if err != nil || c.Value == "" {
				token, err := resolver.StartAnonymousSession(r.Context())
				if err != nil {
					log.Warn("failed to start anonymous session", sl.Err(err))
					next.ServeHTTP(w, r)
					return
				}
				cookie.Set(w, token)
				ctx := context.WithValue(r.Context(), CtxSessionToken, token)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			ctx := context.WithValue(r.Context(), CtxSessionToken, c.Value)

			user, err := resolver.ResolveSession(ctx, c.Value)
			if err != nil {
				log.Debug("session resolution failed", sl.Err(err))
			} else {
				ctx = context.WithValue(ctx, CtxUser, user)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth возвращает middleware, пропускающее только запросы с
// сессией, привязанной к пользователю.
func RequireAuth(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.RequireAuth"

			if _, ok := UserFromContext(r.Context()); !ok {
				log.Error("unauthenticated request rejected",
					slog.String("op", op),
					slog.String("request_id", middleware.GetReqID(r.Context())))
				w.WriteHeader(http.StatusUnauthorized)
				render.JSON(w, r, response.Error("not authenticated"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole возвращает middleware, требующее роль не ниже заданной в
// решётке user < subscriber < admin. Администратор проходит любую
// проверку: бэкенд и фронтенд обязаны считать доступ одинаково.
func RequireRole(role string, log *slog.Logger) func(http.Handler) http.Handler {
	required := models.RoleRank(role)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.RequireRole"

			user, ok := UserFromContext(r.Context())
			if !ok {
				w.WriteHeader(http.StatusUnauthorized)
				render.JSON(w, r, response.Error("not authenticated"))
				return
			}
			if models.RoleRank(user.Role) < required {
				log.Error("insufficient role",
					slog.String("op", op),
					slog.String("required", role),
					slog.String("actual", user.Role))
				w.WriteHeader(http.StatusForbidden)
				render.JSON(w, r, response.Error("insufficient permissions"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
