package gameshowcase

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/magabrotheeeer/game-showcase/internal/http/handlers/activity/heartbeat"
	"github.com/magabrotheeeer/game-showcase/internal/http/handlers/admin/activeusers"
	"github.com/magabrotheeeer/game-showcase/internal/http/handlers/admin/getuser"
	"github.com/magabrotheeeer/game-showcase/internal/http/handlers/admin/listusers"
	"github.com/magabrotheeeer/game-showcase/internal/http/handlers/admin/removeuser"
	"github.com/magabrotheeeer/game-showcase/internal/http/handlers/admin/updaterole"
	"github.com/magabrotheeeer/game-showcase/internal/http/handlers/auth/currentuser"
	"github.com/magabrotheeeer/game-showcase/internal/http/handlers/auth/login"
	"github.com/magabrotheeeer/game-showcase/internal/http/handlers/auth/logout"
	"github.com/magabrotheeeer/game-showcase/internal/http/handlers/auth/register"
	"github.com/magabrotheeeer/game-showcase/internal/http/handlers/billing/webhook"
	"github.com/magabrotheeeer/game-showcase/internal/http/handlers/subscription/checkout"
	"github.com/magabrotheeeer/game-showcase/internal/http/handlers/subscription/status"
	"github.com/magabrotheeeer/game-showcase/internal/http/middlewarectx"
	"github.com/magabrotheeeer/game-showcase/internal/http/sessioncookie"
	"github.com/magabrotheeeer/game-showcase/internal/models"
	authservice "github.com/magabrotheeeer/game-showcase/internal/services/auth"
	reconcilerservice "github.com/magabrotheeeer/game-showcase/internal/services/reconciler"
	subscriptionservice "github.com/magabrotheeeer/game-showcase/internal/services/subscription"
	usersservice "github.com/magabrotheeeer/game-showcase/internal/services/users"
)

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger,
	authService *authservice.AuthService,
	reconcilerService *reconcilerservice.Service,
	subscriptionService *subscriptionservice.Service,
	usersService *usersservice.Service,
	cookie sessioncookie.Writer,
	webhookSecret string) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)
	r.Route("/api", func(r chi.Router) {
		// Сессии нужны только API: webhook и служебные маршруты
		// не должны заводить анонимные сессии.
		r.Use(middlewarectx.SessionMiddleware(authService, cookie, logger))

		// Открытые конечные точки с ограничением частоты
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.RateLimitMiddleware(logger))
			r.Post("/auth/register", register.New(logger, authService).ServeHTTP)
			r.Post("/auth/login", login.New(logger, authService, cookie).ServeHTTP)
		})
		r.Post("/auth/logout", logout.New(logger, authService, cookie).ServeHTTP)
		r.Get("/auth/current-user", currentuser.New(logger).ServeHTTP)

		// Группа с аутентификацией по сессии
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.RequireAuth(logger))
			r.Get("/subscription/status", status.New(logger, reconcilerService).ServeHTTP)
			r.Post("/subscription/checkout", checkout.New(logger, subscriptionService).ServeHTTP)
			r.Post("/activity/heartbeat", heartbeat.New(logger, authService).ServeHTTP)
		})

		// Административная группа
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.RequireRole(models.RoleAdmin, logger))
			r.Get("/users", listusers.New(logger, usersService).ServeHTTP)
			r.Get("/users/{uid}", getuser.New(logger, usersService).ServeHTTP)
			r.Delete("/users/{uid}", removeuser.New(logger, usersService).ServeHTTP)
			r.Post("/update-role", updaterole.New(logger, usersService).ServeHTTP)
			r.Get("/active-users", activeusers.New(logger, usersService).ServeHTTP)
		})
	})

	// Webhook платёжного провайдера: без аутентификации, сырое тело
	r.Post("/webhook", webhook.New(logger, reconcilerService, webhookSecret).ServeHTTP)

	r.Handle("/metrics", promhttp.Handler())
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
