// Package sessioncookie выдаёт и гасит сессионную cookie с едиными
// атрибутами: httpOnly, SameSite=Lax, в production — Secure и общий
// домен для поддоменов.
package sessioncookie

import (
	"net/http"
	"time"

	"github.com/magabrotheeeer/game-showcase/internal/config"
)

// Writer хранит параметры выдаваемой cookie.
type Writer struct {
	name   string
	domain string
	secure bool
	ttl    time.Duration
}

// New создает Writer из конфигурации. secure включается в production.
func New(cfg config.SessionCookie, secure bool) Writer {
	return Writer{
		name:   cfg.CookieName,
		domain: cfg.CookieDomain,
		secure: secure,
		ttl:    cfg.SessionTTL,
	}
}

// Name возвращает имя сессионной cookie.
func (w Writer) Name() string {
	return w.name
}

// Set выдаёт cookie с токеном сессии.
func (w Writer) Set(wr http.ResponseWriter, token string) {
	http.SetCookie(wr, &http.Cookie{
		Name:     w.name,
		Value:    token,
		Path:     "/",
		Domain:   w.domain,
		MaxAge:   int(w.ttl.Seconds()),
		HttpOnly: true,
		Secure:   w.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear гасит cookie при выходе.
func (w Writer) Clear(wr http.ResponseWriter) {
	http.SetCookie(wr, &http.Cookie{
		Name:     w.name,
		Value:    "",
		Path:     "/",
		Domain:   w.domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   w.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
