package middlewarectx_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/game-showcase/internal/config"
	"github.com/magabrotheeeer/game-showcase/internal/http/middlewarectx"
	"github.com/magabrotheeeer/game-showcase/internal/http/sessioncookie"
	"github.com/magabrotheeeer/game-showcase/internal/models"
	"github.com/magabrotheeeer/game-showcase/internal/storage/repository"
)

type SessionResolverMock struct {
	mock.Mock
}

func (m *SessionResolverMock) ResolveSession(ctx context.Context, token string) (*models.User, error) {
	args := m.Called(ctx, token)
	user, _ := args.Get(0).(*models.User)
	return user, args.Error(1)
}

func (m *SessionResolverMock) StartAnonymousSession(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func testCookieWriter() sessioncookie.Writer {
	return sessioncookie.New(config.SessionCookie{CookieName: "sid", SessionTTL: 720 * time.Hour}, false)
}

func TestSessionMiddleware(t *testing.T) {
	tests := []struct {
		name          string
		cookie        *http.Cookie
		setupMocks    func(*SessionResolverMock)
		wantUser      bool
		wantToken     string
		wantSetCookie bool
	}{
		{
			name: "no cookie starts anonymous session",
			setupMocks: func(resolver *SessionResolverMock) {
				resolver.On("StartAnonymousSession", mock.Anything).
					Return("fresh-token", nil).Once()
			},
			wantToken:     "fresh-token",
			wantSetCookie: true,
		},
		{
			name: "storage failure passes through without session",
			setupMocks: func(resolver *SessionResolverMock) {
				resolver.On("StartAnonymousSession", mock.Anything).
					Return("", assert.AnError).Once()
			},
		},
		{
			name:   "owned session puts user in context",
			cookie: &http.Cookie{Name: "sid", Value: "token-1"},
			setupMocks: func(resolver *SessionResolverMock) {
				resolver.On("ResolveSession", mock.Anything, "token-1").
					Return(&models.User{UID: "uid-1", Role: models.RoleUser}, nil).Once()
			},
			wantUser:  true,
			wantToken: "token-1",
		},
		{
			name:   "anonymous session passes through with token only",
			cookie: &http.Cookie{Name: "sid", Value: "anon-token"},
			setupMocks: func(resolver *SessionResolverMock) {
				resolver.On("ResolveSession", mock.Anything, "anon-token").
					Return(nil, repository.ErrSessionNotFound).Once()
			},
			wantToken: "anon-token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := new(SessionResolverMock)
			tt.setupMocks(resolver)

			var gotUser *models.User
			var gotUserOK bool
			var gotToken string
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotUser, gotUserOK = middlewarectx.UserFromContext(r.Context())
				gotToken, _ = middlewarectx.SessionTokenFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			})
			mw := middlewarectx.SessionMiddleware(resolver, testCookieWriter(), newNoopLogger())(next)

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			rr := httptest.NewRecorder()
			mw.ServeHTTP(rr, req)

			assert.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, tt.wantUser, gotUserOK)
			if tt.wantUser {
				assert.Equal(t, "uid-1", gotUser.UID)
			}
			assert.Equal(t, tt.wantToken, gotToken)
			cookies := rr.Result().Cookies()
			if tt.wantSetCookie {
				require.Len(t, cookies, 1)
				assert.Equal(t, "sid", cookies[0].Name)
				assert.Equal(t, "fresh-token", cookies[0].Value)
			} else {
				assert.Empty(t, cookies)
			}
			resolver.AssertExpectations(t)
		})
	}
}

func TestRequireAuth(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mw := middlewarectx.RequireAuth(newNoopLogger())(next)

	t.Run("without user", func(t *testing.T) {
		rr := httptest.NewRecorder()
		mw.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("with user", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		ctx := context.WithValue(req.Context(), middlewarectx.CtxUser, &models.User{UID: "uid-1"})
		rr := httptest.NewRecorder()
		mw.ServeHTTP(rr, req.WithContext(ctx))
		assert.Equal(t, http.StatusOK, rr.Code)
	})
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name         string
		requiredRole string
		userRole     string
		wantStatus   int
	}{
		{"user passes user check", models.RoleUser, models.RoleUser, http.StatusOK},
		{"user fails subscriber check", models.RoleSubscriber, models.RoleUser, http.StatusForbidden},
		{"subscriber passes subscriber check", models.RoleSubscriber, models.RoleSubscriber, http.StatusOK},
		{"subscriber fails admin check", models.RoleAdmin, models.RoleSubscriber, http.StatusForbidden},
		{"admin passes subscriber check", models.RoleSubscriber, models.RoleAdmin, http.StatusOK},
		{"admin passes admin check", models.RoleAdmin, models.RoleAdmin, http.StatusOK},
		{"unknown role fails every check", models.RoleUser, "editor", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
			mw := middlewarectx.RequireRole(tt.requiredRole, newNoopLogger())(next)

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			ctx := context.WithValue(req.Context(), middlewarectx.CtxUser,
				&models.User{UID: "uid-1", Role: tt.userRole})
			rr := httptest.NewRecorder()
			mw.ServeHTTP(rr, req.WithContext(ctx))

			assert.Equal(t, tt.wantStatus, rr.Code)
		})
	}

	t.Run("without user", func(t *testing.T) {
		mw := middlewarectx.RequireRole(models.RoleAdmin, newNoopLogger())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		rr := httptest.NewRecorder()
		mw.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}
