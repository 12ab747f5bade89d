// Package auth содержит логику бизнес-уровня регистрации, входа и работы
// с сессиями. При входе до отправки ответа выполняется сверка состояния
// подписки с провайдером, чтобы клиент не увидел устаревшую роль.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/game-showcase/internal/cache"
	"github.com/magabrotheeeer/game-showcase/internal/lib/password"
	"github.com/magabrotheeeer/game-showcase/internal/lib/sl"
	"github.com/magabrotheeeer/game-showcase/internal/models"
	"github.com/magabrotheeeer/game-showcase/internal/storage/repository"
)

// ErrInvalidCredentials возвращается при неверном имени или пароле.
// Пользователю не сообщается, что именно не совпало.
var ErrInvalidCredentials = errors.New("invalid credentials")

// UserRepository описывает контракт для работы с пользователями в базе данных.
type UserRepository interface {
	// RegisterUser сохраняет нового пользователя и возвращает его UID.
	RegisterUser(ctx context.Context, user models.User) (string, error)
	// GetUserByUsername возвращает пользователя по имени или ошибку, если не найден.
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	// UpdateLastLogin обновляет отметку последнего входа.
	UpdateLastLogin(ctx context.Context, userUID string) error
	// AddTimeSpent прибавляет секунды активности к счётчику пользователя.
	AddTimeSpent(ctx context.Context, userUID string, seconds int64) error
}

// SessionRepository описывает контракт для работы с сессиями.
type SessionRepository interface {
	CreateSession(ctx context.Context, session models.Session) error
	PromoteSession(ctx context.Context, token, userUID string, deviceInfo []byte, expiresAt time.Time) error
	GetSessionUser(ctx context.Context, token string) (*models.User, error)
	EndSession(ctx context.Context, token string) error
	TouchSession(ctx context.Context, token string) error
}

// Reconciler сверяет состояние подписки с платёжным провайдером.
type Reconciler interface {
	ReconcileLive(ctx context.Context, user *models.User) (*models.User, error)
}

// Cache описывает методы для кэширования данных.
type Cache interface {
	Get(key string, result any) (bool, error)
	Set(key string, value any, expiration time.Duration) error
	Invalidate(key string) error
}

// AuthService отвечает за регистрацию, вход и разрешение сессий.
type AuthService struct {
	users      UserRepository
	sessions   SessionRepository
	reconciler Reconciler
	cache      Cache
	sessionTTL time.Duration
	log        *slog.Logger
}

// NewAuthService создает новый экземпляр AuthService.
func NewAuthService(users UserRepository, sessions SessionRepository, reconciler Reconciler, c Cache, sessionTTL time.Duration, log *slog.Logger) *AuthService {
	return &AuthService{
		users:      users,
		sessions:   sessions,
		reconciler: reconciler,
		cache:      c,
		sessionTTL: sessionTTL,
		log:        log,
	}
}

// Register создает нового пользователя с хэшированием пароля, дефолтной
// ролью user и без платёжных идентификаторов. Занятое имя возвращается
// как repository.ErrUsernameTaken.
func (s *AuthService) Register(ctx context.Context, username, rawPassword string, email *string) (string, error) {
	hashed, err := password.GetHash(rawPassword)
	if err != nil {
		return "", err
	}
	user := models.User{
		Username:           username,
		Email:              email,
		PasswordHash:       hashed,
		Role:               models.RoleUser,
		SubscriptionStatus: models.StatusInactive,
	}
	return s.users.RegisterUser(ctx, user)
}

// Login проверяет учётные данные, сверяет состояние подписки с провайдером
// и привязывает сессию. Если переданный токен анонимной сессии ещё жив,
// сессия повышается до владельческой, иначе создаётся новая.
//
// Недоступность провайдера не валит вход: возвращается последнее известное
// локальное состояние, ошибка только логируется.
func (s *AuthService) Login(ctx context.Context, username, rawPassword string, device models.DeviceInfo, existingToken string) (*models.User, string, error) {
	const op = "auth.Login"

	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}
	if err := password.CompareHash(user.PasswordHash, rawPassword); err != nil {
		return nil, "", ErrInvalidCredentials
	}

	if err := s.users.UpdateLastLogin(ctx, user.UID); err != nil {
		s.log.Warn("failed to update last login", slog.String("user_uid", user.UID), sl.Err(err))
	}

	if user.StripeCustomerID != nil && user.SubscriptionID != nil {
		updated, err := s.reconciler.ReconcileLive(ctx, user)
		if err != nil {
			s.log.Warn("login-time reconciliation failed, using local state",
				slog.String("user_uid", user.UID), sl.Err(err))
		} else {
			user = updated
		}
	}

	deviceInfo, err := json.Marshal(device)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}
	expiresAt := time.Now().Add(s.sessionTTL)

	token := existingToken
	if token != "" {
		if err := s.sessions.PromoteSession(ctx, token, user.UID, deviceInfo, expiresAt); err != nil {
			if !errors.Is(err, repository.ErrSessionNotFound) {
				return nil, "", fmt.Errorf("%s: %w", op, err)
			}
			token = ""
		}
	}
	if token == "" {
		token = uuid.NewString()
		session := models.Session{
			Token:      token,
			UserUID:    &user.UID,
			DeviceInfo: deviceInfo,
			ExpiresAt:  expiresAt,
		}
		if err := s.sessions.CreateSession(ctx, session); err != nil {
			return nil, "", fmt.Errorf("%s: %w", op, err)
		}
	}
	return user, token, nil
}

// StartAnonymousSession создает сессию без владельца для нового посетителя.
// При входе она повышается до владельческой с тем же токеном.
func (s *AuthService) StartAnonymousSession(ctx context.Context) (string, error) {
	const op = "auth.StartAnonymousSession"
	token := uuid.NewString()
	session := models.Session{
		Token:     token,
		ExpiresAt: time.Now().Add(s.sessionTTL),
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return token, nil
}

// Logout уничтожает сессию и её кешированное разрешение.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	const op = "auth.Logout"
	if err := s.sessions.EndSession(ctx, token); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.cache.Invalidate(cache.SessionKey(token)); err != nil {
		s.log.Warn("failed to invalidate session cache", sl.Err(err))
	}
	return nil
}

// ResolveSession возвращает владельца сессии по токену из cookie.
// Анонимные и просроченные сессии дают repository.ErrSessionNotFound.
// Разрешение кешируется; пути, меняющие роль, инвалидируют ключ
// пользователя, поэтому кеш не переживает сверку.
func (s *AuthService) ResolveSession(ctx context.Context, token string) (*models.User, error) {
	const op = "auth.ResolveSession"

	var userUID string
	if found, err := s.cache.Get(cache.SessionKey(token), &userUID); err == nil && found {
		var user models.User
		if found, err := s.cache.Get(cache.UserKey(userUID), &user); err == nil && found {
			return &user, nil
		}
	}

	user, err := s.sessions.GetSessionUser(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.cache.Set(cache.SessionKey(token), user.UID, 15*time.Minute); err != nil {
		s.log.Warn("failed to cache session", sl.Err(err))
	}
	if err := s.cache.Set(cache.UserKey(user.UID), user, 10*time.Minute); err != nil {
		s.log.Warn("failed to cache user", sl.Err(err))
	}
	return user, nil
}

// RecordActivity прибавляет прошедшие секунды активности пользователю и
// обновляет отметку активности сессии.
func (s *AuthService) RecordActivity(ctx context.Context, userUID, token string, seconds int64) error {
	const op = "auth.RecordActivity"
	if err := s.users.AddTimeSpent(ctx, userUID, seconds); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.sessions.TouchSession(ctx, token); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
