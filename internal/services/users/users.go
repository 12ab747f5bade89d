// Package users реализует административные операции над пользователями:
// список, удаление, смена роли и список активных за последние минуты.
package users

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/game-showcase/internal/cache"
	"github.com/magabrotheeeer/game-showcase/internal/lib/sl"
	"github.com/magabrotheeeer/game-showcase/internal/models"
)

// UserRepository — операции с таблицами users и sessions.
type UserRepository interface {
	ListUsers(ctx context.Context, limit, offset int) ([]*models.User, error)
	GetUser(ctx context.Context, uid string) (*models.User, error)
	RemoveUser(ctx context.Context, uid string) (int, error)
	UpdateRole(ctx context.Context, uid, role string) (int, error)
	ListActiveUsers(ctx context.Context, since time.Time) ([]*models.ActiveUser, error)
}

// Cache сбрасывает закэшированных пользователей после изменений.
type Cache interface {
	Invalidate(key string) error
}

// Service выполняет административные операции.
type Service struct {
	repo  UserRepository
	cache Cache
	log   *slog.Logger
}

// New создает Service.
func New(repo UserRepository, cacheClient Cache, log *slog.Logger) *Service {
	return &Service{repo: repo, cache: cacheClient, log: log}
}

// ListUsers возвращает страницу пользователей.
func (s *Service) ListUsers(ctx context.Context, limit, offset int) ([]*models.User, error) {
	const op = "services.users.ListUsers"
	users, err := s.repo.ListUsers(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return users, nil
}

// GetUser возвращает пользователя по uid.
func (s *Service) GetUser(ctx context.Context, uid string) (*models.User, error) {
	const op = "services.users.GetUser"
	user, err := s.repo.GetUser(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

// RemoveUser удаляет пользователя вместе с его сессиями и сбрасывает кэш.
func (s *Service) RemoveUser(ctx context.Context, uid string) (int, error) {
	const op = "services.users.RemoveUser"
	count, err := s.repo.RemoveUser(ctx, uid)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if count > 0 {
		if err := s.cache.Invalidate(cache.UserKey(uid)); err != nil {
			s.log.Warn("failed to invalidate user cache", sl.Err(err),
				slog.String("uid", uid))
		}
	}
	return count, nil
}

// UpdateRole меняет роль пользователя и сбрасывает кэш, чтобы новая роль
// действовала со следующего запроса.
func (s *Service) UpdateRole(ctx context.Context, uid, role string) (int, error) {
	const op = "services.users.UpdateRole"
	count, err := s.repo.UpdateRole(ctx, uid, role)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if count > 0 {
		if err := s.cache.Invalidate(cache.UserKey(uid)); err != nil {
			s.log.Warn("failed to invalidate user cache", sl.Err(err),
				slog.String("uid", uid))
		}
		s.log.Info("updated user role",
			slog.String("uid", uid),
			slog.String("role", role))
	}
	return count, nil
}

// ListActiveUsers возвращает пользователей, активных после момента since.
func (s *Service) ListActiveUsers(ctx context.Context, since time.Time) ([]*models.ActiveUser, error) {
	const op = "services.users.ListActiveUsers"
	users, err := s.repo.ListActiveUsers(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return users, nil
}
