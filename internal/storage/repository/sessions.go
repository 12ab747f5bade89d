package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/game-showcase/internal/models"
)

// CreateSession сохраняет новую сессию. UserUID == nil означает анонимную
// сессию, создаваемую при первом запросе без cookie.
func (s *Storage) CreateSession(ctx context.Context, session models.Session) error {
	const op = "storage.CreateSession"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO sessions (token, user_uid, device_info, expires_at)
			  VALUES ($1, $2, $3, $4)`
	if _, err := s.DB.ExecContext(ctx, query,
		session.Token, session.UserUID, session.DeviceInfo, session.ExpiresAt); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetSession возвращает непросроченную сессию по токену.
func (s *Storage) GetSession(ctx context.Context, token string) (*models.Session, error) {
	const op = "storage.GetSession"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT token, user_uid, device_info, created_at, last_seen, expires_at
			  FROM sessions
			  WHERE token = $1 AND expires_at > NOW()`
	session := &models.Session{}
	var userUID sql.NullString
	err := s.DB.QueryRowContext(ctx, query, token).Scan(&session.Token, &userUID,
		&session.DeviceInfo, &session.CreatedAt, &session.LastSeen, &session.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if userUID.Valid {
		session.UserUID = &userUID.String
	}
	return session, nil
}

// GetSessionUser возвращает владельца непросроченной сессии. Анонимная
// сессия отображается в ErrSessionNotFound: прав она не даёт.
func (s *Storage) GetSessionUser(ctx context.Context, token string) (*models.User, error) {
	const op = "storage.GetSessionUser"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + userColumns + `
			  FROM users
			  JOIN sessions ON sessions.user_uid = users.uid
			  WHERE sessions.token = $1 AND sessions.expires_at > NOW()`
	u, err := scanUser(s.DB.QueryRowContext(ctx, query, token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// PromoteSession привязывает сессию к пользователю при успешном входе,
// обновляя метаданные устройства и срок жизни.
func (s *Storage) PromoteSession(ctx context.Context, token, userUID string, deviceInfo []byte, expiresAt time.Time) error {
	const op = "storage.PromoteSession"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE sessions
		      SET user_uid = $1,
			      device_info = $2,
			      expires_at = $3,
			      last_seen = NOW()
			  WHERE token = $4`
	result, err := s.DB.ExecContext(ctx, query, userUID, deviceInfo, expiresAt, token)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, ErrSessionNotFound)
	}
	return nil
}

// EndSession уничтожает сессию при выходе пользователя.
func (s *Storage) EndSession(ctx context.Context, token string) error {
	const op = "storage.EndSession"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `DELETE FROM sessions WHERE token = $1`
	if _, err := s.DB.ExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// TouchSession обновляет отметку активности сессии.
func (s *Storage) TouchSession(ctx context.Context, token string) error {
	const op = "storage.TouchSession"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE sessions
		      SET last_seen = NOW()
			  WHERE token = $1`
	if _, err := s.DB.ExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ListActiveUsers возвращает владельцев сессий, активных после since.
func (s *Storage) ListActiveUsers(ctx context.Context, since time.Time) ([]*models.ActiveUser, error) {
	const op = "storage.ListActiveUsers"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT users.username, MAX(sessions.last_seen)
			  FROM sessions
			  JOIN users ON users.uid = sessions.user_uid
		      WHERE sessions.last_seen > $1
		      GROUP BY users.username
			  ORDER BY MAX(sessions.last_seen) DESC`
	rows, err := s.DB.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()
	var result []*models.ActiveUser
	for rows.Next() {
		var au models.ActiveUser
		if err = rows.Scan(&au.Username, &au.LastSeen); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &au)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// DeleteExpiredSessions удаляет просроченные сессии и возвращает их количество.
func (s *Storage) DeleteExpiredSessions(ctx context.Context) (int, error) {
	const op = "storage.DeleteExpiredSessions"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `DELETE FROM sessions WHERE expires_at <= NOW()`
	result, err := s.DB.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(rowsAffected), nil
}
