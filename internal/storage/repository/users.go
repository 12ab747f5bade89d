package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/magabrotheeeer/game-showcase/internal/models"
)

// userColumns — единый список колонок для выборок пользователя,
// порядок согласован со scanUser.
const userColumns = `uid, username, email, password_hash, role, subscription_status,
			      subscription_id, stripe_customer_id, subscription_start_date,
			      subscription_end_date, total_time_spent, last_login, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	u := &models.User{}
	var email, subscriptionID, customerID sql.NullString
	var startDate, endDate, lastLogin sql.NullTime
	if err := row.Scan(&u.UID, &u.Username, &email, &u.PasswordHash, &u.Role,
		&u.SubscriptionStatus, &subscriptionID, &customerID, &startDate, &endDate,
		&u.TotalTimeSpent, &lastLogin, &u.CreatedAt); err != nil {
		return nil, err
	}
	if email.Valid {
		u.Email = &email.String
	}
	if subscriptionID.Valid {
		u.SubscriptionID = &subscriptionID.String
	}
	if customerID.Valid {
		u.StripeCustomerID = &customerID.String
	}
	if startDate.Valid {
		u.SubscriptionStart = &startDate.Time
	}
	if endDate.Valid {
		u.SubscriptionEnd = &endDate.Time
	}
	if lastLogin.Valid {
		u.LastLogin = &lastLogin.Time
	}
	return u, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// RegisterUser сохраняет нового пользователя в базу данных и возвращает его UID.
// Нарушение уникальности имени или email возвращается как ErrUsernameTaken.
func (s *Storage) RegisterUser(ctx context.Context, user models.User) (string, error) {
	const op = "storage.RegisterUser"
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	var newUID string
	query := `INSERT INTO users (username, email, password_hash, role, subscription_status)
			  VALUES ($1, $2, $3, $4, $5)
			  RETURNING uid;`
	if err := s.DB.QueryRowContext(ctx, query,
		user.Username, user.Email, user.PasswordHash, user.Role,
		user.SubscriptionStatus).Scan(&newUID); err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("%s: %w", op, ErrUsernameTaken)
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return newUID, nil
}

// GetUserByUsername возвращает пользователя по его username.
func (s *Storage) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	const op = "storage.GetUserByUsername"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + userColumns + `
			  FROM users
			  WHERE username = $1`
	u, err := scanUser(s.DB.QueryRowContext(ctx, query, username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// GetUser возвращает пользователя по его UID.
func (s *Storage) GetUser(ctx context.Context, userUID string) (*models.User, error) {
	const op = "storage.GetUser"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + userColumns + `
			  FROM users
			  WHERE uid = $1`
	u, err := scanUser(s.DB.QueryRowContext(ctx, query, userUID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// GetUserByStripeCustomerID возвращает пользователя по идентификатору
// клиента платёжного провайдера. Webhook-события несут только его.
func (s *Storage) GetUserByStripeCustomerID(ctx context.Context, customerID string) (*models.User, error) {
	const op = "storage.GetUserByStripeCustomerID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + userColumns + `
			  FROM users
			  WHERE stripe_customer_id = $1`
	u, err := scanUser(s.DB.QueryRowContext(ctx, query, customerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// SubscriptionUpdate — набор полей, применяемых к пользователю одним
// атомарным UPDATE при синхронизации с платёжным провайдером.
type SubscriptionUpdate struct {
	Status         string
	Role           string
	SubscriptionID *string
	PeriodEnd      *time.Time
}

const subscriptionUpdateSet = `
		      SET subscription_status = $1,
			      role = $2,
			      subscription_id = $3,
			      subscription_end_date = $4,
			      subscription_start_date = CASE
			          WHEN $1 = 'active' AND subscription_start_date IS NULL THEN NOW()
			          ELSE subscription_start_date
			      END`

// UpdateSubscriptionState применяет результат сверки с провайдером одним
// оператором UPDATE ... RETURNING и возвращает обновлённую строку.
func (s *Storage) UpdateSubscriptionState(ctx context.Context, userUID string, upd SubscriptionUpdate) (*models.User, error) {
	const op = "storage.UpdateSubscriptionState"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users` + subscriptionUpdateSet + `
			  WHERE uid = $5
			  RETURNING ` + userColumns
	u, err := scanUser(s.DB.QueryRowContext(ctx, query,
		upd.Status, upd.Role, upd.SubscriptionID, upd.PeriodEnd, userUID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// UpdateSubscriptionStateByCustomer — вариант UpdateSubscriptionState с
// ключом по stripe_customer_id, для webhook-событий без внутреннего UID.
func (s *Storage) UpdateSubscriptionStateByCustomer(ctx context.Context, customerID string, upd SubscriptionUpdate) (*models.User, error) {
	const op = "storage.UpdateSubscriptionStateByCustomer"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users` + subscriptionUpdateSet + `
			  WHERE stripe_customer_id = $5
			  RETURNING ` + userColumns
	u, err := scanUser(s.DB.QueryRowContext(ctx, query,
		upd.Status, upd.Role, upd.SubscriptionID, upd.PeriodEnd, customerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// ClearSubscription деактивирует подписку: статус inactive, переданная роль,
// идентификатор подписки и дата окончания обнуляются. Вызывается, когда
// провайдер сообщает, что подписка больше не существует.
func (s *Storage) ClearSubscription(ctx context.Context, userUID, role string) (*models.User, error) {
	const op = "storage.ClearSubscription"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users
		      SET subscription_status = 'inactive',
			      role = $1,
			      subscription_id = NULL,
			      subscription_end_date = NULL
			  WHERE uid = $2
			  RETURNING ` + userColumns
	u, err := scanUser(s.DB.QueryRowContext(ctx, query, role, userUID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// SetStripeCustomerID привязывает к пользователю клиента платёжного
// провайдера и email, указанный при оплате.
func (s *Storage) SetStripeCustomerID(ctx context.Context, userUID, customerID, email string) error {
	const op = "storage.SetStripeCustomerID"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users
		      SET stripe_customer_id = $1,
			      email = $2
			  WHERE uid = $3`
	if _, err := s.DB.ExecContext(ctx, query, customerID, email, userUID); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, ErrUsernameTaken)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// UpdateLastLogin обновляет отметку последнего входа.
func (s *Storage) UpdateLastLogin(ctx context.Context, userUID string) error {
	const op = "storage.UpdateLastLogin"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users
		      SET last_login = NOW()
			  WHERE uid = $1`
	if _, err := s.DB.ExecContext(ctx, query, userUID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// AddTimeSpent прибавляет прошедшие секунды активности к счётчику пользователя.
func (s *Storage) AddTimeSpent(ctx context.Context, userUID string, seconds int64) error {
	const op = "storage.AddTimeSpent"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users
		      SET total_time_spent = total_time_spent + $1
			  WHERE uid = $2`
	if _, err := s.DB.ExecContext(ctx, query, seconds, userUID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// UpdateRole устанавливает роль пользователя напрямую. Используется
// только административным эндпоинтом, минуя сверку с провайдером.
func (s *Storage) UpdateRole(ctx context.Context, userUID, role string) (int, error) {
	const op = "storage.UpdateRole"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users
		      SET role = $1
			  WHERE uid = $2`
	result, err := s.DB.ExecContext(ctx, query, role, userUID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(rowsAffected), nil
}

// ListUsers возвращает список пользователей с пагинацией.
func (s *Storage) ListUsers(ctx context.Context, limit, offset int) ([]*models.User, error) {
	const op = "storage.ListUsers"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + userColumns + `
			  FROM users
			  ORDER BY created_at DESC
			  LIMIT $1 OFFSET $2`
	rows, err := s.DB.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()
	var result []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, u)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// RemoveUser удаляет пользователя; зависимые сессии каскадируются
// внешним ключом. Возвращает количество удалённых строк.
func (s *Storage) RemoveUser(ctx context.Context, userUID string) (int, error) {
	const op = "storage.RemoveUser"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `DELETE FROM users WHERE uid = $1`
	result, err := s.DB.ExecContext(ctx, query, userUID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(rowsAffected), nil
}

// FindLapsedCanceled находит пользователей, чей льготный период после
// отмены подписки уже истёк, но роль ещё не понижена.
func (s *Storage) FindLapsedCanceled(ctx context.Context, now time.Time) ([]*models.User, error) {
	const op = "storage.FindLapsedCanceled"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + userColumns + `
			  FROM users
		      WHERE subscription_status = 'canceled'
			    AND subscription_end_date < $1
			    AND role = 'subscriber'`
	rows, err := s.DB.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()
	var result []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, u)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
