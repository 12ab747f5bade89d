// Package models содержит доменную модель пользователя системы,
// включающую учётные данные, роль и состояние подписки, зеркалируемое
// из платёжного провайдера. Структуры используются в бизнес‑логике и при
// работе с хранилищем.
package models

import "time"

// Роли пользователей. Роль admin назначается только вручную и никогда
// не изменяется при синхронизации подписки.
const (
	RoleUser       = "user"
	RoleSubscriber = "subscriber"
	RoleAdmin      = "admin"
)

// Внутренние статусы подписки, получаемые отображением статусов Stripe.
const (
	StatusInactive = "inactive"
	StatusPending  = "pending"
	StatusActive   = "active"
	StatusPastDue  = "past_due"
	StatusCanceled = "canceled"
)

// RoleRank возвращает позицию роли в решётке user < subscriber < admin.
// Неизвестная роль получает ранг -1 и не проходит ни одну проверку доступа.
func RoleRank(role string) int {
	switch role {
	case RoleUser:
		return 0
	case RoleSubscriber:
		return 1
	case RoleAdmin:
		return 2
	default:
		return -1
	}
}

// User представляет зарегистрированного пользователя системы.
type User struct {
	UID                string     // Уникальный идентификатор пользователя
	Username           string     // Имя пользователя (уникальное)
	Email              *string    // Электронная почта, может отсутствовать
	PasswordHash       string     // Хэш пароля пользователя
	Role               string     // Роль: user, subscriber или admin
	SubscriptionStatus string     // Внутренний статус подписки
	SubscriptionID     *string    // Идентификатор подписки у провайдера
	StripeCustomerID   *string    // Идентификатор клиента у провайдера
	SubscriptionStart  *time.Time // Дата первой активации подписки
	SubscriptionEnd    *time.Time // Дата окончания оплаченного периода
	TotalTimeSpent     int64      // Накопленное время в секундах
	LastLogin          *time.Time
	CreatedAt          time.Time
}

// View возвращает представление пользователя для ответов API,
// без хэша пароля и идентификаторов провайдера.
func (u *User) View() UserView {
	return UserView{
		ID:                  u.UID,
		Username:            u.Username,
		Email:               u.Email,
		Role:                u.Role,
		SubscriptionStatus:  u.SubscriptionStatus,
		SubscriptionEndDate: u.SubscriptionEnd,
	}
}

// UserView — публичное представление пользователя.
type UserView struct {
	ID                  string     `json:"id"`
	Username            string     `json:"username"`
	Email               *string    `json:"email,omitempty"`
	Role                string     `json:"role"`
	SubscriptionStatus  string     `json:"subscription_status"`
	SubscriptionEndDate *time.Time `json:"subscription_end_date,omitempty"`
}

// EntitlementNotice — сообщение об изменении уровня доступа пользователя,
// публикуемое в очередь уведомлений при смене роли.
type EntitlementNotice struct {
	Email    string     `json:"email"`
	Username string     `json:"username"`
	OldRole  string     `json:"old_role"`
	NewRole  string     `json:"new_role"`
	Status   string     `json:"status"`
	EndDate  *time.Time `json:"end_date,omitempty"`
}
