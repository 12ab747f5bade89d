// Package billing реализует тонкий клиент Stripe API и разбор его
// webhook-событий. Пакет знает только статусы и объекты провайдера;
// отображение на внутренние роли и статусы выполняет сервис reconciler.
package billing

import "fmt"

// Статусы подписки, которые сообщает Stripe.
const (
	SubscriptionActive            = "active"
	SubscriptionTrialing          = "trialing"
	SubscriptionPastDue           = "past_due"
	SubscriptionCanceled          = "canceled"
	SubscriptionUnpaid            = "unpaid"
	SubscriptionIncomplete        = "incomplete"
	SubscriptionIncompleteExpired = "incomplete_expired"
)

// Subscription представляет подписку, полученную из API или webhook-события.
// Границы периода приходят в секундах Unix-времени.
type Subscription struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	Customer           string `json:"customer"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	LatestInvoice      *struct {
		ID            string `json:"id"`
		PaymentIntent *struct {
			ClientSecret string `json:"client_secret"`
		} `json:"payment_intent"`
	} `json:"latest_invoice,omitempty"`
}

// Customer представляет клиента Stripe.
type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Invoice представляет счёт из события invoice.payment_succeeded.
type Invoice struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	PeriodStart  int64  `json:"period_start"`
	PeriodEnd    int64  `json:"period_end"`
}

// Error — типизированная ошибка Stripe API.
type Error struct {
	Type       string `json:"type"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("stripe: %s (type=%s, code=%s, http=%d)", e.Message, e.Type, e.Code, e.StatusCode)
}

// IsResourceMissing сообщает, что провайдер больше не знает запрошенный
// объект. Для подписки это однозначный сигнал деактивировать её локально.
func (e *Error) IsResourceMissing() bool {
	return e.Code == "resource_missing"
}

// apiErrorBody — обёртка, в которой Stripe возвращает ошибки.
type apiErrorBody struct {
	Error Error `json:"error"`
}
