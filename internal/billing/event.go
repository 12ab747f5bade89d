package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Типы webhook-событий, которые обрабатывает приложение.
const (
	EventSubscriptionCreated     = "customer.subscription.created"
	EventSubscriptionUpdated     = "customer.subscription.updated"
	EventSubscriptionDeleted     = "customer.subscription.deleted"
	EventInvoicePaymentSucceeded = "invoice.payment_succeeded"
)

// SignatureTolerance — допустимый возраст подписанного события.
// Более старые события отклоняются как возможный replay.
const SignatureTolerance = 5 * time.Minute

// ErrInvalidSignature возвращается при любой проблеме с заголовком
// stripe-signature: неверный формат, расхождение HMAC или устаревший штамп.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Event — конверт webhook-события. Вложенный объект остаётся сырым JSON
// до диспетчеризации по типу события.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// EventPayload — закрытое объединение разобранных событий. Каждый
// обрабатываемый тип события имеет свой вариант; всё остальное попадает
// в IgnoredEvent.
type EventPayload interface {
	eventPayload()
}

// SubscriptionUpserted соответствует customer.subscription.created и
// customer.subscription.updated.
type SubscriptionUpserted struct {
	Subscription Subscription
}

// SubscriptionDeleted соответствует customer.subscription.deleted.
// Объект события несёт последнее состояние удалённой подписки, включая
// конец оплаченного периода.
type SubscriptionDeleted struct {
	Subscription Subscription
}

// InvoicePaid соответствует invoice.payment_succeeded — успешное
// продление подписки.
type InvoicePaid struct {
	Invoice Invoice
}

// IgnoredEvent — событие, которое приложение не обрабатывает.
type IgnoredEvent struct {
	Type string
}

func (SubscriptionUpserted) eventPayload() {}
func (SubscriptionDeleted) eventPayload()  {}
func (InvoicePaid) eventPayload()          {}
func (IgnoredEvent) eventPayload()         {}

// ParseEvent разбирает тело webhook-события в один из вариантов EventPayload.
func ParseEvent(body []byte) (EventPayload, error) {
	const op = "billing.ParseEvent"

	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	switch event.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		var sub Subscription
		if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
			return nil, fmt.Errorf("%s: %s: %w", op, event.Type, err)
		}
		return SubscriptionUpserted{Subscription: sub}, nil
	case EventSubscriptionDeleted:
		var sub Subscription
		if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
			return nil, fmt.Errorf("%s: %s: %w", op, event.Type, err)
		}
		return SubscriptionDeleted{Subscription: sub}, nil
	case EventInvoicePaymentSucceeded:
		var inv Invoice
		if err := json.Unmarshal(event.Data.Object, &inv); err != nil {
			return nil, fmt.Errorf("%s: %s: %w", op, event.Type, err)
		}
		return InvoicePaid{Invoice: inv}, nil
	default:
		return IgnoredEvent{Type: event.Type}, nil
	}
}

// VerifySignature проверяет заголовок stripe-signature для сырого тела
// запроса. Заголовок имеет вид "t=<unix>,v1=<hex>", подписывается строка
// "<t>.<body>" ключом эндпоинта через HMAC-SHA256. Тело обязано быть
// непрочитанным байт-в-байт: любой реэнкодинг JSON ломает подпись.
func VerifySignature(body []byte, header, secret string, now time.Time) error {
	var timestamp int64
	var signatures [][]byte

	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return ErrInvalidSignature
			}
			timestamp = ts
		case "v1":
			sig, err := hex.DecodeString(value)
			if err != nil {
				continue
			}
			signatures = append(signatures, sig)
		}
	}
	if timestamp == 0 || len(signatures) == 0 {
		return ErrInvalidSignature
	}
	if now.Sub(time.Unix(timestamp, 0)) > SignatureTolerance {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := mac.Sum(nil)

	for _, sig := range signatures {
		if hmac.Equal(expected, sig) {
			return nil
		}
	}
	return ErrInvalidSignature
}
