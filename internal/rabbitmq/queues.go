package rabbitmq

// NotificationsExchange — exchange для писем об изменении доступа.
const NotificationsExchange = "notifications"

// Маршрутные ключи событий уведомлений.
const (
	RoutingKeyEntitlement = "entitlement"
)

// QueueConfig описывает очередь и её маршрутный ключ.
type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// GetNotificationQueues возвращает конфигурацию очередей уведомлений.
func GetNotificationQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: "entitlement-events", RoutingKey: RoutingKeyEntitlement},
	}
}
