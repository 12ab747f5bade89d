// Package models содержит доменные структуры сессий браузера.
// Сессия создаётся при первом запросе без валидной cookie, привязывается
// к пользователю при входе и уничтожается при выходе или по истечении срока.
package models

import (
	"encoding/json"
	"time"
)

// Session — серверная запись сессии, идентифицируемая непрозрачным токеном
// из cookie. Сессия без владельца (UserUID == nil) считается анонимной
// и никогда не даёт прав подписчика.
type Session struct {
	Token      string          // Непрозрачный токен из cookie
	UserUID    *string         // Владелец сессии, nil для анонимной
	DeviceInfo json.RawMessage // Метаданные устройства клиента
	CreatedAt  time.Time
	LastSeen   time.Time
	ExpiresAt  time.Time
}

// DeviceInfo — сведения об устройстве, передаваемые клиентом при входе.
type DeviceInfo struct {
	ScreenResolution string `json:"screenResolution"`
	Timezone         string `json:"timezone"`
	Language         string `json:"language"`
	UserAgent        string `json:"userAgent,omitempty"`
}

// ActiveUser — элемент списка активных пользователей для админ-панели.
type ActiveUser struct {
	Username string    `json:"username"`
	LastSeen time.Time `json:"last_seen"`
}
