// Package sender отправляет пользователям письма об изменении уровня
// доступа, потребляя сообщения из очереди уведомлений.
package sender

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/magabrotheeeer/game-showcase/internal/lib/sl"
	"github.com/magabrotheeeer/game-showcase/internal/lib/smtp"
	"github.com/magabrotheeeer/game-showcase/internal/models"
)

// SenderService превращает сообщения очереди в письма.
type SenderService struct {
	transport smtp.TransportInterface
	log       *slog.Logger
}

// NewSenderService создает новый экземпляр SenderService.
func NewSenderService(log *slog.Logger, transport smtp.TransportInterface) *SenderService {
	return &SenderService{
		transport: transport,
		log:       log,
	}
}

// SendEntitlementNotice отправляет письмо об изменении уровня доступа.
// Сообщения без email подтверждаются и пропускаются: не у всех
// пользователей он указан.
func (s *SenderService) SendEntitlementNotice(body []byte) error {
	var notice models.EntitlementNotice
	if err := json.Unmarshal(body, &notice); err != nil {
		s.log.Error("failed to unmarshal entitlement notice", sl.Err(err))
		return fmt.Errorf("error unmarshalling message: %w", err)
	}
	if notice.Email == "" {
		s.log.Info("skipping notice without email", slog.String("username", notice.Username))
		return nil
	}

	var subject, bodyText string
	if notice.NewRole == models.RoleSubscriber {
		subject = "Your subscription is active"
		bodyText = fmt.Sprintf("Hi %s!\n\nYour subscription is now active and subscriber content is unlocked.\n\nEnjoy the games!",
			notice.Username)
	} else {
		subject = "Your subscription has ended"
		bodyText = fmt.Sprintf("Hi %s!\n\nYour subscription has ended and subscriber content is no longer available.\nYou can resubscribe at any time from your profile.",
			notice.Username)
	}

	return s.sendEmail([]string{notice.Email}, subject, bodyText)
}

func (s *SenderService) sendEmail(to []string, subject, bodyText string) error {
	msg := strings.Join([]string{
		"From: " + s.transport.GetSMTPUser(),
		"To: " + strings.Join(to, ";"),
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"UTF-8\"",
		"",
		bodyText,
	}, "\r\n")

	client, err := s.transport.Connect()
	if err != nil {
		s.log.Error("failed to connect to SMTP server", sl.Err(err))
		return err
	}
	defer func() {
		if err := client.Quit(); err != nil {
			_ = client.Close()
		}
	}()

	if err := client.Mail(s.transport.GetSMTPUser()); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	for _, addr := range to {
		if err := client.Rcpt(addr); err != nil {
			return fmt.Errorf("failed to set recipient %s: %w", addr, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to open data writer: %w", err)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	s.log.Info("entitlement notice sent", slog.String("to", strings.Join(to, ";")))
	return nil
}
