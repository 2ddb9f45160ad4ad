// Package notify delivers notification emails over SMTP. In-app
// notifications are rows in the store; this is the optional out-of-band
// copy for users who are not watching the dashboard.
package notify

import (
	"context"
	"fmt"
	"net/smtp"

	"caseflow/api/internal/store"
)

// Config holds SMTP configuration.
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Service sends notification emails.
type Service struct {
	config Config
	server string
	auth   smtp.Auth

	// send is swapped out in tests; smtp.SendMail otherwise.
	send func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

func NewService(config Config) *Service {
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   smtp.PlainAuth("", config.Username, config.Password, config.Host),
		send:   smtp.SendMail,
	}
}

// IsConfigured reports whether delivery can work at all.
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

func subjectFor(item store.Notification) string {
	switch item.Type {
	case "assignment":
		return "Your complaint has been assigned"
	case "resolution":
		return "Your complaint has been resolved"
	case "message":
		return "New message on your complaint"
	default:
		return "Your complaint status changed"
	}
}

// SendNotification emails one notification to its recipient.
func (s *Service) SendNotification(ctx context.Context, recipient store.User, item store.Notification) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}
	if recipient.Email == "" {
		return fmt.Errorf("recipient has no email address")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	body := fmt.Sprintf("Hi %s,\r\n\r\n%s\r\n", recipient.Name, item.Message)
	msg := []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		recipient.Email,
		from,
		subjectFor(item),
		body,
	))

	return s.send(s.server, s.auth, s.config.From, []string{recipient.Email}, msg)
}

