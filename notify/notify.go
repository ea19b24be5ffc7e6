// Package notify builds notification payloads for lifecycle events and hands
// them to a Sender. Formatting and dispatch (SMTP, push) live behind the
// Sender; this package only decides who is told what.
package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"intakeflow/form"
)

const (
	// TemplateConfirmationLink goes to the client after a form is created or
	// its token renewed.
	TemplateConfirmationLink = "confirmation_link"
	// TemplateFormConfirmed goes to the responsible agent after the client
	// accepts.
	TemplateFormConfirmed = "form_confirmed"
)

// Message is a template name plus structured data. Senders render it however
// they like.
type Message struct {
	Template  string
	Recipient string
	Data      map[string]any
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Service builds and sends the lifecycle notifications. Implements the
// confirmation flow's Notifier.
type Service struct {
	sender  Sender
	baseURL string
	logger  *zap.Logger
}

func NewService(sender Sender, baseURL string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{sender: sender, baseURL: baseURL, logger: logger}
}

// ConfirmationLink tells the client where to review and accept their
// application. recipient is the client's email, resolved by the caller.
func (s *Service) ConfirmationLink(ctx context.Context, f form.Form, recipient, token string, expiresAt time.Time) error {
	msg := Message{
		Template:  TemplateConfirmationLink,
		Recipient: recipient,
		Data: map[string]any{
			"form_id":    f.ID,
			"agent_name": f.AgentName,
			"link":       fmt.Sprintf("%s/confirm/%s", s.baseURL, token),
			"expires_at": expiresAt.UTC(),
		},
	}
	if err := s.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: confirmation link: %w", err)
	}
	return nil
}

// FormConfirmed tells the responsible agent the client accepted.
func (s *Service) FormConfirmed(ctx context.Context, f form.Form) error {
	data := map[string]any{
		"form_id":   f.ID,
		"client_id": f.ClientID,
	}
	if f.ConfirmedAt != nil {
		data["confirmed_at"] = f.ConfirmedAt.UTC()
	}
	msg := Message{
		Template:  TemplateFormConfirmed,
		Recipient: f.AgentID,
		Data:      data,
	}
	if err := s.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: form confirmed: %w", err)
	}
	return nil
}

// LogSender writes notifications to the log instead of dispatching them.
// Used until a real mail sender is wired in deployments.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

func (l *LogSender) Send(ctx context.Context, msg Message) error {
	l.logger.Info("notification",
		zap.String("template", msg.Template),
		zap.String("recipient", msg.Recipient),
		zap.Any("data", msg.Data))
	return nil
}
