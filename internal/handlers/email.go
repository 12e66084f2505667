// Package handlers provides the built-in operations the control loop can
// execute. Each handler implements the business logic for one task type and
// is registered with the loop under that type name.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/nadmax/conductor/internal/resilience"
	"github.com/nadmax/conductor/internal/task"
)

type EmailSender struct {
	client      *sendgrid.Client
	fromName    string
	fromAddress string
}

func NewEmailSender(apiKey, fromName, fromAddress string) *EmailSender {
	return &EmailSender{
		client:      sendgrid.NewSendClient(apiKey),
		fromName:    fromName,
		fromAddress: fromAddress,
	}
}

func (s *EmailSender) SendEmail(ctx context.Context, t *task.Task) error {
	to, ok := t.Payload["to"].(string)
	if !ok {
		return resilience.NewCategoryError(resilience.CategoryValidation, errors.New("missing 'to' field"))
	}

	subject, ok := t.Payload["subject"].(string)
	if !ok {
		return resilience.NewCategoryError(resilience.CategoryValidation, errors.New("missing 'subject' field"))
	}

	body, ok := t.Payload["body"].(string)
	if !ok {
		return resilience.NewCategoryError(resilience.CategoryValidation, errors.New("missing 'body' field"))
	}

	from := mail.NewEmail(s.fromName, s.fromAddress)
	toEmail := mail.NewEmail("", to)
	email := mail.NewSingleEmail(from, subject, toEmail, body, body)

	response, err := s.client.SendWithContext(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	switch {
	case response.StatusCode == 401 || response.StatusCode == 403:
		return resilience.NewCategoryError(resilience.CategoryAuthentication,
			fmt.Errorf("sendgrid rejected credentials: status %d", response.StatusCode))
	case response.StatusCode == 429:
		return resilience.NewCategoryError(resilience.CategoryRateLimit,
			fmt.Errorf("sendgrid throttled: status %d", response.StatusCode))
	case response.StatusCode >= 400:
		return fmt.Errorf("sendgrid error: status %d", response.StatusCode)
	}

	log.Printf("Email sent to %s (status: %d)", to, response.StatusCode)
	return nil
}
