package delivery

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/ErlanBelekov/df-notifier/internal/domain"
	"github.com/resend/resend-go/v2"
)

// EmailPlatform is the Target.Platform routed to email. Target.ID is the address.
const EmailPlatform = "email"

const emailSubject = "Game notification"

// Email delivers messages through the Resend API.
type Email struct {
	client *resend.Client
	from   string
}

func NewEmail(apiKey, from string) *Email {
	return &Email{client: resend.NewClient(apiKey), from: from}
}

func (e *Email) Deliver(ctx context.Context, target domain.Target, msg domain.Message) error {
	if !strings.Contains(target.ID, "@") {
		return fmt.Errorf("%w: not an email address %q", domain.ErrInvalidTarget, target.ID)
	}

	params := &resend.SendEmailRequest{
		From:    e.from,
		To:      []string{target.ID},
		Subject: emailSubject,
		Html:    emailBody(msg.Text),
	}
	if len(msg.Image) > 0 {
		params.Attachments = []*resend.Attachment{{Content: msg.Image, Filename: "notification.png"}}
	}

	if _, err := e.client.Emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

func emailBody(text string) string {
	return "<p>" + strings.ReplaceAll(html.EscapeString(text), "\n", "<br>") + "</p>"
}
