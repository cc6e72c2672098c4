package services

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	pkglogger "github.com/BradenHooton/finvault/pkg/logger"
)

// EmailMessage is a rendered email ready to send
type EmailMessage struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Mailer sends a rendered email
type Mailer interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// SESMailer sends emails using AWS SES
type SESMailer struct {
	sesClient   *ses.Client
	fromAddress string
	logger      *slog.Logger
}

func NewSESMailer(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*SESMailer, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESMailer{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		logger:      logger,
	}, nil
}

func (m *SESMailer) Send(ctx context.Context, msg EmailMessage) error {
	input := &ses.SendEmailInput{
		Source: aws.String(m.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")},
				Text: &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")},
			},
		},
	}

	result, err := m.sesClient.SendEmail(ctx, input)
	if err != nil {
		m.logger.Error("failed to send email via SES",
			slog.String("email", pkglogger.SanitizedEmail(msg.To)),
			slog.String("subject", msg.Subject),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	m.logger.Info("email sent",
		slog.String("email", pkglogger.SanitizedEmail(msg.To)),
		slog.String("subject", msg.Subject),
		slog.String("message_id", aws.ToString(result.MessageId)))
	return nil
}

// EmailService renders the login emails
type EmailService struct {
	mailer     Mailer
	appBaseURL string
}

func NewEmailService(mailer Mailer, appBaseURL string) *EmailService {
	return &EmailService{mailer: mailer, appBaseURL: appBaseURL}
}

const emailLayout = `<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
<div style="max-width: 600px; margin: 0 auto; padding: 20px;">
<h1 style="font-size: 20px;">%s</h1>
%s
<p style="color: #666; font-size: 12px; margin-top: 20px; border-top: 1px solid #eee; padding-top: 20px;">This is an automated message from FinVault. Please do not reply to this email.</p>
</div>
</body>
</html>
`

// SendLoginCode emails the one-time code for a pending login
func (s *EmailService) SendLoginCode(ctx context.Context, to, code string, expiresAt time.Time, requestIP string) error {
	return s.mailer.Send(ctx, renderLoginCodeEmail(to, code, expiresAt, requestIP))
}

// SendNewLoginAlert tells the user about a login from an unfamiliar address
func (s *EmailService) SendNewLoginAlert(ctx context.Context, alert NewLoginAlert) error {
	return s.mailer.Send(ctx, renderNewLoginEmail(alert, s.appBaseURL))
}

func renderLoginCodeEmail(to, code string, expiresAt time.Time, requestIP string) EmailMessage {
	expiry := expiresAt.UTC().Format("15:04 MST")
	minutes := int(time.Until(expiresAt).Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}

	body := fmt.Sprintf(`<p>Use this code to finish signing in:</p>
<p style="font-size: 32px; letter-spacing: 6px; font-weight: bold;">%s</p>
<p>The code expires in %d minutes (at %s) and can only be used once.</p>
<p>Requested from IP address <code>%s</code>. If this wasn't you, change your password now.</p>`,
		html.EscapeString(code), minutes, expiry, html.EscapeString(requestIP))

	text := fmt.Sprintf(`Your FinVault sign-in code: %s

The code expires in %d minutes (at %s) and can only be used once.
Requested from IP address %s. If this wasn't you, change your password now.
`, code, minutes, expiry, requestIP)

	return EmailMessage{
		To:      to,
		Subject: "Your FinVault sign-in code",
		HTML:    fmt.Sprintf(emailLayout, "Your sign-in code", body),
		Text:    text,
	}
}

func renderNewLoginEmail(alert NewLoginAlert, appBaseURL string) EmailMessage {
	when := alert.At.UTC().Format(time.RFC1123)
	securityURL := appBaseURL + "/settings/security"

	body := fmt.Sprintf(`<p>Your account was just accessed from a new network.</p>
<ul>
<li>Time: %s</li>
<li>New IP address: <code>%s</code></li>
<li>Previous IP address: <code>%s</code></li>
<li>Device: %s</li>
</ul>
<p>If this was you, no action is needed. Otherwise <a href="%s">review your security settings</a> and change your password.</p>`,
		when,
		html.EscapeString(alert.CurrentIP),
		html.EscapeString(alert.PreviousIP),
		html.EscapeString(alert.UserAgent),
		html.EscapeString(securityURL))

	text := fmt.Sprintf(`Your FinVault account was just accessed from a new network.

Time: %s
New IP address: %s
Previous IP address: %s
Device: %s

If this was you, no action is needed. Otherwise review your security settings at %s and change your password.
`, when, alert.CurrentIP, alert.PreviousIP, alert.UserAgent, securityURL)

	return EmailMessage{
		To:      alert.Email,
		Subject: "New sign-in to your FinVault account",
		HTML:    fmt.Sprintf(emailLayout, "New sign-in detected", body),
		Text:    text,
	}
}
