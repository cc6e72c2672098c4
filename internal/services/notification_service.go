package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NewLoginAlert describes a login from an address the user has not used last time
type NewLoginAlert struct {
	UserID     string
	Email      string
	PreviousIP string
	CurrentIP  string
	UserAgent  string
	At         time.Time
}

// LoginAlertEmailer emails new-login alerts
type LoginAlertEmailer interface {
	SendNewLoginAlert(ctx context.Context, alert NewLoginAlert) error
}

// NotificationService fans a new-login alert out to email and push. Delivery
// runs in the background and failures are only logged.
type NotificationService struct {
	email   LoginAlertEmailer
	push    PushSender
	baseURL string
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewNotificationService builds the notifier; either channel may be nil
func NewNotificationService(email LoginAlertEmailer, push PushSender, appBaseURL string, logger *slog.Logger) *NotificationService {
	return &NotificationService{
		email:   email,
		push:    push,
		baseURL: appBaseURL,
		logger:  logger,
		timeout: 10 * time.Second,
	}
}

// NotifyNewLogin returns immediately
func (n *NotificationService) NotifyNewLogin(ctx context.Context, alert NewLoginAlert) {
	ctx = context.WithoutCancel(ctx)

	if n.email != nil {
		n.dispatch(ctx, "email", func(ctx context.Context) error {
			return n.email.SendNewLoginAlert(ctx, alert)
		})
	}
	if n.push != nil {
		n.dispatch(ctx, "push", func(ctx context.Context) error {
			return n.push.SendPush(ctx, PushMessage{
				UserID: alert.UserID,
				Title:  "New sign-in detected",
				Body:   "Your account was accessed from " + alert.CurrentIP + ". Not you? Change your password.",
				URL:    n.baseURL + "/settings/security",
				Tag:    "new-login-" + uuid.NewString(),
			})
		})
	}
}

func (n *NotificationService) dispatch(ctx context.Context, channel string, send func(context.Context) error) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, n.timeout)
		defer cancel()

		if err := send(ctx); err != nil {
			n.logger.Warn("new login notification failed",
				slog.String("channel", channel),
				slog.Any("error", err))
		}
	}()
}

// Wait blocks until in-flight notifications finish or ctx ends
func (n *NotificationService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
