package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/tour-auth-service/internal/events"
	"github.com/spec-kit/tour-auth-service/internal/mail"
)

// NotificationService sends fire-and-forget mail for auth lifecycle events.
// Delivery here never fails a request; the synchronous sends with rollback
// semantics live in AuthService.
type NotificationService struct {
	dispatcher events.Dispatcher
	mailer     mail.Mailer
	logger     *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, mailer mail.Mailer, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		mailer:     mailer,
		logger:     logger,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventUserSignedUp, n.handleUserSignedUp)
	n.dispatcher.Subscribe(events.EventUserVerified, n.handleUserVerified)
	n.dispatcher.Subscribe(events.EventPasswordChanged, n.handlePasswordChanged)
}

func (n *NotificationService) handleUserSignedUp(_ context.Context, event events.Event) error {
	n.logger.Info("UserSignedUp", zap.String("user_id", event.UserID))
	return nil
}

func (n *NotificationService) handleUserVerified(ctx context.Context, event events.Event) error {
	n.logger.Info("UserVerified", zap.String("user_id", event.UserID))
	msg := mail.Message{
		To:      event.Email,
		Subject: "Welcome aboard!",
		Body:    fmt.Sprintf("Hi %s,\n\nYour email address is verified. You can now log in.\n", event.Name),
	}
	if err := n.mailer.Send(ctx, msg); err != nil {
		n.logger.Warn("welcome mail failed", zap.Error(err))
	}
	return nil
}

func (n *NotificationService) handlePasswordChanged(ctx context.Context, event events.Event) error {
	n.logger.Info("PasswordChanged", zap.String("user_id", event.UserID))
	msg := mail.Message{
		To:      event.Email,
		Subject: "Your password was changed",
		Body:    fmt.Sprintf("Hi %s,\n\nYour password was just changed. If this wasn't you, reset it immediately.\n", event.Name),
	}
	if err := n.mailer.Send(ctx, msg); err != nil {
		n.logger.Warn("password change notice failed", zap.Error(err))
	}
	return nil
}
