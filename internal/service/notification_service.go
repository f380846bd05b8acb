package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/issue-bridge/internal/config"
	"github.com/spec-kit/issue-bridge/internal/events"
)

// NotificationService turns bridge events into operator notifications. Delivery channels are
// stubs that only log.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketCreated, n.handleTicketCreated)
	n.dispatcher.Subscribe(events.EventTicketUpdated, n.handleTicketUpdated)
	n.dispatcher.Subscribe(events.EventItemDeadLettered, n.handleDeadLettered)
	n.dispatcher.Subscribe(events.EventTriageQueued, n.handleTriage)
	n.dispatcher.Subscribe(events.EventTriageDecided, n.handleTriage)
	n.dispatcher.Subscribe(events.EventBreakerTripped, n.handleBreaker)
	n.dispatcher.Subscribe(events.EventBreakerReset, n.handleBreaker)
}

func (n *NotificationService) handleTicketCreated(ctx context.Context, event events.Event) error {
	n.logger.Info("TicketCreated", eventFields(event)...)
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) handleTicketUpdated(ctx context.Context, event events.Event) error {
	n.logger.Info("TicketUpdated", eventFields(event)...)
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) handleDeadLettered(ctx context.Context, event events.Event) error {
	n.logger.Warn("QueueItemDeadLettered", eventFields(event)...)
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) handleTriage(ctx context.Context, event events.Event) error {
	n.logger.Info("Triage", eventFields(event)...)
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) handleBreaker(ctx context.Context, event events.Event) error {
	n.logger.Warn("CircuitBreaker", eventFields(event)...)
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) sendWebhookNotificationStub(_ context.Context, event events.Event) {
	if strings.TrimSpace(n.cfg.WebhookURL) == "" {
		return
	}
	n.logger.Debug("sendWebhookNotificationStub",
		zap.String("url", n.cfg.WebhookURL),
		zap.String("tenant_id", event.TenantID),
		zap.String("event_type", string(event.Type)))
}

func eventFields(event events.Event) []zap.Field {
	return []zap.Field{
		zap.String("event_type", string(event.Type)),
		zap.String("tenant_id", event.TenantID),
		zap.String("issue_id", event.IssueID),
		zap.Any("payload", event.Payload),
	}
}
