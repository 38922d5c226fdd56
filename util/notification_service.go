// gateway/util/notification_service.go

package util

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	logger "github.com/lattice-hq/gateway/logging"
)

// NotificationService surfaces operational events that humans should see.
// Today it writes structured log lines; the methods are the seam where a
// pager or chat webhook would be wired in.
type NotificationService struct {
	// You might want to add dependencies here, such as a message queue client
}

func NewNotificationService() *NotificationService {
	return &NotificationService{}
}

// Attach subscribes the notifier to the operational bus topics.
func (n *NotificationService) Attach(bus *EventBus) {
	bus.Subscribe(EventBreakerState, func(ctx context.Context, event Event) error {
		transition, ok := event.Payload.(BreakerTransition)
		if !ok {
			return fmt.Errorf("notifier: unexpected payload %T on %s", event.Payload, event.Type)
		}
		return n.NotifyBreakerTransition(ctx, transition)
	})
	bus.Subscribe(EventSessionEnded, func(ctx context.Context, event Event) error {
		end, ok := event.Payload.(SessionEnd)
		if !ok {
			return fmt.Errorf("notifier: unexpected payload %T on %s", event.Payload, event.Type)
		}
		return n.NotifySessionEnded(ctx, end)
	})
}

// NotifyBreakerTransition reports a circuit state change. An opening breaker
// is the one transition worth waking somebody up for.
func (n *NotificationService) NotifyBreakerTransition(ctx context.Context, transition BreakerTransition) error {
	switch transition.To {
	case "open":
		logger.Warn("NOTIFICATION: Dependency circuit opened",
			zap.String("dependency", transition.Dependency),
			zap.String("from", transition.From))
	case "closed":
		logger.Info("NOTIFICATION: Dependency circuit recovered",
			zap.String("dependency", transition.Dependency),
			zap.String("from", transition.From))
	default:
		logger.Info("NOTIFICATION: Dependency circuit transition",
			zap.String("dependency", transition.Dependency),
			zap.String("from", transition.From),
			zap.String("to", transition.To))
	}
	return nil
}

// NotifySessionEnded reports an explicit logout.
func (n *NotificationService) NotifySessionEnded(ctx context.Context, end SessionEnd) error {
	logger.Info("NOTIFICATION: Session ended",
		zap.String("subjectID", end.SubjectID),
		zap.String("sessionID", end.SessionID),
		zap.String("requestID", end.RequestID))
	return nil
}

// NotifyAdmins broadcasts a free-form operational message.
func (n *NotificationService) NotifyAdmins(ctx context.Context, message string) error {
	// Logic to notify all system administrators
	logger.Info("Notifying admins", zap.String("message", message))
	return nil
}
