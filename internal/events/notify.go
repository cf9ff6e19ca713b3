package events

import (
	"context"
	"log"

	"trading-botv1/internal/notification"
)

// criticalTypes are forwarded to the notifier.
var criticalTypes = map[EventType]notification.AlertLevel{
	TypeCapitalWarning: notification.AlertWarning,
	TypeAuthBreaker:    notification.AlertCritical,
	TypeEmergency:      notification.AlertCritical,
	TypeShutdown:       notification.AlertInfo,
}

// ForwardAlerts subscribes to the bus and pushes critical events to a
// notifier until ctx is cancelled. Run as a goroutine.
func ForwardAlerts(ctx context.Context, bus *Bus, n notification.Notifier) {
	ch, cancel := bus.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			level, critical := criticalTypes[evt.Type]
			if !critical {
				continue
			}
			alert := notification.Alert{
				Level:   level,
				Title:   string(evt.Type),
				Message: evt.Message,
			}
			if err := n.Send(ctx, alert); err != nil {
				log.Printf("[events] alert delivery failed: %v", err)
			}
		}
	}
}
