package domain

import (
	"context"
	"encoding/json"
	"fmt"
)

// EventChannel is the bus channel all structured core events publish to.
const EventChannel = "events"

// Event type names emitted by the core. Downstream consumers (notifier
// bridge, dashboards, persistence) filter on these.
const (
	EventOpportunityDetected = "opportunity_detected"
	EventOpportunityMissed   = "opportunity_missed"
	EventExecutionResolved   = "execution_resolved"
	EventUnhedgedPosition    = "unhedged_position_alert"
	EventLedgerViolation     = "ledger_violation"
	EventMarketSettled       = "market_settled"
)

// HighPriority reports whether an event type must bypass notification
// filtering: unhedged exposure and ledger violations are alerts, not logs.
func HighPriority(event string) bool {
	return event == EventUnhedgedPosition || event == EventLedgerViolation
}

// EventBus is the pub/sub surface the core publishes structured events
// through. Implemented by the Redis signal bus in production and by an
// in-process bus in tests and one-shot modes.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// PublishEvent marshals an event envelope and publishes it on EventChannel.
// A nil bus is a no-op so core components stay usable without wiring.
func PublishEvent(ctx context.Context, bus EventBus, event string, fields map[string]any) error {
	if bus == nil {
		return nil
	}
	payload := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		payload[k] = v
	}
	payload["event"] = event
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", event, err)
	}
	return bus.Publish(ctx, EventChannel, data)
}
