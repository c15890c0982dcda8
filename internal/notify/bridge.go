package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/alanyoungcy/karb/internal/domain"
)

// eventTitles maps core event types to operator-facing titles. Unknown
// events fall back to the raw type name.
var eventTitles = map[string]string{
	domain.EventOpportunityDetected: "Opportunity detected",
	domain.EventOpportunityMissed:   "Opportunity missed",
	domain.EventExecutionResolved:   "Execution resolved",
	domain.EventUnhedgedPosition:    "UNHEDGED POSITION",
	domain.EventLedgerViolation:     "LEDGER VIOLATION",
	domain.EventMarketSettled:       "Market settled",
}

// Bridge subscribes to the core event channel and forwards events to the
// notifier. High-priority events bypass the per-deployment event filter.
type Bridge struct {
	logger   *slog.Logger
	bus      domain.EventBus
	notifier *Notifier
}

// NewBridge creates a Bridge between the event bus and the notifier.
func NewBridge(logger *slog.Logger, bus domain.EventBus, notifier *Notifier) *Bridge {
	return &Bridge{
		logger:   logger.With(slog.String("component", "notify_bridge")),
		bus:      bus,
		notifier: notifier,
	}
}

// Run consumes events until the context is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	ch, err := b.bus.Subscribe(ctx, domain.EventChannel)
	if err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", domain.EventChannel, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return ctx.Err()
			}
			b.handle(ctx, payload)
		}
	}
}

func (b *Bridge) handle(ctx context.Context, payload []byte) {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		b.logger.Warn("malformed event payload", slog.Any("error", err))
		return
	}

	event, _ := fields["event"].(string)
	if event == "" {
		return
	}
	delete(fields, "event")

	title := eventTitles[event]
	if title == "" {
		title = event
	}
	message := formatFields(fields)

	var err error
	if domain.HighPriority(event) {
		err = b.notifier.NotifyAll(ctx, title, message)
	} else {
		err = b.notifier.Notify(ctx, event, title, message)
	}
	if err != nil {
		b.logger.Error("notification delivery failed",
			slog.String("event", event),
			slog.Any("error", err),
		)
	}
}

// formatFields renders event fields as sorted key: value lines.
func formatFields(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s: %v\n", k, fields[k])
	}
	return strings.TrimRight(sb.String(), "\n")
}
