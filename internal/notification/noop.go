package notification

import (
	"context"

	"github.com/Prosniperv2/V2.0/internal/platform/observability"
)

// LogNotifier writes events to the log instead of delivering them.
// Used when neither Telegram nor SNS is configured, and alongside them.
type LogNotifier struct {
	logger *observability.Logger
}

// NewLogNotifier creates a notifier that only logs events
func NewLogNotifier(logger *observability.Logger) *LogNotifier {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &LogNotifier{logger: logger.Named("trade-events")}
}

// Notify logs event
func (n *LogNotifier) Notify(ctx context.Context, event TradeEvent) error {
	n.logger.LogInfo(ctx, "trade event",
		"event_id", event.ID,
		"kind", string(event.Kind),
		"token", event.Token,
		"symbol", event.Symbol,
		"dex", event.DEX,
		"direction", event.Direction,
		"amount_in", event.AmountIn,
		"tx_hash", event.TxHash,
		"status", event.Status,
		"reason", event.Reason,
	)
	return nil
}

// Nop discards events
type Nop struct{}

// Notify does nothing
func (Nop) Notify(context.Context, TradeEvent) error { return nil }
