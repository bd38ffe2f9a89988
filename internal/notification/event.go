// Package notification delivers trade events to operators: Telegram chats,
// an SNS topic feeding the trade journal, and the structured log.
package notification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a trade event
type Kind string

const (
	KindDetected Kind = "DETECTED"
	KindBuy      Kind = "BUY"
	KindSell     Kind = "SELL"
	KindFailed   Kind = "FAILED"
)

// Swap statuses carried by BUY/SELL/FAILED events. StatusPending means the
// transaction was sent but no receipt arrived in time.
const (
	StatusConfirmed = "confirmed"
	StatusPending   = "pending"
	StatusReverted  = "reverted"
	StatusCancelled = "cancelled"
)

// TradeEvent is a single notable moment in a token's lifecycle
type TradeEvent struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	Token      string    `json:"token"`
	Symbol     string    `json:"symbol,omitempty"`
	DEX        string    `json:"dex,omitempty"`
	Direction  string    `json:"direction,omitempty"`
	AmountIn   string    `json:"amountIn,omitempty"`
	AmountOut  string    `json:"amountOut,omitempty"`
	TxHash     string    `json:"txHash,omitempty"`
	Status     string    `json:"status,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Priority   string    `json:"priority,omitempty"`
	PnLPercent float64   `json:"pnlPercent,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewEvent creates an event with a fresh id and the current time
func NewEvent(kind Kind, token string) TradeEvent {
	return TradeEvent{
		ID:        uuid.NewString(),
		Kind:      kind,
		Token:     token,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON encodes the event
func (e TradeEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// Notifier delivers trade events
type Notifier interface {
	Notify(ctx context.Context, event TradeEvent) error
}
