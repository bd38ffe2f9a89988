package notification

import (
	"context"
	"errors"
)

// Multi fans an event out to every notifier. Delivery failures on one
// notifier do not stop the others; the joined error is returned.
type Multi []Notifier

// Notify delivers event to every notifier in order
func (m Multi) Notify(ctx context.Context, event TradeEvent) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
