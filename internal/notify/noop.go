package notify

import (
	"context"

	"github.com/NofaBC/prospector-api/internal/prospector"
)

// Noop discards completion events.
type Noop struct{}

// Notify does nothing.
func (Noop) Notify(context.Context, string, prospector.CompletionEvent) error {
	return nil
}

var _ prospector.Notifier = Noop{}
