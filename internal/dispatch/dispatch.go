// Package dispatch renders and transmits delivery units through external
// collaborators. The text renderer and the SMS transport are both black
// boxes behind narrow interfaces.
package dispatch

import (
	"context"
	"fmt"

	"github.com/zulandar/courier/internal/queue"
)

// Renderer produces final message text from a row's structured payload.
// The production implementation lives outside this subsystem.
type Renderer interface {
	RenderText(ctx context.Context, payload string) (string, error)
}

// Sender transmits one SMS to a user. The production implementation wraps
// the SMS provider.
type Sender interface {
	Send(ctx context.Context, userID, text string) error
}

// Dispatcher sends delivery units part by part, strictly in position order.
type Dispatcher struct {
	renderer Renderer
	sender   Sender
}

// New creates a Dispatcher.
func New(renderer Renderer, sender Sender) (*Dispatcher, error) {
	if renderer == nil {
		return nil, fmt.Errorf("dispatch: renderer is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("dispatch: sender is required")
	}
	return &Dispatcher{renderer: renderer, sender: sender}, nil
}

// Dispatch delivers every part of the unit in order. All parts are rendered
// before the first send so a render failure aborts the unit with nothing
// transmitted. A send failure fails the whole unit; the caller leaves every
// row queued and retries the unit on a later tick.
func (d *Dispatcher) Dispatch(ctx context.Context, unit queue.DeliveryUnit) error {
	texts := make([]string, len(unit.Rows))
	for i, row := range unit.Rows {
		if row.FinalText != "" {
			texts[i] = row.FinalText
			continue
		}
		text, err := d.renderer.RenderText(ctx, row.Payload)
		if err != nil {
			return fmt.Errorf("dispatch: render part %d of unit %s: %w", i+1, unit.Key(), err)
		}
		texts[i] = text
	}

	for i, text := range texts {
		if err := d.sender.Send(ctx, unit.UserID(), text); err != nil {
			return fmt.Errorf("dispatch: send part %d of unit %s: %w", i+1, unit.Key(), err)
		}
	}
	return nil
}
