package notify

import (
	"context"
	"errors"
	"time"

	"github.com/HendryAvila/plotline/internal/logging"
)

// Notifier publishes suggestion events on a Bus and forwards whatever the
// bus delivers to the local Hub. It is the dispatch router's Navigator.
type Notifier struct {
	hub *Hub
	bus Bus
	log *logging.Logger
}

// NewNotifier wires hub to bus. A nil bus means a LocalBus.
func NewNotifier(hub *Hub, bus Bus, log *logging.Logger) *Notifier {
	if bus == nil {
		bus = NewLocalBus()
	}
	return &Notifier{hub: hub, bus: bus, log: logging.OrNop(log).Named("notify")}
}

// Start begins forwarding bus events to the hub until ctx ends.
func (n *Notifier) Start(ctx context.Context) error {
	return n.bus.StartForwarder(ctx, n.hub.Broadcast)
}

func (n *Notifier) Hub() *Hub { return n.hub }

// Publish sends ev to its channel's subscribers, on every process
// sharing the bus.
func (n *Notifier) Publish(ctx context.Context, ev Event) error {
	if ev.Channel == "" {
		return errors.New("notify: event has no channel")
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if err := n.bus.Publish(ctx, ev); err != nil {
		n.log.Warn("publishing event failed", "channel", ev.Channel, "event", ev.Type, "error", err)
		return err
	}
	return nil
}

// Navigate tells the session's frontend to open target.
func (n *Notifier) Navigate(ctx context.Context, session, target string, data map[string]any) error {
	payload := map[string]any{"target": target}
	if len(data) > 0 {
		payload["data"] = data
	}
	return n.Publish(ctx, Event{Channel: session, Type: EventNavigation, Data: payload})
}

// SuggestionsChanged announces a fresh suggestion list for session.
func (n *Notifier) SuggestionsChanged(ctx context.Context, session string, payload any) error {
	return n.Publish(ctx, Event{Channel: session, Type: EventSuggestionsChanged, Data: payload})
}

// DispatchCompleted announces a finished confirmation for session.
func (n *Notifier) DispatchCompleted(ctx context.Context, session string, payload any) error {
	return n.Publish(ctx, Event{Channel: session, Type: EventDispatchCompleted, Data: payload})
}

func (n *Notifier) Close() error { return n.bus.Close() }
