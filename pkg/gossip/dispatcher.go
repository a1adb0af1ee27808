package gossip

import (
	"context"
	"net/netip"

	"go.uber.org/zap"
)

// HandlerFunc handles one decoded message received from from.
type HandlerFunc func(ctx context.Context, m *Message, from netip.AddrPort)

// Dispatcher routes decoded messages to the handler registered for their
// action. It holds no protocol state.
type Dispatcher struct {
	handlers map[Action]HandlerFunc
	log      *zap.Logger
}

func NewDispatcher(log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{handlers: make(map[Action]HandlerFunc), log: log}
}

// Handle registers fn for a, replacing any previous handler.
func (d *Dispatcher) Handle(a Action, fn HandlerFunc) {
	d.handlers[a] = fn
}

// Missing returns the actions in want that have no handler.
func (d *Dispatcher) Missing(want ...Action) []Action {
	var out []Action
	for _, a := range want {
		if _, ok := d.handlers[a]; !ok {
			out = append(out, a)
		}
	}
	return out
}

// Route calls the handler for m.Action. Messages without a handler are
// logged and dropped; Route reports whether one ran.
func (d *Dispatcher) Route(ctx context.Context, m *Message, from netip.AddrPort) bool {
	fn, ok := d.handlers[m.Action]
	if !ok {
		d.log.Warn("invalid action type",
			zap.String("action", string(m.Action)),
			zap.Stringer("from", from))
		return false
	}
	fn(ctx, m, from)
	return true
}
