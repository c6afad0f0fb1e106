package connection

import (
	"context"
	"log/slog"

	"github.com/rickgao/relaychat/internal/socketio"
)

// Transport is a live bidirectional link to one relay.
type Transport interface {
	ID() string
	URL() string
	Protocol() string
	Emit(event string, payload any) error
	On(event string, h socketio.Handler)
	Off(event string)
	Connected() bool
	// Done is closed once the transport has permanently stopped.
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, url string, opts socketio.Options) (Transport, error)
}

type socketIODialer struct {
	dialer *socketio.Dialer
}

// NewSocketIODialer returns a Dialer backed by the socketio package.
func NewSocketIODialer(logger *slog.Logger) Dialer {
	return &socketIODialer{dialer: socketio.NewDialer(logger)}
}

func (d *socketIODialer) Dial(ctx context.Context, url string, opts socketio.Options) (Transport, error) {
	c, err := d.dialer.Dial(ctx, url, opts)
	if err != nil {
		return nil, err
	}
	return c, nil
}
