// Package channel defines the contract every chat source implements. The
// coordinator depends only on this interface; concrete platforms live in
// subpackages.
package channel

import (
	"context"
	"errors"

	"github.com/normanking/cortex-attention/internal/chat"
)

// ErrNotConnected is returned by Send when the adapter has no live session.
var ErrNotConnected = errors.New("channel not connected")

// InboundFunc receives messages delivered by an adapter. Adapters call it
// from their own goroutine, in the order the platform delivered them.
type InboundFunc func(msg *chat.Message)

// Adapter is a connection to one external chat source.
type Adapter interface {
	// Connect establishes the session. It must honor ctx for timeouts.
	Connect(ctx context.Context) error

	// Disconnect closes the session.
	Disconnect(ctx context.Context) error

	// Send posts text to the given channel or room of this source.
	Send(ctx context.Context, text, channel string) error

	// RegisterInboundCallback installs the function that receives inbound
	// messages. It is called once, before Connect.
	RegisterInboundCallback(fn InboundFunc)

	// IsConnected reports whether the session is live.
	IsConnected() bool

	// SourceName identifies the source, e.g. "twitch".
	SourceName() string
}
