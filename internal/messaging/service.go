// Package messaging connects chat transports to the conversation router.
package messaging

import (
	"context"
	"time"

	"github.com/BTreeMap/StudyPipe/internal/models"
)

const (
	// DefaultChannelBufferSize is the inbound channel capacity.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds how long an emit waits on a full channel.
	DefaultChannelTimeout = 1 * time.Second
)

// Service defines a pluggable message transport.
type Service interface {
	// Name identifies the transport in logs and metrics.
	Name() string

	// SendMessage sends a text message to a phone number.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g. event listeners).
	Start(ctx context.Context) error

	// Stop stops background processing and closes Inbound. Sending keeps
	// working so messages already taken from Inbound can be answered.
	Stop() error

	// Inbound returns the channel of normalized incoming messages.
	Inbound() <-chan models.InboundMessage
}
