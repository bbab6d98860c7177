package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/StudyPipe/internal/models"
	"github.com/BTreeMap/StudyPipe/internal/phone"
	"github.com/BTreeMap/StudyPipe/internal/twiliowhatsapp"
)

// inbox is the inbound channel shared by the services.
type inbox struct {
	name    string
	ch      chan models.InboundMessage
	mu      sync.RWMutex
	stopped bool
}

func newInbox(name string) *inbox {
	return &inbox{name: name, ch: make(chan models.InboundMessage, DefaultChannelBufferSize)}
}

// emit pushes msg unless the service is stopped or the channel stays full.
func (b *inbox) emit(msg models.InboundMessage) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	tail, _ := phone.Tail(msg.RawPhone)
	if b.stopped {
		slog.Warn("Service.emit: dropping inbound message, service stopped", "service", b.name, "tail", tail)
		return false
	}
	select {
	case b.ch <- msg:
		slog.Debug("Service.emit: inbound message queued", "service", b.name, "tail", tail)
		return true
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("Service.emit: inbound channel blocked, dropping message", "service", b.name, "tail", tail)
		return false
	}
}

// close marks the inbox stopped and closes the channel once.
func (b *inbox) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.stopped = true
	close(b.ch)
}

// TwilioService implements Service over the Twilio REST API. Inbound
// messages arrive through the HTTP webhook, which calls Emit.
type TwilioService struct {
	client twiliowhatsapp.Sender
	*inbox
}

// NewTwilioService creates a TwilioService sending through client.
func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{client: client, inbox: newInbox("twilio")}
}

// Name returns "twilio".
func (s *TwilioService) Name() string { return s.name }

// Start is a no-op; Twilio pushes messages to the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the inbound channel. Emit fails afterwards.
func (s *TwilioService) Stop() error {
	s.close()
	return nil
}

// SendMessage sends a message via Twilio. Stop only closes intake, so replies
// to messages accepted before Stop are still sent.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	return s.client.SendMessage(ctx, to, body)
}

// Emit queues a message parsed from the webhook. It reports whether it was accepted.
func (s *TwilioService) Emit(msg models.InboundMessage) bool {
	return s.emit(msg)
}

// Inbound returns the channel of webhook messages.
func (s *TwilioService) Inbound() <-chan models.InboundMessage {
	return s.ch
}
