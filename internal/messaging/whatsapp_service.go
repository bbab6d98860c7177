package messaging

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/StudyPipe/internal/models"
	"github.com/BTreeMap/StudyPipe/internal/whatsapp"
)

// messageSource is implemented by clients that deliver inbound events.
type messageSource interface {
	OnMessage(ctx context.Context, fn func(models.InboundMessage)) uint32
	RemoveHandler(id uint32)
}

// WhatsAppService implements Service using the whatsmeow client.
type WhatsAppService struct {
	client    whatsapp.WhatsAppSender
	source    messageSource
	handlerID uint32
	listening bool
	*inbox
}

// NewWhatsAppService wraps client. Inbound events are only delivered when the
// client can register handlers, which the test mock cannot.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	s := &WhatsAppService{client: client, inbox: newInbox("whatsapp")}
	if src, ok := client.(messageSource); ok {
		s.source = src
	} else {
		slog.Debug("WhatsAppService: client delivers no events (likely mock)")
	}
	return s
}

// Name returns "whatsapp".
func (s *WhatsAppService) Name() string { return s.name }

// Start registers the inbound event handler.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.source == nil || s.listening {
		return nil
	}
	s.handlerID = s.source.OnMessage(ctx, func(msg models.InboundMessage) {
		s.emit(msg)
	})
	s.listening = true
	slog.Info("WhatsAppService.Start: event handler registered")
	return nil
}

// Stop unregisters the handler and closes the inbound channel.
func (s *WhatsAppService) Stop() error {
	if s.listening {
		s.source.RemoveHandler(s.handlerID)
		s.listening = false
	}
	s.close()
	slog.Info("WhatsAppService.Stop: stopped")
	return nil
}

// SendMessage sends a text message.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	return s.client.SendMessage(ctx, to, body)
}

// Inbound returns the channel of incoming WhatsApp messages.
func (s *WhatsAppService) Inbound() <-chan models.InboundMessage {
	return s.ch
}
