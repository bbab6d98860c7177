package messaging

import (
	"context"
	"testing"

	"github.com/BTreeMap/StudyPipe/internal/models"
	"github.com/BTreeMap/StudyPipe/internal/whatsapp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEventClient stands in for the whatsmeow client.
type fakeEventClient struct {
	whatsapp.MockClient
	handler func(models.InboundMessage)
	removed bool
}

func (f *fakeEventClient) OnMessage(ctx context.Context, fn func(models.InboundMessage)) uint32 {
	f.handler = fn
	return 7
}

func (f *fakeEventClient) RemoveHandler(id uint32) {
	f.removed = id == 7
}

func TestWhatsAppService_ImplementsService(t *testing.T) {
	var _ Service = (*WhatsAppService)(nil)
	var _ Service = (*TwilioService)(nil)
}

func TestWhatsAppService_SendMessage(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mockClient)

	require.NoError(t, svc.SendMessage(context.Background(), "+393331234567", "ciao"))
	assert.Equal(t, []string{"+393331234567: ciao"}, mockClient.Sent)
}

func TestWhatsAppService_EventsReachInbound(t *testing.T) {
	client := &fakeEventClient{}
	svc := NewWhatsAppService(client)
	require.NoError(t, svc.Start(context.Background()))
	require.NotNil(t, client.handler)

	client.handler(models.InboundMessage{RawPhone: "+393331234567", MessageText: "ciao"})
	got := <-svc.Inbound()
	assert.Equal(t, "ciao", got.MessageText)

	require.NoError(t, svc.Stop())
	assert.True(t, client.removed)
}

func TestWhatsAppService_StartStop(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Stop())
	require.NoError(t, svc.Stop())

	_, ok := <-svc.Inbound()
	assert.False(t, ok, "inbound channel should be closed")
	require.NoError(t, svc.SendMessage(context.Background(), "+39333", "x"))
}
