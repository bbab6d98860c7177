package messaging

import (
	"context"
	"testing"

	"github.com/BTreeMap/StudyPipe/internal/models"
	"github.com/BTreeMap/StudyPipe/internal/twiliowhatsapp"
)

func TestTwilioService_EmitAndStop(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)

	if svc.Name() != "twilio" {
		t.Errorf("expected name twilio, got %q", svc.Name())
	}
	msg := models.InboundMessage{RawPhone: "+393331234567", MessageText: "ciao", MessageID: "SM1"}
	if !svc.Emit(msg) {
		t.Fatal("expected Emit to accept message")
	}
	got := <-svc.Inbound()
	if got != msg {
		t.Errorf("expected %+v, got %+v", msg, got)
	}

	if err := svc.SendMessage(context.Background(), "+393331234567", "risposta"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if len(mock.SentMessages) != 1 || mock.SentMessages[0].Body != "risposta" {
		t.Errorf("unexpected sent messages: %+v", mock.SentMessages)
	}

	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
	if svc.Emit(msg) {
		t.Error("Emit after Stop should be rejected")
	}
	if _, ok := <-svc.Inbound(); ok {
		t.Error("inbound channel should be closed")
	}
	if err := svc.SendMessage(context.Background(), "+39333", "tardi"); err != nil {
		t.Errorf("sending after Stop should still work, got %v", err)
	}
	if len(mock.SentMessages) != 2 {
		t.Errorf("expected 2 sent messages, got %d", len(mock.SentMessages))
	}
}
