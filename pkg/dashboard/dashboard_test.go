package dashboard_test

import (
	"testing"

	"github.com/omochice/chat-bridge/pkg/dashboard"
)

func TestEncodeDecode(t *testing.T) {
	frame, err := dashboard.Encode(dashboard.EventSendMessage, dashboard.SendMessage{
		ChatID: "g@g.us",
		Text:   "halo",
	})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	ev, err := dashboard.Decode(frame)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if ev.Type != dashboard.EventSendMessage {
		t.Errorf("Type = %q, want %q", ev.Type, dashboard.EventSendMessage)
	}

	var payload dashboard.SendMessage
	if err := ev.Bind(&payload); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if payload.ChatID != "g@g.us" || payload.Text != "halo" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestEncode_NoPayload(t *testing.T) {
	frame, err := dashboard.Encode(dashboard.EventReady, nil)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	ev, err := dashboard.Decode(frame)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if ev.Type != dashboard.EventReady {
		t.Errorf("Type = %q, want ready", ev.Type)
	}
	if len(ev.Data) != 0 {
		t.Errorf("Data = %s, want empty", ev.Data)
	}
}

func TestDecode_MissingType(t *testing.T) {
	if _, err := dashboard.Decode([]byte(`{"data":{}}`)); err == nil {
		t.Error("Decode() error = nil for frame without type, want error")
	}
}

func TestDecode_Invalid(t *testing.T) {
	if _, err := dashboard.Decode([]byte("{oops")); err == nil {
		t.Error("Decode() error = nil for invalid JSON, want error")
	}
}
