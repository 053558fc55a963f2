package protoclient

import (
	"context"
	"testing"

	"github.com/omochice/chat-bridge/internal/protocol"
)

func drainConnect(t *testing.T, s *Simulated) []protocol.Event {
	t.Helper()
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	var events []protocol.Event
	for len(s.events) > 0 {
		events = append(events, <-s.events)
	}
	return events
}

func TestConnectEmitsPairingThenOpen(t *testing.T) {
	s := NewSimulated()
	events := drainConnect(t, s)

	if len(events) < 2 {
		t.Fatalf("Connect emitted %d events, want at least 2", len(events))
	}
	first, ok := events[0].(protocol.ConnectionEvent)
	if !ok || first.Update.PairingCode == "" {
		t.Errorf("first event = %#v, want pairing challenge", events[0])
	}
	second, ok := events[1].(protocol.ConnectionEvent)
	if !ok || second.Update.Connection != protocol.ConnectionOpen {
		t.Errorf("second event = %#v, want open update", events[1])
	}
}

func TestPairedAuthDirSkipsChallenge(t *testing.T) {
	dir := t.TempDir()

	s := NewSimulated()
	s.AuthDir = dir
	drainConnect(t, s)

	// A fresh client over the same auth dir must not ask to pair again.
	s2 := NewSimulated()
	s2.AuthDir = dir
	events := drainConnect(t, s2)

	for _, ev := range events {
		if ce, ok := ev.(protocol.ConnectionEvent); ok && ce.Update.PairingCode != "" {
			t.Errorf("got pairing challenge %q after prior pairing", ce.Update.PairingCode)
		}
	}
}

func TestUpdateParticipants(t *testing.T) {
	s := NewSimulated()
	s.SetGroup(&protocol.GroupMetadata{
		JID:          "g@g.us",
		Participants: []protocol.Participant{{JID: "a@s.whatsapp.net"}},
	})

	if err := s.UpdateParticipants(context.Background(), "g@g.us", []string{"b@s.whatsapp.net"}, protocol.ParticipantAdd); err != nil {
		t.Fatalf("UpdateParticipants(add) error = %v", err)
	}
	if err := s.UpdateParticipants(context.Background(), "g@g.us", []string{"a@s.whatsapp.net"}, protocol.ParticipantRemove); err != nil {
		t.Fatalf("UpdateParticipants(remove) error = %v", err)
	}

	meta, err := s.GroupMetadata(context.Background(), "g@g.us")
	if err != nil {
		t.Fatalf("GroupMetadata() error = %v", err)
	}
	if len(meta.Participants) != 1 || meta.Participants[0].JID != "b@s.whatsapp.net" {
		t.Errorf("Participants = %v, want [b@s.whatsapp.net]", meta.Participants)
	}
}
