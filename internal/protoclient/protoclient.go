// Package protoclient provides an in-process stand-in for the external
// messaging protocol client. It implements the session.Client surface with
// scripted state: a pairing challenge on connect, an in-memory group roster,
// and a record of every outbound call. Production deployments swap the
// dialer in cmd/bridge for an adapter around the real platform client;
// everything above the session boundary is unchanged.
package protoclient

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/omochice/chat-bridge/internal/protocol"
	"github.com/omochice/chat-bridge/internal/session"
)

// Sent is one recorded outbound message.
type Sent struct {
	ChatID  string
	Content protocol.Content
	Opts    protocol.SendOptions
}

// Simulated is a scripted protocol client.
type Simulated struct {
	// PairingCode is emitted on Connect when non-empty.
	PairingCode string

	// AuthDir, when set, holds a sentinel marking the account as paired;
	// Connect skips the pairing challenge if it exists and writes it after
	// a successful pairing.
	AuthDir string

	// OwnerPhone is the number a real adapter would request its pairing
	// code for. Recorded for parity with the production dialer.
	OwnerPhone string

	mu      sync.Mutex
	events  chan protocol.Event
	groups  map[string]*protocol.GroupMetadata
	invites map[string]string
	sent    []Sent
	closed  bool
}

var _ session.Client = (*Simulated)(nil)

// NewSimulated creates an unconnected simulated client.
func NewSimulated() *Simulated {
	return &Simulated{
		PairingCode: "SIMULATED-PAIRING",
		events:      make(chan protocol.Event, 64),
		groups:      make(map[string]*protocol.GroupMetadata),
		invites:     make(map[string]string),
	}
}

// Dialer returns a session.Dialer handing out s on every attempt.
func (s *Simulated) Dialer() session.Dialer {
	return func(ctx context.Context) (session.Client, error) {
		return s, nil
	}
}

// SetGroup installs roster metadata served by GroupMetadata.
func (s *Simulated) SetGroup(meta *protocol.GroupMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[meta.JID] = meta
}

// SetInviteCode installs the code served by InviteCode for a group.
func (s *Simulated) SetInviteCode(chatID, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invites[chatID] = code
}

// Sent returns a copy of every recorded outbound message.
func (s *Simulated) SentMessages() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Sent, len(s.sent))
	copy(out, s.sent)
	return out
}

// Deliver injects inbound messages as one batch event.
func (s *Simulated) Deliver(msgs ...*protocol.Inbound) {
	s.events <- protocol.MessagesEvent{Messages: msgs}
}

// EmitParticipants injects a group membership change.
func (s *Simulated) EmitParticipants(chatID string, action protocol.ParticipantAction, jids ...string) {
	s.events <- protocol.ParticipantsEvent{ChatID: chatID, Action: action, JIDs: jids}
}

// EmitClose injects a connection close with the given reason.
func (s *Simulated) EmitClose(reason protocol.CloseReason) {
	s.events <- protocol.ConnectionEvent{Update: protocol.ConnectionUpdate{
		Connection:  protocol.ConnectionClose,
		CloseReason: reason,
	}}
}

// Connect emits the pairing challenge followed by an open update. A
// previously paired AuthDir suppresses the challenge.
func (s *Simulated) Connect(ctx context.Context) error {
	if s.PairingCode != "" && !s.paired() {
		s.events <- protocol.ConnectionEvent{Update: protocol.ConnectionUpdate{
			PairingCode: s.PairingCode,
		}}
		s.markPaired()
	}
	s.events <- protocol.ConnectionEvent{Update: protocol.ConnectionUpdate{
		Connection: protocol.ConnectionOpen,
	}}
	s.events <- protocol.CredsEvent{}
	return nil
}

func (s *Simulated) paired() bool {
	if s.AuthDir == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(s.AuthDir, "paired"))
	return err == nil
}

func (s *Simulated) markPaired() {
	if s.AuthDir == "" {
		return
	}
	if err := os.MkdirAll(s.AuthDir, 0o755); err != nil {
		return
	}
	_ = os.WriteFile(filepath.Join(s.AuthDir, "paired"), []byte(s.OwnerPhone+"\n"), 0o644)
}

func (s *Simulated) Events() <-chan protocol.Event {
	return s.events
}

func (s *Simulated) SendMessage(ctx context.Context, chatID string, content protocol.Content, opts protocol.SendOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, Sent{ChatID: chatID, Content: content, Opts: opts})
	return nil
}

func (s *Simulated) GroupMetadata(ctx context.Context, chatID string) (*protocol.GroupMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.groups[chatID]
	if !ok {
		return nil, fmt.Errorf("no metadata for %s", chatID)
	}
	return meta, nil
}

func (s *Simulated) UpdateParticipants(ctx context.Context, chatID string, jids []string, action protocol.ParticipantAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.groups[chatID]
	if !ok {
		return fmt.Errorf("no group %s", chatID)
	}
	switch action {
	case protocol.ParticipantAdd:
		for _, jid := range jids {
			meta.Participants = append(meta.Participants, protocol.Participant{JID: jid})
		}
	case protocol.ParticipantRemove:
		kept := meta.Participants[:0]
		for _, p := range meta.Participants {
			remove := false
			for _, jid := range jids {
				if p.JID == jid {
					remove = true
					break
				}
			}
			if !remove {
				kept = append(kept, p)
			}
		}
		meta.Participants = kept
	}
	return nil
}

func (s *Simulated) InviteCode(ctx context.Context, chatID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.invites[chatID]
	if !ok {
		return "", fmt.Errorf("no invite code for %s", chatID)
	}
	return code, nil
}

// Close closes the event stream. Safe to call once.
func (s *Simulated) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}
