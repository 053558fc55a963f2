package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/omochice/chat-bridge/internal/protocol"
)

// fakeClient is a scripted protocol client.
type fakeClient struct {
	events     chan protocol.Event
	sent       []sentMessage
	sendErr    error
	meta       *protocol.GroupMetadata
	metaErr    error
	updateErr  error
	inviteCode string
	inviteErr  error
	closed     bool
}

type sentMessage struct {
	chatID  string
	content protocol.Content
	opts    protocol.SendOptions
}

func newFakeClient() *fakeClient {
	return &fakeClient{events: make(chan protocol.Event, 10)}
}

func (f *fakeClient) Connect(ctx context.Context) error { return nil }

func (f *fakeClient) Events() <-chan protocol.Event { return f.events }

func (f *fakeClient) SendMessage(ctx context.Context, chatID string, content protocol.Content, opts protocol.SendOptions) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentMessage{chatID: chatID, content: content, opts: opts})
	return nil
}

func (f *fakeClient) GroupMetadata(ctx context.Context, chatID string) (*protocol.GroupMetadata, error) {
	if f.metaErr != nil {
		return nil, f.metaErr
	}
	return f.meta, nil
}

func (f *fakeClient) UpdateParticipants(ctx context.Context, chatID string, jids []string, action protocol.ParticipantAction) error {
	return f.updateErr
}

func (f *fakeClient) InviteCode(ctx context.Context, chatID string) (string, error) {
	if f.inviteErr != nil {
		return "", f.inviteErr
	}
	return f.inviteCode, nil
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

// Compile-time check that fakeClient implements Client.
var _ Client = (*fakeClient)(nil)

// fakeTimers records scheduled reconnects instead of arming real timers.
type fakeTimers struct {
	scheduled []func()
}

func (ft *fakeTimers) afterFunc(d time.Duration, f func()) *time.Timer {
	ft.scheduled = append(ft.scheduled, f)
	t := time.AfterFunc(time.Hour, func() {})
	t.Stop()
	return t
}

func newTestManager(client *fakeClient) (*Manager, *fakeTimers) {
	m := New(func(ctx context.Context) (Client, error) { return client, nil }, zap.NewNop())
	ft := &fakeTimers{}
	m.afterFunc = ft.afterFunc
	m.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	m.jitter = func() time.Duration { return 0 }
	return m, ft
}

func openManager(m *Manager, client *fakeClient) {
	m.ctx = context.Background()
	m.client = client
	m.state = StateOpen
}

func TestManager_CloseSchedulesSingleReconnect(t *testing.T) {
	client := newFakeClient()
	m, ft := newTestManager(client)
	openManager(m, client)

	m.HandleConnectionUpdate(protocol.ConnectionUpdate{Connection: protocol.ConnectionClose})

	if got := len(ft.scheduled); got != 1 {
		t.Fatalf("scheduled reconnects = %d, want 1", got)
	}
	if m.State() != StateReconnecting {
		t.Errorf("State() = %v, want %v", m.State(), StateReconnecting)
	}

	// A second close while the timer is pending must not schedule another.
	m.HandleConnectionUpdate(protocol.ConnectionUpdate{Connection: protocol.ConnectionClose})
	if got := len(ft.scheduled); got != 1 {
		t.Errorf("scheduled reconnects after duplicate close = %d, want 1", got)
	}
	if m.State() != StateReconnecting {
		t.Errorf("State() = %v, want %v", m.State(), StateReconnecting)
	}
}

func TestManager_OpenClearsPendingReconnect(t *testing.T) {
	client := newFakeClient()
	m, ft := newTestManager(client)
	openManager(m, client)

	m.HandleConnectionUpdate(protocol.ConnectionUpdate{Connection: protocol.ConnectionClose})
	m.HandleConnectionUpdate(protocol.ConnectionUpdate{Connection: protocol.ConnectionOpen})

	if m.State() != StateOpen {
		t.Fatalf("State() = %v, want %v", m.State(), StateOpen)
	}

	// After a successful open the guard is cleared; a new close schedules
	// a fresh reconnect.
	m.HandleConnectionUpdate(protocol.ConnectionUpdate{Connection: protocol.ConnectionClose})
	if got := len(ft.scheduled); got != 2 {
		t.Errorf("scheduled reconnects = %d, want 2", got)
	}
}

func TestManager_LoggedOutIsTerminal(t *testing.T) {
	client := newFakeClient()
	m, ft := newTestManager(client)
	openManager(m, client)

	m.HandleConnectionUpdate(protocol.ConnectionUpdate{
		Connection:  protocol.ConnectionClose,
		CloseReason: protocol.CloseLoggedOut,
	})

	if m.State() != StateLoggedOut {
		t.Fatalf("State() = %v, want %v", m.State(), StateLoggedOut)
	}
	if len(ft.scheduled) != 0 {
		t.Errorf("scheduled reconnects = %d, want 0 after logout", len(ft.scheduled))
	}

	if err := m.Send(context.Background(), "a@g.us", protocol.Content{Text: "x"}, protocol.SendOptions{}); !errors.Is(err, ErrLoggedOut) {
		t.Errorf("Send() error = %v, want ErrLoggedOut", err)
	}
}

func TestManager_OpenAfterLogoutIsIgnored(t *testing.T) {
	client := newFakeClient()
	m, _ := newTestManager(client)
	openManager(m, client)

	m.HandleConnectionUpdate(protocol.ConnectionUpdate{
		Connection:  protocol.ConnectionClose,
		CloseReason: protocol.CloseLoggedOut,
	})
	if m.State() != StateLoggedOut {
		t.Fatalf("State() = %v, want %v", m.State(), StateLoggedOut)
	}

	opened := false
	m.OnOpen = func() { opened = true }

	// A late open update from the collaborator must not revive the session.
	m.HandleConnectionUpdate(protocol.ConnectionUpdate{Connection: protocol.ConnectionOpen})

	if m.State() != StateLoggedOut {
		t.Errorf("State() after open update = %v, want %v", m.State(), StateLoggedOut)
	}
	if opened {
		t.Error("OnOpen was invoked after logout")
	}
	if err := m.Send(context.Background(), "a@g.us", protocol.Content{Text: "x"}, protocol.SendOptions{}); !errors.Is(err, ErrLoggedOut) {
		t.Errorf("Send() error = %v, want ErrLoggedOut", err)
	}
}

func TestManager_PairingCodeForwarded(t *testing.T) {
	client := newFakeClient()
	m, _ := newTestManager(client)
	openManager(m, client)

	got := make(chan string, 1)
	m.OnPairing = func(code string) { got <- code }

	m.HandleConnectionUpdate(protocol.ConnectionUpdate{PairingCode: "ref-123"})

	select {
	case code := <-got:
		if code != "ref-123" {
			t.Errorf("pairing code = %q, want %q", code, "ref-123")
		}
	case <-time.After(time.Second):
		t.Fatal("pairing code was not forwarded")
	}
}

func TestManager_Send_FailsFastWhenNotOpen(t *testing.T) {
	client := newFakeClient()
	m, _ := newTestManager(client)

	err := m.Send(context.Background(), "a@g.us", protocol.Content{Text: "x"}, protocol.SendOptions{})
	if !errors.Is(err, ErrNotOpen) {
		t.Errorf("Send() error = %v, want ErrNotOpen", err)
	}
	if len(client.sent) != 0 {
		t.Errorf("sent = %d messages, want 0", len(client.sent))
	}
}

func TestManager_Send_AppliesJitterBeforeTransport(t *testing.T) {
	client := newFakeClient()
	m, _ := newTestManager(client)
	openManager(m, client)

	var slept time.Duration
	m.jitter = func() time.Duration { return 2 * time.Second }
	m.sleep = func(ctx context.Context, d time.Duration) error {
		slept = d
		return nil
	}

	if err := m.Send(context.Background(), "a@g.us", protocol.Content{Text: "x"}, protocol.SendOptions{}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if slept != 2*time.Second {
		t.Errorf("jitter slept = %v, want 2s", slept)
	}
	if len(client.sent) != 1 {
		t.Fatalf("sent = %d messages, want 1", len(client.sent))
	}
	if client.sent[0].chatID != "a@g.us" {
		t.Errorf("sent chatID = %q, want %q", client.sent[0].chatID, "a@g.us")
	}
}

func TestManager_IsAdmin(t *testing.T) {
	client := newFakeClient()
	client.meta = &protocol.GroupMetadata{
		JID: "g@g.us",
		Participants: []protocol.Participant{
			{JID: "admin@s.whatsapp.net", Role: protocol.RoleAdmin},
			{JID: "member@s.whatsapp.net"},
		},
	}
	m, _ := newTestManager(client)
	openManager(m, client)

	ctx := context.Background()
	tests := []struct {
		sender string
		want   bool
	}{
		{"admin@s.whatsapp.net", true},
		{"member@s.whatsapp.net", false},
		{"stranger@s.whatsapp.net", false},
	}
	for _, tt := range tests {
		got, err := m.IsAdmin(ctx, "g@g.us", tt.sender)
		if err != nil {
			t.Fatalf("IsAdmin(%q) error = %v", tt.sender, err)
		}
		if got != tt.want {
			t.Errorf("IsAdmin(%q) = %v, want %v", tt.sender, got, tt.want)
		}
	}
}

func TestManager_IsAdmin_MetadataError(t *testing.T) {
	client := newFakeClient()
	client.metaErr = errors.New("boom")
	m, _ := newTestManager(client)
	openManager(m, client)

	ok, err := m.IsAdmin(context.Background(), "g@g.us", "x@s.whatsapp.net")
	if err == nil {
		t.Fatal("IsAdmin() error = nil, want error")
	}
	if ok {
		t.Error("IsAdmin() = true on metadata error, want false")
	}
}

func TestManager_CredsEventInvokesSaveCreds(t *testing.T) {
	client := newFakeClient()
	m, _ := newTestManager(client)
	openManager(m, client)

	saved := make(chan struct{}, 1)
	m.SaveCreds = func() error {
		saved <- struct{}{}
		return nil
	}

	go m.pump(client)
	client.events <- protocol.CredsEvent{}
	close(client.events)

	select {
	case <-saved:
	case <-time.After(time.Second):
		t.Fatal("SaveCreds was not invoked")
	}
}

func TestInviteLink(t *testing.T) {
	if got := InviteLink("abc123"); got != "https://chat.whatsapp.com/abc123" {
		t.Errorf("InviteLink() = %q", got)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "IDLE"},
		{StateConnecting, "CONNECTING"},
		{StateOpen, "OPEN"},
		{StateClosing, "CLOSING"},
		{StateReconnecting, "RECONNECTING"},
		{StateLoggedOut, "LOGGED_OUT"},
		{State(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestWithJitter(t *testing.T) {
	m := New(nil, zap.NewNop(), WithJitter(0, 0))
	if d := m.jitter(); d != 0 {
		t.Errorf("jitter() = %v, want 0", d)
	}

	m = New(nil, zap.NewNop(), WithJitter(2*time.Second, 3*time.Second))
	for i := 0; i < 20; i++ {
		if d := m.jitter(); d < 2*time.Second || d >= 3*time.Second {
			t.Fatalf("jitter() = %v, want in [2s, 3s)", d)
		}
	}
}
