// Package session owns the protocol-client connection: the connection state
// machine with reconnect backoff, the jittered outbound send path, and the
// admin capability query used by command authorization.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/omochice/chat-bridge/internal/protocol"
)

// State is the connection lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateReconnecting
	// StateLoggedOut is terminal: the account requires external re-pairing
	// and no further reconnect is scheduled.
	StateLoggedOut
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateReconnecting:
		return "RECONNECTING"
	case StateLoggedOut:
		return "LOGGED_OUT"
	default:
		return "UNKNOWN"
	}
}

// ErrNotOpen is returned by outbound operations while no session is open.
var ErrNotOpen = errors.New("session not open")

// ErrLoggedOut is returned once the session has been terminally logged out.
var ErrLoggedOut = errors.New("session logged out")

// Client is the protocol collaborator consumed by the Manager. One Client
// represents one connection attempt; reconnects dial a fresh one.
type Client interface {
	// Connect starts the connection. Events are delivered on Events()
	// until the client is closed.
	Connect(ctx context.Context) error

	// Events returns the client's event stream. The channel is closed when
	// the connection is fully torn down.
	Events() <-chan protocol.Event

	// SendMessage delivers content to a conversation.
	SendMessage(ctx context.Context, chatID string, content protocol.Content, opts protocol.SendOptions) error

	// GroupMetadata fetches the roster and subject of a group.
	GroupMetadata(ctx context.Context, chatID string) (*protocol.GroupMetadata, error)

	// UpdateParticipants mutates a group's membership.
	UpdateParticipants(ctx context.Context, chatID string, jids []string, action protocol.ParticipantAction) error

	// InviteCode fetches the group's current invite code.
	InviteCode(ctx context.Context, chatID string) (string, error)

	// Close tears the connection down.
	Close() error
}

// Dialer creates a Client for one connection attempt, loading whatever
// credential state the collaborator keeps.
type Dialer func(ctx context.Context) (Client, error)

const (
	reconnectDelay = 10 * time.Second
	jitterMin      = 1 * time.Second
	jitterMax      = 4 * time.Second
)

// InviteLink builds the shareable invite URL for a fetched invite code.
func InviteLink(code string) string {
	return "https://chat.whatsapp.com/" + code
}

// Manager drives the connection lifecycle and funnels every outbound send
// through one jittered path.
type Manager struct {
	// OnPairing is invoked with each pairing challenge. Must not block.
	OnPairing func(code string)
	// OnOpen is invoked whenever the connection reaches Open.
	OnOpen func()
	// OnEvent receives message and participant events for routing.
	OnEvent func(protocol.Event)
	// SaveCreds is the opaque credential-persistence callback supplied by
	// the protocol collaborator.
	SaveCreds func() error

	dial Dialer
	log  *zap.Logger

	mu             sync.Mutex
	state          State
	client         Client
	reconnecting   bool
	reconnectTimer *time.Timer
	ctx            context.Context

	// seams for tests
	afterFunc func(d time.Duration, f func()) *time.Timer
	sleep     func(ctx context.Context, d time.Duration) error
	jitter    func() time.Duration
}

// Option customizes a Manager.
type Option func(*Manager)

// WithJitter overrides the outbound send delay range. Useful for local
// development and tests where the anti-detection pause is unwanted.
func WithJitter(min, max time.Duration) Option {
	return func(m *Manager) {
		m.jitter = func() time.Duration {
			if max <= min {
				return min
			}
			return min + time.Duration(rand.Int63n(int64(max-min)))
		}
	}
}

// New creates a Manager. Start must be called before any outbound use.
func New(dial Dialer, log *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		dial:      dial,
		log:       log,
		state:     StateIdle,
		afterFunc: time.AfterFunc,
		sleep:     sleepContext,
		jitter: func() time.Duration {
			return jitterMin + time.Duration(rand.Int63n(int64(jitterMax-jitterMin)))
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start dials the first connection. The context bounds the whole session
// lifetime, including reconnects.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()
	m.connect()
}

// Close cancels any pending reconnect and tears down the current client.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.reconnecting = false
	client := m.client
	m.client = nil
	if m.state != StateLoggedOut {
		m.state = StateIdle
	}
	m.mu.Unlock()

	if client != nil {
		if err := client.Close(); err != nil {
			m.log.Warn("failed to close client", zap.Error(err))
		}
	}
}

func (m *Manager) connect() {
	m.mu.Lock()
	if m.state == StateLoggedOut {
		m.mu.Unlock()
		return
	}
	ctx := m.ctx
	m.state = StateConnecting
	m.mu.Unlock()

	if ctx.Err() != nil {
		return
	}

	client, err := m.dial(ctx)
	if err == nil {
		err = client.Connect(ctx)
	}
	if err != nil {
		m.log.Error("failed to start session", zap.Error(err))
		m.scheduleReconnect()
		return
	}

	m.mu.Lock()
	m.client = client
	m.mu.Unlock()

	go m.pump(client)
	m.log.Info("session started")
}

// pump consumes a client's event stream until it closes.
func (m *Manager) pump(client Client) {
	for ev := range client.Events() {
		switch ev := ev.(type) {
		case protocol.ConnectionEvent:
			m.HandleConnectionUpdate(ev.Update)
		case protocol.CredsEvent:
			if m.SaveCreds != nil {
				if err := m.SaveCreds(); err != nil {
					m.log.Error("failed to save credentials", zap.Error(err))
				}
			}
		default:
			if m.OnEvent != nil {
				m.OnEvent(ev)
			}
		}
	}
}

// HandleConnectionUpdate applies one collaborator connection update to the
// state machine.
func (m *Manager) HandleConnectionUpdate(u protocol.ConnectionUpdate) {
	if u.PairingCode != "" && m.OnPairing != nil {
		// Forwarded without blocking connection progress.
		go m.OnPairing(u.PairingCode)
	}

	switch u.Connection {
	case protocol.ConnectionOpen:
		m.mu.Lock()
		if m.state == StateLoggedOut {
			// LoggedOut is terminal; a stray open update must not revive
			// the session.
			m.mu.Unlock()
			m.log.Warn("ignoring connection open while logged out")
			return
		}
		m.state = StateOpen
		m.reconnecting = false
		if m.reconnectTimer != nil {
			m.reconnectTimer.Stop()
			m.reconnectTimer = nil
		}
		m.mu.Unlock()
		m.log.Info("connection open")
		if m.OnOpen != nil {
			m.OnOpen()
		}

	case protocol.ConnectionClose:
		m.mu.Lock()
		m.state = StateClosing
		if u.CloseReason.LoggedOut() {
			m.state = StateLoggedOut
			m.reconnecting = false
			if m.reconnectTimer != nil {
				m.reconnectTimer.Stop()
				m.reconnectTimer = nil
			}
			m.mu.Unlock()
			m.log.Warn("connection closed: logged out, re-pairing required")
			return
		}
		m.state = StateReconnecting
		pending := m.reconnecting
		m.mu.Unlock()
		if pending {
			// A reconnect timer is already scheduled; this close event is
			// ignored for scheduling purposes.
			return
		}
		m.log.Info("connection closed, reconnecting", zap.Duration("delay", reconnectDelay))
		m.scheduleReconnect()
	}
}

// scheduleReconnect arms the single reconnect timer. At most one may be
// pending at a time.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reconnecting || m.state == StateLoggedOut {
		return
	}
	m.reconnecting = true
	m.state = StateReconnecting
	m.reconnectTimer = m.afterFunc(reconnectDelay, func() {
		m.mu.Lock()
		m.reconnecting = false
		m.reconnectTimer = nil
		m.mu.Unlock()
		m.connect()
	})
}

// Send delivers content to a conversation. It fails fast when no session is
// open, then waits a randomized 1 to 4 second jitter before the transport
// call to avoid bulk-send detection by the remote platform.
func (m *Manager) Send(ctx context.Context, chatID string, content protocol.Content, opts protocol.SendOptions) error {
	client, err := m.openClient()
	if err != nil {
		return err
	}
	if err := m.sleep(ctx, m.jitter()); err != nil {
		return err
	}
	if err := client.SendMessage(ctx, chatID, content, opts); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// IsAdmin reports whether sender holds an elevated role in the group's
// roster. Resolved per call, never cached.
func (m *Manager) IsAdmin(ctx context.Context, chatID, senderID string) (bool, error) {
	meta, err := m.GroupMetadata(ctx, chatID)
	if err != nil {
		return false, err
	}
	for _, p := range meta.Participants {
		if p.JID == senderID {
			return p.IsAdmin(), nil
		}
	}
	return false, nil
}

// GroupMetadata fetches a group's roster and subject.
func (m *Manager) GroupMetadata(ctx context.Context, chatID string) (*protocol.GroupMetadata, error) {
	client, err := m.openClient()
	if err != nil {
		return nil, err
	}
	meta, err := client.GroupMetadata(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch group metadata: %w", err)
	}
	return meta, nil
}

// UpdateParticipants mutates a group's membership.
func (m *Manager) UpdateParticipants(ctx context.Context, chatID string, jids []string, action protocol.ParticipantAction) error {
	client, err := m.openClient()
	if err != nil {
		return err
	}
	if err := client.UpdateParticipants(ctx, chatID, jids, action); err != nil {
		return fmt.Errorf("failed to update participants: %w", err)
	}
	return nil
}

// InviteCode fetches a group's invite code.
func (m *Manager) InviteCode(ctx context.Context, chatID string) (string, error) {
	client, err := m.openClient()
	if err != nil {
		return "", err
	}
	code, err := client.InviteCode(ctx, chatID)
	if err != nil {
		return "", fmt.Errorf("failed to fetch invite code: %w", err)
	}
	return code, nil
}

func (m *Manager) openClient() (Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateLoggedOut {
		return nil, ErrLoggedOut
	}
	if m.state != StateOpen || m.client == nil {
		return nil, ErrNotOpen
	}
	return m.client, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
