// Package hub implements the Sync Hub: the websocket server fanning out
// Chat Store changes to dashboard observers and accepting dashboard
// originated send requests.
package hub

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/omochice/chat-bridge/internal/protocol"
	"github.com/omochice/chat-bridge/internal/store"
	"github.com/omochice/chat-bridge/pkg/dashboard"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboard is guarded by basic auth, not origin
	},
}

// Sender is the outbound-send capability the hub forwards dashboard
// requests to.
type Sender interface {
	Send(ctx context.Context, chatID string, content protocol.Content, opts protocol.SendOptions) error
}

// Runner serializes store mutations onto the dispatch loop.
type Runner interface {
	Do(task func())
}

// Observer is one connected dashboard client.
type Observer struct {
	id       string
	conn     *websocket.Conn
	outgoing chan []byte
}

// Options configures the hub's HTTP surface.
type Options struct {
	// User and Pass guard the whole HTTP surface with basic auth.
	User string
	Pass string
	// PublicDir is served at the root when it exists.
	PublicDir string
}

// Hub manages dashboard observers and keeps them synchronized with the
// Chat Store.
type Hub struct {
	store  *store.Store
	sender Sender
	runner Runner
	log    *zap.Logger
	opts   Options

	mu        sync.RWMutex
	observers map[*Observer]bool

	listener net.Listener
	server   *http.Server
	quit     chan struct{}
	wg       sync.WaitGroup

	now func() time.Time
}

// New creates a Hub.
func New(st *store.Store, sender Sender, runner Runner, log *zap.Logger, opts Options) *Hub {
	return &Hub{
		store:     st,
		sender:    sender,
		runner:    runner,
		log:       log,
		opts:      opts,
		observers: make(map[*Observer]bool),
		quit:      make(chan struct{}),
		now:       time.Now,
	}
}

// Start begins serving the dashboard on address.
func (h *Hub) Start(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to start dashboard server: %w", err)
	}
	h.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWebSocket)
	if h.opts.PublicDir != "" {
		if _, err := os.Stat(h.opts.PublicDir); err == nil {
			mux.Handle("/", http.FileServer(http.Dir(h.opts.PublicDir)))
		}
	}

	h.server = &http.Server{Handler: h.basicAuth(mux)}

	h.log.Info("dashboard server started", zap.String("address", listener.Addr().String()))

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := h.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			h.log.Error("dashboard server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop disconnects every observer and stops the HTTP server.
func (h *Hub) Stop() {
	close(h.quit)
	if h.server != nil {
		h.server.Close()
	}

	h.mu.Lock()
	for obs := range h.observers {
		obs.conn.Close()
	}
	h.mu.Unlock()

	h.wg.Wait()
}

// Addr returns the server's listening address.
func (h *Hub) Addr() string {
	if h.listener != nil {
		return h.listener.Addr().String()
	}
	return ""
}

// ObserverCount returns the number of connected observers.
func (h *Hub) ObserverCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

func (h *Hub) basicAuth(next http.Handler) http.Handler {
	if h.opts.User == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != h.opts.User || pass != h.opts.Pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="Chat Bridge Web UI"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleWebSocket upgrades an observer connection and pumps it.
func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("failed to upgrade observer connection", zap.Error(err))
		return
	}

	obs := &Observer{
		id:       uuid.NewString(),
		conn:     conn,
		outgoing: make(chan []byte, 64),
	}

	h.mu.Lock()
	h.observers[obs] = true
	h.mu.Unlock()
	h.log.Info("observer connected", zap.String("observer", obs.id))

	// Every new observer starts from the current summary list.
	h.sendTo(obs, dashboard.EventChatList, h.summaries())

	h.wg.Add(1)
	go h.writePump(obs)
	h.readPump(obs)
}

func (h *Hub) writePump(obs *Observer) {
	defer h.wg.Done()
	for data := range obs.outgoing {
		if err := obs.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (h *Hub) readPump(obs *Observer) {
	defer h.unregister(obs)
	for {
		_, data, err := obs.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				select {
				case <-h.quit:
				default:
					h.log.Warn("observer read error", zap.String("observer", obs.id), zap.Error(err))
				}
			}
			return
		}

		ev, err := dashboard.Decode(data)
		if err != nil {
			h.log.Warn("bad observer frame", zap.String("observer", obs.id), zap.Error(err))
			continue
		}
		h.handleEvent(obs, ev)
	}
}

func (h *Hub) unregister(obs *Observer) {
	h.mu.Lock()
	if _, ok := h.observers[obs]; ok {
		delete(h.observers, obs)
		close(obs.outgoing)
	}
	h.mu.Unlock()
	obs.conn.Close()
	h.log.Info("observer disconnected", zap.String("observer", obs.id))
}

// handleEvent dispatches one observer request. Store mutations run on the
// dispatch loop.
func (h *Hub) handleEvent(obs *Observer, ev *dashboard.Event) {
	switch ev.Type {
	case dashboard.EventRequestChatList:
		h.sendTo(obs, dashboard.EventChatList, h.summaries())

	case dashboard.EventSelectChat:
		var req dashboard.SelectChat
		if err := ev.Bind(&req); err != nil {
			h.log.Warn("bad select_chat payload", zap.Error(err))
			return
		}
		h.runner.Do(func() { h.selectChat(obs, req.ChatID) })

	case dashboard.EventSendMessage:
		var req dashboard.SendMessage
		if err := ev.Bind(&req); err != nil {
			h.log.Warn("bad send_message payload", zap.Error(err))
			return
		}
		if req.ChatID == "" || req.Text == "" {
			return
		}
		// The session send blocks on the anti-burst jitter, so it runs off
		// the dispatch loop. Only the store mutation goes through the runner.
		go h.sendText(obs, req)

	case dashboard.EventSendButtons:
		var req dashboard.SendButtons
		if err := ev.Bind(&req); err != nil {
			h.log.Warn("bad send_interactive_buttons payload", zap.Error(err))
			return
		}
		if req.ChatID == "" {
			return
		}
		go h.sendButtons(req)

	default:
		h.log.Debug("unknown observer event", zap.String("type", string(ev.Type)))
	}
}

// selectChat resets the unread counter, pushes the full log to the
// requesting observer, and re-broadcasts the summary list.
func (h *Hub) selectChat(obs *Observer, chatID string) {
	if !h.store.ResetUnread(chatID) {
		return
	}
	name, msgs, _ := h.store.Messages(chatID)
	h.sendTo(obs, dashboard.EventChatMessages, dashboard.ChatMessages{
		ChatID:   chatID,
		Name:     name,
		Messages: toWireMessages(msgs),
	})
	h.BroadcastChatList()
}

// sendText forwards a dashboard send to the session, then enqueues the
// local fromSelf mirror onto the dispatch loop.
func (h *Hub) sendText(obs *Observer, req dashboard.SendMessage) {
	err := h.sender.Send(context.Background(), req.ChatID, protocol.Content{Text: req.Text}, protocol.SendOptions{})
	if err != nil {
		h.log.Error("dashboard send failed", zap.String("chat", req.ChatID), zap.Error(err))
		h.sendTo(obs, dashboard.EventError, dashboard.ErrorPayload{Message: "Gagal mengirim pesan."})
		return
	}

	msg := store.Message{Text: req.Text, FromSelf: true, Time: store.Timestamp(h.now())}
	h.runner.Do(func() {
		h.store.Append(req.ChatID, "", msg)
		h.BroadcastNewMessage(req.ChatID, msg)
		h.BroadcastChatList()
	})
}

// sendButtons renders structured button definitions into the native
// interactive shape for the outbound send and mirrors a textual block
// into the store.
func (h *Hub) sendButtons(req dashboard.SendButtons) {
	text := req.Text
	if text == "" {
		text = "Pilih"
	}

	buttons := make([]protocol.Button, 0, len(req.Buttons))
	var lines []string
	for _, b := range req.Buttons {
		id := b.ID
		label := b.Text
		if label == "" {
			label = "Button"
		}
		if id == "" {
			id = label
			if len(id) > 40 {
				id = id[:40]
			}
		}
		buttons = append(buttons, protocol.Button{ID: id, Text: label})
		lines = append(lines, "- "+label)
	}

	err := h.sender.Send(context.Background(), req.ChatID, protocol.Content{
		Text:    text,
		Footer:  req.Footer,
		Buttons: buttons,
	}, protocol.SendOptions{})
	if err != nil {
		h.log.Error("dashboard button send failed", zap.String("chat", req.ChatID), zap.Error(err))
		return
	}

	block := "[Interactive Buttons]\n" + text
	if len(lines) > 0 {
		block += "\n" + strings.Join(lines, "\n")
	}
	msg := store.Message{Text: block, FromSelf: true, Time: store.Timestamp(h.now())}
	h.runner.Do(func() {
		// The chat-list preview shows what was typed, not the rendered block.
		h.store.AppendWithPreview(req.ChatID, "", msg, text)
		h.BroadcastNewMessage(req.ChatID, msg)
		h.BroadcastChatList()
	})
}

// BroadcastNewMessage pushes one appended message to every observer.
func (h *Hub) BroadcastNewMessage(chatID string, msg store.Message) {
	h.broadcast(dashboard.EventNewMessage, dashboard.NewMessage{
		ChatID:  chatID,
		Message: toWireMessage(msg),
	})
}

// BroadcastChatList pushes the current summary list to every observer.
func (h *Hub) BroadcastChatList() {
	h.broadcast(dashboard.EventChatList, h.summaries())
}

// BroadcastReady signals that the protocol session is open.
func (h *Hub) BroadcastReady() {
	h.broadcast(dashboard.EventReady, nil)
}

// BroadcastPairingCode renders the pairing challenge as a PNG data URL and
// pushes it to every observer.
func (h *Hub) BroadcastPairingCode(code string) {
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		h.log.Error("failed to render pairing QR", zap.Error(err))
		return
	}
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	h.broadcast(dashboard.EventQR, dashboard.QR{DataURL: dataURL})
}

func (h *Hub) summaries() []dashboard.ChatSummary {
	sums := h.store.Summaries()
	out := make([]dashboard.ChatSummary, len(sums))
	for i, s := range sums {
		out[i] = dashboard.ChatSummary{ID: s.ID, Name: s.Name, LastMessage: s.LastMessage, Unread: s.Unread}
	}
	return out
}

func (h *Hub) broadcast(t dashboard.EventType, payload any) {
	frame, err := dashboard.Encode(t, payload)
	if err != nil {
		h.log.Error("failed to encode broadcast", zap.String("type", string(t)), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for obs := range h.observers {
		select {
		case obs.outgoing <- frame:
		default:
			// Observer is not keeping up, skip this frame.
			h.log.Warn("observer channel full, dropping frame", zap.String("observer", obs.id))
		}
	}
}

func (h *Hub) sendTo(obs *Observer, t dashboard.EventType, payload any) {
	frame, err := dashboard.Encode(t, payload)
	if err != nil {
		h.log.Error("failed to encode event", zap.String("type", string(t)), zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	// unregister closes outgoing under the same mutex; a deferred task for a
	// disconnected observer is dropped here instead of hitting the closed
	// channel.
	if !h.observers[obs] {
		return
	}
	select {
	case obs.outgoing <- frame:
	default:
		h.log.Warn("observer channel full, dropping frame", zap.String("observer", obs.id))
	}
}

func toWireMessage(m store.Message) dashboard.Message {
	return dashboard.Message{Text: m.Text, FromSelf: m.FromSelf, Sender: m.Sender, Time: m.Time}
}

func toWireMessages(msgs []store.Message) []dashboard.Message {
	out := make([]dashboard.Message, len(msgs))
	for i, m := range msgs {
		out[i] = toWireMessage(m)
	}
	return out
}
