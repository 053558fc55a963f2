// Package client provides a WebSocket observer client for the dashboard
// server. It is used by cmd/dashboard-client and by the integration tests.
package client

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/omochice/chat-bridge/pkg/dashboard"
)

// Client represents a dashboard observer connection.
type Client struct {
	address string
	user    string
	pass    string
	log     *zap.Logger

	conn   *websocket.Conn
	events chan *dashboard.Event
	mu     sync.RWMutex
	done   chan struct{}
	wg     sync.WaitGroup
}

// New creates a new Client instance. address is the ws:// URL of the
// server's /ws endpoint.
func New(address, user, pass string, log *zap.Logger) *Client {
	return &Client{
		address: address,
		user:    user,
		pass:    pass,
		log:     log,
		events:  make(chan *dashboard.Event, 16),
		done:    make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts receiving events.
func (c *Client) Connect() error {
	header := http.Header{}
	if c.user != "" {
		cred := base64.StdEncoding.EncodeToString([]byte(c.user + ":" + c.pass))
		header.Set("Authorization", "Basic "+cred)
	}

	conn, _, err := websocket.DefaultDialer.Dial(c.address, header)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.wg.Add(1)
	go c.receiveEvents()

	return nil
}

// Disconnect closes the connection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	close(c.done)
	c.wg.Wait()
}

// IsConnected returns whether the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// Events returns the channel for receiving server events. The channel is
// closed when the connection is torn down.
func (c *Client) Events() <-chan *dashboard.Event {
	return c.events
}

// RequestChatList asks the server for a fresh chat list snapshot.
func (c *Client) RequestChatList() error {
	return c.send(dashboard.EventRequestChatList, nil)
}

// SelectChat opens a conversation, clearing its unread counter.
func (c *Client) SelectChat(chatID string) error {
	return c.send(dashboard.EventSelectChat, dashboard.SelectChat{ChatID: chatID})
}

// SendMessage sends a text message into a conversation.
func (c *Client) SendMessage(chatID, text string) error {
	return c.send(dashboard.EventSendMessage, dashboard.SendMessage{ChatID: chatID, Text: text})
}

// SendButtons sends an interactive button message into a conversation.
func (c *Client) SendButtons(chatID, text, footer string, buttons []dashboard.ButtonDef) error {
	return c.send(dashboard.EventSendButtons, dashboard.SendButtons{
		ChatID:  chatID,
		Text:    text,
		Footer:  footer,
		Buttons: buttons,
	})
}

func (c *Client) send(t dashboard.EventType, payload any) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("not connected to server")
	}

	data, err := dashboard.Encode(t, payload)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send event: %w", err)
	}

	return nil
}

func (c *Client) receiveEvents() {
	defer c.wg.Done()
	defer close(c.events)

	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.log.Warn("failed to read from server", zap.Error(err))
			}
			return
		}

		ev, err := dashboard.Decode(data)
		if err != nil {
			c.log.Warn("failed to decode event", zap.Error(err))
			continue
		}

		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}
