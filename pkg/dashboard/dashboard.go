// Package dashboard defines the wire protocol between the bridge and its
// dashboard observers: a JSON event envelope plus the payload types for
// each named event.
package dashboard

import (
	"encoding/json"
	"fmt"
)

// EventType names a dashboard event.
type EventType string

// Server to client events.
const (
	EventChatList     EventType = "chat_list"
	EventChatMessages EventType = "chat_messages"
	EventNewMessage   EventType = "new_message"
	EventQR           EventType = "qr"
	EventReady        EventType = "ready"
	EventError        EventType = "error"
)

// Client to server events.
const (
	EventRequestChatList EventType = "request_chat_list"
	EventSelectChat      EventType = "select_chat"
	EventSendMessage     EventType = "send_message"
	EventSendButtons     EventType = "send_interactive_buttons"
)

// Event is the envelope every dashboard frame carries.
type Event struct {
	Type EventType       `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode builds an encoded event frame from a payload.
func Encode(t EventType, payload any) ([]byte, error) {
	ev := Event{Type: t}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", t, err)
		}
		ev.Data = data
	}
	frame, err := json.Marshal(&ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", t, err)
	}
	return frame, nil
}

// Decode parses an event frame.
func Decode(data []byte) (*Event, error) {
	ev := &Event{}
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("event frame missing type")
	}
	return ev, nil
}

// Bind unmarshals the event payload into v.
func (e *Event) Bind(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s event has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}

// ChatSummary is one row of the chat_list payload.
type ChatSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	LastMessage string `json:"lastMessage"`
	Unread      int    `json:"unread"`
}

// Message is a single chat message as shown on the dashboard.
type Message struct {
	Text     string `json:"text"`
	FromSelf bool   `json:"fromMe"`
	Sender   string `json:"sender,omitempty"`
	Time     string `json:"time"`
}

// ChatMessages is the chat_messages payload: one conversation's full log.
type ChatMessages struct {
	ChatID   string    `json:"chatId"`
	Name     string    `json:"name"`
	Messages []Message `json:"messages"`
}

// NewMessage is the new_message payload.
type NewMessage struct {
	ChatID  string  `json:"chatId"`
	Message Message `json:"message"`
}

// ErrorPayload is the error payload.
type ErrorPayload struct {
	Message string `json:"message"`
}

// QR is the qr payload: a data-URL encoded PNG of the pairing code.
type QR struct {
	DataURL string `json:"dataUrl"`
}

// SelectChat is the select_chat request payload.
type SelectChat struct {
	ChatID string `json:"chatId"`
}

// SendMessage is the send_message request payload.
type SendMessage struct {
	ChatID string `json:"chatId"`
	Text   string `json:"text"`
}

// ButtonDef is one button definition in a send_interactive_buttons request.
type ButtonDef struct {
	ID   string `json:"id,omitempty"`
	Text string `json:"text"`
}

// SendButtons is the send_interactive_buttons request payload.
type SendButtons struct {
	ChatID  string      `json:"chatId"`
	Text    string      `json:"text"`
	Footer  string      `json:"footer,omitempty"`
	Buttons []ButtonDef `json:"buttons"`
}
