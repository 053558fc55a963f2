// Package store provides the bounded, ordered per-conversation message log
// shared by the router and the dashboard hub, with best-effort flat-file
// persistence.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// MaxMessages caps every conversation log; the oldest message is
	// evicted first.
	MaxMessages = 200

	previewLen = 60

	// TimeFormat is the hour.minute display format used for message
	// timestamps (id-ID style).
	TimeFormat = "15.04"
)

// Timestamp formats t for display on stored messages.
func Timestamp(t time.Time) string {
	return t.Format(TimeFormat)
}

// Message is one chat message. Immutable once created.
type Message struct {
	Text     string `json:"text"`
	FromSelf bool   `json:"fromMe"`
	Sender   string `json:"sender,omitempty"`
	Time     string `json:"time"`
}

// Conversation is the stored record for a single chat.
type Conversation struct {
	Name        string    `json:"name"`
	Messages    []Message `json:"messages"`
	LastMessage string    `json:"lastMessage"`
	Unread      int       `json:"unread"`
}

// Summary is the per-conversation digest pushed to dashboard observers.
type Summary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	LastMessage string `json:"lastMessage"`
	Unread      int    `json:"unread"`
}

// Store holds every conversation for the process lifetime. Mutations happen
// on the dispatch loop; the mutex makes reads from connection goroutines
// safe as well.
type Store struct {
	mu    sync.RWMutex
	chats map[string]*Conversation
	log   *zap.Logger
}

// New creates an empty Store.
func New(log *zap.Logger) *Store {
	return &Store{
		chats: make(map[string]*Conversation),
		log:   log,
	}
}

// Get returns a copy of the conversation record.
func (s *Store) Get(id string) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[id]
	if !ok {
		return Conversation{}, false
	}
	return copyConversation(c), true
}

// Upsert replaces the conversation record wholesale.
func (s *Store) Upsert(id string, c Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := copyConversation(&c)
	s.chats[id] = &stored
}

// Len returns the number of conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chats)
}

// Append adds a message to the conversation, creating it when absent. The
// log is capped at MaxMessages with oldest-first eviction, the preview is
// recomputed from the message text, and unread is incremented for inbound
// messages. A non-empty name updates the stored display name.
func (s *Store) Append(id, name string, msg Message) {
	s.AppendWithPreview(id, name, msg, msg.Text)
}

// AppendWithPreview is Append with an explicit chat-list preview, for
// messages whose stored text is a rendered block rather than what the
// sender typed.
func (s *Store) AppendWithPreview(id, name string, msg Message, previewText string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[id]
	if !ok {
		if name == "" {
			name = id
		}
		c = &Conversation{Name: name}
		s.chats[id] = c
	} else if name != "" && c.Name != name {
		c.Name = name
	}

	c.Messages = append(c.Messages, msg)
	if len(c.Messages) > MaxMessages {
		c.Messages = c.Messages[len(c.Messages)-MaxMessages:]
	}
	c.LastMessage = preview(previewText)
	if !msg.FromSelf {
		c.Unread++
	}
}

// SetName updates a conversation's display name. Returns true only when the
// conversation exists and the name actually changed.
func (s *Store) SetName(id, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[id]
	if !ok || name == "" || c.Name == name {
		return false
	}
	c.Name = name
	return true
}

// ResetUnread zeroes the unread counter. Returns false when the conversation
// does not exist.
func (s *Store) ResetUnread(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[id]
	if !ok {
		return false
	}
	c.Unread = 0
	return true
}

// Messages returns the display name and full message log of a conversation.
func (s *Store) Messages(id string) (string, []Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[id]
	if !ok {
		return "", nil, false
	}
	msgs := make([]Message, len(c.Messages))
	copy(msgs, c.Messages)
	return c.Name, msgs, true
}

// Summaries returns a digest of every conversation, sorted by unread count
// descending with ties broken by ascending name. The ordering is a contract
// observed by the dashboard hub.
func (s *Store) Summaries() []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Summary, 0, len(s.chats))
	for id, c := range s.chats {
		last := c.LastMessage
		if last == "" {
			last = "Tidak ada pesan"
		}
		out = append(out, Summary{ID: id, Name: c.Name, LastMessage: last, Unread: c.Unread})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Unread != out[j].Unread {
			return out[i].Unread > out[j].Unread
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// entry is the persisted form of one conversation: a [id, record] pair.
type entry struct {
	ID           string
	Conversation Conversation
}

func (e entry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{e.ID, e.Conversation})
}

func (e *entry) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[0], &e.ID); err != nil {
		return err
	}
	return json.Unmarshal(raw[1], &e.Conversation)
}

// Persist serializes the full map to path. Best-effort: the caller decides
// when, typically on shutdown.
func (s *Store) Persist(path string) error {
	s.mu.RLock()
	entries := make([]entry, 0, len(s.chats))
	for id, c := range s.chats {
		entries = append(entries, entry{ID: id, Conversation: copyConversation(c)})
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode store: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write store: %w", err)
	}
	s.log.Info("store persisted", zap.String("path", path), zap.Int("chats", len(entries)))
	return nil
}

// Load replaces the in-memory map with the contents of path. A missing or
// corrupt file is logged and leaves the store empty; startup never fails on
// persistence problems.
func (s *Store) Load(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("failed to read store file", zap.String("path", path), zap.Error(err))
		}
		return
	}

	var entries []entry
	if err := json.Unmarshal(data, &entries); err != nil {
		s.log.Warn("failed to decode store file, starting empty", zap.String("path", path), zap.Error(err))
		return
	}

	chats := make(map[string]*Conversation, len(entries))
	for i := range entries {
		c := entries[i].Conversation
		chats[entries[i].ID] = &c
	}

	s.mu.Lock()
	s.chats = chats
	s.mu.Unlock()
	s.log.Info("store loaded", zap.String("path", path), zap.Int("chats", len(chats)))
}

func copyConversation(c *Conversation) Conversation {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return out
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) > previewLen {
		runes = runes[:previewLen]
	}
	return string(runes)
}
