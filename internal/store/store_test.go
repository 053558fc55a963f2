package store_test

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"go.uber.org/zap"

	"github.com/omochice/chat-bridge/internal/store"
)

func newStore() *store.Store {
	return store.New(zap.NewNop())
}

func TestStore_Append_CreatesConversation(t *testing.T) {
	s := newStore()
	s.Append("g@g.us", "Guild", store.Message{Text: "hi", Sender: "628", Time: "10:00"})

	c, ok := s.Get("g@g.us")
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if c.Name != "Guild" {
		t.Errorf("Name = %q, want %q", c.Name, "Guild")
	}
	if len(c.Messages) != 1 {
		t.Fatalf("len(Messages) = %d, want 1", len(c.Messages))
	}
	if c.Unread != 1 {
		t.Errorf("Unread = %d, want 1", c.Unread)
	}
	if c.LastMessage != "hi" {
		t.Errorf("LastMessage = %q, want %q", c.LastMessage, "hi")
	}
}

func TestStore_Append_FromSelfDoesNotIncrementUnread(t *testing.T) {
	s := newStore()
	s.Append("a", "A", store.Message{Text: "out", FromSelf: true})

	c, _ := s.Get("a")
	if c.Unread != 0 {
		t.Errorf("Unread = %d, want 0 for fromSelf message", c.Unread)
	}
}

func TestStore_Append_EvictsOldest(t *testing.T) {
	s := newStore()
	for i := 0; i < store.MaxMessages+1; i++ {
		s.Append("a", "A", store.Message{Text: fmt.Sprintf("msg-%d", i)})
	}

	c, _ := s.Get("a")
	if len(c.Messages) != store.MaxMessages {
		t.Fatalf("len(Messages) = %d, want %d", len(c.Messages), store.MaxMessages)
	}
	if got := c.Messages[0].Text; got != "msg-1" {
		t.Errorf("Messages[0].Text = %q, want %q (oldest evicted)", got, "msg-1")
	}
	if got := c.Messages[len(c.Messages)-1].Text; got != fmt.Sprintf("msg-%d", store.MaxMessages) {
		t.Errorf("tail = %q, want newest message", got)
	}
}

func TestStore_Append_RetainsLastMessagesInOrder(t *testing.T) {
	s := newStore()
	total := store.MaxMessages * 2
	for i := 0; i < total; i++ {
		s.Append("a", "A", store.Message{Text: fmt.Sprintf("msg-%d", i)})
	}

	c, _ := s.Get("a")
	if len(c.Messages) != store.MaxMessages {
		t.Fatalf("len(Messages) = %d, want %d", len(c.Messages), store.MaxMessages)
	}
	for i, m := range c.Messages {
		want := fmt.Sprintf("msg-%d", total-store.MaxMessages+i)
		if m.Text != want {
			t.Fatalf("Messages[%d].Text = %q, want %q", i, m.Text, want)
		}
	}
}

func TestStore_Append_TruncatesPreview(t *testing.T) {
	s := newStore()
	long := ""
	for i := 0; i < 100; i++ {
		long += "x"
	}
	s.Append("a", "A", store.Message{Text: long})

	c, _ := s.Get("a")
	if len([]rune(c.LastMessage)) != 60 {
		t.Errorf("len(LastMessage) = %d, want 60", len([]rune(c.LastMessage)))
	}
}

func TestStore_AppendWithPreview_SeparatesPreviewFromText(t *testing.T) {
	s := newStore()
	s.AppendWithPreview("a", "A", store.Message{Text: "[Interactive Buttons]\nPilih menu\n- Satu", FromSelf: true}, "Pilih menu")

	c, _ := s.Get("a")
	if c.LastMessage != "Pilih menu" {
		t.Errorf("LastMessage = %q, want %q", c.LastMessage, "Pilih menu")
	}
	if len(c.Messages) != 1 || c.Messages[0].Text != "[Interactive Buttons]\nPilih menu\n- Satu" {
		t.Errorf("Messages = %+v, want the full block retained", c.Messages)
	}
}

func TestStore_SetName(t *testing.T) {
	s := newStore()
	s.Append("a", "old", store.Message{Text: "1"})

	if !s.SetName("a", "new") {
		t.Fatal(`SetName("a", "new") = false, want true`)
	}
	c, _ := s.Get("a")
	if c.Name != "new" {
		t.Errorf("Name = %q, want %q", c.Name, "new")
	}

	if s.SetName("a", "new") {
		t.Error("SetName() = true for unchanged name, want false")
	}
	if s.SetName("a", "") {
		t.Error(`SetName(a, "") = true, want false`)
	}
	if s.SetName("missing", "x") {
		t.Error("SetName(missing) = true, want false")
	}
}

func TestStore_Append_UpdatesName(t *testing.T) {
	s := newStore()
	s.Append("a", "old", store.Message{Text: "1"})
	s.Append("a", "new", store.Message{Text: "2"})

	c, _ := s.Get("a")
	if c.Name != "new" {
		t.Errorf("Name = %q, want %q", c.Name, "new")
	}
}

func TestStore_ResetUnread(t *testing.T) {
	s := newStore()
	s.Append("a", "A", store.Message{Text: "1"})
	s.Append("a", "A", store.Message{Text: "2"})

	if !s.ResetUnread("a") {
		t.Fatal("ResetUnread() = false, want true")
	}
	c, _ := s.Get("a")
	if c.Unread != 0 {
		t.Errorf("Unread = %d, want 0", c.Unread)
	}
	if s.ResetUnread("missing") {
		t.Error("ResetUnread(missing) = true, want false")
	}
}

func TestStore_Summaries_Ordering(t *testing.T) {
	s := newStore()
	s.Append("c1", "bravo", store.Message{Text: "1"})
	s.Append("c2", "alpha", store.Message{Text: "1"})
	s.Append("c3", "zulu", store.Message{Text: "1"})
	s.Append("c3", "zulu", store.Message{Text: "2"})

	got := s.Summaries()
	names := make([]string, len(got))
	for i, sum := range got {
		names[i] = sum.Name
	}
	want := []string{"zulu", "alpha", "bravo"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("Summaries() order = %v, want %v", names, want)
	}
}

func TestStore_PersistLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chats.json")

	s := newStore()
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("chat-%d@g.us", i)
		s.Append(id, fmt.Sprintf("name-%d", i), store.Message{Text: "hello", Sender: "628", Time: "09:00"})
		s.Append(id, "", store.Message{Text: "bye", FromSelf: true, Time: "09:01"})
	}
	if err := s.Persist(path); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	fresh := newStore()
	fresh.Load(path)

	if fresh.Len() != s.Len() {
		t.Fatalf("Len() = %d, want %d", fresh.Len(), s.Len())
	}
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("chat-%d@g.us", i)
		want, _ := s.Get(id)
		got, ok := fresh.Get(id)
		if !ok {
			t.Fatalf("Get(%q) ok = false after reload", id)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("reloaded conversation %q = %+v, want %+v", id, got, want)
		}
	}
}

func TestStore_Load_MissingFile(t *testing.T) {
	s := newStore()
	s.Load(filepath.Join(t.TempDir(), "nope.json"))
	if s.Len() != 0 {
		t.Errorf("Len() = %d after loading missing file, want 0", s.Len())
	}
}

func TestStore_Load_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chats.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := newStore()
	s.Load(path)
	if s.Len() != 0 {
		t.Errorf("Len() = %d after loading corrupt file, want 0", s.Len())
	}
}

func TestStore_Get_ReturnsCopy(t *testing.T) {
	s := newStore()
	s.Append("a", "A", store.Message{Text: "original"})

	c, _ := s.Get("a")
	c.Messages[0].Text = "mutated"

	again, _ := s.Get("a")
	if again.Messages[0].Text != "original" {
		t.Error("Get() exposed internal message slice")
	}
}
