// Package command implements the chat command table: prefix matching in a
// fixed priority order, composed authorization gates, and the per-command
// handlers.
package command

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/omochice/chat-bridge/internal/protocol"
	"github.com/omochice/chat-bridge/internal/session"
)

// Session is the capability surface handlers need from the session manager.
type Session interface {
	Send(ctx context.Context, chatID string, content protocol.Content, opts protocol.SendOptions) error
	IsAdmin(ctx context.Context, chatID, senderID string) (bool, error)
	GroupMetadata(ctx context.Context, chatID string) (*protocol.GroupMetadata, error)
	UpdateParticipants(ctx context.Context, chatID string, jids []string, action protocol.ParticipantAction) error
	InviteCode(ctx context.Context, chatID string) (string, error)
}

// RenderOptions controls the sticker renderer.
type RenderOptions struct {
	MaxChars int
	FontSize int
	Padding  int
	Width    int
}

// Renderer turns text into a sticker image.
type Renderer interface {
	Render(text string, opts RenderOptions) ([]byte, error)
}

// Deps carries the collaborators and configuration shared by all handlers.
type Deps struct {
	Session  Session
	Renderer Renderer
	Log      *zap.Logger

	// Whitelist is the set of conversations eligible for gated commands.
	// Empty means every gated command is refused.
	Whitelist []string

	// MenuMessage is the pre-unescaped static menu text.
	MenuMessage string
	GuildID     string
}

// Request is one command invocation.
type Request struct {
	Msg      *protocol.Inbound
	ChatID   string
	SenderID string
	// Args is the body remainder after the matched prefix.
	Args string
}

// Handler executes one command. Returned errors are logged by Dispatch and
// never propagate to the router.
type Handler func(ctx context.Context, req *Request) error

// gate authorizes a request. A denial with a non-empty notice is replied to
// the sender, quoting the trigger; an empty notice denies silently.
type gate func(ctx context.Context, req *Request) (allowed bool, notice string)

type entry struct {
	name   string
	match  func(body string) (args string, ok bool)
	gate   gate
	handle Handler
}

// Table is the registered command set, matched in a fixed priority order.
type Table struct {
	deps    Deps
	entries []entry
}

// NewTable registers the command set. The registration order is the match
// priority order and must not change.
func NewTable(deps Deps) *Table {
	t := &Table{deps: deps}
	t.entries = []entry{
		{
			name:   "tagall",
			match:  prefix("/tagall"),
			gate:   t.all(t.whitelistGate(""), t.groupGate(""), t.adminGate("")),
			handle: t.handleTagAll,
		},
		{
			name:   "stiker",
			match:  anyPrefix("/s ", "/stiker "),
			gate:   t.whitelistGate(""),
			handle: t.handleSticker,
		},
		{
			name:   "add",
			match:  prefix("/add "),
			gate:   t.all(t.whitelistGate(""), t.groupGate(""), t.adminGate("Hanya admin grup yang dapat menggunakan /add.")),
			handle: t.handleAdd,
		},
		{
			name:   "kick",
			match:  prefix("/kick "),
			gate:   t.all(t.whitelistGate(""), t.groupGate(""), t.adminGate("Hanya admin grup yang dapat menggunakan /kick.")),
			handle: t.handleKick,
		},
		{
			name:   "ping",
			match:  exact("/ping"),
			gate:   t.whitelistGate(""),
			handle: t.handlePing,
		},
		{
			name:   "menu",
			match:  exact("/menu"),
			gate:   t.all(t.whitelistGate(""), t.groupGate("")),
			handle: t.handleMenu,
		},
		{
			name:   "guild",
			match:  exact("/guild"),
			gate:   t.whitelistGate(""),
			handle: t.handleGuild,
		},
		{
			name:   "cn",
			match:  exact("cn"),
			gate:   t.whitelistGate(""),
			handle: t.handleCN,
		},
	}
	return t
}

// Match tries body against the table. The first match wins and
// short-circuits all further processing, including the default store-append
// path. On a match it returns the command invocation: the gate check plus
// handler, which blocks on session calls and may run off the dispatch loop.
// Returns false when no command matched.
func (t *Table) Match(ctx context.Context, msg *protocol.Inbound, body string) (func(), bool) {
	for i := range t.entries {
		e := &t.entries[i]
		args, ok := e.match(body)
		if !ok {
			continue
		}
		req := &Request{Msg: msg, ChatID: msg.ChatID, SenderID: msg.SenderID, Args: args}
		return func() { t.run(ctx, e, req) }, true
	}
	return nil, false
}

// Dispatch matches body and runs the invocation synchronously. Returns
// false when no command matched.
func (t *Table) Dispatch(ctx context.Context, msg *protocol.Inbound, body string) bool {
	run, ok := t.Match(ctx, msg, body)
	if ok {
		run()
	}
	return ok
}

func (t *Table) run(ctx context.Context, e *entry, req *Request) {
	allowed, notice := e.gate(ctx, req)
	if !allowed {
		if notice != "" {
			t.reply(ctx, req, notice)
		} else {
			t.deps.Log.Debug("command denied",
				zap.String("command", e.name),
				zap.String("chat", req.ChatID),
				zap.String("sender", req.SenderID))
		}
		return
	}

	if err := e.handle(ctx, req); err != nil {
		t.deps.Log.Error("command failed",
			zap.String("command", e.name),
			zap.String("chat", req.ChatID),
			zap.Error(err))
	}
}

// matchers

func prefix(p string) func(string) (string, bool) {
	return func(body string) (string, bool) {
		if len(body) < len(p) || !strings.EqualFold(body[:len(p)], p) {
			return "", false
		}
		return strings.TrimLeft(body[len(p):], " \t"), true
	}
}

func anyPrefix(ps ...string) func(string) (string, bool) {
	return func(body string) (string, bool) {
		for _, p := range ps {
			if len(body) >= len(p) && strings.EqualFold(body[:len(p)], p) {
				return strings.TrimLeft(body[len(p):], " \t"), true
			}
		}
		return "", false
	}
}

func exact(s string) func(string) (string, bool) {
	return func(body string) (string, bool) {
		if strings.EqualFold(strings.TrimSpace(body), s) {
			return "", true
		}
		return "", false
	}
}

// gates

// all composes gates; they evaluate in order and short-circuit on the first
// denial.
func (t *Table) all(gates ...gate) gate {
	return func(ctx context.Context, req *Request) (bool, string) {
		for _, g := range gates {
			if ok, notice := g(ctx, req); !ok {
				return false, notice
			}
		}
		return true, ""
	}
}

func (t *Table) whitelistGate(notice string) gate {
	return func(_ context.Context, req *Request) (bool, string) {
		for _, id := range t.deps.Whitelist {
			if id == req.ChatID {
				return true, ""
			}
		}
		return false, notice
	}
}

func (t *Table) groupGate(notice string) gate {
	return func(_ context.Context, req *Request) (bool, string) {
		if protocol.IsGroupJID(req.ChatID) {
			return true, ""
		}
		return false, notice
	}
}

func (t *Table) adminGate(notice string) gate {
	return func(ctx context.Context, req *Request) (bool, string) {
		ok, err := t.deps.Session.IsAdmin(ctx, req.ChatID, req.SenderID)
		if err != nil {
			t.deps.Log.Warn("admin check failed", zap.String("chat", req.ChatID), zap.Error(err))
			return false, notice
		}
		if !ok {
			return false, notice
		}
		return true, ""
	}
}

// handlers

// handleTagAll re-sends the argument text verbatim with every group member
// attached as a hidden mention. The text itself is never modified.
func (t *Table) handleTagAll(ctx context.Context, req *Request) error {
	if strings.TrimSpace(req.Args) == "" {
		t.reply(ctx, req, "Gunakan: /tagall <pesan>")
		return nil
	}

	meta, err := t.deps.Session.GroupMetadata(ctx, req.ChatID)
	if err != nil {
		return err
	}
	mentions := make([]string, 0, len(meta.Participants))
	for _, p := range meta.Participants {
		if p.JID != "" {
			mentions = append(mentions, p.JID)
		}
	}

	return t.deps.Session.Send(ctx, req.ChatID, protocol.Content{
		Text:     req.Args,
		Mentions: mentions,
	}, protocol.SendOptions{})
}

func (t *Table) handleSticker(ctx context.Context, req *Request) error {
	text := strings.Join(strings.Fields(req.Args), " ")
	if text == "" {
		t.reply(ctx, req, "Gunakan: /stiker <teks>\nContoh: /stiker BRO?!")
		return nil
	}

	img, err := t.deps.Renderer.Render(text, RenderOptions{
		MaxChars: 12,
		FontSize: 72,
		Padding:  40,
		Width:    512,
	})
	if err != nil {
		return fmt.Errorf("failed to render sticker: %w", err)
	}

	return t.deps.Session.Send(ctx, req.ChatID, protocol.Content{Sticker: img},
		protocol.SendOptions{Quoted: req.Msg})
}

func (t *Table) handleAdd(ctx context.Context, req *Request) error {
	arg := strings.TrimSpace(req.Args)
	jid := arg
	if !strings.Contains(arg, "@") {
		jid = protocol.ToJID(arg)
	}
	if jid == "" {
		t.reply(ctx, req, "Nomor tidak valid.")
		return nil
	}

	err := t.deps.Session.UpdateParticipants(ctx, req.ChatID, []string{jid}, protocol.ParticipantAdd)
	if err == nil {
		return t.deps.Session.Send(ctx, req.ChatID, protocol.Content{
			Text:     "Berhasil menambahkan: @" + protocol.BareNumber(jid),
			Mentions: []string{jid},
		}, protocol.SendOptions{})
	}
	t.deps.Log.Warn("direct add failed, falling back to invite", zap.String("chat", req.ChatID), zap.Error(err))

	code, err := t.deps.Session.InviteCode(ctx, req.ChatID)
	if err != nil {
		t.deps.Log.Warn("invite code fetch failed", zap.String("chat", req.ChatID), zap.Error(err))
		t.reply(ctx, req, "Gagal menambahkan anggota. Pastikan bot admin dan nomor valid.")
		return nil
	}
	t.reply(ctx, req, "Gagal menambahkan secara langsung. Kirim undangan: "+session.InviteLink(code))
	return nil
}

func (t *Table) handleKick(ctx context.Context, req *Request) error {
	// Explicit mention references on the trigger win over the parsed
	// argument.
	targets := req.Msg.MentionedJIDs()
	if len(targets) == 0 {
		arg := strings.TrimSpace(req.Args)
		token := ""
		if fields := strings.Fields(arg); len(fields) > 0 {
			token = fields[0]
		}
		if token == "" {
			t.reply(ctx, req, "Sebutkan nomor/mention yang ingin dikick.")
			return nil
		}
		jid := token
		if !strings.Contains(token, "@") {
			jid = protocol.ToJID(token)
		}
		if jid == "" {
			t.reply(ctx, req, "Sebutkan nomor/mention yang ingin dikick.")
			return nil
		}
		targets = []string{jid}
	}

	if err := t.deps.Session.UpdateParticipants(ctx, req.ChatID, targets, protocol.ParticipantRemove); err != nil {
		t.deps.Log.Warn("kick failed", zap.String("chat", req.ChatID), zap.Error(err))
		t.reply(ctx, req, "Gagal mengeluarkan anggota. Pastikan bot admin dan target valid.")
		return nil
	}

	names := make([]string, len(targets))
	for i, jid := range targets {
		names[i] = "@" + protocol.BareNumber(jid)
	}
	return t.deps.Session.Send(ctx, req.ChatID, protocol.Content{
		Text:     "Berhasil mengeluarkan: " + strings.Join(names, ", "),
		Mentions: targets,
	}, protocol.SendOptions{})
}

func (t *Table) handlePing(ctx context.Context, req *Request) error {
	t.reply(ctx, req, "reply berhasil!")
	return nil
}

func (t *Table) handleMenu(ctx context.Context, req *Request) error {
	t.reply(ctx, req, t.deps.MenuMessage)
	return nil
}

func (t *Table) handleGuild(ctx context.Context, req *Request) error {
	link := fmt.Sprintf("https://ffshare.garena.com/?region=ID&lang=ind&action=locate_clan&clan_id=%s&version=OB51", t.deps.GuildID)
	t.reply(ctx, req, fmt.Sprintf("ID Guild: %s\nLink: %s", t.deps.GuildID, link))
	return nil
}

func (t *Table) handleCN(ctx context.Context, req *Request) error {
	t.reply(ctx, req, "NAME AVL")
	return nil
}

// reply sends a quoted text reply, best-effort.
func (t *Table) reply(ctx context.Context, req *Request, text string) {
	err := t.deps.Session.Send(ctx, req.ChatID, protocol.Content{Text: text},
		protocol.SendOptions{Quoted: req.Msg})
	if err != nil {
		t.deps.Log.Warn("reply failed", zap.String("chat", req.ChatID), zap.Error(err))
	}
}
