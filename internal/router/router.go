// Package router normalizes inbound protocol events and dispatches them:
// rate limiting, command matching, and the default store-append path.
package router

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/omochice/chat-bridge/internal/config"
	"github.com/omochice/chat-bridge/internal/protocol"
	"github.com/omochice/chat-bridge/internal/ratelimit"
	"github.com/omochice/chat-bridge/internal/store"
)

// Session is the capability surface the router needs: name resolution and
// greeting sends.
type Session interface {
	Send(ctx context.Context, chatID string, content protocol.Content, opts protocol.SendOptions) error
	GroupMetadata(ctx context.Context, chatID string) (*protocol.GroupMetadata, error)
}

// Dispatcher matches bodies against the command table. A match returns the
// command invocation, which blocks on session calls and therefore runs off
// the dispatch loop.
type Dispatcher interface {
	Match(ctx context.Context, msg *protocol.Inbound, body string) (func(), bool)
}

// Publisher fans out store changes to dashboard observers.
type Publisher interface {
	BroadcastNewMessage(chatID string, msg store.Message)
	BroadcastChatList()
}

// Runner serializes store mutations back onto the dispatch loop.
type Runner interface {
	Do(task func())
}

// Greetings configures the welcome/farewell behavior for the target group.
type Greetings struct {
	// GroupJID is the only group whose participant updates are greeted.
	GroupJID string
	// Welcome and Farewell are pre-unescaped templates with an @{user}
	// token.
	Welcome  string
	Farewell string
}

// Router drives per-event processing. Store mutations stay on the dispatch
// loop; anything that blocks on the session (commands, greetings, group
// metadata) runs in its own goroutine so the loop keeps draining.
type Router struct {
	store     *store.Store
	limiter   *ratelimit.Limiter
	commands  Dispatcher
	session   Session
	publisher Publisher
	runner    Runner
	greetings Greetings
	log       *zap.Logger

	now func() time.Time
}

// New creates a Router.
func New(st *store.Store, limiter *ratelimit.Limiter, commands Dispatcher, session Session, publisher Publisher, runner Runner, greetings Greetings, log *zap.Logger) *Router {
	return &Router{
		store:     st,
		limiter:   limiter,
		commands:  commands,
		session:   session,
		publisher: publisher,
		runner:    runner,
		greetings: greetings,
		log:       log,
		now:       time.Now,
	}
}

// HandleMessages processes one inbound batch in order.
func (r *Router) HandleMessages(ctx context.Context, msgs []*protocol.Inbound) {
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		r.handle(ctx, msg)
	}
}

func (r *Router) handle(ctx context.Context, msg *protocol.Inbound) {
	// Broadcast-only system channels are never routed.
	if msg.ChatID == "" || msg.ChatID == protocol.StatusBroadcastJID {
		return
	}

	rawBody := msg.Body()
	if rawBody == "" {
		return
	}

	r.log.Debug("incoming message",
		zap.String("chat", msg.ChatID),
		zap.String("sender", msg.SenderID),
		zap.Bool("fromSelf", msg.FromSelf),
		zap.String("body", rawBody))

	sender := msg.SenderID
	if sender == "" {
		sender = msg.ChatID
	}
	if !r.limiter.Allow(sender) {
		// Dropped silently: no reply, no store append.
		return
	}

	body := strings.TrimSpace(rawBody)
	if run, ok := r.commands.Match(ctx, msg, body); ok {
		// The invocation replies through the jittered session path.
		go run()
		return
	}

	r.appendAndPublish(ctx, msg, rawBody)
}

// appendAndPublish is the default path: append the message under an
// immediately-known name and keep observers synchronized. Group subjects
// need a metadata round trip, so they are refined asynchronously.
func (r *Router) appendAndPublish(ctx context.Context, msg *protocol.Inbound, body string) {
	sender := "unknown"
	if msg.SenderID != "" {
		sender = protocol.BareNumber(msg.SenderID)
	}

	m := store.Message{
		Text:     body,
		FromSelf: msg.FromSelf,
		Sender:   sender,
		Time:     store.Timestamp(r.now()),
	}
	r.store.Append(msg.ChatID, r.quickName(msg), m)
	r.publisher.BroadcastNewMessage(msg.ChatID, m)
	r.publisher.BroadcastChatList()

	if protocol.IsGroupJID(msg.ChatID) {
		go r.refreshGroupName(ctx, msg.ChatID)
	}
}

// quickName resolves a display name without blocking: push name or contact
// card or JID local part. Group subjects come later via refreshGroupName.
func (r *Router) quickName(msg *protocol.Inbound) string {
	if msg.PushName != "" {
		return msg.PushName
	}
	if protocol.IsGroupJID(msg.ChatID) {
		return msg.ChatID
	}
	if msg.Contact != nil && msg.Contact.DisplayName != "" {
		return msg.Contact.DisplayName
	}
	return protocol.BareNumber(msg.ChatID)
}

// refreshGroupName fetches the group subject off the dispatch loop and
// hands the rename back to it. Failures keep the quick name.
func (r *Router) refreshGroupName(ctx context.Context, chatID string) {
	meta, err := r.session.GroupMetadata(ctx, chatID)
	if err != nil {
		r.log.Debug("failed to resolve group subject", zap.String("chat", chatID), zap.Error(err))
		return
	}
	if meta == nil || meta.Subject == "" {
		return
	}
	r.runner.Do(func() {
		if r.store.SetName(chatID, meta.Subject) {
			r.publisher.BroadcastChatList()
		}
	})
}

// HandleParticipants greets joins and leaves in the configured target
// group. Everything is best-effort; failures are logged only. The sends
// block on the jittered session path, so the burst runs in one goroutine
// off the dispatch loop, preserving greeting order per event.
func (r *Router) HandleParticipants(ctx context.Context, ev protocol.ParticipantsEvent) {
	if r.greetings.GroupJID == "" || ev.ChatID != r.greetings.GroupJID {
		return
	}

	var template string
	switch ev.Action {
	case protocol.ParticipantAdd:
		template = r.greetings.Welcome
	case protocol.ParticipantRemove:
		template = r.greetings.Farewell
	default:
		return
	}
	if template == "" {
		return
	}

	go func() {
		for _, user := range ev.JIDs {
			text := config.ApplyUserTemplate(template, protocol.BareNumber(user))
			err := r.session.Send(ctx, ev.ChatID, protocol.Content{
				Text:     text,
				Mentions: []string{user},
			}, protocol.SendOptions{})
			if err != nil {
				r.log.Warn("greeting send failed", zap.String("chat", ev.ChatID), zap.String("user", user), zap.Error(err))
			}
		}
	}()
}
