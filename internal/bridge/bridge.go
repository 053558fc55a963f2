// Package bridge assembles the application: session manager, router, chat
// store, dashboard hub, and scheduler, all stitched to one dispatch loop.
//
// Every store mutation and router invocation runs on that loop, so handlers
// and the store's callers never race each other. The hub and the session
// manager enqueue work onto the loop through Do.
package bridge

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mdp/qrterminal/v3"
	"go.uber.org/zap"

	"github.com/omochice/chat-bridge/internal/command"
	"github.com/omochice/chat-bridge/internal/config"
	"github.com/omochice/chat-bridge/internal/hub"
	"github.com/omochice/chat-bridge/internal/protocol"
	"github.com/omochice/chat-bridge/internal/ratelimit"
	"github.com/omochice/chat-bridge/internal/router"
	"github.com/omochice/chat-bridge/internal/schedule"
	"github.com/omochice/chat-bridge/internal/session"
	"github.com/omochice/chat-bridge/internal/sticker"
	"github.com/omochice/chat-bridge/internal/store"
)

// Bridge is the assembled application.
type Bridge struct {
	Config  *config.Config
	Store   *store.Store
	Session *session.Manager
	Hub     *hub.Hub

	router    *router.Router
	scheduler *schedule.Scheduler
	log       *zap.Logger

	tasks chan func()
	quit  chan struct{}

	// send is the outbound path used by the scheduled announcement.
	// Redirectable in tests.
	send func(ctx context.Context, chatID string, content protocol.Content, opts protocol.SendOptions) error
	now  func() time.Time
}

// New wires every component. Run starts them.
func New(cfg *config.Config, dial session.Dialer, log *zap.Logger, sessOpts ...session.Option) (*Bridge, error) {
	b := &Bridge{
		Config: cfg,
		Store:  store.New(log),
		log:    log,
		tasks:  make(chan func(), 256),
		quit:   make(chan struct{}),
		now:    time.Now,
	}

	sess := session.New(dial, log, sessOpts...)
	b.Session = sess
	b.send = sess.Send

	b.Hub = hub.New(b.Store, sess, b, log, hub.Options{
		User:      cfg.WebUser,
		Pass:      cfg.WebPass,
		PublicDir: cfg.PublicDir,
	})

	commands := command.NewTable(command.Deps{
		Session:     sess,
		Renderer:    sticker.New(),
		Log:         log,
		Whitelist:   cfg.AllowedGroupJIDs,
		MenuMessage: config.Unescape(cfg.MenuMessage),
		GuildID:     cfg.GuildID,
	})

	b.router = router.New(
		b.Store,
		ratelimit.New(ratelimit.DefaultWindow),
		commands,
		sess,
		b.Hub,
		b,
		router.Greetings{
			GroupJID: cfg.ScheduleGroupJID,
			Welcome:  config.Unescape(cfg.WelcomeMessage),
			Farewell: config.Unescape(cfg.OutMessage),
		},
		log,
	)

	sess.OnPairing = b.onPairing
	sess.OnOpen = b.Hub.BroadcastReady
	sess.OnEvent = b.onEvent

	if cfg.CronExpr != "" && cfg.ScheduleGroupJID != "" {
		sched, err := schedule.New(cfg.CronExpr, cfg.ScheduleTZ, func() {
			go b.announce()
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to build scheduler: %w", err)
		}
		b.scheduler = sched
	}

	return b, nil
}

// Do enqueues task onto the dispatch loop. Tasks enqueued after shutdown
// begins are dropped.
func (b *Bridge) Do(task func()) {
	select {
	case b.tasks <- task:
	case <-b.quit:
	}
}

// Run starts every component and blocks draining the dispatch loop until ctx
// is cancelled. The store is persisted on the way out.
func (b *Bridge) Run(ctx context.Context) error {
	b.Store.Load(b.Config.StorageFile)

	if err := b.Hub.Start(fmt.Sprintf(":%d", b.Config.Port)); err != nil {
		return err
	}
	b.log.Info("dashboard listening", zap.String("addr", b.Hub.Addr()))

	b.Session.Start(ctx)

	if b.scheduler != nil {
		b.scheduler.Start()
	}

	for {
		select {
		case task := <-b.tasks:
			task()
		case <-ctx.Done():
			b.shutdown()
			return nil
		}
	}
}

func (b *Bridge) shutdown() {
	close(b.quit)
	if b.scheduler != nil {
		b.scheduler.Stop()
	}
	b.Session.Close()
	b.Hub.Stop()

	if err := b.Store.Persist(b.Config.StorageFile); err != nil {
		b.log.Error("failed to persist store on shutdown", zap.Error(err))
	} else {
		b.log.Info("store persisted", zap.String("path", b.Config.StorageFile))
	}
}

// onEvent runs on the session's event pump; routing is shifted onto the
// dispatch loop.
func (b *Bridge) onEvent(ev protocol.Event) {
	switch ev := ev.(type) {
	case protocol.MessagesEvent:
		b.Do(func() { b.router.HandleMessages(context.Background(), ev.Messages) })
	case protocol.ParticipantsEvent:
		b.Do(func() { b.router.HandleParticipants(context.Background(), ev) })
	}
}

func (b *Bridge) onPairing(code string) {
	b.log.Info("pairing required", zap.String("code", code))
	qrterminal.GenerateHalfBlock(code, qrterminal.L, os.Stdout)
	b.Hub.BroadcastPairingCode(code)
}

// announce sends the scheduled announcement and mirrors it into the store
// like any self-originated message. The send blocks on the jittered session
// path, so only the store mutation goes through the dispatch loop.
func (b *Bridge) announce() {
	target := b.Config.ScheduleGroupJID
	text := b.Config.ScheduleMessage

	if err := b.send(context.Background(), target, protocol.Content{Text: text}, protocol.SendOptions{}); err != nil {
		b.log.Error("scheduled announcement failed", zap.String("chat", target), zap.Error(err))
		return
	}

	msg := store.Message{
		Text:     text,
		FromSelf: true,
		Time:     store.Timestamp(b.now()),
	}
	b.Do(func() {
		b.Store.Append(target, "", msg)
		b.Hub.BroadcastNewMessage(target, msg)
		b.Hub.BroadcastChatList()
	})
	b.log.Info("scheduled announcement sent", zap.String("chat", target))
}
