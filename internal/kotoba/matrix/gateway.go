// Package matrix relays chat messages between Matrix rooms and the session
// manager. Each (room, sender) pair is its own conversation.
package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/Kotoba/internal/kotoba/session"
)

const (
	backoffMin    = 2 * time.Second
	backoffMax    = 5 * time.Minute
	typingTimeout = 30 * time.Second
)

// Config holds the Matrix connection settings.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// Rooms are joined at start. When non-empty, messages from other rooms
	// are ignored.
	Rooms []string
	// DB persists the sync position. When nil the position is kept in memory
	// and a restart starts from the server's current state.
	DB *sql.DB
}

// Chatter is the part of the session manager the gateway drives.
type Chatter interface {
	Chat(ctx context.Context, id, text string) (session.Reply, error)
}

// roomClient is the subset of *mautrix.Client used to answer.
type roomClient interface {
	SendText(ctx context.Context, roomID id.RoomID, text string) (*mautrix.RespSendEvent, error)
	UserTyping(ctx context.Context, roomID id.RoomID, typing bool, timeout time.Duration) (*mautrix.RespTyping, error)
}

// Gateway is the Matrix transport.
type Gateway struct {
	client  *mautrix.Client
	room    roomClient
	cfg     Config
	chat    Chatter
	rooms   map[id.RoomID]bool
	logger  *slog.Logger
	started time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates the client without contacting the homeserver.
func New(cfg Config, chat Chatter, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix: create client: %w", err)
	}
	if cfg.DB != nil {
		client.Store = &dbSyncStore{db: cfg.DB}
	} else {
		logger.Warn("matrix: no database for the sync position, using memory")
	}

	rooms := make(map[id.RoomID]bool, len(cfg.Rooms))
	for _, r := range cfg.Rooms {
		rooms[id.RoomID(r)] = true
	}
	return &Gateway{
		client: client,
		room:   client,
		cfg:    cfg,
		chat:   chat,
		rooms:  rooms,
		logger: logger,
		stopCh: make(chan struct{}),
	}, nil
}

// SessionKey names the conversation of sender in room.
func SessionKey(room id.RoomID, sender id.UserID) string {
	return string(room) + ":" + string(sender)
}

// Start joins the configured rooms and syncs in the background, reconnecting
// with exponential backoff until Stop is called.
func (g *Gateway) Start(ctx context.Context) error {
	g.started = time.Now()
	syncer, ok := g.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errors.New("matrix: unexpected syncer type")
	}
	syncer.OnEventType(event.EventMessage, func(_ context.Context, evt *event.Event) {
		g.handleMessage(ctx, evt)
	})

	for r := range g.rooms {
		if err := g.join(ctx, r); err != nil {
			return fmt.Errorf("matrix: join %s: %w", r, err)
		}
	}
	g.logger.Info("matrix: connected", "user_id", g.cfg.UserID, "rooms", len(g.rooms))

	g.wg.Add(1)
	go g.syncLoop()
	return nil
}

func (g *Gateway) syncLoop() {
	defer g.wg.Done()
	backoff := backoffMin
	for {
		err := g.client.Sync()
		select {
		case <-g.stopCh:
			return
		default:
		}
		if err == nil {
			return
		}
		g.logger.Error("matrix: sync stopped, reconnecting", "err", err, "backoff", backoff)
		select {
		case <-g.stopCh:
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, backoffMax)
	}
}

// Stop ends the sync loop and waits for in-flight replies.
func (g *Gateway) Stop() {
	g.stopOnce.Do(func() {
		close(g.stopCh)
		g.client.StopSync()
	})
	g.wg.Wait()
}

func (g *Gateway) accepts(evt *event.Event) (string, bool) {
	if evt.Sender == id.UserID(g.cfg.UserID) {
		return "", false
	}
	if len(g.rooms) > 0 && !g.rooms[evt.RoomID] {
		return "", false
	}
	// Skip backlog delivered by the first sync.
	if !g.started.IsZero() && time.UnixMilli(evt.Timestamp).Before(g.started) {
		return "", false
	}
	msg := evt.Content.AsMessage()
	if msg == nil || msg.MsgType != event.MsgText || msg.Body == "" {
		return "", false
	}
	return msg.Body, true
}

func (g *Gateway) handleMessage(ctx context.Context, evt *event.Event) {
	body, ok := g.accepts(evt)
	if !ok {
		return
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.reply(ctx, evt.RoomID, evt.Sender, body)
	}()
}

func (g *Gateway) reply(ctx context.Context, room id.RoomID, sender id.UserID, body string) {
	key := SessionKey(room, sender)
	if _, err := g.room.UserTyping(ctx, room, true, typingTimeout); err != nil {
		g.logger.Debug("matrix: typing notification failed", "room", room, "err", err)
	}
	defer func() {
		if _, err := g.room.UserTyping(ctx, room, false, 0); err != nil {
			g.logger.Debug("matrix: typing notification failed", "room", room, "err", err)
		}
	}()

	text, err := g.answer(ctx, key, body)
	if err != nil {
		g.logger.Error("matrix: chat failed", "session_id", key, "err", err)
		return
	}
	if _, err := g.room.SendText(ctx, room, text); err != nil {
		g.logger.Error("matrix: send failed", "room", room, "err", err)
	}
}

// answer returns the text to post for body. Input the session refuses is
// answered with the guidance it carries.
func (g *Gateway) answer(ctx context.Context, key, body string) (string, error) {
	reply, err := g.chat.Chat(ctx, key, body)
	var inv *session.InvalidInputError
	switch {
	case errors.As(err, &inv):
		return inv.Message, nil
	case err != nil:
		return "", err
	}
	return reply.Text, nil
}

func (g *Gateway) join(ctx context.Context, room id.RoomID) error {
	_, err := g.client.JoinRoomByID(ctx, room)
	if err != nil && errors.Is(err, mautrix.MForbidden) {
		g.logger.Warn("matrix: join refused, continuing", "room", room)
		return nil
	}
	return err
}
