// Package telegram lets Telegram chats drive sessions. Each chat is bound to
// one session and follows it through a relay connection, so agent replies
// arrive as the same events a websocket client sees.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/agentloom/internal/command"
	"github.com/user/agentloom/internal/delivery"
	"github.com/user/agentloom/internal/event"
	"github.com/user/agentloom/internal/readmodel"
	"github.com/user/agentloom/internal/relay"
	"github.com/user/agentloom/internal/types"
)

const (
	maxTelegramMessage = 4096
	chatOutbox         = 64
	chatHighWater      = 48
	chatLowWater       = 16
)

// Dispatcher is the command side the adapter drives.
type Dispatcher interface {
	Dispatch(ctx context.Context, sessionID types.SessionID, cmd command.Command) error
	CreateSession(ctx context.Context) (types.SessionID, error)
	Submit(ctx context.Context, id types.SessionID, text string, skipEvent bool) error
}

// Registry is the read side the adapter needs.
type Registry interface {
	Session(id types.SessionID) (readmodel.SessionMeta, bool)
}

// Log supplies the cursor new chat subscriptions start from.
type Log interface {
	LastSeq() int64
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Config wires an Adapter. Bindings defaults to an in-memory registry.
type Config struct {
	Token      string
	Dispatcher Dispatcher
	Registry   Registry
	Relay      *relay.Relay
	Log        Log
	Bindings   *delivery.Registry
	Logger     *slog.Logger
}

// Adapter bridges Telegram to the dispatcher.
type Adapter struct {
	bot    *tgbotapi.BotAPI
	send   sender
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	chats map[string]*chat
}

// New creates a Telegram adapter.
func New(cfg Config) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	a := newAdapter(bot, cfg)
	a.bot = bot
	return a, nil
}

func newAdapter(s sender, cfg Config) *Adapter {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Bindings == nil {
		cfg.Bindings = delivery.NewRegistry()
	}
	return &Adapter{
		send:   s,
		cfg:    cfg,
		logger: cfg.Logger.With("component", "telegram"),
		chats:  make(map[string]*chat),
	}
}

// Start long-polls for updates until ctx is done.
func (a *Adapter) Start(ctx context.Context) {
	defer a.Close()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			a.handleMessage(ctx, update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

// Close disconnects every chat from the relay.
func (a *Adapter) Close() {
	a.mu.Lock()
	chats := a.chats
	a.chats = make(map[string]*chat)
	a.mu.Unlock()
	for _, c := range chats {
		a.closeChat(c)
	}
}

func (a *Adapter) closeChat(c *chat) {
	a.cfg.Relay.Disconnect(c.conn)
	c.transport.Close()
	<-c.done
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	var userID int64
	if msg.From != nil {
		userID = msg.From.ID
	}
	if msg.IsCommand() {
		a.handleCommand(ctx, userID, msg.Chat.ID, msg.Command())
		return
	}
	a.handleText(ctx, userID, msg.Chat.ID, msg.Text)
}

func (a *Adapter) handleText(ctx context.Context, userID, chatID int64, text string) {
	key := buildSessionKey(userID, chatID)
	id, err := a.session(ctx, key, false)
	if err != nil {
		a.logger.Error("resolve session", "chat", key, "error", err)
		a.sendResponse(chatID, "Sorry, I could not start a session.")
		return
	}
	a.follow(key, chatID, id)

	if err := a.cfg.Dispatcher.Submit(ctx, id, text, false); err != nil {
		a.logger.Error("submit prompt", "chat", key, "session", id, "error", err)
		a.sendResponse(chatID, "Sorry, I encountered an error processing your message.")
	}
}

func (a *Adapter) handleCommand(ctx context.Context, userID, chatID int64, cmd string) {
	key := buildSessionKey(userID, chatID)

	switch cmd {
	case "start":
		a.sendResponse(chatID, "Hello! Send me a message to get started. /new starts a fresh session.")

	case "new":
		id, err := a.session(ctx, key, true)
		if err != nil {
			a.logger.Error("create session", "chat", key, "error", err)
			a.sendResponse(chatID, "Sorry, I could not start a session.")
			return
		}
		a.follow(key, chatID, id)
		a.sendResponse(chatID, fmt.Sprintf("Started session %s.", id))

	case "cancel":
		id, ok := a.cfg.Bindings.Lookup(key)
		if !ok {
			a.sendResponse(chatID, "Nothing to cancel.")
			return
		}
		if err := a.cfg.Dispatcher.Dispatch(ctx, id, command.Cancel{}); err != nil {
			a.logger.Error("cancel", "chat", key, "session", id, "error", err)
		}

	case "status":
		id, ok := a.cfg.Bindings.Lookup(key)
		meta, known := a.cfg.Registry.Session(id)
		if !ok || !known {
			a.sendResponse(chatID, "No session yet. Send a message to start one.")
			return
		}
		title := meta.Title
		if title == "" {
			title = "(untitled)"
		}
		a.sendResponse(chatID, fmt.Sprintf("Session: %s\nTitle: %s\nLoaded: %t", id, title, meta.Loaded))

	default:
		a.sendResponse(chatID, "Unknown command. Available: /start, /new, /cancel, /status")
	}
}

// session returns the session bound to key, creating and binding a new
// one when fresh is set or the bound session no longer exists.
func (a *Adapter) session(ctx context.Context, key string, fresh bool) (types.SessionID, error) {
	if !fresh {
		if id, ok := a.cfg.Bindings.Lookup(key); ok {
			if _, known := a.cfg.Registry.Session(id); known {
				return id, nil
			}
		}
	}

	id, err := a.cfg.Dispatcher.CreateSession(ctx)
	if err != nil {
		return "", err
	}
	if err := a.cfg.Bindings.Bind(key, id); err != nil {
		a.logger.Warn("persist chat binding", "chat", key, "error", err)
	}
	return id, nil
}

// follow points the chat's relay connection at id, starting from the
// current end of the log so history is not resent. A connection the relay
// gave up on is replaced.
func (a *Adapter) follow(key string, chatID int64, id types.SessionID) {
	a.mu.Lock()
	c, ok := a.chats[key]
	var stale *chat
	if ok && c.conn.State() == relay.Closed {
		stale, ok = c, false
	}
	if !ok {
		c = a.openChat(chatID)
		a.chats[key] = c
	}
	a.mu.Unlock()

	if stale != nil {
		a.logger.Info("reopening chat connection", "chat", key, "conn", stale.conn.ID)
		a.closeChat(stale)
	}
	if stale != nil || c.conn.SessionID() != id {
		a.cfg.Relay.Subscribe(c.conn, id, a.cfg.Log.LastSeq())
	}
}

// chat is one Telegram conversation attached to the relay.
type chat struct {
	id        int64
	conn      *relay.Conn
	transport *chatTransport
	done      chan struct{}
}

func (a *Adapter) openChat(chatID int64) *chat {
	t := &chatTransport{
		out:    make(chan []byte, chatOutbox),
		high:   chatHighWater,
		low:    chatLowWater,
		closed: make(chan struct{}),
	}
	c := &chat{id: chatID, transport: t, done: make(chan struct{})}
	c.conn = a.cfg.Relay.Connect(t)
	go a.writeLoop(c)
	return c
}

func (a *Adapter) writeLoop(c *chat) {
	defer close(c.done)
	for {
		select {
		case msg := <-c.transport.out:
			if text, ok := render(msg); ok {
				a.sendResponse(c.id, text)
			}
			if c.transport.drained() {
				a.cfg.Relay.Drain(c.conn)
			}
		case <-c.transport.closed:
			return
		}
	}
}

// chatTransport buffers relay messages for one chat's writer goroutine.
// Above the high-water mark it reports backpressure so a slow Telegram API
// makes the relay queue instead of dropping the chat.
type chatTransport struct {
	out       chan []byte
	high, low int

	mu        sync.Mutex
	closed    chan struct{}
	shut      bool
	pressured bool
}

func (t *chatTransport) TrySend(msg []byte) relay.SendStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.shut {
		return relay.Dropped
	}
	select {
	case t.out <- msg:
	default:
		return relay.Dropped
	}
	if len(t.out) >= t.high {
		t.pressured = true
		return relay.Backpressure
	}
	return relay.Sent
}

// drained reports the outbox falling back to the low-water mark, once per
// backpressure episode.
func (t *chatTransport) drained() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pressured && len(t.out) <= t.low {
		t.pressured = false
		return true
	}
	return false
}

func (t *chatTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.shut {
		t.shut = true
		close(t.closed)
	}
	return nil
}

// render turns a relay message into chat text. Only agent answers, errors
// and cancellations are shown.
func render(msg []byte) (string, bool) {
	var ev event.Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		return "", false
	}
	switch p := ev.Payload.(type) {
	case event.AgentText:
		return p.Text, p.Text != ""
	case event.ErrorOccurred:
		return "Error: " + p.Message, true
	case event.TurnCompleted:
		if p.StopReason == "cancelled" {
			return "Cancelled.", true
		}
	}
	return "", false
}

func (a *Adapter) sendResponse(chatID int64, text string) {
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := a.send.Send(msg); err != nil {
			// Retry without markdown if it fails
			msg.ParseMode = ""
			if _, err := a.send.Send(msg); err != nil {
				a.logger.Error("send message", "chat_id", chatID, "error", err)
			}
		}
	}
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := min(maxTelegramMessage, len(text))
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}

func buildSessionKey(userID, chatID int64) string {
	return types.ChatKey("telegram",
		strconv.FormatInt(userID, 10),
		strconv.FormatInt(chatID, 10),
	)
}
