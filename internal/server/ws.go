package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/agentloom/internal/command"
	"github.com/user/agentloom/internal/event"
	"github.com/user/agentloom/internal/relay"
	"github.com/user/agentloom/internal/types"
)

const (
	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	maxReadBytes = 8 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsTransport adapts a websocket to relay.Transport. TrySend only touches
// the bounded outbox; a writer goroutine owns the socket.
type wsTransport struct {
	ws        *websocket.Conn
	out       chan []byte
	high, low int

	mu        sync.Mutex
	closed    bool
	pressured bool
	onDrain   func()

	done      chan struct{}
	writeDone chan struct{}
}

func newWSTransport(ws *websocket.Conn, outbox, high, low int) *wsTransport {
	return &wsTransport{
		ws:        ws,
		out:       make(chan []byte, outbox),
		high:      high,
		low:       low,
		done:      make(chan struct{}),
		writeDone: make(chan struct{}),
	}
}

func (t *wsTransport) TrySend(msg []byte) relay.SendStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
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

func (t *wsTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.done)
	}
	return nil
}

// drained reports a crossing back under the low-water mark once per
// backpressure episode. The check shares mu with TrySend so a crossing
// cannot be missed between its length check and setting pressured.
func (t *wsTransport) drained() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pressured && len(t.out) <= t.low {
		t.pressured = false
		return true
	}
	return false
}

func (t *wsTransport) writeLoop() {
	defer close(t.writeDone)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer t.ws.Close()

	for {
		select {
		case msg := <-t.out:
			t.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := t.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				t.Close()
				return
			}
			if t.drained() && t.onDrain != nil {
				t.onDrain()
			}
		case <-ticker.C:
			t.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := t.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				t.Close()
				return
			}
		case <-t.done:
			t.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			return
		}
	}
}

// hello is the first message on every socket.
type hello struct {
	Type      string          `json:"type"`
	Epoch     types.Epoch     `json:"epoch"`
	SessionID types.SessionID `json:"sessionId,omitempty"`
}

// clientMessage is any inbound frame; Type selects which fields matter.
type clientMessage struct {
	Type        string          `json:"type"`
	Text        string          `json:"text,omitempty"`
	Images      []event.Image   `json:"images,omitempty"`
	SessionID   types.SessionID `json:"sessionId,omitempty"`
	Label       string          `json:"label,omitempty"`
	CommandText string          `json:"commandText,omitempty"`
	MetaContext string          `json:"metaContext,omitempty"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := types.SessionID(q.Get("sessionId"))
	epoch := types.Epoch(q.Get("epoch"))
	var lastSeq int64
	if v := q.Get("lastSeq"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "lastSeq must be an integer")
			return
		}
		lastSeq = n
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	ws.SetReadLimit(maxReadBytes)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	if sessionID == "" {
		sessionID = s.cfg.Registry.LatestSession()
	} else if _, ok := s.cfg.Registry.Session(sessionID); !ok {
		sessionID = s.cfg.Registry.LatestSession()
		lastSeq = 0
	}

	t := newWSTransport(ws, s.cfg.Outbox, s.cfg.HighWater, s.cfg.LowWater)
	if msg, err := json.Marshal(hello{Type: "hello", Epoch: s.cfg.Dispatcher.Epoch(), SessionID: sessionID}); err == nil {
		t.TrySend(msg)
	}
	c := s.cfg.Relay.Connect(t)
	t.onDrain = func() { s.cfg.Relay.Drain(c) }
	go t.writeLoop()

	logger := s.logger.With("conn", c.ID)
	logger.Info("websocket connected", "session", sessionID, "resume", epoch != "" && lastSeq > 0)

	defer func() {
		s.cfg.Relay.Disconnect(c)
		t.Close()
		<-t.writeDone
		logger.Info("websocket disconnected")
	}()

	ctx := r.Context()
	if sessionID != "" {
		if err := s.cfg.Relay.Resume(ctx, c, sessionID, epoch, lastSeq); err != nil {
			logger.Warn("resume failed", "session", sessionID, "error", err)
		}
	} else {
		s.cfg.Relay.SendSessionList(c)
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if !errors.As(err, &ce) {
				logger.Debug("websocket read ended", "error", err)
			}
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn("invalid client message", "error", err)
			continue
		}
		s.handleClientMessage(r, c, msg)
	}
}

func (s *Server) handleClientMessage(r *http.Request, c *relay.Conn, msg clientMessage) {
	ctx := r.Context()
	current := c.SessionID()
	var err error

	switch msg.Type {
	case "submit_prompt":
		err = s.cfg.Dispatcher.Dispatch(ctx, current, command.SubmitPrompt{Text: msg.Text, Images: msg.Images})
	case "cancel":
		err = s.cfg.Dispatcher.Dispatch(ctx, current, command.Cancel{})
	case "create_session":
		var id types.SessionID
		if id, err = s.cfg.Dispatcher.CreateSession(ctx); err == nil {
			s.cfg.Relay.Subscribe(c, id, 0)
		}
	case "switch_session":
		if err = s.cfg.Dispatcher.Dispatch(ctx, msg.SessionID, command.SwitchSession{}); err == nil {
			if _, ok := s.cfg.Registry.Session(msg.SessionID); ok {
				s.cfg.Relay.Subscribe(c, msg.SessionID, 0)
			}
		}
	case "next_block":
		err = s.cfg.Dispatcher.Dispatch(ctx, current, command.NextBlockClick{
			Label:       msg.Label,
			CommandText: msg.CommandText,
			MetaContext: msg.MetaContext,
		})
	default:
		s.logger.Warn("unknown client message", "conn", c.ID, "type", msg.Type)
		return
	}
	if err != nil {
		s.logger.Error("client command failed", "conn", c.ID, "type", msg.Type, "error", err)
	}
}
