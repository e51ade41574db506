package websocket

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vaultline/vaultline/shared/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// Upgrader performs the HTTP -> WebSocket upgrade for the /channel
// endpoint. Origin checking is left to the reverse proxy, matching the
// teacher's posture.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// DispatchFunc handles one inbound response message from an agent.
type DispatchFunc func(msg types.ResponseMessage)

// Conn is the Controller's duplex connection to a single agent, keyed by
// system_uuid in agentmanager.Manager. readPump/writePump mirror the
// teacher's Client pumps; the difference is that readPump here decodes
// and dispatches real application messages instead of discarding them.
type Conn struct {
	SystemUUID string
	Org        string

	conn   *websocket.Conn
	send   chan types.TaskMessage
	logger *zap.Logger

	mu    sync.Mutex
	state channelState

	onClose func()
}

// Accept upgrades an HTTP request to a websocket and wraps it in a Conn.
func Accept(w http.ResponseWriter, r *http.Request, systemUUID, org string, logger *zap.Logger) (*Conn, error) {
	raw, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &Conn{
		SystemUUID: systemUUID,
		Org:        org,
		conn:       raw,
		send:       make(chan types.TaskMessage, 64),
		logger:     logger.With(zap.String("system_uuid", systemUUID)),
		state:      stateOpen,
	}, nil
}

// Run starts the read and write pumps and blocks until the connection
// closes. dispatch is invoked for every decoded ResponseMessage; onClose
// runs exactly once when the connection terminates, from whichever pump
// notices first.
func (c *Conn) Run(dispatch DispatchFunc, onClose func()) {
	c.onClose = onClose
	var once sync.Once
	closeFn := func() { once.Do(c.close) }

	go func() {
		defer closeFn()
		c.writePump()
	}()
	defer closeFn()
	c.readPump(dispatch)
}

func (c *Conn) close() {
	c.mu.Lock()
	c.state = stateClosed
	c.mu.Unlock()
	c.conn.Close()
	if c.onClose != nil {
		c.onClose()
	}
}

// SendTask enqueues a task message for delivery to the agent. Returns
// ErrNotOpen if the channel is not currently open.
func (c *Conn) SendTask(msg types.TaskMessage) error {
	c.mu.Lock()
	open := c.state == stateOpen
	c.mu.Unlock()
	if !open {
		return ErrNotOpen
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrNotOpen
	}
}

// CloseWithCode sends a close frame with the given status code and reason,
// then tears down the connection. Used for the §4.6 "On open" rejection
// paths (missing org -> 4001, broker unreachable -> 4000).
func (c *Conn) CloseWithCode(code int, reason string) {
	c.mu.Lock()
	c.state = stateClosing
	c.mu.Unlock()
	deadline := time.Now().Add(writeWait)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	c.conn.Close()
}

func (c *Conn) readPump(dispatch DispatchFunc) {
	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("failed to set read deadline", zap.Error(err))
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg types.ResponseMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				c.logger.Warn("unexpected close", zap.Error(err))
			}
			return
		}
		dispatch(msg)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("failed to set write deadline", zap.Error(err))
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Warn("write error", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("failed to set write deadline", zap.Error(err))
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Warn("ping error", zap.Error(err))
				return
			}
		}
	}
}
