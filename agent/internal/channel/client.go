// Package channel implements the Agent Control Channel Client (C4): the
// persistent bidirectional websocket connection to the Controller, with
// bearer-token auth, exponential-backoff reconnect wrapped in a circuit
// breaker, an explicit open/closing/closed state machine (§9 redesign:
// "explicit channelState enum with a NotOpen error rather than a bool
// field raced between goroutines"), and reconnect-time replay of
// responses that could not be delivered while disconnected.
//
// The reconnect loop (backoff, jitter-free doubling, capped interval,
// session-scoped goroutines torn down together on any failure) is
// grounded on the teacher's agent/internal/connection/manager.go Run/connect
// shape; the read/write pump split and ping/pong keepalive are grounded on
// the teacher's server/internal/websocket/client.go, adapted from a
// server-side broadcaster to a client-side duplex peer.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/vaultline/vaultline/agent/internal/authclient"
	"github.com/vaultline/vaultline/agent/internal/handlers"
	"github.com/vaultline/vaultline/agent/internal/ledger"
	"github.com/vaultline/vaultline/agent/internal/metrics"
	"github.com/vaultline/vaultline/shared/errs"
	"github.com/vaultline/vaultline/shared/types"
)

const (
	backoffInitial = 1 * time.Second
	backoffMax     = 60 * time.Second
	backoffFactor  = 2.0

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// state is the explicit lifecycle of the underlying websocket connection.
type state int32

const (
	stateClosed state = iota
	stateOpen
	stateClosing
)

// ErrNotOpen is returned by Send when the channel is not currently open.
var ErrNotOpen = errors.New("channel: not open")

// Config holds everything the Client needs to authenticate and connect.
type Config struct {
	ServerURL  string // e.g. "http://localhost:8080", converted to ws(s)://.../channel
	SystemUUID string
	Password   string
}

// Client is the agent-side Control Channel peer.
type Client struct {
	cfg     Config
	auth    *authclient.Client
	store   *ledger.Store
	reg     handlers.Registry
	logger  *zap.Logger
	breaker *gobreaker.CircuitBreaker

	// jobs is the single-worker queue that turns inbox deliveries into
	// handler invocations. One worker goroutine drains it for the life
	// of the Client (started once by Run, surviving reconnects) so the
	// agent processes at most one job at a time, in delivery order
	// (§4.4, §5), while readPump itself never blocks on a slow handler
	// and keeps servicing ping/pong keepalive frames.
	jobs     chan taskJob
	jobsOnce sync.Once

	mu    sync.Mutex
	state state
	conn  *websocket.Conn
}

type taskJob struct {
	ctx context.Context
	msg types.TaskMessage
}

// SetHandlers installs the dispatch registry. Must be called before Run;
// it is separate from New because the registry is built from a Scheduler
// that itself needs the Client as its response Emitter, so the two are
// wired together after both are constructed.
func (c *Client) SetHandlers(reg handlers.Registry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reg = reg
}

// New constructs a Client. Call SetHandlers then Run to start serving.
func New(cfg Config, store *ledger.Store, reg handlers.Registry, logger *zap.Logger) *Client {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "control-channel",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		cfg:     cfg,
		auth:    authclient.New(cfg.ServerURL),
		store:   store,
		reg:     reg,
		logger:  logger.Named("channel"),
		breaker: cb,
		state:   stateClosed,
		jobs:    make(chan taskJob, 32),
	}
}

// worker drains the job queue one task at a time for the entire lifetime
// of the Client, independent of any single connection's lifetime, so a
// task that is still running across a reconnect still finishes before
// the next one starts.
func (c *Client) worker() {
	for job := range c.jobs {
		c.dispatch(job.ctx, job.msg)
	}
}

// Run drives the connect/reconnect loop until ctx is cancelled. Each
// session attempt is wrapped in the circuit breaker so a Controller that
// is down hard stops being hammered with dial attempts.
func (c *Client) Run(ctx context.Context) {
	c.jobsOnce.Do(func() { go c.worker() })
	backoff := backoffInitial

	for {
		if ctx.Err() != nil {
			c.logger.Info("channel client stopped")
			return
		}

		_, err := c.breaker.Execute(func() (any, error) {
			return nil, c.connect(ctx)
		})
		if err != nil {
			metrics.ChannelReconnectsTotal.Inc()
			c.logger.Warn("channel session ended, reconnecting",
				zap.Error(err), zap.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = backoffInitial
	}
}

// connect authenticates, dials, flushes the outbox, and runs the
// read/write pumps until the session ends.
func (c *Client) connect(ctx context.Context) error {
	token, err := c.auth.FetchToken(ctx, c.cfg.SystemUUID, c.cfg.Password)
	if err != nil {
		return fmt.Errorf("channel: auth: %w", err)
	}

	wsURL, err := toWebsocketURL(c.cfg.ServerURL)
	if err != nil {
		return fmt.Errorf("channel: bad server url: %w", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return &errs.TransientUpstream{Err: fmt.Errorf("channel: dial: %w", err)}
	}

	c.setConn(conn, stateOpen)
	defer c.setConn(nil, stateClosed)

	c.logger.Info("control channel open")
	c.flushOutbox(ctx)

	errCh := make(chan error, 2)
	go func() { errCh <- c.writePump(conn) }()
	go c.readPump(ctx, conn, errCh)

	err = <-errCh
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (c *Client) setConn(conn *websocket.Conn, s state) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
	c.state = s
}

// Send writes a ResponseMessage on the wire if the channel is open, or
// returns ErrNotOpen so the caller (Emit) can persist it for later replay.
func (c *Client) Send(msg types.ResponseMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateOpen || c.conn == nil {
		return ErrNotOpen
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(msg)
}

// Emit implements executor.Emitter and the handlers.Func emit parameter.
// Every response, including those of scheduled firings, is sent upstream
// when the channel is open and otherwise persisted to the ledger outbox
// for replay on reconnect; responses are not routed by message type.
func (c *Client) Emit(msg types.ResponseMessage) {
	if err := c.Send(msg); err != nil {
		data, merr := json.Marshal(msg)
		if merr != nil {
			c.logger.Error("failed to marshal response for deferred delivery", zap.Error(merr))
			return
		}
		if perr := c.store.PutOutbox(msg.TaskUUID, data); perr != nil {
			c.logger.Error("failed to persist deferred response", zap.Error(perr))
		}
	}
}

// flushOutbox replays every response that accumulated while the channel
// was closed, in no particular order, deleting each on confirmed send.
func (c *Client) flushOutbox(ctx context.Context) {
	pending, err := c.store.Outbox()
	if err != nil {
		c.logger.Error("failed to load outbox", zap.Error(err))
		return
	}
	for taskUUID, raw := range pending {
		var msg types.ResponseMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Warn("dropping malformed outbox entry", zap.String("task_uuid", taskUUID))
			_ = c.store.DeleteOutbox(taskUUID)
			continue
		}
		if err := c.Send(msg); err != nil {
			c.logger.Warn("outbox replay failed, will retry next reconnect",
				zap.String("task_uuid", taskUUID), zap.Error(err))
			continue
		}
		if err := c.store.DeleteOutbox(taskUUID); err != nil {
			c.logger.Error("failed to clear replayed outbox entry", zap.Error(err))
		}
	}
	if len(pending) > 0 {
		c.logger.Info("outbox flush complete", zap.Int("replayed", len(pending)))
	}
}

// readPump reads TaskMessages from the wire and enqueues each onto the
// single-worker job queue (§4.4/§5: the agent consumes its inbox at
// prefetch=1 and processes at most one job at a time, in delivery
// order). Handing off to the queue rather than dispatching inline keeps
// this loop free to keep reading pong frames during a long-running
// handler, so a slow backup does not trip the idle read deadline.
func (c *Client) readPump(ctx context.Context, conn *websocket.Conn, errCh chan<- error) {
	defer func() {
		c.setConn(nil, stateClosing)
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg types.TaskMessage
		if err := conn.ReadJSON(&msg); err != nil {
			errCh <- fmt.Errorf("channel: read: %w", err)
			return
		}
		c.jobs <- taskJob{ctx: ctx, msg: msg}
	}
}

func (c *Client) dispatch(ctx context.Context, msg types.TaskMessage) {
	c.mu.Lock()
	handler, ok := c.reg[msg.Type]
	c.mu.Unlock()
	if !ok {
		c.logger.Warn("no handler registered for message type", zap.String("type", msg.Type))
		return
	}
	if err := handler(ctx, msg.TaskUUID, msg.Params, c); err != nil {
		c.logger.Error("handler failed",
			zap.String("type", msg.Type), zap.String("task_uuid", msg.TaskUUID), zap.Error(err))
	}
}

// writePump sends periodic ping frames to keep the connection alive and
// let the Controller detect a dead agent quickly.
func (c *Client) writePump(conn *websocket.Conn) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		if c.state != stateOpen {
			c.mu.Unlock()
			return nil
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := conn.WriteMessage(websocket.PingMessage, nil)
		c.mu.Unlock()
		if err != nil {
			return fmt.Errorf("channel: ping: %w", err)
		}
	}
	return nil
}

func nextBackoff(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * backoffFactor)
	if next > backoffMax {
		return backoffMax
	}
	return next
}

// toWebsocketURL converts the Controller's HTTP base URL to its websocket
// channel endpoint (http->ws, https->wss, path /channel).
func toWebsocketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/channel"
	return u.String(), nil
}
