// Package agentmanager implements the Controller Connection Manager (C6):
// the per-agent websocket registry, keyed by system_uuid, that bridges
// each agent's durable broker inbox onto its live /channel connection and
// routes inbound responses to the result-store dispatch table. Grounded
// on the teacher's agentmanager/manager.go (in-memory registry pattern,
// RWMutex-guarded map, Register/Deregister shape), rebuilt around a
// websocket.Conn instead of a grpc stream and carrying the full §4.6
// on-open/on-message/on-close sequence the teacher's version never had
// to (the teacher dispatched over a live grpc stream with no durable
// queue to bridge).
package agentmanager

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vaultline/vaultline/server/internal/auth"
	"github.com/vaultline/vaultline/server/internal/broker"
	"github.com/vaultline/vaultline/server/internal/liveness"
	"github.com/vaultline/vaultline/server/internal/resulthandlers"
	ws "github.com/vaultline/vaultline/server/internal/websocket"
	"github.com/vaultline/vaultline/shared/types"
)

// popTimeout bounds each broker.Pop call in the inbox pump so the pump can
// periodically notice a cancelled context even while no task is queued.
const popTimeout = 5 * time.Second

// connectedAgent pairs a live Conn with the cancel func for its inbox pump.
type connectedAgent struct {
	conn       *ws.Conn
	cancelPump context.CancelFunc
}

// Manager is the Controller's live agent registry.
type Manager struct {
	mu     sync.RWMutex
	agents map[string]*connectedAgent // keyed by system_uuid

	authSvc   *auth.Service
	broker    *broker.Broker
	liveness  *liveness.Store
	responses resulthandlers.Registry
	logger    *zap.Logger
}

func New(authSvc *auth.Service, brk *broker.Broker, liv *liveness.Store, responses resulthandlers.Registry, logger *zap.Logger) *Manager {
	return &Manager{
		agents:    make(map[string]*connectedAgent),
		authSvc:   authSvc,
		broker:    brk,
		liveness:  liv,
		responses: responses,
		logger:    logger.Named("agentmanager"),
	}
}

// HandleUpgrade implements the §4.6 "On open" sequence for the /channel
// endpoint: verify the bearer token, require an org parameter, verify the
// broker is reachable, then upgrade, register, and start the pumps.
func (m *Manager) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	claims, err := m.authSvc.Verify(token)
	if err != nil {
		http.Error(w, "invalid or missing bearer token", http.StatusUnauthorized)
		return
	}
	systemUUID := claims.Subject

	org := r.URL.Query().Get("org")
	if org == "" {
		org = r.Header.Get("X-Org")
	}
	if org == "" {
		conn, upErr := ws.Accept(w, r, systemUUID, org, m.logger)
		if upErr == nil {
			conn.CloseWithCode(4001, "org parameter is required")
		} else {
			http.Error(w, "org parameter is required", http.StatusBadRequest)
		}
		return
	}

	if err := m.broker.Ping(r.Context()); err != nil {
		conn, upErr := ws.Accept(w, r, systemUUID, org, m.logger)
		if upErr == nil {
			conn.CloseWithCode(4000, "broker unavailable")
		} else {
			http.Error(w, "broker unavailable", http.StatusServiceUnavailable)
		}
		return
	}

	conn, err := ws.Accept(w, r, systemUUID, org, m.logger)
	if err != nil {
		m.logger.Warn("websocket upgrade failed", zap.String("system_uuid", systemUUID), zap.Error(err))
		return
	}

	if err := m.broker.DeclareInbox(r.Context(), systemUUID); err != nil {
		m.logger.Error("failed to declare inbox", zap.String("system_uuid", systemUUID), zap.Error(err))
	}
	if err := m.liveness.RecordConnect(r.Context(), systemUUID, org); err != nil {
		m.logger.Error("failed to record connect", zap.String("system_uuid", systemUUID), zap.Error(err))
	}

	pumpCtx, cancelPump := context.WithCancel(context.Background())
	m.mu.Lock()
	if existing, ok := m.agents[systemUUID]; ok {
		m.logger.Warn("replacing existing agent connection", zap.String("system_uuid", systemUUID))
		existing.cancelPump()
	}
	m.agents[systemUUID] = &connectedAgent{conn: conn, cancelPump: cancelPump}
	total := len(m.agents)
	m.mu.Unlock()

	m.logger.Info("agent connected", zap.String("system_uuid", systemUUID), zap.String("org", org), zap.Int("total_connected", total))

	go m.pumpInbox(pumpCtx, systemUUID, conn)

	conn.Run(
		func(msg types.ResponseMessage) {
			msg.SystemUUID = systemUUID
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := resulthandlers.Dispatch(ctx, m.responses, msg); err != nil {
				m.logger.Error("failed to dispatch response", zap.String("system_uuid", systemUUID), zap.String("type", msg.Type), zap.Error(err))
			}
		},
		func() { m.deregister(systemUUID, cancelPump) },
	)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

// pumpInbox bridges an agent's durable broker inbox to its live
// connection: it blocks on broker.Pop and forwards each task to the
// websocket until the context is cancelled (agent disconnected).
func (m *Manager) pumpInbox(ctx context.Context, systemUUID string, conn *ws.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msg, err := m.broker.Pop(ctx, systemUUID, popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Error("inbox pop failed", zap.String("system_uuid", systemUUID), zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if msg == nil {
			continue
		}
		if err := conn.SendTask(*msg); err != nil {
			m.logger.Warn("failed to deliver task, agent channel not open", zap.String("system_uuid", systemUUID), zap.Error(err))
			return
		}
	}
}

// deregister implements the §4.6 "On close" sequence: record the
// disconnect and best-effort delete the agent's inbox.
func (m *Manager) deregister(systemUUID string, cancelPump context.CancelFunc) {
	cancelPump()

	m.mu.Lock()
	delete(m.agents, systemUUID)
	total := len(m.agents)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.liveness.RecordDisconnect(ctx, systemUUID); err != nil {
		m.logger.Error("failed to record disconnect", zap.String("system_uuid", systemUUID), zap.Error(err))
	}
	m.broker.DeleteInbox(ctx, systemUUID)

	m.logger.Info("agent disconnected", zap.String("system_uuid", systemUUID), zap.Int("total_connected", total))
}

// Dispatch delivers a task to a connected agent's durable inbox, which the
// agent's running inbox pump then forwards onto the live channel. Exposed
// for the C7 Dispatcher to call without depending on websocket directly.
func (m *Manager) Dispatch(ctx context.Context, systemUUID string, msg types.TaskMessage) error {
	return m.broker.Push(ctx, systemUUID, msg)
}

// IsConnected reports whether an agent currently has a live channel.
func (m *Manager) IsConnected(systemUUID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.agents[systemUUID]
	return ok
}

// ConnectedCount returns the number of currently connected agents.
func (m *Manager) ConnectedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.agents)
}
