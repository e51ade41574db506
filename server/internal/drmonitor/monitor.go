package drmonitor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/vaultline/vaultline/server/internal/liveness"
	"github.com/vaultline/vaultline/server/internal/restoreinvoker"
	"github.com/vaultline/vaultline/shared/types"
)

const (
	tickInterval = 60 * time.Second
	warmup       = 60 * time.Second
)

// Monitor runs the §4.9 control loop.
type Monitor struct {
	policy   types.DRPolicyDoc
	liveness *liveness.Store
	invoker  restoreinvoker.Invoker
	logger   *zap.Logger

	// firedFor remembers, per agent, the LastDisconnectedAt value that
	// already triggered a restore invocation. Without this a reconnect
	// followed by a redisconnect that leaves the same stale timestamp
	// cached elsewhere could refire on data that never actually changed;
	// more importantly it is what satisfies testable property S4's
	// "upon reconnect no additional trigger fires" — a fresh connect
	// always advances ConnectedAt past LastDisconnectedAt, so IsConnected
	// short-circuits the check before firedFor is even consulted.
	firedFor map[string]time.Time
}

func New(policy types.DRPolicyDoc, liv *liveness.Store, invoker restoreinvoker.Invoker, logger *zap.Logger) *Monitor {
	return &Monitor{
		policy:   policy,
		liveness: liv,
		invoker:  invoker,
		logger:   logger.Named("drmonitor"),
		firedFor: make(map[string]time.Time),
	}
}

// Run blocks until ctx is cancelled, evaluating every agent's threshold
// every tick after an initial warm-up delay (spec §4.9).
func (m *Monitor) Run(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(warmup):
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	m.evaluateAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.evaluateAll(ctx)
		}
	}
}

func (m *Monitor) evaluateAll(ctx context.Context) {
	for org, orgPolicy := range m.policy {
		for agentUUID, pol := range orgPolicy.DR.Agents {
			if !pol.Enabled {
				continue
			}
			if err := m.evaluateAgent(ctx, org, agentUUID, pol); err != nil {
				m.logger.Error("dr evaluation failed",
					zap.String("org", org), zap.String("system_uuid", agentUUID), zap.Error(err))
			}
		}
	}
}

func (m *Monitor) evaluateAgent(ctx context.Context, org, agentUUID string, pol types.DRAgentPolicy) error {
	threshold, err := ParseThreshold(pol.Threshold)
	if err != nil {
		return err
	}

	l, err := m.liveness.Get(ctx, agentUUID)
	if errors.Is(err, liveness.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if l.Status == types.AgentStatusConnected {
		return nil
	}
	if l.LastDisconnectedAt.IsZero() {
		return nil
	}

	if time.Since(l.LastDisconnectedAt) <= threshold {
		return nil
	}

	if already, ok := m.firedFor[agentUUID]; ok && already.Equal(l.LastDisconnectedAt) {
		return nil
	}

	if err := m.invoker.Invoke(ctx, agentUUID, pol.RestoreConfig); err != nil {
		return err
	}
	m.firedFor[agentUUID] = l.LastDisconnectedAt
	m.logger.Warn("DR threshold breached, restore triggered",
		zap.String("org", org), zap.String("system_uuid", agentUUID),
		zap.Duration("threshold", threshold), zap.Time("last_disconnected_at", l.LastDisconnectedAt))
	return nil
}
