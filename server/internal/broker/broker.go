// Package broker implements the durable per-agent inbox (spec §4.6/§4.7)
// as a Redis list: one LPUSH/BRPOP-backed FIFO queue per system_uuid.
// Grounded on bigdegenenergy's go-redis/v9 usage in the examples pack;
// the teacher repo has no equivalent (it dispatched over a live grpc
// stream with no durable queue), so this package is new rather than
// adapted.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vaultline/vaultline/shared/types"
)

// ErrNoInbox is returned by Dispatch-side callers when an agent's inbox key
// does not exist — spec §4.7's "if the inbox does not exist, return an
// error" edge case.
var ErrNoInbox = errors.New("broker: inbox does not exist")

func inboxKey(systemUUID string) string {
	return "vaultline:inbox:" + systemUUID
}

// Broker wraps a redis client with the task-inbox operations the
// Connection Manager and Dispatcher need.
type Broker struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func New(rdb *redis.Client, logger *zap.Logger) *Broker {
	return &Broker{rdb: rdb, logger: logger.Named("broker")}
}

// Ping verifies the broker is reachable — used at channel-open time to
// decide whether to close with code 4000 (spec §4.6).
func (b *Broker) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

// Exists reports whether an inbox key has ever been declared for this
// agent, distinguishing "empty queue" from "no queue at all".
func (b *Broker) Exists(ctx context.Context, systemUUID string) (bool, error) {
	n, err := b.rdb.Exists(ctx, inboxKey(systemUUID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeclareInbox ensures an inbox exists for an agent without enqueuing a
// message, so Exists can report true immediately after a channel opens
// even before the first task is dispatched. Implemented as a marker field
// set with a long TTL-less sentinel push/pop pair is unnecessary; instead
// we track declared inboxes in a redis set so DeclareInbox is idempotent
// and cheap.
func (b *Broker) DeclareInbox(ctx context.Context, systemUUID string) error {
	return b.rdb.SAdd(ctx, "vaultline:inboxes", systemUUID).Err()
}

// DeleteInbox removes an agent's inbox entirely — called on channel close
// (spec §4.6 "On close"). Failures are logged, never propagated, per the
// spec's "best effort" framing for this step.
func (b *Broker) DeleteInbox(ctx context.Context, systemUUID string) {
	pipe := b.rdb.TxPipeline()
	pipe.Del(ctx, inboxKey(systemUUID))
	pipe.SRem(ctx, "vaultline:inboxes", systemUUID)
	if _, err := pipe.Exec(ctx); err != nil {
		b.logger.Warn("failed to delete agent inbox", zap.String("system_uuid", systemUUID), zap.Error(err))
	}
}

// Push enqueues a task message for delivery to the named agent (spec
// §4.7 step 4). Returns ErrNoInbox if the agent has no declared inbox —
// i.e. it has never connected or was deregistered.
func (b *Broker) Push(ctx context.Context, systemUUID string, msg types.TaskMessage) error {
	declared, err := b.rdb.SIsMember(ctx, "vaultline:inboxes", systemUUID).Result()
	if err != nil {
		return err
	}
	if !declared {
		return fmt.Errorf("%w: %s", ErrNoInbox, systemUUID)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.rdb.LPush(ctx, inboxKey(systemUUID), payload).Err()
}

// Pop blocks until a task message is available for the named agent or ctx
// is cancelled. Used by the Connection Manager's per-agent inbox-pump
// goroutine to bridge the broker into the live websocket connection.
func (b *Broker) Pop(ctx context.Context, systemUUID string, timeout time.Duration) (*types.TaskMessage, error) {
	res, err := b.rdb.BRPop(ctx, timeout, inboxKey(systemUUID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// BRPop returns [key, value].
	var msg types.TaskMessage
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
