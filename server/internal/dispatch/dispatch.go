// Package dispatch implements the Controller Dispatcher (C7): spec §4.7's
// four-step mutation path from an HTTP API call to an agent's durable
// inbox. Grounded on the agent-side handlers.Build's schedule-validation
// shape (agent/internal/handlers/handlers.go's scheduleSpecFromParams) —
// duplicated here rather than imported since the agent and server are
// separate Go modules with no shared non-wire-type dependency, and the
// validation logic is small enough that vendoring it via a third module
// would cost more than it saves.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vaultline/vaultline/server/internal/liveness"
	"github.com/vaultline/vaultline/shared/errs"
	"github.com/vaultline/vaultline/shared/types"
)

// Sender is the narrow interface dispatch needs from the Connection
// Manager: hand a task to an agent's durable inbox.
type Sender interface {
	Dispatch(ctx context.Context, systemUUID string, msg types.TaskMessage) error
}

// Dispatcher implements spec §4.7.
type Dispatcher struct {
	liveness *liveness.Store
	sender   Sender
}

func New(liv *liveness.Store, sender Sender) *Dispatcher {
	return &Dispatcher{liveness: liv, sender: sender}
}

// Dispatch runs the §4.7 sequence: confirm the agent is connected, build
// a TaskMessage with a fresh UUIDv7 task_uuid, validate+attach a schedule
// if the mutation requests one, then push to the agent's inbox.
func (d *Dispatcher) Dispatch(ctx context.Context, kind types.OperationKind, systemUUID, org string, params map[string]any) (string, error) {
	connected, err := d.liveness.IsConnected(ctx, systemUUID)
	if err != nil {
		return "", fmt.Errorf("dispatch: checking liveness: %w", err)
	}
	if !connected {
		return "", &errs.TransientUpstream{Err: fmt.Errorf("client not connected")}
	}

	taskUUID, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("dispatch: generating task uuid: %w", err)
	}

	msgType := string(kind)
	var spec *types.ScheduleSpec
	if _, wantsSchedule := params["scheduler"]; wantsSchedule {
		s, err := scheduleSpecFromParams(params)
		if err != nil {
			return "", err
		}
		spec = &s
		msgType = kind.ScheduledKind()
	}

	msg := types.TaskMessage{
		TaskUUID:   taskUUID.String(),
		Type:       msgType,
		SystemUUID: systemUUID,
		Org:        org,
		Params:     params,
		Schedule:   spec,
	}

	if err := d.sender.Dispatch(ctx, systemUUID, msg); err != nil {
		return "", fmt.Errorf("dispatch: pushing to inbox: %w", &errs.BrokerUnavailable{Err: err})
	}

	return taskUUID.String(), nil
}

// scheduleSpecFromParams mirrors the agent-side validation of the
// scheduler_* fields of a schedule_<kind> mutation (§4.3, §6.3). The
// mutation's trigger kind is carried in the "scheduler" field per §6.1's
// mutation table (e.g. scheduler="interval"), not "trigger" — that is
// only the internal ScheduleSpec field name once parsed.
func scheduleSpecFromParams(params map[string]any) (types.ScheduleSpec, error) {
	trigger, _ := params["scheduler"].(string)
	spec := types.ScheduleSpec{Trigger: types.TriggerKind(trigger)}

	if repeats, ok := params["scheduler_repeats"].(string); ok {
		spec.Repeats = repeats
	}
	if priority, ok := params["scheduler_priority"].(float64); ok {
		spec.Priority = int(priority)
	}

	switch spec.Trigger {
	case types.TriggerInterval:
		if raw, ok := params["interval"].(map[string]any); ok {
			spec.Interval = types.Interval{
				Days:    intField(raw, "days"),
				Hours:   intField(raw, "hours"),
				Minutes: intField(raw, "minutes"),
				Seconds: intField(raw, "seconds"),
			}
		}
	case types.TriggerTimelapse:
		ts, ok := params["timelapse"].(string)
		if !ok || ts == "" {
			return spec, &errs.ValidationError{Msg: "dispatch: timelapse trigger requires a timelapse timestamp"}
		}
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return spec, &errs.ValidationError{Msg: fmt.Sprintf("dispatch: invalid timelapse: %v", err)}
		}
		spec.Timelapse = t
	default:
		return spec, &errs.ValidationError{Msg: fmt.Sprintf("dispatch: unknown trigger %q", trigger)}
	}

	return spec, nil
}

func intField(m map[string]any, key string) int {
	if v, ok := m[key].(float64); ok {
		return int(v)
	}
	return 0
}
