// Package handlers is the neutral type -> handler mapping the Control
// Channel Client dispatches through. It depends on the executor and
// scheduler packages but neither of those depends back on it, which is
// the inversion called for by the "class-based handler dispatch with
// inheritance composition" redesign note: an explicit map built once at
// startup instead of a type hierarchy resolved at runtime.
package handlers

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vaultline/vaultline/agent/internal/executor"
	"github.com/vaultline/vaultline/agent/internal/scheduler"
	"github.com/vaultline/vaultline/shared/errs"
	"github.com/vaultline/vaultline/shared/types"
)

// immediateKinds is the set of operation kinds a handler dispatches
// straight to the Executor. schedule_<kind> variants are handled
// separately below since they go through the Scheduler instead.
var immediateKinds = []types.OperationKind{
	types.KindInitLocal,
	types.KindSnapshotsLocal,
	types.KindBackupLocal,
	types.KindRestoreLocal,
	types.KindInitS3,
	types.KindSnapshotsS3,
	types.KindBackupS3,
	types.KindRestoreS3,
}

// Func is the shape every registered handler has: given the inbound
// message's task_uuid and params, do the work and emit any resulting
// ResponseMessage(s) via emit. The operation kind is bound when the
// handler is registered, not passed in.
type Func func(ctx context.Context, taskUUID string, params map[string]any, emit executor.Emitter) error

// Registry is the built-once type -> handler map.
type Registry map[string]Func

// Build constructs the full Registry: one immediate-dispatch entry per
// operation kind, plus one schedule_<kind> entry per kind that
// validates and hands off to the Scheduler instead of running inline.
func Build(exec *executor.Executor, sched *scheduler.Scheduler, logger *zap.Logger) Registry {
	reg := make(Registry, len(immediateKinds)*2)
	log := logger.Named("handlers")

	for _, kind := range immediateKinds {
		k := kind // capture
		reg[string(k)] = func(ctx context.Context, taskUUID string, params map[string]any, emit executor.Emitter) error {
			exec.Execute(ctx, taskUUID, k, params, emit)
			return nil
		}

		reg[k.ScheduledKind()] = func(ctx context.Context, taskUUID string, params map[string]any, emit executor.Emitter) error {
			spec, err := scheduleSpecFromParams(params)
			if err != nil {
				return err
			}
			paramsJSON, err := executor.MarshalParams(params)
			if err != nil {
				return &errs.ValidationError{Msg: fmt.Sprintf("handlers: marshal params: %v", err)}
			}
			scheduledUUID, err := sched.Schedule(k, params, spec, paramsJSON)
			if err != nil {
				return err
			}
			log.Info("scheduled dispatch registered",
				zap.String("kind", string(k)), zap.String("task_uuid", scheduledUUID))
			return nil
		}
	}

	return reg
}

// scheduleSpecFromParams extracts the scheduler_* fields from a
// schedule_<kind> message's params bag (§4.3, §6.3) into a typed
// ScheduleSpec. The trigger kind travels in the "scheduler" field per
// §6.1's mutation table (e.g. scheduler="interval"), not "trigger" —
// that name is only the internal ScheduleSpec field once parsed.
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
			return spec, &errs.ValidationError{Msg: "handlers: timelapse trigger requires a timelapse timestamp"}
		}
		t, err := parseTimelapse(ts)
		if err != nil {
			return spec, &errs.ValidationError{Msg: fmt.Sprintf("handlers: invalid timelapse: %v", err)}
		}
		spec.Timelapse = t
	default:
		return spec, &errs.ValidationError{Msg: fmt.Sprintf("handlers: unknown trigger %q", trigger)}
	}

	return spec, nil
}

func intField(m map[string]any, key string) int {
	if v, ok := m[key].(float64); ok {
		return int(v)
	}
	return 0
}

func parseTimelapse(ts string) (time.Time, error) {
	return time.Parse(time.RFC3339, ts)
}
