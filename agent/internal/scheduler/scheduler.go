// Package scheduler implements the Agent Scheduler (C3): a cooperative,
// single-process, durable interval/timelapse job executor backed by the
// same store that backs the Agent Local Ledger.
//
// Grounded on the teacher's server/internal/scheduler/scheduler.go gocron
// wiring (NewJob, WithTags, singleton mode, Start/Stop), adapted from
// cron-expression scheduling to the spec's interval/timelapse shapes and
// reloaded from a durable store instead of a database policy table.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vaultline/vaultline/agent/internal/ledger"
	"github.com/vaultline/vaultline/shared/errs"
	"github.com/vaultline/vaultline/shared/types"
)

// HandlerFunc executes the operation kind named by a fired job, identical
// to the handler invoked for an ordinary inbox dispatch (§4.3: "the
// scheduler calls the same operation handler as ordinary dispatch").
type HandlerFunc func(ctx context.Context, taskUUID string, kind types.OperationKind, params map[string]any) error

// Scheduler wraps gocron and the ledger's schedule_ledger table.
type Scheduler struct {
	cron    gocron.Scheduler
	store   *ledger.Store
	handler HandlerFunc
	logger  *zap.Logger
}

// New constructs a Scheduler. Call Start to reload persisted jobs and
// begin firing.
func New(store *ledger.Store, handler HandlerFunc, logger *zap.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("scheduler: new gocron scheduler: %w", err)
	}
	return &Scheduler{cron: s, store: store, handler: handler, logger: logger.Named("scheduler")}, nil
}

// Start reloads every pending schedule_ledger row and registers it with
// gocron, then starts firing. Jobs survive restart because they are
// reloaded from the durable store (§4.3).
func (s *Scheduler) Start(ctx context.Context) error {
	rows, err := s.store.PendingSchedules()
	if err != nil {
		return fmt.Errorf("scheduler: load pending schedules: %w", err)
	}
	for _, row := range rows {
		if err := s.register(row); err != nil {
			s.logger.Error("failed to reschedule persisted job",
				zap.String("task_uuid", row.TaskUUID), zap.Error(err))
		}
	}
	s.logger.Info("scheduler started", zap.Int("jobs_reloaded", len(rows)))
	s.cron.Start()
	return nil
}

// Stop shuts down gocron. In-flight handlers are allowed to run to
// completion; no new firings occur after this returns (§4.3 cancellation
// policy).
func (s *Scheduler) Stop() error {
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("scheduler: shutdown: %w", err)
	}
	s.logger.Info("scheduler stopped")
	return nil
}

// Validate checks a ScheduleSpec's repeats/priority fields per §4.3:
// repeats must be "once", "infinite", or a positive integer string;
// priority must parse as an integer (already typed int here, so only the
// repeats string needs validation).
func Validate(spec types.ScheduleSpec) error {
	switch spec.Repeats {
	case "once", "infinite":
		return nil
	default:
	}
	var n int
	if _, err := fmt.Sscanf(spec.Repeats, "%d", &n); err != nil || n <= 0 {
		return &errs.ValidationError{Msg: fmt.Sprintf("invalid scheduler_repeats %q: must be once, infinite, or a positive integer", spec.Repeats)}
	}
	return nil
}

// Schedule validates and persists a new scheduled dispatch, then
// registers it with gocron. Invalid input fails without scheduling
// (§4.3, S6).
func (s *Scheduler) Schedule(kind types.OperationKind, params map[string]any, spec types.ScheduleSpec, paramsJSON string) (string, error) {
	if err := Validate(spec); err != nil {
		return "", err
	}

	taskUUID := uuid.NewString()
	repeatsLeft := -1 // infinite
	switch spec.Repeats {
	case "infinite":
	case "once":
		repeatsLeft = 1
	default:
		fmt.Sscanf(spec.Repeats, "%d", &repeatsLeft)
	}

	nextFire := spec.Timelapse
	if spec.Trigger == types.TriggerInterval {
		nextFire = time.Now().UTC().Add(spec.Interval.Duration())
	}

	row := types.ScheduleRow{
		TaskUUID:    taskUUID,
		Kind:        kind,
		ParamsJSON:  paramsJSON,
		Spec:        spec,
		RepeatsLeft: repeatsLeft,
		NextFireAt:  nextFire,
		CreatedAt:   time.Now().UTC(),
		Status:      types.TaskPending,
	}
	if err := s.store.PutSchedule(row); err != nil {
		return "", err
	}
	if err := s.register(row); err != nil {
		return "", fmt.Errorf("scheduler: register: %w", err)
	}
	return taskUUID, nil
}

func (s *Scheduler) register(row types.ScheduleRow) error {
	var params map[string]any
	if err := unmarshalParams(row.ParamsJSON, &params); err != nil {
		return err
	}

	task := gocron.NewTask(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := s.handler(ctx, row.TaskUUID, row.Kind, params); err != nil {
			s.logger.Error("scheduled handler failed",
				zap.String("task_uuid", row.TaskUUID), zap.Error(err))
		}
	})

	var def gocron.JobDefinition
	switch row.Spec.Trigger {
	case types.TriggerTimelapse:
		def = gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(row.NextFireAt))
	default:
		def = gocron.DurationJob(row.Spec.Interval.Duration())
	}

	opts := []gocron.JobOption{gocron.WithTags(row.TaskUUID), gocron.WithSingletonMode(gocron.LimitModeReschedule)}
	if row.RepeatsLeft > 0 {
		opts = append(opts, gocron.WithLimitedRuns(uint(row.RepeatsLeft)))
	}

	_, err := s.cron.NewJob(def, task, opts...)
	return err
}

func unmarshalParams(paramsJSON string, out *map[string]any) error {
	if paramsJSON == "" {
		*out = map[string]any{}
		return nil
	}
	return json.Unmarshal([]byte(paramsJSON), out)
}
