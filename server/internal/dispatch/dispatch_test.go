package dispatch_test

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/vaultline/vaultline/server/internal/dbtest"
	"github.com/vaultline/vaultline/server/internal/dispatch"
	"github.com/vaultline/vaultline/server/internal/liveness"
	"github.com/vaultline/vaultline/shared/errs"
	"github.com/vaultline/vaultline/shared/types"
)

type fakeSender struct {
	lastSystemUUID string
	lastMsg        types.TaskMessage
	err            error
	calls          int
}

func (f *fakeSender) Dispatch(ctx context.Context, systemUUID string, msg types.TaskMessage) error {
	f.calls++
	f.lastSystemUUID = systemUUID
	f.lastMsg = msg
	return f.err
}

func newTestDispatcher(t *testing.T) (*dispatch.Dispatcher, *liveness.Store, *fakeSender) {
	t.Helper()
	liv := liveness.New(dbtest.New(t), zap.NewNop())
	sender := &fakeSender{}
	return dispatch.New(liv, sender), liv, sender
}

func TestDispatchRejectsDisconnectedAgent(t *testing.T) {
	d, _, sender := newTestDispatcher(t)

	_, err := d.Dispatch(context.Background(), types.KindInitLocal, "sys-1", "acme", map[string]any{})
	var transient *errs.TransientUpstream
	if err == nil {
		t.Fatal("Dispatch succeeded against a disconnected agent")
	}
	if !errors.As(err, &transient) {
		t.Fatalf("Dispatch error = %v, want *errs.TransientUpstream", err)
	}
	if sender.calls != 0 {
		t.Fatal("sender was invoked despite the agent being disconnected")
	}
}

func TestDispatchPushesToConnectedAgent(t *testing.T) {
	d, liv, sender := newTestDispatcher(t)
	if err := liv.RecordConnect(context.Background(), "sys-1", "acme"); err != nil {
		t.Fatalf("RecordConnect: %v", err)
	}

	taskUUID, err := d.Dispatch(context.Background(), types.KindInitLocal, "sys-1", "acme", map[string]any{"repo_path": "/srv"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if taskUUID == "" {
		t.Fatal("Dispatch returned an empty task_uuid")
	}
	if sender.calls != 1 {
		t.Fatalf("sender called %d times, want 1", sender.calls)
	}
	if sender.lastSystemUUID != "sys-1" {
		t.Fatalf("sender.Dispatch system_uuid = %q, want sys-1", sender.lastSystemUUID)
	}
	if sender.lastMsg.TaskUUID != taskUUID {
		t.Fatal("TaskMessage.TaskUUID does not match the returned task_uuid")
	}
	if sender.lastMsg.Type != string(types.KindInitLocal) {
		t.Fatalf("TaskMessage.Type = %q, want %q", sender.lastMsg.Type, types.KindInitLocal)
	}
	if sender.lastMsg.Schedule != nil {
		t.Fatal("TaskMessage.Schedule set for a mutation with no scheduler param")
	}
}

func TestDispatchAttachesScheduleWhenTriggerPresent(t *testing.T) {
	d, liv, sender := newTestDispatcher(t)
	if err := liv.RecordConnect(context.Background(), "sys-1", "acme"); err != nil {
		t.Fatalf("RecordConnect: %v", err)
	}

	params := map[string]any{
		"repo_path": "/srv",
		"scheduler": "interval",
		"interval":  map[string]any{"hours": float64(6)},
	}
	_, err := d.Dispatch(context.Background(), types.KindBackupLocal, "sys-1", "acme", params)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if sender.lastMsg.Schedule == nil {
		t.Fatal("Schedule was not attached for a scheduler-bearing mutation")
	}
	if sender.lastMsg.Schedule.Interval.Hours != 6 {
		t.Fatalf("Schedule.Interval.Hours = %d, want 6", sender.lastMsg.Schedule.Interval.Hours)
	}
	if sender.lastMsg.Type != types.KindBackupLocal.ScheduledKind() {
		t.Fatalf("TaskMessage.Type = %q, want the scheduled variant", sender.lastMsg.Type)
	}
}

// TestDispatchS5AcceptsSpecLiteralSchedulerParams reproduces §8 scenario S5
// and the §6.1 mutation table exactly as a conforming caller would send
// them: "scheduler"/"interval"/"scheduler_repeats", not the internal
// "trigger" field name. server/internal/api/mutations.go forwards an HTTP
// body's keys into params unchanged, so this is the literal shape the
// Dispatcher receives in production.
func TestDispatchS5AcceptsSpecLiteralSchedulerParams(t *testing.T) {
	d, liv, sender := newTestDispatcher(t)
	if err := liv.RecordConnect(context.Background(), "sys-1", "acme"); err != nil {
		t.Fatalf("RecordConnect: %v", err)
	}

	params := map[string]any{
		"repo_path":         "/srv",
		"paths":             []any{"/etc"},
		"scheduler":         "interval",
		"interval":          map[string]any{"minutes": float64(5)},
		"scheduler_repeats": "3",
	}
	_, err := d.Dispatch(context.Background(), types.KindBackupLocal, "sys-1", "acme", params)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if sender.lastMsg.Schedule == nil {
		t.Fatal("scheduler=\"interval\" did not attach a Schedule (S5 regression: dispatch ran the operation immediately instead of scheduling it)")
	}
	if sender.lastMsg.Schedule.Trigger != types.TriggerInterval {
		t.Fatalf("Schedule.Trigger = %q, want %q", sender.lastMsg.Schedule.Trigger, types.TriggerInterval)
	}
	if sender.lastMsg.Schedule.Interval.Minutes != 5 {
		t.Fatalf("Schedule.Interval.Minutes = %d, want 5", sender.lastMsg.Schedule.Interval.Minutes)
	}
	if sender.lastMsg.Schedule.Repeats != "3" {
		t.Fatalf("Schedule.Repeats = %q, want %q", sender.lastMsg.Schedule.Repeats, "3")
	}
	if sender.lastMsg.Type != types.KindBackupLocal.ScheduledKind() {
		t.Fatalf("TaskMessage.Type = %q, want the scheduled variant", sender.lastMsg.Type)
	}
}

func TestDispatchRejectsUnknownTrigger(t *testing.T) {
	d, liv, _ := newTestDispatcher(t)
	if err := liv.RecordConnect(context.Background(), "sys-1", "acme"); err != nil {
		t.Fatalf("RecordConnect: %v", err)
	}

	params := map[string]any{"scheduler": "not-a-real-trigger"}
	_, err := d.Dispatch(context.Background(), types.KindInitLocal, "sys-1", "acme", params)
	var validation *errs.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("Dispatch error = %v, want *errs.ValidationError", err)
	}
}

func TestDispatchWrapsSenderFailureAsBrokerUnavailable(t *testing.T) {
	d, liv, sender := newTestDispatcher(t)
	if err := liv.RecordConnect(context.Background(), "sys-1", "acme"); err != nil {
		t.Fatalf("RecordConnect: %v", err)
	}
	sender.err = context.DeadlineExceeded

	_, err := d.Dispatch(context.Background(), types.KindInitLocal, "sys-1", "acme", map[string]any{})
	var broker *errs.BrokerUnavailable
	if !errors.As(err, &broker) {
		t.Fatalf("Dispatch error = %v, want wrapped *errs.BrokerUnavailable", err)
	}
}
