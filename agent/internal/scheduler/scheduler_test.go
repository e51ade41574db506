package scheduler_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vaultline/vaultline/agent/internal/ledger"
	"github.com/vaultline/vaultline/agent/internal/scheduler"
	"github.com/vaultline/vaultline/shared/errs"
	"github.com/vaultline/vaultline/shared/types"
)

func TestValidateAcceptsOnceInfiniteAndPositiveIntegers(t *testing.T) {
	for _, repeats := range []string{"once", "infinite", "1", "3"} {
		if err := scheduler.Validate(types.ScheduleSpec{Repeats: repeats}); err != nil {
			t.Errorf("Validate(%q) = %v, want nil", repeats, err)
		}
	}
}

func TestValidateRejectsNonPositiveAndGarbage(t *testing.T) {
	for _, repeats := range []string{"-1", "0", "many", ""} {
		err := scheduler.Validate(types.ScheduleSpec{Repeats: repeats})
		var verr *errs.ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("Validate(%q) = %v, want *errs.ValidationError", repeats, err)
		}
	}
}

func newTestScheduler(t *testing.T) (*scheduler.Scheduler, *ledger.Store) {
	t.Helper()
	store, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	handler := func(ctx context.Context, taskUUID string, kind types.OperationKind, params map[string]any) error {
		return nil
	}
	sched, err := scheduler.New(store, handler, zap.NewNop())
	if err != nil {
		t.Fatalf("scheduler.New: %v", err)
	}
	t.Cleanup(func() { sched.Stop() })
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return sched, store
}

func TestScheduleOnceRunsExactlyOnce(t *testing.T) {
	sched, store := newTestScheduler(t)

	taskUUID, err := sched.Schedule(types.KindBackupLocal, map[string]any{"paths": []any{"/etc"}},
		types.ScheduleSpec{Trigger: types.TriggerInterval, Interval: types.Interval{Seconds: 1}, Repeats: "once"},
		`{"paths":["/etc"]}`)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	rows, err := store.PendingSchedules()
	if err != nil {
		t.Fatalf("PendingSchedules: %v", err)
	}
	var found *types.ScheduleRow
	for i := range rows {
		if rows[i].TaskUUID == taskUUID {
			found = &rows[i]
		}
	}
	if found == nil {
		t.Fatal("scheduled row not found in PendingSchedules")
	}
	if found.RepeatsLeft != 1 {
		t.Fatalf("RepeatsLeft for scheduler_repeats=once = %d, want 1 (not infinite)", found.RepeatsLeft)
	}
}

func TestScheduleRejectsInvalidRepeats(t *testing.T) {
	sched, _ := newTestScheduler(t)

	_, err := sched.Schedule(types.KindInitLocal, map[string]any{},
		types.ScheduleSpec{Trigger: types.TriggerInterval, Interval: types.Interval{Minutes: 5}, Repeats: "-1"},
		`{}`)
	var verr *errs.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Schedule error = %v, want *errs.ValidationError", err)
	}
}

func TestScheduleTimelapseSetsNextFireToAbsoluteTime(t *testing.T) {
	sched, store := newTestScheduler(t)
	fireAt := time.Now().UTC().Add(time.Hour)

	taskUUID, err := sched.Schedule(types.KindInitLocal, map[string]any{},
		types.ScheduleSpec{Trigger: types.TriggerTimelapse, Timelapse: fireAt, Repeats: "once"},
		`{}`)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	rows, err := store.PendingSchedules()
	if err != nil {
		t.Fatalf("PendingSchedules: %v", err)
	}
	var found *types.ScheduleRow
	for i := range rows {
		if rows[i].TaskUUID == taskUUID {
			found = &rows[i]
		}
	}
	if found == nil {
		t.Fatal("scheduled row not found")
	}
	if !found.NextFireAt.Equal(fireAt) {
		t.Fatalf("NextFireAt = %v, want %v", found.NextFireAt, fireAt)
	}
}
