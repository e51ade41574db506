// Package ledger implements the Agent Local Ledger (C2): a durable,
// per-agent key/value store with one bucket per operation kind, a
// schedule_ledger bucket for pending scheduled tasks, and a
// response_outbox bucket for responses awaiting channel delivery.
//
// Grounded on Will-Luck-Docker-Sentinel's internal/store/bolt.go: one
// *bolt.DB wrapped in a small Store type, buckets created up front in
// Open, reads/writes through short db.View/db.Update closures.
package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/vaultline/vaultline/shared/errs"
	"github.com/vaultline/vaultline/shared/normalize"
	"github.com/vaultline/vaultline/shared/types"
)

var operationBuckets = []types.OperationKind{
	types.KindInitLocal,
	types.KindSnapshotsLocal,
	types.KindBackupLocal,
	types.KindRestoreLocal,
	types.KindInitS3,
	types.KindSnapshotsS3,
	types.KindBackupS3,
	types.KindRestoreS3,
}

var bucketSchedule = []byte("schedule_ledger")
var bucketOutbox = []byte("response_outbox")

// Row is one stored (normalize(params), response, timestamp) tuple for a
// given operation kind.
type Row struct {
	ParamsNormalized string          `json:"params_normalized"`
	Response         json.RawMessage `json:"response"`
	ResponseAtUTC    time.Time       `json:"response_at_utc"`
}

// Store is the bbolt-backed Agent Local Ledger.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the ledger file at path and ensures every
// operation-kind bucket and the schedule_ledger bucket exist.
// Initialization is idempotent.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, &errs.StorageError{Err: fmt.Errorf("ledger: open: %w", err)}
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, k := range operationBuckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(k)); err != nil {
				return err
			}
		}
		if _, err := tx.CreateBucketIfNotExists(bucketSchedule); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketOutbox)
		return err
	})
	if err != nil {
		db.Close()
		return nil, &errs.StorageError{Err: fmt.Errorf("ledger: create buckets: %w", err)}
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert stores a row keyed by normalize(params) under the given
// operation kind. Per the Ledger uniqueness invariant (§3, §8 property 2),
// if a row with the same normalized key already exists, Insert is a no-op
// and returns (false, nil).
func (s *Store) Insert(kind types.OperationKind, params map[string]any, response json.RawMessage) (inserted bool, err error) {
	key, err := normalize.Params(params)
	if err != nil {
		return false, &errs.StorageError{Err: fmt.Errorf("ledger: normalize: %w", err)}
	}

	txErr := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(kind))
		if b == nil {
			return fmt.Errorf("ledger: unknown bucket %q", kind)
		}
		if b.Get([]byte(key)) != nil {
			return nil // duplicate: skip
		}
		row := Row{ParamsNormalized: key, Response: response, ResponseAtUTC: time.Now().UTC()}
		data, err := json.Marshal(row)
		if err != nil {
			return err
		}
		inserted = true
		return b.Put([]byte(key), data)
	})
	if txErr != nil {
		return false, &errs.StorageError{Err: fmt.Errorf("ledger: insert: %w", txErr)}
	}
	return inserted, nil
}

// Get returns the stored row for the given kind and params, or
// (Row{}, false, nil) if none exists.
func (s *Store) Get(kind types.OperationKind, params map[string]any) (Row, bool, error) {
	key, err := normalize.Params(params)
	if err != nil {
		return Row{}, false, &errs.StorageError{Err: fmt.Errorf("ledger: normalize: %w", err)}
	}

	var row Row
	var found bool
	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(kind))
		if b == nil {
			return fmt.Errorf("ledger: unknown bucket %q", kind)
		}
		v := b.Get([]byte(key))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &row)
	})
	if err != nil {
		return Row{}, false, &errs.StorageError{Err: fmt.Errorf("ledger: get: %w", err)}
	}
	return row, found, nil
}

// PutSchedule appends or updates a schedule_ledger row keyed by task_uuid.
func (s *Store) PutSchedule(row types.ScheduleRow) error {
	data, err := json.Marshal(row)
	if err != nil {
		return &errs.StorageError{Err: fmt.Errorf("ledger: marshal schedule row: %w", err)}
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSchedule).Put([]byte(row.TaskUUID), data)
	})
	if err != nil {
		return &errs.StorageError{Err: fmt.Errorf("ledger: put schedule: %w", err)}
	}
	return nil
}

// PendingSchedules returns every schedule_ledger row with status pending,
// used by the scheduler's reload-on-startup path. The Control Channel
// Client's reconnect flush reads the response outbox (Outbox) instead.
func (s *Store) PendingSchedules() ([]types.ScheduleRow, error) {
	var rows []types.ScheduleRow
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSchedule)
		return b.ForEach(func(_, v []byte) error {
			var row types.ScheduleRow
			if err := json.Unmarshal(v, &row); err != nil {
				return nil // skip malformed row rather than abort the scan
			}
			if row.Status == types.TaskPending {
				rows = append(rows, row)
			}
			return nil
		})
	})
	if err != nil {
		return nil, &errs.StorageError{Err: fmt.Errorf("ledger: scan schedules: %w", err)}
	}
	return rows, nil
}

// PutOutbox stores a ResponseMessage that could not be delivered because
// the control channel was closed, keyed by task_uuid (§4.4 deferred
// materialization).
func (s *Store) PutOutbox(taskUUID string, resp json.RawMessage) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOutbox).Put([]byte(taskUUID), resp)
	})
	if err != nil {
		return &errs.StorageError{Err: fmt.Errorf("ledger: put outbox: %w", err)}
	}
	return nil
}

// Outbox returns every deferred response keyed by task_uuid, used by the
// Control Channel Client to replay on reconnect (SPEC_FULL.md §7 decision 3).
func (s *Store) Outbox() (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOutbox)
		return b.ForEach(func(k, v []byte) error {
			cp := make(json.RawMessage, len(v))
			copy(cp, v)
			out[string(k)] = cp
			return nil
		})
	})
	if err != nil {
		return nil, &errs.StorageError{Err: fmt.Errorf("ledger: scan outbox: %w", err)}
	}
	return out, nil
}

// DeleteOutbox removes a deferred response once it has been confirmed sent.
func (s *Store) DeleteOutbox(taskUUID string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOutbox).Delete([]byte(taskUUID))
	})
	if err != nil {
		return &errs.StorageError{Err: fmt.Errorf("ledger: delete outbox: %w", err)}
	}
	return nil
}

// MarkScheduleDone updates a schedule_ledger row's status.
func (s *Store) MarkScheduleDone(taskUUID string, status types.TaskState) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSchedule)
		v := b.Get([]byte(taskUUID))
		if v == nil {
			return nil
		}
		var row types.ScheduleRow
		if err := json.Unmarshal(v, &row); err != nil {
			return err
		}
		row.Status = status
		data, err := json.Marshal(row)
		if err != nil {
			return err
		}
		return b.Put([]byte(taskUUID), data)
	})
	if err != nil {
		return &errs.StorageError{Err: fmt.Errorf("ledger: mark schedule done: %w", err)}
	}
	return nil
}
