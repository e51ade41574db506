// Package resultstore implements the Controller Result Store (C8): the
// per-kind document collections of spec §3/§4.8, backed by a single GORM
// table discriminated by db.ResultKind (see db.ResultDocument's doc
// comment for the collapsing rationale). Grounded on the teacher's
// repositories package for the GORM query idiom, rebuilt around this
// domain's kind-keyed upsert/dedup model instead of generic CRUD.
package resultstore

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vaultline/vaultline/server/internal/db"
)

// ErrNotFound is returned when a Get finds no matching document.
var ErrNotFound = errors.New("resultstore: not found")

// Store is the Result Store's persistence layer.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

func New(gdb *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: gdb, logger: logger.Named("resultstore")}
}

// Upsert records a response document under (kind, systemUUID, target).
// Per spec §4.8, the response_timestamp only advances if the payload
// actually differs from what is stored — a retried or duplicate response
// must not bump freshness.
func (s *Store) Upsert(ctx context.Context, kind db.ResultKind, systemUUID, target string, payload any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	var existing db.ResultDocument
	err = s.db.WithContext(ctx).
		Where("kind = ? AND system_uuid = ? AND target = ?", kind, systemUUID, target).
		First(&existing).Error

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		now := time.Now().UTC()
		doc := db.ResultDocument{
			Kind:              kind,
			SystemUUID:        systemUUID,
			Target:            target,
			PayloadJSON:       string(payloadJSON),
			ResponseTimestamp: now,
			CreatedAt:         now,
		}
		return s.db.WithContext(ctx).Create(&doc).Error
	case err != nil:
		return err
	}

	if payloadEqual(existing.PayloadJSON, string(payloadJSON)) {
		s.logger.Debug("duplicate response ignored",
			zap.String("kind", string(kind)), zap.String("system_uuid", systemUUID), zap.String("target", target))
		return nil
	}

	return s.db.WithContext(ctx).Model(&db.ResultDocument{}).
		Where("id = ?", existing.ID).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Updates(map[string]any{
			"payload_json":       string(payloadJSON),
			"response_timestamp": time.Now().UTC(),
		}).Error
}

// payloadEqual compares two JSON payloads structurally rather than
// byte-for-byte, since key order is not meaningful here.
func payloadEqual(a, b string) bool {
	if a == b {
		return true
	}
	var av, bv any
	if json.Unmarshal([]byte(a), &av) != nil || json.Unmarshal([]byte(b), &bv) != nil {
		return false
	}
	return reflect.DeepEqual(av, bv)
}

// Get fetches a single document by its natural key.
func (s *Store) Get(ctx context.Context, kind db.ResultKind, systemUUID, target string) (*db.ResultDocument, error) {
	var doc db.ResultDocument
	err := s.db.WithContext(ctx).
		Where("kind = ? AND system_uuid = ? AND target = ?", kind, systemUUID, target).
		First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListByAgent returns every document of a kind belonging to one agent —
// backs get_initialized_repos / get_repo_snapshots / get_backup_jobs /
// get_restore_jobs (§6.2) for local kinds.
func (s *Store) ListByAgent(ctx context.Context, kind db.ResultKind, systemUUID string) ([]db.ResultDocument, error) {
	var docs []db.ResultDocument
	err := s.db.WithContext(ctx).
		Where("kind = ? AND system_uuid = ?", kind, systemUUID).
		Order("target").
		Find(&docs).Error
	return docs, err
}

// ListByKind returns every document of a kind irrespective of agent —
// used for cloud kinds, which are keyed by target alone.
func (s *Store) ListByKind(ctx context.Context, kind db.ResultKind) ([]db.ResultDocument, error) {
	var docs []db.ResultDocument
	err := s.db.WithContext(ctx).
		Where("kind = ?", kind).
		Order("target").
		Find(&docs).Error
	return docs, err
}

// Sweep prunes stale documents from prunable kinds (snapshots/backups,
// never init/restore records — db.ResultKind.Prunable) whose
// response_timestamp is older than retention. Intended to run on a
// ticker from main; spec §4.8 leaves the exact retention window to the
// deployment, so it is a configurable duration rather than a constant.
func (s *Store) Sweep(ctx context.Context, retention time.Duration) error {
	cutoff := time.Now().UTC().Add(-retention)
	var pruned int64
	for _, kind := range []db.ResultKind{
		db.KindLocalSnapshots, db.KindCloudSnapshots,
		db.KindLocalBackups, db.KindCloudBackups,
	} {
		res := s.db.WithContext(ctx).
			Where("kind = ? AND response_timestamp < ?", kind, cutoff).
			Delete(&db.ResultDocument{})
		if res.Error != nil {
			return res.Error
		}
		pruned += res.RowsAffected
	}
	if pruned > 0 {
		s.logger.Info("result store sweep pruned stale documents", zap.Int64("count", pruned), zap.Time("cutoff", cutoff))
	}
	return nil
}

// Run starts a background sweep loop, ticking every interval until ctx
// is cancelled. Meant to be launched as a goroutine from main.
func (s *Store) Run(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx, retention); err != nil {
				s.logger.Error("sweep failed", zap.Error(err))
			}
		}
	}
}
