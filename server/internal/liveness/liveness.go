// Package liveness persists and reports agent connection state (spec §3's
// per-agent status record) on top of the Controller's client_status table.
// Grounded on the teacher's repository pattern (internal/repositories) but
// collapsed to the single entity this domain actually needs.
package liveness

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/vaultline/vaultline/server/internal/db"
	"github.com/vaultline/vaultline/shared/types"
)

// ErrNotFound is returned when no liveness record exists for a system_uuid.
var ErrNotFound = errors.New("liveness: not found")

// Store is the Controller's liveness record keeper. It owns the invariant
// that connected_at and last_disconnected_at are kept consistent with
// status, since GORM cannot express that cross-field constraint in schema.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

func New(gdb *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: gdb, logger: logger.Named("liveness")}
}

// RecordConnect marks an agent connected, advancing connected_at to now.
// Called once per successful channel open (spec §4.6 "On open").
func (s *Store) RecordConnect(ctx context.Context, systemUUID, org string) error {
	now := time.Now().UTC()
	row := db.ClientStatus{
		SystemUUID:  systemUUID,
		Org:         org,
		Status:      string(types.AgentStatusConnected),
		ConnectedAt: now,
		UpdatedAt:   now,
	}
	return s.db.WithContext(ctx).
		Clauses(onConflictUpdateConnect()).
		Create(&row).Error
}

// RecordDisconnect marks an agent disconnected, advancing
// last_disconnected_at to now. Called from the channel's "On close" path.
func (s *Store) RecordDisconnect(ctx context.Context, systemUUID string) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&db.ClientStatus{}).
		Where("system_uuid = ?", systemUUID).
		Updates(map[string]any{
			"status":                string(types.AgentStatusDisconnected),
			"last_disconnected_at": now,
			"updated_at":           now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		s.logger.Warn("disconnect recorded for unknown agent", zap.String("system_uuid", systemUUID))
	}
	return nil
}

// Get returns the liveness record for a single agent.
func (s *Store) Get(ctx context.Context, systemUUID string) (*types.Liveness, error) {
	var row db.ClientStatus
	err := s.db.WithContext(ctx).Where("system_uuid = ?", systemUUID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	l := toLiveness(row)
	return &l, nil
}

// IsConnected is the cheap boolean check the dispatcher needs before
// enqueuing a mutation (spec §4.7 step 1).
func (s *Store) IsConnected(ctx context.Context, systemUUID string) (bool, error) {
	l, err := s.Get(ctx, systemUUID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return l.Status == types.AgentStatusConnected, nil
}

// ListAll returns every known agent's liveness record (backs
// get_all_clients, §6.2).
func (s *Store) ListAll(ctx context.Context) ([]types.Liveness, error) {
	var rows []db.ClientStatus
	if err := s.db.WithContext(ctx).Order("system_uuid").Find(&rows).Error; err != nil {
		return nil, err
	}
	return toLivenessSlice(rows), nil
}

// ListByOrg filters ListAll to a single org (backs get_org_clients, §6.2).
func (s *Store) ListByOrg(ctx context.Context, org string) ([]types.Liveness, error) {
	var rows []db.ClientStatus
	if err := s.db.WithContext(ctx).Where("org = ?", org).Order("system_uuid").Find(&rows).Error; err != nil {
		return nil, err
	}
	return toLivenessSlice(rows), nil
}

func toLiveness(row db.ClientStatus) types.Liveness {
	return types.Liveness{
		SystemUUID:         row.SystemUUID,
		Org:                row.Org,
		Status:             types.AgentStatus(row.Status),
		ConnectedAt:        row.ConnectedAt,
		LastDisconnectedAt: row.LastDisconnectedAt,
	}
}

func toLivenessSlice(rows []db.ClientStatus) []types.Liveness {
	out := make([]types.Liveness, 0, len(rows))
	for _, r := range rows {
		out = append(out, toLiveness(r))
	}
	return out
}
