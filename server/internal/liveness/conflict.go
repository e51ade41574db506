package liveness

import "gorm.io/gorm/clause"

// onConflictUpdateConnect upserts client_status on system_uuid, refreshing
// org/status/connected_at/updated_at while leaving last_disconnected_at
// untouched — a reconnect must not erase the agent's prior disconnect time.
func onConflictUpdateConnect() clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: "system_uuid"}},
		DoUpdates: clause.AssignmentColumns([]string{"org", "status", "connected_at", "updated_at"}),
	}
}
