// Package db owns the Controller's persistent schema: the Result Store
// (C8) document table, the liveness (client_status) table, the
// credential-encryption metadata row, and the per-agent bearer-auth
// credential table. Grounded on the teacher's db/models.go shape (GORM
// struct tags, UUID primary keys) but the entity set is rebuilt entirely
// around spec §3's kind-keyed document collections instead of the
// teacher's generic SaaS entities (users, destinations, policies, jobs).
package db

import "time"

// ResultKind names one of the eight per-kind collections enumerated in
// spec §3: initialized_local_repos, initialized_cloud_repos,
// local_snapshots, cloud_snapshots, local_backups, cloud_backups,
// local_restores, cloud_restores.
type ResultKind string

const (
	KindInitializedLocalRepos ResultKind = "initialized_local_repos"
	KindInitializedCloudRepos ResultKind = "initialized_cloud_repos"
	KindLocalSnapshots        ResultKind = "local_snapshots"
	KindCloudSnapshots        ResultKind = "cloud_snapshots"
	KindLocalBackups          ResultKind = "local_backups"
	KindCloudBackups          ResultKind = "cloud_backups"
	KindLocalRestores         ResultKind = "local_restores"
	KindCloudRestores         ResultKind = "cloud_restores"
)

// IsLocal reports whether a kind is keyed by (system_uuid, target) rather
// than by target alone.
func (k ResultKind) IsLocal() bool {
	switch k {
	case KindInitializedLocalRepos, KindLocalSnapshots, KindLocalBackups, KindLocalRestores:
		return true
	default:
		return false
	}
}

// Prunable reports whether a kind participates in the C8 retention
// sweep. Initialization and restore records are never pruned (§4.8).
func (k ResultKind) Prunable() bool {
	switch k {
	case KindLocalSnapshots, KindCloudSnapshots, KindLocalBackups, KindCloudBackups:
		return true
	default:
		return false
	}
}

// ResultDocument is the single physical table backing every §3 result
// collection, discriminated by Kind. A local document is keyed by
// (Kind, SystemUUID, Target); a cloud document by (Kind, Target) with
// SystemUUID left empty. This mirrors the document-store framing of
// §4.8 ("collections by kind... keyed by...") without standing up eight
// near-identical GORM models for what is, underneath, one upsert/dedup
// operation.
type ResultDocument struct {
	ID                 uint       `gorm:"primaryKey;autoIncrement"`
	Kind               ResultKind `gorm:"column:kind;size:64;not null;uniqueIndex:idx_result_doc_key"`
	SystemUUID         string     `gorm:"column:system_uuid;size:128;uniqueIndex:idx_result_doc_key"`
	Target             string     `gorm:"column:target;size:512;uniqueIndex:idx_result_doc_key"`
	PayloadJSON        string     `gorm:"column:payload_json;type:text;not null"`
	ResponseTimestamp  time.Time  `gorm:"column:response_timestamp;not null"`
	CreatedAt          time.Time  `gorm:"column:created_at;not null"`
}

func (ResultDocument) TableName() string { return "result_documents" }

// ClientStatus is the Controller's liveness record for one agent (§3).
// status/connected_at/last_disconnected_at are kept mutually consistent
// by the liveness package, never by a database constraint, since GORM
// cannot express the §3 cross-field invariant directly.
type ClientStatus struct {
	SystemUUID         string    `gorm:"column:system_uuid;primaryKey;size:128"`
	Org                string    `gorm:"column:org;size:128;not null;index"`
	Status             string    `gorm:"column:status;size:32;not null"`
	ConnectedAt        time.Time `gorm:"column:connected_at"`
	LastDisconnectedAt time.Time `gorm:"column:last_disconnected_at"`
	UpdatedAt          time.Time `gorm:"column:updated_at"`
}

func (ClientStatus) TableName() string { return "client_status" }

// CredentialMeta is the single-row table holding the per-installation
// PBKDF2 salt (SPEC_FULL.md §7 open question 4): generated once via
// crypto/rand at first Bootstrap and read back on every subsequent
// start, replacing the fixed constant the original source used.
type CredentialMeta struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	KDFSalt  []byte `gorm:"column:kdf_salt;not null"`
}

func (CredentialMeta) TableName() string { return "credential_meta" }

// AgentCredential is the bearer-auth credential record the Auth Service
// (C10) validates against: one row per system_uuid, password hashed with
// Argon2id (never stored or logged in clear form).
type AgentCredential struct {
	SystemUUID   string    `gorm:"column:system_uuid;primaryKey;size:128"`
	PasswordHash string    `gorm:"column:password_hash;size:256;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
}

func (AgentCredential) TableName() string { return "agent_credentials" }
