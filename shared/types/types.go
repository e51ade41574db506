// Package types defines the wire and domain types shared by the agent and
// the server: the job message schema carried over the control channel and
// the entity shapes both sides persist.
package types

import "time"

// ─── Agent liveness ──────────────────────────────────────────────────────────

// AgentStatus represents the current connection state of an agent.
type AgentStatus string

const (
	AgentStatusConnected    AgentStatus = "connected"
	AgentStatusDisconnected AgentStatus = "disconnected"
)

// Liveness is the Controller's record of an agent's connection state.
// Invariant: a Connected record has ConnectedAt >= LastDisconnectedAt; a
// Disconnected record has LastDisconnectedAt after ConnectedAt, or a zero
// ConnectedAt.
type Liveness struct {
	SystemUUID         string      `json:"system_uuid"`
	Org                string      `json:"org"`
	Status             AgentStatus `json:"status"`
	ConnectedAt        time.Time   `json:"connected_at,omitempty"`
	LastDisconnectedAt time.Time   `json:"last_disconnected_at,omitempty"`
}

// ClientStatus is the read-facing shape returned by the §6.2 query surface.
type ClientStatus struct {
	SystemUUID string      `json:"system_uuid"`
	Status     AgentStatus `json:"status"`
	Org        string      `json:"org"`
}

// ─── Operation kind ──────────────────────────────────────────────────────────

// OperationKind is one of {init,list_snapshots,backup,restore} x {local,cloud}.
type OperationKind string

const (
	KindInitLocal      OperationKind = "init_local_repo"
	KindSnapshotsLocal OperationKind = "get_local_repo_snapshots"
	KindBackupLocal    OperationKind = "do_local_repo_backup"
	KindRestoreLocal   OperationKind = "do_local_repo_restore"
	KindInitS3         OperationKind = "init_s3_repo"
	KindSnapshotsS3    OperationKind = "get_s3_repo_snapshots"
	KindBackupS3       OperationKind = "do_s3_repo_backup"
	KindRestoreS3      OperationKind = "do_s3_repo_restore"
)

// ScheduledKind returns the schedule_<kind> downstream message type for k.
func (k OperationKind) ScheduledKind() string {
	return "schedule_" + string(k)
}

// ResponseKind returns the upstream response_<kind> message type for k.
// get_*_repo_snapshots collapses to response_*_repo_snapshots per §6.3.
func (k OperationKind) ResponseKind() string {
	switch k {
	case KindSnapshotsLocal:
		return "response_local_repo_snapshots"
	case KindSnapshotsS3:
		return "response_s3_repo_snapshots"
	default:
		return "response_" + string(k)
	}
}

// TaskState is the lifecycle state of an Operation.
type TaskState string

const (
	TaskPending    TaskState = "pending"
	TaskProcessing TaskState = "processing"
	TaskCompleted  TaskState = "completed"
	TaskFailed     TaskState = "failed"
)

// ─── Scheduling ──────────────────────────────────────────────────────────────

// TriggerKind discriminates the two scheduling shapes the Agent Scheduler
// and Agent Local Ledger's schedule_ledger table accept.
type TriggerKind string

const (
	TriggerInterval  TriggerKind = "interval"
	TriggerTimelapse TriggerKind = "timelapse"
)

// Interval is a repeat-every record relative to scheduler start.
type Interval struct {
	Days    int `json:"days"`
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
	Seconds int `json:"seconds"`
}

// Duration converts the interval record to a time.Duration.
func (iv Interval) Duration() time.Duration {
	return time.Duration(iv.Days)*24*time.Hour +
		time.Duration(iv.Hours)*time.Hour +
		time.Duration(iv.Minutes)*time.Minute +
		time.Duration(iv.Seconds)*time.Second
}

// ScheduleSpec carries the validated scheduler_* fields of a mutation.
type ScheduleSpec struct {
	Trigger   TriggerKind `json:"trigger"`
	Interval  Interval    `json:"interval,omitempty"`
	Timelapse time.Time   `json:"timelapse,omitempty"`
	Repeats   string      `json:"scheduler_repeats"` // "once" | "infinite" | positive integer string
	Priority  int         `json:"scheduler_priority"`
}

// ScheduleRow is a schedule_ledger row: append-only, one per scheduled
// dispatch, surviving agent restarts.
type ScheduleRow struct {
	TaskUUID    string        `json:"task_uuid"`
	Kind        OperationKind `json:"kind"`
	ParamsJSON  string        `json:"params_json"`
	Spec        ScheduleSpec  `json:"spec"`
	RepeatsLeft int           `json:"repeats_left"` // -1 means infinite
	NextFireAt  time.Time     `json:"next_fire_at"`
	CreatedAt   time.Time     `json:"created_at"`
	Status      TaskState     `json:"status"`
}

// ─── Task message (downstream, Controller -> Agent) ─────────────────────────

// TaskMessage is the job message the Controller Dispatcher (C7) publishes
// to an Agent's durable inbox and the Agent Control Channel Client (C4)
// consumes.
type TaskMessage struct {
	TaskUUID  string          `json:"task_uuid"`
	Type      string          `json:"type"`
	SystemUUID string         `json:"system_uuid"`
	Org       string          `json:"org,omitempty"`
	Params    map[string]any  `json:"params"`
	Schedule  *ScheduleSpec   `json:"schedule,omitempty"`
}

// ResponseMessage is the upstream response the Agent emits for a TaskMessage,
// either over the open channel or — when offline — persisted to the
// ledger's response_outbox bucket for deferred flush (§4.4).
type ResponseMessage struct {
	TaskUUID     string         `json:"task_uuid"`
	Type         string         `json:"type"`
	SystemUUID   string         `json:"system_uuid"`
	TaskStatus   TaskState      `json:"task_status,omitempty"`
	Target       string         `json:"target,omitempty"`
	Error        string         `json:"error,omitempty"`
	BackupOutput *Summary       `json:"backup_output,omitempty"`
	Snapshots    []Snapshot     `json:"snapshots,omitempty"`
	Repository   string         `json:"repository,omitempty"`
	RepoID       string         `json:"id,omitempty"`
	AlreadyInit  bool           `json:"already_initialized,omitempty"`
}

// ─── Repository / Snapshot / Summary ─────────────────────────────────────────

// RepoAddress identifies a repository: local ones by (SystemUUID, Path),
// cloud ones by (Region, Bucket) addressed as objstore:<region>/<bucket>.
type RepoAddress struct {
	SystemUUID string `json:"system_uuid,omitempty"`
	Path       string `json:"repo_path,omitempty"`
	Region     string `json:"region,omitempty"`
	Bucket     string `json:"bucket_name,omitempty"`
}

// ObjstoreURL renders the cloud repository identity as objstore:<region>/<bucket>.
func (r RepoAddress) ObjstoreURL() string {
	return "objstore:" + r.Region + "/" + r.Bucket
}

// Snapshot is a backup-tool-produced record within a Repository.
type Snapshot struct {
	SnapshotID     string    `json:"snapshot_id"`
	ShortID        string    `json:"short_id"`
	Time           time.Time `json:"time"`
	Paths          []string  `json:"paths"`
	Hostname       string    `json:"hostname"`
	Username       string    `json:"username"`
	Tree           string    `json:"tree"`
	ProgramVersion string    `json:"program_version"`
	Summary        *Summary  `json:"summary,omitempty"`
}

// Summary is the message_type:"summary" line emitted by the executor:
// counters for a backup or restore run.
type Summary struct {
	MessageType     string  `json:"message_type"`
	FilesNew        int     `json:"files_new,omitempty"`
	FilesChanged    int     `json:"files_changed,omitempty"`
	FilesUnmodified int     `json:"files_unmodified,omitempty"`
	DirsNew         int     `json:"dirs_new,omitempty"`
	DirsChanged     int     `json:"dirs_changed,omitempty"`
	DirsUnmodified  int     `json:"dirs_unmodified,omitempty"`
	DataAdded       int64   `json:"data_added,omitempty"`
	TotalBytesProc  int64   `json:"total_bytes_processed,omitempty"`
	TotalDuration   float64 `json:"total_duration,omitempty"`
	SnapshotID      string  `json:"snapshot_id,omitempty"`
	FilesRestored   int     `json:"files_restored,omitempty"`
	BytesRestored   int64   `json:"bytes_restored,omitempty"`
}

// ─── DR policy ───────────────────────────────────────────────────────────────

// DRAgentPolicy is one agent's entry in the DR policy document.
type DRAgentPolicy struct {
	Enabled               bool           `json:"enabled"`
	Threshold             string         `json:"DR_monitoring_threshold"`
	RestoreConfig         map[string]any `json:"restore_config"`
}

// OrgDRPolicy is the per-organization DR section of the policy document.
type OrgDRPolicy struct {
	DR struct {
		Agents map[string]DRAgentPolicy `json:"agents"`
	} `json:"DR"`
}

// DRPolicyDoc is the DR policy document shape: org -> DR -> agents -> policy.
type DRPolicyDoc map[string]OrgDRPolicy

// ─── Pagination ──────────────────────────────────────────────────────────────

// Page holds pagination parameters for list queries.
type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// PagedResult wraps a list result with total count for pagination.
type PagedResult[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
	Page  Page  `json:"page"`
}
