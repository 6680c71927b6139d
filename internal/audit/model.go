package audit

import "time"

// ActorType names who performed an audited action.
type ActorType string

const (
	ActorAdmin     ActorType = "admin"
	ActorStoreUser ActorType = "store_user"
	ActorSystem    ActorType = "system"
)

// Action values recorded by the portal.
const (
	ActionSubmissionCreated       = "submission_created"
	ActionSubmissionReviewed      = "submission_reviewed"
	ActionSubmissionPeriodUpdated = "submission_period_updated"
	ActionCraftSyncRetry          = "craft_sync_retry"
	ActionCraftConfigUpdated      = "craft_config_updated"
	ActionStorePINUpdated         = "store_pin_updated"
	ActionControlUpdated          = "control_updated"
	ActionStoreLoginSuccess       = "store_login_success"
	ActionStoreLoginFailed        = "store_login_failed"
	ActionStoreLoginRateLimited   = "store_login_rate_limited"
	ActionAdminLoginSuccess       = "admin_login_success"
	ActionAdminLoginFailed        = "admin_login_failed"
	ActionAdminLoginRateLimited   = "admin_login_rate_limited"
	ActionLogout                  = "logout"
)

// Entry is one row of the append-only audit log.
type Entry struct {
	ID           uint64         `gorm:"column:id;primaryKey;autoIncrement"`
	ActorType    ActorType      `gorm:"column:actor_type;size:16;not null"`
	ActorLabel   string         `gorm:"column:actor_label;size:320;not null"`
	Action       string         `gorm:"column:action;size:64;not null;index"`
	SubmissionID *string        `gorm:"column:submission_id;size:64;index"`
	Metadata     map[string]any `gorm:"column:metadata;type:text;serializer:json"`
	CreatedAt    time.Time      `gorm:"column:created_at;not null;index"`
}

// TableName exposes the table backing the audit log.
func (Entry) TableName() string {
	return "audit_log"
}
