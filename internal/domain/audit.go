package domain

import "time"

type ActorRole string

const (
	RoleAdmin    ActorRole = "admin"
	RoleEmployee ActorRole = "employee"
	RoleSystem   ActorRole = "system"
)

// Audit action names. One entry is written per compliance-relevant action;
// the trail is append-only.
const (
	ActionSubmitRequest    = "submit_trading_request"
	ActionApproveRequest   = "approve_trading_request"
	ActionRejectRequest    = "reject_trading_request"
	ActionEscalateRequest  = "escalate_trading_request"
	ActionAddRestricted    = "add_restricted_instrument"
	ActionRemoveRestricted = "remove_restricted_instrument"
	ActionPurgeAudit       = "purge_audit_entries"
)

const (
	TargetTradingRequest = "trading_request"
	TargetRestricted     = "restricted_instrument"
	TargetAuditTrail     = "audit_trail"
)

// AuditEntry is one immutable fact. Ordering is by CreatedAt with the id
// breaking ties (ids are generated monotonically within a process).
type AuditEntry struct {
	ID         string    `db:"id" json:"id"`
	ActorID    string    `db:"actor_id" json:"actor_id"`
	ActorRole  ActorRole `db:"actor_role" json:"actor_role"`
	Action     string    `db:"action" json:"action"`
	TargetType string    `db:"target_type" json:"target_type"`
	TargetID   string    `db:"target_id" json:"target_id"`
	Details    string    `db:"details" json:"details"`
	Origin     string    `db:"origin" json:"origin,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

type AuditFilter struct {
	ActorID    string
	Action     string
	TargetType string
	TargetID   string
	From       *time.Time
	To         *time.Time
}

// AuditSummary aggregates entry counts for reporting.
type AuditSummary struct {
	Total    int            `json:"total"`
	ByActor  map[string]int `json:"by_actor"`
	ByAction map[string]int `json:"by_action"`
	ByTarget map[string]int `json:"by_target"`
}
