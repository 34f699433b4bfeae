package users

import "time"

// OverrideEffect is the state of a per-user permission exception. Each
// permission name has at most one effect; AddOverride upserts.
type OverrideEffect string

const (
	EffectGrant  OverrideEffect = "GRANT"
	EffectRevoke OverrideEffect = "REVOKE"
)

// User is the locally mirrored identity record. Identity federation happens
// upstream; this store only tracks the id and its policy attachments.
type User struct {
	ID        int64     `json:"id"`
	Subject   string    `json:"subject"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

// Override is one per-user permission exception.
type Override struct {
	PermissionName string         `json:"permissionName"`
	Effect         OverrideEffect `json:"effect"`
}
