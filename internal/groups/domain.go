package groups

import "time"

// Group is a named collection of roles assignable to a user as a unit.
type Group struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	RoleIDs     []int64   `json:"roleIds"`
	CreatedAt   time.Time `json:"createdAt"`
}

// CreateInput carries the fields for a new group.
type CreateInput struct {
	Name        string
	Description string
	RoleIDs     []int64
}
