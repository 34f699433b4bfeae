package roles

import (
	"time"

	"github.com/sentra-iam/sentra/internal/permissions"
)

// Role bundles permissions under a precedence rank. ChildIDs are the direct
// edges of the role hierarchy; lower precedence means higher authority, and
// every child must rank strictly below its parent.
type Role struct {
	ID          int64                    `json:"id"`
	Name        string                   `json:"name"`
	Description string                   `json:"description"`
	Precedence  int                      `json:"precedence"`
	System      bool                     `json:"system"`
	Permissions []permissions.Permission `json:"permissions"`
	ChildIDs    []int64                  `json:"childRoleIds"`
	CreatedAt   time.Time                `json:"createdAt"`
	UpdatedAt   time.Time                `json:"updatedAt"`
}

// CreateInput carries the fields for a new role.
type CreateInput struct {
	Name          string
	Description   string
	Precedence    int
	System        bool
	PermissionIDs []int64
	ChildRoleIDs  []int64
}
