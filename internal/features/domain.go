package features

import "time"

// Feature is a named, hierarchical capability grouping used for
// coarse-grained UI/API gating, distinct from fine-grained permissions.
type Feature struct {
	ID            int64     `json:"id"`
	Code          string    `json:"code"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Active        bool      `json:"active"`
	Operations    []string  `json:"operations"`
	PermissionIDs []int64   `json:"permissionIds"`
	ParentID      *int64    `json:"parentFeatureId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Node is the recursive tree view of a feature with its children.
type Node struct {
	Feature
	Children []Node `json:"childFeatures"`
}

// Input carries the fields for creating or updating a feature.
type Input struct {
	Code          string
	Name          string
	Description   string
	Active        bool
	Operations    []string
	PermissionIDs []int64
	ParentID      *int64
}
