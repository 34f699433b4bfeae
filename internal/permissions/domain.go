package permissions

import "time"

// ResourceType classifies what a permission applies to.
type ResourceType string

const (
	ResourceExam         ResourceType = "EXAM"
	ResourceQuestion     ResourceType = "QUESTION"
	ResourceUser         ResourceType = "USER"
	ResourceInventory    ResourceType = "INVENTORY"
	ResourcePrescription ResourceType = "PRESCRIPTION"
	ResourceReport       ResourceType = "REPORT"
	ResourceRBAC         ResourceType = "RBAC"
)

// OperationType classifies what a permission allows.
type OperationType string

const (
	OpCreate  OperationType = "CREATE"
	OpRead    OperationType = "READ"
	OpUpdate  OperationType = "UPDATE"
	OpDelete  OperationType = "DELETE"
	OpManage  OperationType = "MANAGE"
	OpViewOwn OperationType = "VIEW_OWN"
	OpViewAll OperationType = "VIEW_ALL"
	OpExport  OperationType = "EXPORT"
	OpApprove OperationType = "APPROVE"
	OpReject  OperationType = "REJECT"
)

// Permission is an atomic capability identified by a globally unique name,
// e.g. "exams:create". Identity is immutable once a role references it; only
// the description and approval flag may change.
type Permission struct {
	ID               int64         `json:"id"`
	Name             string        `json:"name"`
	Description      string        `json:"description"`
	Resource         ResourceType  `json:"resourceType"`
	Operation        OperationType `json:"operationType"`
	RequiresApproval bool          `json:"requiresApproval"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// CreateInput carries the fields for a new permission.
type CreateInput struct {
	Name             string
	Description      string
	Resource         ResourceType
	Operation        OperationType
	RequiresApproval bool
}
