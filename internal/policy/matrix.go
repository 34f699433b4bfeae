package policy

import (
	"github.com/sentra-iam/sentra/internal/permissions"
	"github.com/sentra-iam/sentra/internal/shared"
)

// operationMatrix restricts which operation types are legal per resource
// type. Resource types without an entry are unconstrained. Extending the
// matrix is a data change, not a new code path.
var operationMatrix = map[permissions.ResourceType][]permissions.OperationType{
	permissions.ResourceInventory: {
		permissions.OpCreate, permissions.OpRead, permissions.OpUpdate,
		permissions.OpDelete, permissions.OpManage,
	},
	permissions.ResourcePrescription: {
		permissions.OpCreate, permissions.OpRead, permissions.OpUpdate,
		permissions.OpApprove, permissions.OpReject,
	},
	permissions.ResourceExam: {
		permissions.OpCreate, permissions.OpRead, permissions.OpUpdate,
		permissions.OpDelete, permissions.OpManage, permissions.OpViewOwn,
		permissions.OpViewAll, permissions.OpExport, permissions.OpApprove,
	},
	permissions.ResourceReport: {
		permissions.OpRead, permissions.OpViewOwn, permissions.OpViewAll,
		permissions.OpExport,
	},
}

// ValidateOperation checks the resource/operation compatibility matrix.
func ValidateOperation(resource permissions.ResourceType, operation permissions.OperationType) error {
	allowed, ok := operationMatrix[resource]
	if !ok {
		return nil
	}
	for _, op := range allowed {
		if op == operation {
			return nil
		}
	}
	return shared.NewInvalidOperation("operation %s is not permitted for resource type %s", operation, resource)
}
