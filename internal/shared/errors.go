package shared

import (
	"errors"
	"fmt"
)

// ErrInvalidCredentials indicates that an API token could not be verified.
var ErrInvalidCredentials = errors.New("invalid credentials")

// NotFoundError reports that a referenced entity does not exist.
type NotFoundError struct {
	Entity string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Entity)
}

// NewNotFound builds a NotFoundError for the given entity kind.
func NewNotFound(entity string) error {
	return &NotFoundError{Entity: entity}
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// DuplicateNameError reports a uniqueness violation on a named entity.
type DuplicateNameError struct {
	Entity string
	Name   string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Entity, e.Name)
}

// NewDuplicateName builds a DuplicateNameError.
func NewDuplicateName(entity, name string) error {
	return &DuplicateNameError{Entity: entity, Name: name}
}

// CircularHierarchyError reports that a hierarchy edit would create a cycle.
type CircularHierarchyError struct {
	Entity   string
	ParentID int64
	ChildID  int64
}

func (e *CircularHierarchyError) Error() string {
	return fmt.Sprintf("%s %d is reachable from %s %d, edge would create a cycle", e.Entity, e.ParentID, e.Entity, e.ChildID)
}

// NewCircularHierarchy builds a CircularHierarchyError.
func NewCircularHierarchy(entity string, parentID, childID int64) error {
	return &CircularHierarchyError{Entity: entity, ParentID: parentID, ChildID: childID}
}

// InvalidOperationError reports a structural rule violation: precedence
// ordering, the resource/operation matrix, deleting a feature with children.
type InvalidOperationError struct {
	Reason string
}

func (e *InvalidOperationError) Error() string {
	return e.Reason
}

// NewInvalidOperation builds an InvalidOperationError.
func NewInvalidOperation(format string, args ...any) error {
	return &InvalidOperationError{Reason: fmt.Sprintf(format, args...)}
}
