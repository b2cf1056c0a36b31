package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels matched by the typed errors below via errors.Is.
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotRegistered      = errors.New("caller not registered")
	ErrNotAssignedActor   = errors.New("caller is not the assigned actor")
	ErrInvalidStage       = errors.New("invalid stage")
	ErrRolesIncomplete    = errors.New("role registries incomplete")
	ErrProductNotFound    = errors.New("product not found")
	ErrRoleNotFound       = errors.New("role not found")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrAlreadyInitialized = errors.New("ledger already initialized")
)

// UnauthorizedError is returned when a privileged operation is invoked by an
// identity other than the owner.
type UnauthorizedError struct {
	Operation string
	Caller    Address
}

func (e UnauthorizedError) Error() string {
	return fmt.Sprintf("%s: caller %q is not the owner", e.Operation, e.Caller)
}

func (e UnauthorizedError) Is(target error) bool { return target == ErrUnauthorized }

// NotRegisteredError is returned when the caller has no record in the registry
// a transition requires.
type NotRegisteredError struct {
	Role   RoleKind
	Caller Address
}

func (e NotRegisteredError) Error() string {
	return fmt.Sprintf("caller %q is not a registered %s", e.Caller, e.Role)
}

func (e NotRegisteredError) Is(target error) bool { return target == ErrNotRegistered }

// NotAssignedActorError is returned when a registered caller is not the actor
// already recorded on the product.
type NotAssignedActorError struct {
	ProductID int
	Role      RoleKind
	Expected  int
	Actual    int
}

func (e NotAssignedActorError) Error() string {
	return fmt.Sprintf("product %d: %s %d is not the assigned %s %d", e.ProductID, e.Role, e.Actual, e.Role, e.Expected)
}

func (e NotAssignedActorError) Is(target error) bool { return target == ErrNotAssignedActor }

// InvalidStageError is returned when a product is not in the stage an
// operation requires.
type InvalidStageError struct {
	ProductID int
	Expected  Stage
	Actual    Stage
}

func (e InvalidStageError) Error() string {
	return fmt.Sprintf("product %d: expected stage %q, found %q", e.ProductID, e.Expected.Label(), e.Actual.Label())
}

func (e InvalidStageError) Is(target error) bool { return target == ErrInvalidStage }

// RolesIncompleteError is returned when product registration is attempted
// while at least one registry is empty.
type RolesIncompleteError struct {
	Missing []RoleKind
}

func (e RolesIncompleteError) Error() string {
	names := make([]string, 0, len(e.Missing))
	for _, kind := range e.Missing {
		names = append(names, string(kind))
	}
	return fmt.Sprintf("role registries incomplete: no %s registered", strings.Join(names, ", "))
}

func (e RolesIncompleteError) Is(target error) bool { return target == ErrRolesIncomplete }

// ProductNotFoundError is returned for ids outside the registered range.
type ProductNotFoundError struct {
	ID int
}

func (e ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %d not found", e.ID)
}

func (e ProductNotFoundError) Is(target error) bool { return target == ErrProductNotFound }

// RoleNotFoundError is returned when a registry lookup by id misses.
type RoleNotFoundError struct {
	Role RoleKind
	ID   int
}

func (e RoleNotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Role, e.ID)
}

func (e RoleNotFoundError) Is(target error) bool { return target == ErrRoleNotFound }

// InvalidArgumentError reports malformed input rejected before any mutation.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e InvalidArgumentError) Is(target error) bool { return target == ErrInvalidArgument }
