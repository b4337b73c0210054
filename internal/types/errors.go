package types

import "fmt"

// ValidationError covers bad input: malformed dates, reversed ranges,
// unknown models, nonsensical chunk sizes.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// PermissionError covers missing roles and unapproved plans.
type PermissionError struct {
	Reason string
}

func (e *PermissionError) Error() string { return e.Reason }

// ConflictError covers held locks, duplicate backfills, and resume
// attempts on completed backfills.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return e.Reason }

// NotFoundError covers unknown plans, runs, backfills, and models.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// IntegrityError covers SQL safety violations, breaking contract
// violations, and audit chain breaks. Violations carries structured
// detail when present.
type IntegrityError struct {
	Reason     string
	Violations []ContractViolation
}

func (e *IntegrityError) Error() string { return e.Reason }
