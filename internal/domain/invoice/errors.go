package invoice

import (
	ierr "github.com/deskflow/billing/internal/errors"
)

// NewNotFoundError is returned when an invoice does not exist
func NewNotFoundError(key string) error {
	return ierr.NewError("invoice not found").
		WithHintf("Invoice %s was not found", key).
		WithReportableDetails(map[string]any{
			"invoice": key,
		}).
		Mark(ierr.ErrNotFound)
}

// NewDuplicateNumberError means the allocator handed out a number twice. This
// is a bug, callers must not retry it.
func NewDuplicateNumberError(err error, number string) error {
	return ierr.WithError(err).
		WithHintf("Invoice number %s has already been issued", number).
		WithReportableDetails(map[string]any{
			"invoice_number": number,
		}).
		Mark(ierr.ErrDuplicateAllocation)
}

// NewVersionConflictError is returned when an invoice update lost a race
func NewVersionConflictError(id string, version int64) error {
	return ierr.NewError("invoice version conflict").
		WithHint("The invoice was modified concurrently").
		WithReportableDetails(map[string]any{
			"invoice_id":       id,
			"expected_version": version,
		}).
		Mark(ierr.ErrVersionConflict)
}
