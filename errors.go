// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package tenantmeter

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound should be returned when a requested resource cannot be found
	ErrNotFound = errors.New("not found")

	// ErrDuplicateEntry should be returned when a resource would violate unique constraints
	ErrDuplicateEntry = errors.New("duplicate entry")

	// ErrInvalidArgument should be returned when a caller supplies a value outside the accepted domain
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrTenantNotFound is returned by a TierDirectory when the tenant cannot be resolved.
	// It matches ErrNotFound with errors.Is.
	ErrTenantNotFound = fmt.Errorf("tenant %w", ErrNotFound)
)

// StorageError reports that the usage store was unreachable or rejected an operation.
// It is surfaced to callers as-is; nothing in this module retries it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("usage storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError wraps err in a [StorageError] unless it already is one.
// A nil err yields nil.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsStorageError reports whether err (or anything it wraps) is a [StorageError].
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
