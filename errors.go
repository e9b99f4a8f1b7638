package hnswdb

import "github.com/dria-labs/hnswdb/internal/errs"

// Error is the structured error type returned by every Engine method,
// re-exported from internal/errs so callers outside this module never
// need to import an internal package to type-assert on it.
type Error = errs.Error

// ErrorKind mirrors internal/errs.Kind.
type ErrorKind = errs.Kind

const (
	KindInternal           = errs.Internal
	KindNotFound           = errs.NotFound
	KindStorageUnavailable = errs.StorageUnavailable
	KindInvalidEncoding    = errs.InvalidEncoding
	KindValidation         = errs.Validation
)

// IsNotFound reports whether err (or anything it wraps) is a NotFound
// error.
func IsNotFound(err error) bool { return errs.Is(err, errs.NotFound) }

// IsStorageUnavailable reports whether err is a StorageUnavailable
// error.
func IsStorageUnavailable(err error) bool { return errs.Is(err, errs.StorageUnavailable) }

// Sentinel validation errors of the driver surface. InsertBatch and Knn
// return all but ErrIndexClosed, which no Engine method returns.
var (
	ErrIndexClosed       = errs.New(errs.Validation, "hnswdb", "", "engine is closed")
	ErrDimensionMismatch = errs.New(errs.Validation, "hnswdb", "", "vector dimension does not match the tenant's established dimension")
	ErrBatchTooLarge     = errs.New(errs.Validation, "hnswdb", "", "batch exceeds MaxBatchSize")
	ErrKTooLarge         = errs.New(errs.Validation, "hnswdb", "", "k exceeds MaxK")
	ErrLevelOutOfRange   = errs.New(errs.Validation, "hnswdb", "", "level must be between MinLevel and MaxLevel")
)
