// Package errors provides structured error types for the script bridge.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type includes rich context: element path, expected and received
// shapes, and cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseInterop, errors.KindTypeMismatch).
//		Path(".stats", ".health").
//		Expected("Integer").
//		Received(`String("x")`).
//		Detail("argument 1 of heal").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.TypeMismatch(path, "Integer", "String")
//	err := errors.OutOfBounds(path, 10, 5)
//
// Path, access and interop errors are values: the function layer turns them
// into Error script values instead of aborting the host. All errors implement
// the standard error interface and support errors.Is/As; the package-level
// sentinels (ErrFieldMissing, ErrTypeMismatch, ...) match by phase and kind.
package errors
