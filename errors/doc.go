// Package errors provides structured error types for the functions subsystem.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). The Error type carries a human-readable detail message and an
// optional cause chain.
//
// Convenience constructors cover the subsystem's taxonomy:
//
//	err := errors.UnknownEngine("LUA5")
//	err := errors.LibraryExists("mylib")
//	err := errors.Compile("Error compiling function: ...", cause)
//
// All errors implement the standard error interface and support errors.Is/As.
// Two *Error values match under Is when their Phase and Kind are equal, so
// callers can classify failures without string comparison:
//
//	if stderrors.Is(err, errors.FunctionNotFound("")) { ... }
package errors
