package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseParse    Phase = "parse"    // argument and metadata parsing
	PhaseLoad     Phase = "load"     // library loading
	PhaseRegistry Phase = "registry" // registry mutation
	PhaseCall     Phase = "call"     // function invocation
	PhaseDump     Phase = "dump"     // payload serialization
	PhaseRestore  Phase = "restore"  // payload restore
	PhaseEngine   Phase = "engine"   // engine lifecycle
)

// Kind categorizes the error
type Kind string

const (
	KindSyntax            Kind = "syntax"
	KindUnknownEngine     Kind = "unknown_engine"
	KindLibraryExists     Kind = "library_exists"
	KindLibraryNotFound   Kind = "library_not_found"
	KindInvalidName       Kind = "invalid_name"
	KindDuplicateFunction Kind = "duplicate_function"
	KindFunctionNotFound  Kind = "function_not_found"
	KindReadOnly          Kind = "readonly_violation"
	KindCompile           Kind = "compile"
	KindRuntime           Kind = "runtime_error"
	KindNoScript          Kind = "no_script"
	KindInvalidInput      Kind = "invalid_input"
)

// Error is the structured error type used throughout the subsystem
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Convenience constructors for the subsystem's error taxonomy.
// Detail strings match the reply text the surrounding server sends to
// clients, so the command layer can pass them through unchanged.

// Syntax creates a malformed-input error
func Syntax(phase Phase, detail string, args ...any) *Error {
	if len(args) > 0 {
		detail = fmt.Sprintf(detail, args...)
	}
	return &Error{
		Phase:  phase,
		Kind:   KindSyntax,
		Detail: detail,
	}
}

// UnknownEngine creates an unregistered-engine error
func UnknownEngine(name string) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindUnknownEngine,
		Detail: fmt.Sprintf("unknown engine '%s'", name),
	}
}

// LibraryExists creates a name-collision error for FUNCTION LOAD without REPLACE
func LibraryExists(name string) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindLibraryExists,
		Detail: fmt.Sprintf("Library '%s' already exists", name),
	}
}

// LibraryNotFound creates a missing-library error
func LibraryNotFound() *Error {
	return &Error{
		Phase:  PhaseRegistry,
		Kind:   KindLibraryNotFound,
		Detail: "Library not found",
	}
}

// InvalidFunctionName creates a function-name validation error
func InvalidFunctionName() *Error {
	return &Error{
		Phase:  PhaseRegistry,
		Kind:   KindInvalidName,
		Detail: "Function names can only contain letters, numbers, or underscores(_) and must be at least one character long",
	}
}

// InvalidLibraryName creates a library-name validation error
func InvalidLibraryName() *Error {
	return &Error{
		Phase:  PhaseParse,
		Kind:   KindInvalidName,
		Detail: "Library names can only contain letters, numbers, or underscores(_) and must be at least one character long",
	}
}

// DuplicateInLibrary creates a per-library function collision error
func DuplicateInLibrary() *Error {
	return &Error{
		Phase:  PhaseRegistry,
		Kind:   KindDuplicateFunction,
		Detail: "Function already exists in the library",
	}
}

// DuplicateFunction creates a registry-wide function collision error
func DuplicateFunction(name string) *Error {
	return &Error{
		Phase:  PhaseRegistry,
		Kind:   KindDuplicateFunction,
		Detail: fmt.Sprintf("Function '%s' already exists", name),
	}
}

// FunctionNotFound creates a missing-function error for FCALL dispatch
func FunctionNotFound(name string) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindFunctionNotFound,
		Detail: fmt.Sprintf("Function '%s' not found", name),
	}
}

// ReadOnly creates the FCALL_RO rejection error for writing functions
func ReadOnly() *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindReadOnly,
		Detail: "Can not execute a function with write flag using fcall_ro",
	}
}

// Compile creates an engine compilation error; detail carries the engine's
// message verbatim
func Compile(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindCompile,
		Detail: detail,
		Cause:  cause,
	}
}

// Runtime creates an engine execution error; detail carries the engine's
// message verbatim
func Runtime(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindRuntime,
		Detail: detail,
		Cause:  cause,
	}
}

// NoScript creates the FUNCTION KILL error used when nothing is executing
func NoScript() *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindNoScript,
		Detail: "No scripts in execution right now",
	}
}

// InvalidInput creates a generic invalid-input error
func InvalidInput(phase Phase, detail string, args ...any) *Error {
	if len(args) > 0 {
		detail = fmt.Sprintf(detail, args...)
	}
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}
