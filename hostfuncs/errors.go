package hostfuncs

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	// ErrContextExpired is returned by a Memory whose call context has ended.
	ErrContextExpired = errors.New("call context expired")

	// ErrInvalidHandle is returned for offsets that do not name a live allocation.
	ErrInvalidHandle = errors.New("invalid memory handle")

	// ErrOutOfBounds is returned when a read or write exceeds a handle or the
	// guest memory.
	ErrOutOfBounds = errors.New("memory access out of bounds")

	// ErrOutOfMemory is returned when the guest arena cannot satisfy an allocation.
	ErrOutOfMemory = errors.New("out of guest memory")
)

// UnsupportedTypeError reports a semantic kind, or Go type, with no mapping to
// a wire value type. It is raised at declaration time only.
type UnsupportedTypeError struct {
	Type   reflect.Type
	Reason string
	Kind   Kind
}

func (e *UnsupportedTypeError) Error() string {
	switch {
	case e.Type != nil && e.Reason != "":
		return fmt.Sprintf("unsupported type %s for kind %s: %s", e.Type, e.Kind, e.Reason)
	case e.Type != nil:
		return fmt.Sprintf("unsupported type %s for kind %s", e.Type, e.Kind)
	case e.Reason != "":
		return fmt.Sprintf("unsupported kind %s: %s", e.Kind, e.Reason)
	default:
		return fmt.Sprintf("unsupported kind %s", e.Kind)
	}
}

// SignatureInferenceError reports a host function whose signature cannot be
// turned into a wire signature. The function is never registered.
type SignatureInferenceError struct {
	Err      error
	Function string
	Position string // "param 2", "result", ...
	Reason   string
}

func (e *SignatureInferenceError) Error() string {
	msg := "signature inference failed"
	if e.Function != "" {
		msg += " for " + e.Function
	}
	if e.Position != "" {
		msg += " at " + e.Position
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SignatureInferenceError) Unwrap() error {
	return e.Err
}

// DecodeError reports a wire input that could not be decoded to its kind.
// The host function is not invoked.
type DecodeError struct {
	Err      error
	Function string
	Kind     Kind
	Slot     int
}

func (e *DecodeError) Error() string {
	if e.Kind.IsZero() {
		return fmt.Sprintf("%s: decode param %d: %v", e.Function, e.Slot, e.Err)
	}
	return fmt.Sprintf("%s: decode param %d as %s: %v", e.Function, e.Slot, e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// EncodeError reports a host result that could not be encoded to its kind.
// The host function has already run; no output slot is written.
type EncodeError struct {
	Err      error
	Function string
	Kind     Kind
	Slot     int
}

func (e *EncodeError) Error() string {
	if e.Kind.IsZero() {
		return fmt.Sprintf("%s: encode result %d: %v", e.Function, e.Slot, e.Err)
	}
	if e.Slot < 0 {
		return fmt.Sprintf("%s: encode result as %s: %v", e.Function, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: encode result %d as %s: %v", e.Function, e.Slot, e.Kind, e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// MemoryError reports an invalid handle or offset passed to the Memory facade.
type MemoryError struct {
	Err    error
	Op     string
	Offset uint64
	Length uint64
}

func (e *MemoryError) Error() string {
	if e.Length > 0 {
		return fmt.Sprintf("memory %s at offset %d (length %d): %v", e.Op, e.Offset, e.Length, e.Err)
	}
	return fmt.Sprintf("memory %s at offset %d: %v", e.Op, e.Offset, e.Err)
}

func (e *MemoryError) Unwrap() error {
	return e.Err
}

// DispatchIndexError reports a registry index outside the registered range.
// It means the bound user data was corrupted and is treated as a defect.
type DispatchIndexError struct {
	Reason string
	Index  int64
	Len    int
}

func (e *DispatchIndexError) Error() string {
	if e.Reason != "" {
		return "dispatch: " + e.Reason
	}
	return fmt.Sprintf("dispatch: index %d out of range [0, %d)", e.Index, e.Len)
}

// HostFunctionError wraps an error returned, or a panic raised, by a host function.
type HostFunctionError struct {
	Err      error
	Function string
	Panic    bool
}

func (e *HostFunctionError) Error() string {
	if e.Panic {
		return fmt.Sprintf("host function %s panicked: %v", e.Function, e.Err)
	}
	return fmt.Sprintf("host function %s failed: %v", e.Function, e.Err)
}

func (e *HostFunctionError) Unwrap() error {
	return e.Err
}

// panicError converts a recovered panic value into an error.
func panicError(r any) error {
	switch v := r.(type) {
	case error:
		return v
	case string:
		return errors.New(v)
	default:
		return fmt.Errorf("%v", v)
	}
}
