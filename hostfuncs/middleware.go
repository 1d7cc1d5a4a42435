package hostfuncs

import (
	"log/slog"
	"time"
)

// Middleware wraps a Trampoline to add cross-cutting behavior.
// Middleware executes in FIFO order (first registered wraps first, onion model).
//
// Example usage:
//
//	counting := func(next Trampoline) Trampoline {
//	    return func(cc *CallContext, in, out []Value, extra []any) error {
//	        calls.Add(1)
//	        return next(cc, in, out, extra)
//	    }
//	}
type Middleware func(next Trampoline) Trampoline

// PanicRecoveryMiddleware converts a panic anywhere in the wrapped trampoline
// into a *HostFunctionError so the guest call fails cleanly.
func PanicRecoveryMiddleware() Middleware {
	return func(next Trampoline) Trampoline {
		return func(cc *CallContext, inputs, outputs []Value, extra []any) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &HostFunctionError{Function: cc.FunctionName(), Err: panicError(r), Panic: true}
				}
			}()
			return next(cc, inputs, outputs, extra)
		}
	}
}

// LoggingMiddleware logs host function invocations to logger. A nil logger
// uses slog.Default().
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(next Trampoline) Trampoline {
		return func(cc *CallContext, inputs, outputs []Value, extra []any) error {
			l := logger
			if l == nil {
				l = slog.Default()
			}
			start := time.Now()
			l.DebugContext(cc, "invoking host function", "function", cc.FunctionName(), "inputs", len(inputs))
			err := next(cc, inputs, outputs, extra)
			if err != nil {
				l.ErrorContext(cc, "host function failed",
					"function", cc.FunctionName(),
					"duration", time.Since(start),
					"error", err)
				return err
			}
			l.DebugContext(cc, "host function completed", "function", cc.FunctionName(), "duration", time.Since(start))
			return nil
		}
	}
}
