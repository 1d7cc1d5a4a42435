// Package tracing wraps host function calls in OpenTelemetry spans.
package tracing

import (
	"errors"

	"github.com/reglet-dev/hostcall/hostfuncs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanPrefix starts the name of every host function span.
const SpanPrefix = "hostfuncs."

// Middleware starts a span around each host function invocation. The span's
// context replaces the CallContext's context for the rest of the chain, so
// host functions that start spans of their own nest under it.
func Middleware(tracer trace.Tracer) hostfuncs.Middleware {
	return func(next hostfuncs.Trampoline) hostfuncs.Trampoline {
		return func(cc *hostfuncs.CallContext, inputs, outputs []hostfuncs.Value, extra []any) error {
			ctx, span := tracer.Start(cc.Context, SpanPrefix+cc.FunctionName(),
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(
					attribute.String("function", cc.FunctionName()),
					attribute.Int("inputs", len(inputs)),
					attribute.Int("outputs", len(outputs)),
				),
			)
			defer span.End()

			parent := cc.Context
			cc.Context = ctx
			err := next(cc, inputs, outputs, extra)
			cc.Context = parent

			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				var hfe *hostfuncs.HostFunctionError
				if errors.As(err, &hfe) && hfe.Panic {
					span.SetAttributes(attribute.Bool("panic", true))
				}
			}
			return err
		}
	}
}
