// Package metrics records host function calls in prometheus metrics.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/reglet-dev/hostcall/hostfuncs"
)

const namespace = "hostcall"

// Outcome label values.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
	OutcomePanic = "panic"
)

// Metrics holds the host function collectors.
type Metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New creates the collectors and registers them with r.
func New(r prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "host_function_calls_total",
			Help:      "number of host function invocations by outcome",
		}, []string{"function", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "host_function_duration_seconds",
			Help:      "time spent in host functions, including argument marshalling",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"function"}),
	}
	errs := []error{
		r.Register(m.calls),
		r.Register(m.duration),
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

// Middleware observes every invocation of the wrapped trampoline. Panics
// recovered from the host function are counted with OutcomePanic.
func (m *Metrics) Middleware() hostfuncs.Middleware {
	return func(next hostfuncs.Trampoline) hostfuncs.Trampoline {
		return func(cc *hostfuncs.CallContext, inputs, outputs []hostfuncs.Value, extra []any) error {
			start := time.Now()
			err := next(cc, inputs, outputs, extra)
			name := cc.FunctionName()
			m.duration.WithLabelValues(name).Observe(time.Since(start).Seconds())
			m.calls.WithLabelValues(name, outcome(err)).Inc()
			return err
		}
	}
}

func outcome(err error) string {
	if err == nil {
		return OutcomeOK
	}
	var hfe *hostfuncs.HostFunctionError
	if errors.As(err, &hfe) && hfe.Panic {
		return OutcomePanic
	}
	return OutcomeError
}
