package events

import (
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type busOptions struct {
	tel  telemetry
	dial Dialer
}

// Option configura los transportes (tracing y, en RabbitMQ, el dialer).
type Option func(*busOptions)

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *busOptions) { o.tel.tracer = tp.Tracer(tracerName) }
}

func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(o *busOptions) { o.tel.propagator = p }
}

// WithDialer sustituye amqp.Dial; solo lo usa RabbitMQEventBus.
func WithDialer(d Dialer) Option {
	return func(o *busOptions) { o.dial = d }
}

func collectOptions(opts []Option) busOptions {
	o := busOptions{tel: defaultTelemetry(), dial: DialAMQP}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
