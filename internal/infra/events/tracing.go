package events

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/davicafu/eventrelay/internal/infra/events"

// telemetry agrupa tracer y propagador; por defecto salen de los globales de otel.
type telemetry struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

func defaultTelemetry() telemetry {
	return telemetry{
		tracer: otel.Tracer(tracerName),
		propagator: propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{}, propagation.Baggage{},
		),
	}
}

// amqpHeaderCarrier adapta amqp.Table a propagation.TextMapCarrier.
// Solo los valores string cuentan como cabeceras de traza.
type amqpHeaderCarrier amqp.Table

func (c amqpHeaderCarrier) Get(key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

func (c amqpHeaderCarrier) Set(key, value string) { c[key] = value }

func (c amqpHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

func (t telemetry) injectAMQP(ctx context.Context, headers amqp.Table) {
	t.propagator.Inject(ctx, amqpHeaderCarrier(headers))
}

func (t telemetry) extractAMQP(ctx context.Context, headers amqp.Table) context.Context {
	if len(headers) == 0 {
		return ctx
	}
	return t.propagator.Extract(ctx, amqpHeaderCarrier(headers))
}

// kafkaHeaderCarrier adapta las cabeceras de un kafka.Message.
type kafkaHeaderCarrier struct {
	headers *[]kafka.Header
}

func (c kafkaHeaderCarrier) Get(key string) string {
	for _, h := range *c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c kafkaHeaderCarrier) Set(key, value string) {
	for i, h := range *c.headers {
		if h.Key == key {
			(*c.headers)[i].Value = []byte(value)
			return
		}
	}
	*c.headers = append(*c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c kafkaHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(*c.headers))
	for _, h := range *c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}

var (
	_ propagation.TextMapCarrier = amqpHeaderCarrier{}
	_ propagation.TextMapCarrier = kafkaHeaderCarrier{}
)
