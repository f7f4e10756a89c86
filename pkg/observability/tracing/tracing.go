package tracing

import (
    "context"

    "go.opentelemetry.io/otel"
    "go.opentelemetry.io/otel/attribute"
    "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
    sdktrace "go.opentelemetry.io/otel/sdk/trace"
    "go.opentelemetry.io/otel/trace"
)

var enabled bool

// Setup configures a global tracer provider when enable=true.
// It returns a shutdown function which should be deferred.
func Setup(enable bool) (func(context.Context) error, error) {
    enabled = enable
    if !enable {
        return func(context.Context) error { return nil }, nil
    }
    exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
    if err != nil {
        return nil, err
    }
    tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
    otel.SetTracerProvider(tp)
    return tp.Shutdown, nil
}

// StartSpan starts a tracing span if tracing is enabled. Attributes are given
// as key/value pairs of ints, e.g. StartSpan(ctx, "election", "node_id", 2).
func StartSpan(ctx context.Context, name string, kv ...any) (context.Context, func()) {
    if !enabled {
        return ctx, func() {}
    }
    var attrs []attribute.KeyValue
    for i := 0; i+1 < len(kv); i += 2 {
        k, _ := kv[i].(string)
        switch v := kv[i+1].(type) {
        case int:
            attrs = append(attrs, attribute.Int(k, v))
        case string:
            attrs = append(attrs, attribute.String(k, v))
        case bool:
            attrs = append(attrs, attribute.Bool(k, v))
        }
    }
    ctx, span := otel.Tracer("go-failover").Start(ctx, name, trace.WithAttributes(attrs...))
    return ctx, func() { span.End() }
}
