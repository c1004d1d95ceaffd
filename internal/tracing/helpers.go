package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName names the tracers used by this package.
const InstrumentationName = "scanara"

// Attribute keys shared by capture and audit spans.
const (
	AttrProjectID  = attribute.Key("scanara.project_id")
	AttrAuditID    = attribute.Key("scanara.audit_id")
	AttrSnapshotID = attribute.Key("scanara.snapshot_id")
	AttrSource     = attribute.Key("scanara.snapshot.source")
	AttrFileCount  = attribute.Key("scanara.snapshot.file_count")
)

// DBOperation is the verb of a traced statement.
type DBOperation string

const (
	DBOperationQuery  DBOperation = "query"
	DBOperationInsert DBOperation = "insert"
	DBOperationUpdate DBOperation = "update"
	DBOperationExec   DBOperation = "exec"
)

// StartDBSpan opens a client span named "<operation> <table>" for a
// statement against system ("postgresql", "sqlite"). Call the returned
// func with the statement's error.
func StartDBSpan(ctx context.Context, system, table string, op DBOperation) (context.Context, func(error)) {
	name := string(op)
	attrs := []attribute.KeyValue{
		semconv.DBSystemKey.String(system),
		semconv.DBOperation(string(op)),
	}
	if table != "" {
		name += " " + table
		attrs = append(attrs, semconv.DBSQLTable(table))
	}
	ctx, span := otel.Tracer(InstrumentationName+"/store").Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
	return ctx, finish(span)
}

// StartSpan opens an internal span. Call the returned func with the
// operation's error.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := otel.Tracer(InstrumentationName).Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, finish(span)
}

func finish(span trace.Span) func(error) {
	return func(err error) {
		defer span.End()
		if err == nil {
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// AddEvent records an event on the span in ctx, if any.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetAttributes annotates the span in ctx, if any.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}
