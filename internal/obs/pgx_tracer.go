package obs

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxStatementLen = 300

type queryStartKey struct{}

type queryStart struct {
	op string
	at time.Time
}

// PGXTracer is the pgx.QueryTracer of the Postgres document store. Every
// statement gets a client span, and its latency is observed per SQL verb when
// Durations is set.
type PGXTracer struct {
	Durations *prometheus.HistogramVec
}

// NewPGXTracer registers the store query histogram on reg.
func NewPGXTracer(namespace string, reg prometheus.Registerer) *PGXTracer {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &PGXTracer{Durations: registerOrReuse(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "store_query_duration_ms",
		Help:      "Postgres document store statement latency in milliseconds.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250},
	}, []string{"operation", "result"}))}
}

// TraceQueryStart opens the statement span.
func (t *PGXTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	op := sqlVerb(data.SQL)
	ctx, _ = otel.Tracer(instrumentationName).Start(ctx, "docstore "+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", op),
			attribute.String("db.statement", clipStatement(data.SQL)),
		),
	)
	return context.WithValue(ctx, queryStartKey{}, queryStart{op: op, at: time.Now()})
}

// TraceQueryEnd closes the span opened by TraceQueryStart.
func (t *PGXTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	span := trace.SpanFromContext(ctx)
	result := "ok"
	if data.Err != nil {
		result = "error"
		span.RecordError(data.Err)
		span.SetStatus(codes.Error, data.Err.Error())
	} else {
		span.SetAttributes(attribute.Int64("db.rows_affected", data.CommandTag.RowsAffected()))
	}
	span.End()

	start, ok := ctx.Value(queryStartKey{}).(queryStart)
	if t.Durations != nil && ok {
		t.Durations.WithLabelValues(start.op, result).Observe(DurationMillis(time.Since(start.at)))
	}
}

// sqlVerb is the leading keyword of a statement, e.g. SELECT.
func sqlVerb(sql string) string {
	verb, _, _ := strings.Cut(strings.TrimSpace(sql), " ")
	if verb == "" {
		return "QUERY"
	}
	return strings.ToUpper(verb)
}

func clipStatement(sql string) string {
	sql = strings.Join(strings.Fields(sql), " ")
	if len(sql) > maxStatementLen {
		return sql[:maxStatementLen] + "..."
	}
	return sql
}
