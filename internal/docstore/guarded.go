package docstore

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/toko-pos/internal/resilience"
)

// Guarded decorates a Store with a circuit breaker and tracing. Only
// ErrUnavailable failures count against the breaker; conflicts and caller
// errors do not.
type Guarded struct {
	Store   Store
	Breaker *resilience.Breaker
	tracer  trace.Tracer
}

// WithBreaker wraps store. A nil breaker disables fail-fast.
func WithBreaker(store Store, breaker *resilience.Breaker) *Guarded {
	return &Guarded{Store: store, Breaker: breaker, tracer: otel.Tracer("docstore")}
}

func (g *Guarded) Get(ctx context.Context, key string, dst any) (bool, error) {
	var found bool
	err := g.run(ctx, "docstore.get", []string{key}, func(ctx context.Context) error {
		var err error
		found, err = g.Store.Get(ctx, key, dst)
		return err
	})
	return found, err
}

func (g *Guarded) Set(ctx context.Context, key string, v any) error {
	return g.run(ctx, "docstore.set", []string{key}, func(ctx context.Context) error {
		return g.Store.Set(ctx, key, v)
	})
}

func (g *Guarded) Update(ctx context.Context, keys []string, fn func(Tx) error) error {
	return g.run(ctx, "docstore.update", keys, func(ctx context.Context) error {
		return g.Store.Update(ctx, keys, fn)
	})
}

func (g *Guarded) Ping(ctx context.Context) error {
	return g.run(ctx, "docstore.ping", nil, g.Store.Ping)
}

func (g *Guarded) run(ctx context.Context, name string, keys []string, fn func(context.Context) error) error {
	tracer := g.tracer
	if tracer == nil {
		tracer = otel.Tracer("docstore")
	}
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attribute.StringSlice("docstore.keys", keys)))
	defer span.End()

	var err error
	if g.Breaker == nil {
		err = fn(ctx)
	} else {
		err = g.Breaker.Do(ctx, fn, isInfraFailure)
		if errors.Is(err, resilience.ErrOpenCircuit) {
			err = fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	}
	if err != nil {
		span.RecordError(err)
		if isInfraFailure(err) {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	return err
}

func isInfraFailure(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
