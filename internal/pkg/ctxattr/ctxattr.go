// Package ctxattr stores telemetry attributes in a context.
// The attributes are added to each log message written with the context.
package ctxattr

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
)

type ctxKey string

const attributesCtxKey = ctxKey("attributes")

// ContextWith returns a context with the attributes merged into the parent attributes.
// A newer attribute overrides an older one with the same key.
func ContextWith(ctx context.Context, attrs ...attribute.KeyValue) context.Context {
	parent := Attributes(ctx)
	merged := make([]attribute.KeyValue, 0, parent.Len()+len(attrs))
	merged = append(merged, parent.ToSlice()...)
	merged = append(merged, attrs...)
	set := attribute.NewSet(merged...)
	return context.WithValue(ctx, attributesCtxKey, &set)
}

// Attributes returns the attributes stored in the context, the set is empty if there are none.
func Attributes(ctx context.Context) *attribute.Set {
	if set, ok := ctx.Value(attributesCtxKey).(*attribute.Set); ok {
		return set
	}
	return attribute.EmptySet()
}
