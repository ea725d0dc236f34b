package testutil

import "context"

type worldKey struct{}

// WithWorld attaches the scenario's World to ctx so step functions can reach it.
func WithWorld(ctx context.Context, w *World) context.Context {
	return context.WithValue(ctx, worldKey{}, w)
}

// GetWorld panics when the scenario was not started through WithWorld.
func GetWorld(ctx context.Context) *World {
	w, ok := ctx.Value(worldKey{}).(*World)
	if !ok {
		panic("testutil: no World in context")
	}
	return w
}
