// Package requestctx carries verified caller identity and request metadata
// through context.
package requestctx

import "context"

// Actor is the verified caller of a request.
type Actor struct {
	ID   string
	Role string
}

type actorContextKey struct{}

type clientIPContextKey struct{}

type localeContextKey struct{}

// WithActor stores the verified caller in context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext returns the caller stored in context and whether one was set.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

// UserIDFromContext returns the caller identifier stored in context.
func UserIDFromContext(ctx context.Context) string {
	actor, _ := ActorFromContext(ctx)
	return actor.ID
}

// WithClientIP stores the originating client address in context.
func WithClientIP(ctx context.Context, ip string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// ClientIPFromContext returns the originating client address stored in context.
func ClientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(clientIPContextKey{}).(string)
	return value
}

// WithLocale stores the negotiated response locale in context.
func WithLocale(ctx context.Context, locale string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, localeContextKey{}, locale)
}

// LocaleFromContext returns the negotiated response locale.
func LocaleFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(localeContextKey{}).(string)
	return value
}
