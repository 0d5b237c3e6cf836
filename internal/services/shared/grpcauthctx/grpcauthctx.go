// Package grpcauthctx attaches caller credentials and locale to outgoing
// gRPC calls.
package grpcauthctx

import (
	"context"
	"strings"

	"github.com/louisbranch/settlement/internal/platform/authn"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// WithBearerToken returns a context with authorization metadata when token is non-empty.
func WithBearerToken(ctx context.Context, token string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, authn.AuthorizationMetadataKey, "Bearer "+token)
}

// WithLocale returns a context with accept-language metadata when locale is non-empty.
func WithLocale(ctx context.Context, locale string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	locale = strings.TrimSpace(locale)
	if locale == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, authn.LocaleMetadataKey, locale)
}

// BearerUnaryClientInterceptor appends the caller token and locale to unary calls.
func BearerUnaryClientInterceptor(token, locale string) grpc.UnaryClientInterceptor {
	token = strings.TrimSpace(token)
	locale = strings.TrimSpace(locale)
	return func(
		ctx context.Context,
		method string,
		req any,
		reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		return invoker(WithLocale(WithBearerToken(ctx, token), locale), method, req, reply, cc, opts...)
	}
}
