// Package authn verifies upstream-issued caller tokens. Sessions and token
// issuance live outside this service; only verification happens here.
package authn

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	apperrors "github.com/louisbranch/settlement/internal/platform/errors"
	"github.com/louisbranch/settlement/internal/platform/httpx"
	"github.com/louisbranch/settlement/internal/platform/i18n/catalog"
	"github.com/louisbranch/settlement/internal/platform/requestctx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

const (
	// AuthorizationMetadataKey carries "Bearer <token>" on gRPC calls.
	AuthorizationMetadataKey = "authorization"
	// LocaleMetadataKey carries the caller's Accept-Language on gRPC calls.
	LocaleMetadataKey = "accept-language"
)

// Config configures caller token verification.
type Config struct {
	Secret   []byte
	Issuer   string
	Audience string
	Now      func() time.Time
}

// callerClaims is the internal claims type used for JWT parsing.
type callerClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Verifier validates HS256 caller tokens.
type Verifier struct {
	cfg Config
}

// NewVerifier builds a verifier, rejecting an empty secret.
func NewVerifier(cfg Config) (*Verifier, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("jwt secret is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Verifier{cfg: cfg}, nil
}

// Verify parses token and returns the caller it identifies.
func (v *Verifier) Verify(token string) (requestctx.Actor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return requestctx.Actor{}, apperrors.New(apperrors.CodeUnauthenticated, "bearer token is required")
	}
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.cfg.Now),
		jwt.WithExpirationRequired(),
	}
	if v.cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.Audience != "" {
		options = append(options, jwt.WithAudience(v.cfg.Audience))
	}

	var parsed callerClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return v.cfg.Secret, nil
	}, options...)
	if err != nil {
		return requestctx.Actor{}, mapJWTError(err)
	}
	subject := strings.TrimSpace(parsed.Subject)
	role := strings.TrimSpace(parsed.Role)
	if subject == "" || role == "" {
		return requestctx.Actor{}, apperrors.New(apperrors.CodeUnauthenticated, "token subject and role are required")
	}
	return requestctx.Actor{ID: subject, Role: role}, nil
}

// Middleware authenticates every request with a bearer token and stores the
// caller in the request context.
func (v *Verifier) Middleware() httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				httpx.WriteError(w, r, apperrors.New(apperrors.CodeUnauthenticated, "missing bearer token"))
				return
			}
			actor, err := v.Verify(token)
			if err != nil {
				httpx.WriteError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(requestctx.WithActor(r.Context(), actor)))
		})
	}
}

// UnaryServerInterceptor is the gRPC counterpart of Middleware. It also
// negotiates the reply locale from the accept-language metadata so domain
// errors render in the caller's language.
func (v *Verifier) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		locale := catalog.Default().Match(firstValue(md, LocaleMetadataKey))
		ctx = requestctx.WithLocale(ctx, locale)

		token, ok := strings.CutPrefix(firstValue(md, AuthorizationMetadataKey), "Bearer ")
		if !ok {
			return nil, apperrors.HandleError(apperrors.New(apperrors.CodeUnauthenticated, "missing bearer token"), locale)
		}
		actor, err := v.Verify(token)
		if err != nil {
			return nil, apperrors.HandleError(err, locale)
		}
		return handler(requestctx.WithActor(ctx, actor), req)
	}
}

func firstValue(md metadata.MD, key string) string {
	if values := md.Get(key); len(values) > 0 {
		return values[0]
	}
	return ""
}

// Sign issues a token for actor. It exists for operators and tests; the
// service itself never issues caller tokens.
func Sign(secret []byte, actor requestctx.Actor, issuer string, ttl time.Duration, now time.Time) (string, error) {
	claims := callerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: actor.Role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return apperrors.Wrap(apperrors.CodeUnauthenticated, "token is expired", err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return apperrors.Wrap(apperrors.CodeUnauthenticated, "token signature is invalid", err)
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return apperrors.Wrap(apperrors.CodeUnauthenticated, "token alg is invalid", err)
	default:
		return apperrors.Wrap(apperrors.CodeUnauthenticated, "token is invalid", err)
	}
}
