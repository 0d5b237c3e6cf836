// Package httpx provides HTTP middleware and JSON helpers shared by the
// settlement HTTP API.
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	apperrors "github.com/louisbranch/settlement/internal/platform/errors"
	"github.com/louisbranch/settlement/internal/platform/i18n/catalog"
	"github.com/louisbranch/settlement/internal/platform/requestctx"
)

// MaxBodyBytes caps decoded JSON request bodies.
const MaxBodyBytes = 1 << 20

// Middleware wraps an HTTP handler.
type Middleware func(http.Handler) http.Handler

var requestIDCounter atomic.Uint64

// Chain applies middleware in declaration order.
func Chain(handler http.Handler, middleware ...Middleware) http.Handler {
	if handler == nil {
		handler = http.NotFoundHandler()
	}
	wrapped := handler
	for idx := len(middleware) - 1; idx >= 0; idx-- {
		if middleware[idx] == nil {
			continue
		}
		wrapped = middleware[idx](wrapped)
	}
	return wrapped
}

// RequestID injects and echoes a request id for correlation.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.NotFoundHandler()
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = fmt.Sprintf("settlement-%d-%d", time.Now().UnixNano(), requestIDCounter.Add(1))
				r.Header.Set("X-Request-ID", requestID)
			}
			w.Header().Set("X-Request-ID", requestID)
			next.ServeHTTP(w, r)
		})
	}
}

// RecoverPanic converts panics into HTTP 500 responses.
func RecoverPanic() Middleware {
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.NotFoundHandler()
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if recovered := recover(); recovered != nil {
					log.Printf(
						"panic recovered method=%s path=%s request_id=%s panic=%v stack=%s",
						r.Method,
						r.URL.Path,
						r.Header.Get("X-Request-ID"),
						recovered,
						strings.TrimSpace(string(debug.Stack())),
					)
					WriteError(w, r, errors.New("panic"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP stores the caller address in the request context. When
// trustForwarded is set the left-most X-Forwarded-For entry wins, which is
// only safe behind a proxy that overwrites the header.
func ClientIP(trustForwarded bool) Middleware {
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.NotFoundHandler()
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := remoteIP(r.RemoteAddr)
			if trustForwarded {
				if forwarded := strings.TrimSpace(strings.Split(r.Header.Get("X-Forwarded-For"), ",")[0]); forwarded != "" {
					ip = forwarded
				}
			}
			next.ServeHTTP(w, r.WithContext(requestctx.WithClientIP(r.Context(), ip)))
		})
	}
}

// Locale negotiates the response locale from Accept-Language.
func Locale() Middleware {
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.NotFoundHandler()
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			locale := catalog.Default().Match(r.Header.Get("Accept-Language"))
			next.ServeHTTP(w, r.WithContext(requestctx.WithLocale(r.Context(), locale)))
		})
	}
}

// AccessLog writes one line per request.
func AccessLog() Middleware {
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.NotFoundHandler()
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)
			log.Printf("http method=%s path=%s status=%d duration=%s request_id=%s",
				r.Method, r.URL.Path, recorder.status, time.Since(start).Round(time.Millisecond), r.Header.Get("X-Request-ID"))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// ErrorBody is the JSON envelope for failed requests.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the machine code and localized message of a failure.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes a JSON response with the provided status code.
func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	if w == nil {
		return fmt.Errorf("response writer is required")
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(payload)
}

// ErrorResponse renders err into a status and body without writing it.
func ErrorResponse(ctx context.Context, err error) (int, ErrorBody) {
	code, message := apperrors.UserMessage(err, requestctx.LocaleFromContext(ctx))
	return code.HTTPStatus(), ErrorBody{Error: ErrorDetail{Code: string(code), Message: message}}
}

// WriteError writes a localized JSON error envelope using the domain code's
// HTTP status. Errors without a domain code render as 500 UNKNOWN.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	if w == nil {
		return
	}
	status, body := ErrorResponse(RequestContext(r), err)
	if status >= http.StatusInternalServerError && r != nil {
		log.Printf("request failed method=%s path=%s request_id=%s err=%v", r.Method, r.URL.Path, r.Header.Get("X-Request-ID"), err)
	}
	_ = WriteJSON(w, status, body)
}

// DecodeJSON decodes a bounded JSON body into target, rejecting unknown fields.
func DecodeJSON(r *http.Request, target any) error {
	if r == nil || r.Body == nil {
		return apperrors.WithMetadata(apperrors.CodeInvalidArgument, "request body is required", map[string]string{"Reason": "body is required"})
	}
	decoder := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return apperrors.WithMetadata(apperrors.CodeInvalidArgument, "decode request body: "+err.Error(), map[string]string{"Reason": "malformed JSON body"})
	}
	return nil
}

// RequestContext returns r.Context() with a nil-safe fallback to context.Background().
func RequestContext(r *http.Request) context.Context {
	if r == nil {
		return context.Background()
	}
	return r.Context()
}

func remoteIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(remoteAddr))
	if err != nil {
		return strings.TrimSpace(remoteAddr)
	}
	return host
}
