// Package service implements the settlement use cases on top of the storage
// contracts. Every mutating operation runs in one unit of work so an order
// transition, its finance snapshot and its outbox events commit together.
//
// Transport concerns (caller authentication, idempotency keys and the abuse
// gate) stay in the API layers; operations receive an explicit actor.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/louisbranch/settlement/internal/platform/errors"
	"github.com/louisbranch/settlement/internal/platform/id"
	"github.com/louisbranch/settlement/internal/services/settlement/domain/finance"
	"github.com/louisbranch/settlement/internal/services/settlement/domain/order"
	"github.com/louisbranch/settlement/internal/services/settlement/payment"
	"github.com/louisbranch/settlement/internal/services/settlement/storage"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultCurrency is used when Config.Currency is empty.
	DefaultCurrency = "TRY"
	tracerName      = "github.com/louisbranch/settlement/internal/services/settlement/service"
)

// DefaultCommissionRate applies when no commission setting is active.
var DefaultCommissionRate = decimal.RequireFromString("0.10")

// Config holds service-level settings. An unset DefaultCommissionRate uses
// the package default.
type Config struct {
	Currency              string
	DefaultCommissionRate decimal.NullDecimal
}

// Deps are the collaborators of a Service.
type Deps struct {
	Store    storage.Store
	Verifier *payment.Verifier
	Checkout payment.CheckoutProvider
	Now      func() time.Time
	NewID    func() (string, error)
}

// Service exposes the settlement operations.
type Service struct {
	store       storage.Store
	verifier    *payment.Verifier
	checkout    payment.CheckoutProvider
	currency    string
	defaultRate decimal.Decimal
	now         func() time.Time
	newID       func() (string, error)
	tracer      trace.Tracer
}

// New builds a Service. Store and Verifier are required.
func New(cfg Config, deps Deps) (*Service, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("settlement store is required")
	}
	if deps.Verifier == nil {
		return nil, fmt.Errorf("payment verifier is required")
	}
	currency := strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	rate := DefaultCommissionRate
	if cfg.DefaultCommissionRate.Valid {
		rate = cfg.DefaultCommissionRate.Decimal
	}
	if err := finance.ValidateRate(rate); err != nil {
		return nil, fmt.Errorf("default commission rate: %w", err)
	}
	checkout := deps.Checkout
	if checkout == nil {
		checkout = payment.LocalCheckout{}
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	newID := deps.NewID
	if newID == nil {
		newID = id.NewID
	}
	return &Service{
		store:       deps.Store,
		verifier:    deps.Verifier,
		checkout:    checkout,
		currency:    currency,
		defaultRate: rate,
		now:         now,
		newID:       newID,
		tracer:      otel.Tracer(tracerName),
	}, nil
}

// Currency returns the single currency this deployment settles in.
func (s *Service) Currency() string {
	return s.currency
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "settlement."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperrors.GetCode(err)))
	}
	span.End()
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

func (s *Service) nextID() (string, error) {
	value, err := s.newID()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return value, nil
}

func permissionDenied(action string) error {
	return apperrors.WithMetadata(apperrors.CodePermissionDenied, action+" is not allowed for this caller", map[string]string{"Action": action})
}

func invalidArgument(reason string) error {
	return apperrors.WithMetadata(apperrors.CodeInvalidArgument, reason, map[string]string{"Reason": reason})
}

func requireAdmin(actor order.Actor, action string) error {
	if actor.Role != order.RoleAdmin {
		return permissionDenied(action)
	}
	return nil
}

func isStaff(actor order.Actor) bool {
	return actor.Role == order.RoleAdmin || actor.Role == order.RoleSystem
}

// mapNotFound swaps a storage miss for the domain error callers see.
func mapNotFound(err error, domainErr error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return domainErr
	}
	return err
}

func loadOrder(ctx context.Context, store storage.OrderStore, orderID string) (order.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return order.Order{}, invalidArgument("order id is required")
	}
	o, err := store.GetOrder(ctx, orderID)
	if err != nil {
		return order.Order{}, mapNotFound(err, order.ErrNotFound)
	}
	return o, nil
}

// visibleTo hides orders from callers who are neither a party nor staff.
func visibleTo(o order.Order, actor order.Actor) bool {
	if isStaff(actor) {
		return true
	}
	if actor.ID == "" {
		return false
	}
	return o.IsParty(actor)
}
