package storage

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/louisbranch/settlement/internal/platform/errors"
	"github.com/louisbranch/settlement/internal/services/settlement/domain/dispute"
	"github.com/louisbranch/settlement/internal/services/settlement/domain/finance"
	"github.com/louisbranch/settlement/internal/services/settlement/domain/order"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New(errors.CodeNotFound, "record not found")
	// ErrConflict indicates a compare-and-set write lost to a concurrent change.
	ErrConflict = stderrors.New("record changed concurrently")
)

// PaymentStatus is the lifecycle label of a checkout attempt.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// PaymentAttempt is one checkout initiation for an order.
type PaymentAttempt struct {
	ID                 string
	OrderID            string
	ProviderSessionRef string
	Status             PaymentStatus
	SignatureChecksum  string
	ProviderEventID    string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ProviderEvent records a provider callback id that has been applied.
type ProviderEvent struct {
	ProviderEventID string
	EventType       string
	OrderID         string
	ReceivedAt      time.Time
}

// FinanceFilter narrows finance listings to a half-open period [From, To)
// and optionally one seller.
type FinanceFilter struct {
	SellerID string
	From     time.Time
	To       time.Time
}

// OutboxStatus is the delivery state of an outbox event.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusLeased    OutboxStatus = "leased"
	OutboxStatusSucceeded OutboxStatus = "succeeded"
	OutboxStatusDead      OutboxStatus = "dead"
)

// OutboxEvent is a durable event written with the state change it reports.
type OutboxEvent struct {
	ID             string
	EventType      string
	PayloadJSON    string
	DedupeKey      string
	Status         OutboxStatus
	AttemptCount   int
	NextAttemptAt  time.Time
	LeaseOwner     string
	LeaseExpiresAt *time.Time
	LastError      string
	ProcessedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OrderStore persists orders.
type OrderStore interface {
	PutOrder(ctx context.Context, o order.Order) error
	GetOrder(ctx context.Context, orderID string) (order.Order, error)
	// UpdateOrderStatus moves an order only if it is still in from. A stale
	// from returns ErrConflict.
	UpdateOrderStatus(ctx context.Context, orderID string, from, to order.Status, at time.Time) error
}

// PaymentStore persists checkout attempts and applied provider events.
type PaymentStore interface {
	PutPaymentAttempt(ctx context.Context, attempt PaymentAttempt) error
	GetPaymentAttemptBySession(ctx context.Context, sessionRef string) (PaymentAttempt, error)
	ListPaymentAttempts(ctx context.Context, orderID string) ([]PaymentAttempt, error)
	// MarkPaymentAttempt settles a pending attempt. Settling an attempt that
	// is no longer pending returns ErrConflict.
	MarkPaymentAttempt(ctx context.Context, attemptID string, status PaymentStatus, checksum string, providerEventID string, at time.Time) error
	// PutProviderEvent records a provider event id. It reports false when
	// the id was already recorded.
	PutProviderEvent(ctx context.Context, event ProviderEvent) (bool, error)
}

// FinanceStore persists commission snapshots, settings and adjustments.
type FinanceStore interface {
	// PutOrderFinance inserts a snapshot once per order. It reports false
	// and leaves the stored snapshot untouched when one already exists.
	PutOrderFinance(ctx context.Context, snapshot finance.OrderFinance) (bool, error)
	GetOrderFinance(ctx context.Context, orderID string) (finance.OrderFinance, error)
	PutCommissionSetting(ctx context.Context, setting finance.CommissionSetting) error
	// ActiveCommissionSetting returns the active setting with the latest
	// effective_from at or before at, or ErrNotFound.
	ActiveCommissionSetting(ctx context.Context, at time.Time) (finance.CommissionSetting, error)
	PutFinanceAdjustment(ctx context.Context, adjustment finance.Adjustment) error
	ListOrderFinance(ctx context.Context, filter FinanceFilter) ([]finance.OrderFinance, error)
	ListFinanceAdjustments(ctx context.Context, filter FinanceFilter) ([]finance.Adjustment, error)
}

// DisputeStore persists dispute cases and their audit trail.
type DisputeStore interface {
	PutDispute(ctx context.Context, c dispute.Case) error
	GetDispute(ctx context.Context, disputeID string) (dispute.Case, error)
	GetDisputeByProviderCaseRef(ctx context.Context, ref string) (dispute.Case, error)
	// ListOrderDisputes returns every case of an order, oldest first.
	ListOrderDisputes(ctx context.Context, orderID string) ([]dispute.Case, error)
	// UpdateDispute rewrites the mutable fields of a case still in from. A
	// stale from returns ErrConflict.
	UpdateDispute(ctx context.Context, c dispute.Case, from dispute.Status) error
	AppendDisputeEvent(ctx context.Context, event dispute.Event) error
	ListDisputeEvents(ctx context.Context, disputeID string) ([]dispute.Event, error)
}

// OutboxWriter enqueues outbox events.
type OutboxWriter interface {
	EnqueueOutboxEvent(ctx context.Context, event OutboxEvent) error
}

// OutboxStore leases and acknowledges outbox events for relay workers.
type OutboxStore interface {
	OutboxWriter
	GetOutboxEvent(ctx context.Context, id string) (OutboxEvent, error)
	LeaseOutboxEvents(ctx context.Context, consumer string, limit int, now time.Time, leaseTTL time.Duration) ([]OutboxEvent, error)
	MarkOutboxSucceeded(ctx context.Context, id string, consumer string, processedAt time.Time) error
	MarkOutboxRetry(ctx context.Context, id string, consumer string, nextAttemptAt time.Time, lastError string) error
	MarkOutboxDead(ctx context.Context, id string, consumer string, lastError string, processedAt time.Time) error
}

// Tx is the set of stores visible inside one unit of work.
type Tx interface {
	OrderStore
	PaymentStore
	FinanceStore
	DisputeStore
	OutboxWriter
}

// UnitOfWork runs fn inside one transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
type UnitOfWork interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Store is the full settlement persistence surface.
type Store interface {
	Tx
	UnitOfWork
	OutboxStore
}
