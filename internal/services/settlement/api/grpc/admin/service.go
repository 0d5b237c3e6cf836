// Package admin exposes finance administration over gRPC.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/louisbranch/settlement/internal/platform/errors"
	"github.com/louisbranch/settlement/internal/platform/requestctx"
	"github.com/louisbranch/settlement/internal/services/settlement/api/views"
	"github.com/louisbranch/settlement/internal/services/settlement/domain/finance"
	"github.com/louisbranch/settlement/internal/services/settlement/domain/order"
	"github.com/louisbranch/settlement/internal/services/settlement/service"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Service implements AdminServiceServer over the settlement service.
type Service struct {
	settlement *service.Service
}

// NewService creates the admin service.
func NewService(settlement *service.Service) *Service {
	return &Service{settlement: settlement}
}

var _ AdminServiceServer = (*Service)(nil)

// SetCommissionRate appends a commission rate version.
// Request fields: rate (decimal string), effective_from (RFC 3339, optional).
func (s *Service) SetCommissionRate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(in); err != nil {
		return nil, err
	}
	rate, err := decimal.NewFromString(stringField(in, "rate"))
	if err != nil {
		return nil, handle(ctx, invalidArgument("rate must be a decimal"))
	}
	input := service.CommissionRateInput{Rate: rate}
	if input.EffectiveFrom, err = timeField(in, "effective_from"); err != nil {
		return nil, handle(ctx, err)
	}
	setting, err := s.settlement.SetCommissionRate(ctx, actorFrom(ctx), input)
	if err != nil {
		return nil, handle(ctx, err)
	}
	return toStruct(views.FromCommissionSetting(setting))
}

// ResolveDispute records a dispute outcome.
// Request fields: dispute_id, outcome, liability, amount, note.
func (s *Service) ResolveDispute(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(in); err != nil {
		return nil, err
	}
	disputeID := stringField(in, "dispute_id")
	if disputeID == "" {
		return nil, handle(ctx, invalidArgument("dispute_id is required"))
	}
	input := service.ResolveInput{
		Liability: stringField(in, "liability"),
		Outcome:   stringField(in, "outcome"),
		Note:      stringField(in, "note"),
	}
	if raw := stringField(in, "amount"); raw != "" {
		amount, err := finance.ParseAmount(raw)
		if err != nil {
			return nil, handle(ctx, err)
		}
		input.Amount = &amount
	}
	result, err := s.settlement.ResolveDispute(ctx, actorFrom(ctx), disputeID, input)
	if err != nil {
		return nil, handle(ctx, err)
	}
	return toStruct(views.FromResolution(result))
}

// GetReconciliationReport returns the platform-wide report.
// Request fields: from, to (RFC 3339, both optional).
func (s *Service) GetReconciliationReport(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(in); err != nil {
		return nil, err
	}
	from, err := timeField(in, "from")
	if err != nil {
		return nil, handle(ctx, err)
	}
	to, err := timeField(in, "to")
	if err != nil {
		return nil, handle(ctx, err)
	}
	report, err := s.settlement.ReconciliationReport(ctx, actorFrom(ctx), from, to)
	if err != nil {
		return nil, handle(ctx, err)
	}
	return toStruct(views.FromReport(report))
}

func (s *Service) ready(in *structpb.Struct) error {
	if in == nil {
		return status.Error(codes.InvalidArgument, "request is required")
	}
	if s == nil || s.settlement == nil {
		return status.Error(codes.Internal, "settlement service is not configured")
	}
	return nil
}

func actorFrom(ctx context.Context) order.Actor {
	actor, _ := requestctx.ActorFromContext(ctx)
	return order.Actor{ID: actor.ID, Role: order.ParseRole(actor.Role)}
}

func handle(ctx context.Context, err error) error {
	return apperrors.HandleError(err, requestctx.LocaleFromContext(ctx))
}

func invalidArgument(reason string) error {
	return apperrors.WithMetadata(apperrors.CodeInvalidArgument, reason, map[string]string{"Reason": reason})
}

func stringField(in *structpb.Struct, name string) string {
	return strings.TrimSpace(in.GetFields()[name].GetStringValue())
}

func timeField(in *structpb.Struct, name string) (time.Time, error) {
	raw := stringField(in, name)
	if raw == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, invalidArgument(name + " must be an RFC 3339 time")
	}
	return parsed.UTC(), nil
}

// toStruct renders a view through its JSON form so gRPC and HTTP replies
// share field names.
func toStruct(view any) (*structpb.Struct, error) {
	encoded, err := json.Marshal(view)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode reply: %v", err))
	}
	var fields map[string]any
	if err := json.Unmarshal(encoded, &fields); err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("decode reply: %v", err))
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("build reply: %v", err))
	}
	return out, nil
}
