package order

import apperrors "github.com/louisbranch/settlement/internal/platform/errors"

var (
	// ErrNotFound indicates a missing order.
	ErrNotFound = apperrors.WithMetadata(apperrors.CodeNotFound, "order not found", map[string]string{"Resource": "order"})
	// ErrEmptyParty indicates a missing buyer or seller.
	ErrEmptyParty = apperrors.WithMetadata(apperrors.CodeInvalidArgument, "buyer and seller are required", map[string]string{"Reason": "buyer and seller are required"})
	// ErrSelfDealing indicates the buyer and seller are the same party.
	ErrSelfDealing = apperrors.WithMetadata(apperrors.CodeInvalidArgument, "buyer and seller must differ", map[string]string{"Reason": "buyer and seller must differ"})
)

// InvalidTransitionError reports a move the lifecycle table does not allow.
func InvalidTransitionError(from, to Status) error {
	return apperrors.WithMetadata(
		apperrors.CodeInvalidTransition,
		"order status transition is not allowed: "+string(from)+" -> "+string(to),
		map[string]string{"From": string(from), "To": string(to)},
	)
}

// ForbiddenTransitionError reports a move the caller may not request.
func ForbiddenTransitionError(role Role, to Status) error {
	return apperrors.WithMetadata(
		apperrors.CodeForbiddenTransition,
		"role "+string(role)+" may not set order status "+string(to),
		map[string]string{"Role": string(role), "To": string(to)},
	)
}
