// Package payment verifies provider callbacks and abstracts checkout
// session creation.
package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/settlement/internal/platform/errors"
)

// SignatureHeader carries the provider's payload signature.
const SignatureHeader = "X-Signature"

const signaturePrefix = "sha256="

// ErrSignatureInvalid indicates a callback whose signature does not match.
var ErrSignatureInvalid = apperrors.New(apperrors.CodePaymentSignatureInvalid, "payment callback signature is invalid")

// Verifier checks HMAC-SHA256 payload signatures against a shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier builds a verifier, rejecting an empty secret.
func NewVerifier(secret []byte) (*Verifier, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("webhook secret is required")
	}
	return &Verifier{secret: secret}, nil
}

// Verify checks header against the raw payload. The header is either
// "sha256=<hex>" or bare hex.
func (v *Verifier) Verify(payload []byte, header string) error {
	if v == nil || len(v.secret) == 0 {
		return fmt.Errorf("webhook verifier is not configured")
	}
	header = strings.TrimSpace(header)
	header = strings.TrimPrefix(header, signaturePrefix)
	given, err := hex.DecodeString(strings.ToLower(header))
	if err != nil || len(given) != sha256.Size {
		return ErrSignatureInvalid
	}
	if !hmac.Equal(v.sum(payload), given) {
		return ErrSignatureInvalid
	}
	return nil
}

// Sign returns the "sha256=<hex>" header for payload.
func (v *Verifier) Sign(payload []byte) string {
	return signaturePrefix + hex.EncodeToString(v.sum(payload))
}

// Checksum returns the hex signature of payload for audit columns.
func (v *Verifier) Checksum(payload []byte) string {
	return hex.EncodeToString(v.sum(payload))
}

func (v *Verifier) sum(payload []byte) []byte {
	mac := hmac.New(sha256.New, v.secret)
	_, _ = mac.Write(payload)
	return mac.Sum(nil)
}
