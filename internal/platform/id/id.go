// Package id generates opaque identifiers for settlement records.
package id

import (
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var idEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewID returns a lowercase, unpadded base32 encoding of a random UUIDv4.
func NewID() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return strings.ToLower(idEncoding.EncodeToString(value[:])), nil
}

// WithPrefix returns NewID behind prefix and an underscore, as used for
// references handed to other systems (checkout sessions, risk events).
func WithPrefix(prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "", fmt.Errorf("id prefix is required")
	}
	value, err := NewID()
	if err != nil {
		return "", err
	}
	return prefix + "_" + value, nil
}
