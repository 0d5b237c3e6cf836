package id

import (
	"strings"
	"testing"
)

func TestNewIDIsUnpaddedLowercaseUUID(t *testing.T) {
	value, err := NewID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	if len(value) != 26 {
		t.Fatalf("len = %d, want 26", len(value))
	}
	if strings.ContainsAny(value, "=ABCDEFGHIJKLMNOPQRSTUVWXYZ") {
		t.Fatalf("id = %q, want lowercase without padding", value)
	}

	decoded, err := idEncoding.DecodeString(strings.ToUpper(value))
	if err != nil {
		t.Fatalf("decode id: %v", err)
	}
	if version := decoded[6] >> 4; version != 4 {
		t.Fatalf("version = %d, want 4", version)
	}
	if variant := decoded[8] & 0xC0; variant != 0x80 {
		t.Fatalf("variant = 0x%X, want 0x80", variant)
	}
}

func TestNewIDDoesNotRepeat(t *testing.T) {
	seen := make(map[string]bool, 100)
	for range 100 {
		value, err := NewID()
		if err != nil {
			t.Fatalf("new id: %v", err)
		}
		if seen[value] {
			t.Fatalf("duplicate id %q", value)
		}
		seen[value] = true
	}
}

func TestWithPrefix(t *testing.T) {
	value, err := WithPrefix(" cs ")
	if err != nil {
		t.Fatalf("with prefix: %v", err)
	}
	if !strings.HasPrefix(value, "cs_") || len(value) != len("cs_")+26 {
		t.Fatalf("id = %q, want cs_ and 26 characters", value)
	}
	if _, err := WithPrefix(""); err == nil {
		t.Fatal("expected error for empty prefix")
	}
}
