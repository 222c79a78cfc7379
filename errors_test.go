/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package pzone

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfUnwrapsEngineError(t *testing.T) {
	base := NewError(ErrTagCollision, "example.com.", "12345", fmt.Errorf("boom"))
	wrapped := fmt.Errorf("context: %w", base)
	if KindOf(wrapped) != ErrTagCollision {
		t.Fatalf("expected KindOf to see through fmt.Errorf wrapping, got %q", KindOf(wrapped))
	}
}

func TestKindOfReturnsEmptyForPlainError(t *testing.T) {
	if KindOf(errors.New("plain")) != "" {
		t.Fatalf("expected empty ErrorKind for a non-EngineError")
	}
	if KindOf(nil) != "" {
		t.Fatalf("expected empty ErrorKind for nil")
	}
}

func TestEngineErrorMessageFormat(t *testing.T) {
	e := NewError(ErrZoneNotSigned, "example.com.", "rollover", fmt.Errorf("no keys"))
	want := "zone-not-signed: zone example.com.: rollover: no keys"
	if e.Error() != want {
		t.Fatalf("Error() = %q, want %q", e.Error(), want)
	}

	bare := NewError(ErrInvalidOperation, "", "", fmt.Errorf("generic"))
	if bare.Error() != "invalid-operation: generic" {
		t.Fatalf("Error() = %q, want zone/operand-less form", bare.Error())
	}
}
