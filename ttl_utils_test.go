/*
 * Copyright (c) 2025 Johan Stenstam
 */
package pzone

import (
	"testing"
	"time"
)

func TestTtlPrintExpired(t *testing.T) {
	if got := TtlPrint(time.Now().Add(-time.Minute)); got != "expired" {
		t.Fatalf("expected \"expired\", got %q", got)
	}
}

func TestTtlPrintFormatsComponents(t *testing.T) {
	got := TtlPrint(time.Now().Add(1*time.Hour + 2*time.Minute + 3*time.Second))
	want := "1h2m3s"
	if got != want {
		t.Fatalf("TtlPrint = %q, want %q", got, want)
	}
}

func TestTtlPrintSecondsOnly(t *testing.T) {
	got := TtlPrint(time.Now().Add(5 * time.Second))
	if got != "5s" {
		t.Fatalf("TtlPrint = %q, want %q", got, "5s")
	}
}

func TestExpirationFromTtl(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	got := ExpirationFromTtl(base, 3600)
	want := base.Add(time.Hour)
	if !got.Equal(want) {
		t.Fatalf("ExpirationFromTtl = %v, want %v", got, want)
	}
}

func TestExpirationFromTtlZeroTTLReturnsAddedAt(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := ExpirationFromTtl(base, 0); !got.Equal(base) {
		t.Fatalf("expected zero TTL to return addedAt unchanged, got %v", got)
	}
}
