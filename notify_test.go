/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package pzone

import (
	"testing"
	"time"
)

func TestNotifyDispatcherDefaults(t *testing.T) {
	zd := newTestZone("example.com.")
	nd := NewNotifyDispatcher(zd)
	if nd.MaxRetries != 5 {
		t.Fatalf("expected default MaxRetries 5, got %d", nd.MaxRetries)
	}
	if nd.Timeout.Seconds() != 10 {
		t.Fatalf("expected default Timeout 10s, got %s", nd.Timeout)
	}
}

func TestNotifyDispatcherTriggerCoalesces(t *testing.T) {
	zd := newTestZone("example.com.")
	nd := zd.Notify
	nd.ArmDelay = time.Hour // cannot fire before CancelArmed below, so the test never waits on it

	nd.Trigger()
	first := nd.armed
	nd.Trigger() // should be a no-op: already armed
	if nd.armed != first {
		t.Fatalf("expected a second Trigger within the arm window to be a no-op")
	}
	nd.CancelArmed()
	if nd.armed != nil {
		t.Fatalf("expected CancelArmed to clear the armed timer")
	}
}

func TestNotifyDispatcherClaimDedupesInFlight(t *testing.T) {
	zd := newTestZone("example.com.")
	nd := NewNotifyDispatcher(zd)

	if !nd.claim("ns1.example.net:53") {
		t.Fatalf("expected first claim to succeed")
	}
	if nd.claim("ns1.example.net:53") {
		t.Fatalf("expected a second claim of the same target to fail while in flight")
	}
	nd.release("ns1.example.net:53")
	if !nd.claim("ns1.example.net:53") {
		t.Fatalf("expected claim to succeed again after release")
	}
}

func TestNotifyTargetsFallsBackToNilWithoutDownstreams(t *testing.T) {
	zd := newTestZone("example.com.")
	if targets := zd.notifyTargets(); targets != nil {
		t.Fatalf("expected no targets when Downstreams is empty, got %v", targets)
	}
	zd.Downstreams = []string{"192.0.2.53:53"}
	if targets := zd.notifyTargets(); len(targets) != 1 {
		t.Fatalf("expected configured downstreams to be returned, got %v", targets)
	}
}
