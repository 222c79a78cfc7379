/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package pzone

import (
	"strings"
	"testing"

	"github.com/miekg/dns"
)

func TestEnableNSEC3RingCoversEveryOwnerAndWraps(t *testing.T) {
	zd := newTestZone("example.com.")
	for _, n := range []string{"www.example.com.", "mail.example.com.", "ftp.example.com."} {
		owner := zd.Owner(n)
		rr, _ := dns.NewRR(n + " 300 IN A 192.0.2.1")
		owner.RRtypes.AddRR(rr)
	}

	params := NSEC3Params{Algorithm: 1, Iterations: 1, Salt: "ab"}
	if err := EnableNSEC3(zd, params); err != nil {
		t.Fatalf("EnableNSEC3: %v", err)
	}

	if zd.Denial != DenialNSEC3 {
		t.Fatalf("expected Denial mode NSEC3")
	}
	paramRRset, ok := zd.Apex.RRtypes.Get(dns.TypeNSEC3PARAM)
	if !ok {
		t.Fatalf("expected NSEC3PARAM at apex")
	}
	p := paramRRset.RRs[0].(*dns.NSEC3PARAM)
	if p.Iterations != 1 || p.Salt != "ab" {
		t.Fatalf("unexpected NSEC3PARAM: %+v", p)
	}

	names := zd.Tree.AllNames()
	hashes := make(map[string]*dns.NSEC3, len(names))
	for _, name := range names {
		owner, _ := zd.ownerLocked(name)
		h := strings.ToUpper(hashName(zd.ZoneName, name, &params))
		hashedName := h + "." + zd.ZoneName
		rrset, ok := owner.RRtypes.Get(dns.TypeNSEC3)
		if !ok {
			t.Fatalf("owner %s missing NSEC3 record", name)
		}
		nsec3 := rrset.RRs[0].(*dns.NSEC3)
		if nsec3.Hdr.Name != hashedName {
			t.Fatalf("owner %s: NSEC3 owner name = %s, want %s", name, nsec3.Hdr.Name, hashedName)
		}
		hashes[h] = nsec3
	}

	// follow the ring all the way around and make sure it closes a full loop
	start := strings.ToUpper(hashName(zd.ZoneName, names[0], &params))
	cur := start
	visited := 0
	for {
		n, ok := hashes[cur]
		if !ok {
			t.Fatalf("ring broken: no NSEC3 for hash %s", cur)
		}
		visited++
		next := strings.ToUpper(n.NextDomain)
		if next == start {
			break
		}
		if visited > len(names)+1 {
			t.Fatalf("ring did not close after visiting all owners")
		}
		cur = next
	}
	if visited != len(names) {
		t.Fatalf("expected ring to visit all %d owners, visited %d", len(names), visited)
	}
}

func TestNSEC3OptOutFlag(t *testing.T) {
	p := &NSEC3Params{Flags: 0}
	if p.OptOut() {
		t.Fatalf("expected opt-out false when flag bit unset")
	}
	p.Flags = 0x01
	if !p.OptOut() {
		t.Fatalf("expected opt-out true when bit 0 is set")
	}
}

func TestEnableNSEC3ThenEnableNSECRemovesNSEC3Records(t *testing.T) {
	zd := newTestZone("example.com.")
	zd.Owner("www.example.com.")
	if err := EnableNSEC3(zd, NSEC3Params{Algorithm: 1, Iterations: 0, Salt: ""}); err != nil {
		t.Fatalf("EnableNSEC3: %v", err)
	}
	if err := EnableNSEC(zd); err != nil {
		t.Fatalf("EnableNSEC: %v", err)
	}
	if zd.Denial != DenialNSEC {
		t.Fatalf("expected Denial mode NSEC after conversion")
	}
	if zd.NSEC3Params != nil {
		t.Fatalf("expected NSEC3Params cleared after disabling NSEC3")
	}
	for _, name := range zd.Tree.AllNames() {
		owner, _ := zd.ownerLocked(name)
		if owner.RRtypes.HasType(dns.TypeNSEC3) {
			t.Fatalf("owner %s still has NSEC3 after conversion to NSEC", name)
		}
	}
}
