/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package pzone

import (
	"testing"

	"github.com/miekg/dns"
)

func TestSignZoneRejectsAlreadySigned(t *testing.T) {
	zd := signedTestZone(t)
	err := zd.SignZone(SignZoneParams{Algorithm: dns.ECDSAP256SHA256, Denial: DenialNSEC})
	if KindOf(err) != ErrZoneAlreadySigned {
		t.Fatalf("expected ErrZoneAlreadySigned, got %v", err)
	}
}

func TestSignZoneRollsBackOnUnsupportedAlgorithm(t *testing.T) {
	zd := newTestZone("example.com.")
	err := zd.SignZone(SignZoneParams{Algorithm: dns.RSAMD5, Denial: DenialNSEC})
	if err == nil {
		t.Fatalf("expected an error generating an RSAMD5 key")
	}
	if zd.DnssecStatus != Unsigned {
		t.Fatalf("expected zone to remain unsigned after a failed SignZone")
	}
	if len(zd.Keys.All()) != 0 {
		t.Fatalf("expected no keys registered after a failed SignZone")
	}
}

func TestSignZoneProducesCompleteDenialChain(t *testing.T) {
	zd := newTestZone("example.com.")
	if err := zd.SignZone(SignZoneParams{Algorithm: dns.ECDSAP256SHA256, Denial: DenialNSEC3, NSEC3Params: NSEC3Params{Algorithm: 1, Iterations: 1, Salt: "ab"}}); err != nil {
		t.Fatalf("SignZone: %v", err)
	}
	if zd.Denial != DenialNSEC3 {
		t.Fatalf("expected NSEC3 denial mode")
	}
	if !zd.Apex.RRtypes.HasType(dns.TypeNSEC3PARAM) {
		t.Fatalf("expected NSEC3PARAM at apex")
	}
	if !zd.Apex.RRtypes.HasType(dns.TypeDNSKEY) {
		t.Fatalf("expected DNSKEY at apex")
	}
	dnskeyRRset, _ := zd.Apex.RRtypes.Get(dns.TypeDNSKEY)
	if len(dnskeyRRset.RRSIGs) == 0 {
		t.Fatalf("expected DNSKEY RRset to be signed")
	}

	var activeZSKs int
	for _, k := range zd.Keys.All() {
		if k.Role == RoleZSK && k.State == KeyActive {
			activeZSKs++
		}
	}
	if activeZSKs != 1 {
		t.Fatalf("expected exactly one active ZSK after SignZone, got %d", activeZSKs)
	}
}

func TestUnsignZoneClearsDnssecState(t *testing.T) {
	zd := signedTestZone(t)
	if err := zd.UnsignZone(); err != nil {
		t.Fatalf("UnsignZone: %v", err)
	}
	if zd.DnssecStatus != Unsigned {
		t.Fatalf("expected Unsigned status")
	}
	if zd.Apex.RRtypes.HasType(dns.TypeDNSKEY) {
		t.Fatalf("expected DNSKEY removed")
	}
	if zd.Apex.RRtypes.HasType(dns.TypeNSEC) {
		t.Fatalf("expected apex NSEC removed")
	}
	if len(zd.Keys.All()) != 0 {
		t.Fatalf("expected key registry cleared")
	}
}

func TestUnsignZoneRejectsAlreadyUnsigned(t *testing.T) {
	zd := newTestZone("example.com.")
	if err := zd.UnsignZone(); KindOf(err) != ErrZoneNotSigned {
		t.Fatalf("expected ErrZoneNotSigned, got %v", err)
	}
}

func TestConvertToNSEC3ThenBackToNSEC(t *testing.T) {
	zd := signedTestZone(t) // starts on NSEC
	zd.Owner("www.example.com.")

	if err := zd.ConvertToNSEC3(NSEC3Params{Algorithm: 1, Iterations: 2, Salt: "cd"}); err != nil {
		t.Fatalf("ConvertToNSEC3: %v", err)
	}
	if zd.Denial != DenialNSEC3 {
		t.Fatalf("expected NSEC3 after conversion")
	}

	if err := zd.ConvertToNSEC(); err != nil {
		t.Fatalf("ConvertToNSEC: %v", err)
	}
	if zd.Denial != DenialNSEC {
		t.Fatalf("expected NSEC after converting back")
	}
}

func TestUpdateNSEC3ParamsRequiresExistingNSEC3(t *testing.T) {
	zd := signedTestZone(t) // on NSEC, not NSEC3
	err := zd.UpdateNSEC3Params(NSEC3Params{Algorithm: 1, Iterations: 5, Salt: "ef"})
	if KindOf(err) != ErrInvalidOperation {
		t.Fatalf("expected ErrInvalidOperation updating NSEC3 params on an NSEC zone, got %v", err)
	}
}
