/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package pzone

import (
	"testing"

	"github.com/miekg/dns"
)

func TestMutateAddRecordBumpsSerial(t *testing.T) {
	zd := newTestZone("example.com.")
	rr, _ := dns.NewRR("www.example.com. 300 IN A 192.0.2.1")

	before := zd.CurrentSerial
	res, err := zd.Mutate(MutationOp{Kind: OpAdd, Owner: "www.example.com.", RRtype: dns.TypeA, Records: []dns.RR{rr}})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if res.NewSerial != before+1 {
		t.Fatalf("expected serial to bump by one, got %d -> %d", before, res.NewSerial)
	}

	owner := zd.Owner("www.example.com.")
	rrset, ok := owner.RRtypes.Get(dns.TypeA)
	if !ok || len(rrset.RRs) != 1 {
		t.Fatalf("expected the A record to be stored")
	}
}

func TestMutateRejectsDnssecManagedTypes(t *testing.T) {
	zd := newTestZone("example.com.")
	rr, _ := dns.NewRR("example.com. 3600 IN NSEC www.example.com. A")
	_, err := zd.Mutate(MutationOp{Kind: OpAdd, Owner: "example.com.", RRtype: dns.TypeNSEC, Records: []dns.RR{rr}})
	if KindOf(err) != ErrInvalidOperation {
		t.Fatalf("expected ErrInvalidOperation mutating a DNSSEC-managed type, got %v", err)
	}
}

func TestMutateRejectsDSAtApex(t *testing.T) {
	zd := newTestZone("example.com.")
	rr, _ := dns.NewRR("example.com. 3600 IN DS 12345 13 2 0123456789ABCDEF0123456789ABCDEF0123456789ABCDEF0123456789ABCD")
	_, err := zd.Mutate(MutationOp{Kind: OpAdd, Owner: "example.com.", RRtype: dns.TypeDS, Records: []dns.RR{rr}})
	if KindOf(err) != ErrInvalidOperation {
		t.Fatalf("expected ErrInvalidOperation for DS at apex, got %v", err)
	}
}

func TestMutateRejectsCNAMEAtApex(t *testing.T) {
	zd := newTestZone("example.com.")
	rr, _ := dns.NewRR("example.com. 3600 IN CNAME other.example.")
	_, err := zd.Mutate(MutationOp{Kind: OpAdd, Owner: "example.com.", RRtype: dns.TypeCNAME, Records: []dns.RR{rr}})
	if KindOf(err) != ErrInvalidOperation {
		t.Fatalf("expected ErrInvalidOperation for CNAME at apex, got %v", err)
	}
}

func TestMutateRejectsTTLAboveSOAExpire(t *testing.T) {
	zd := newTestZone("example.com.")
	if err := NewCommitter(zd).Commit(CommitBatch{}); err != nil {
		t.Fatalf("seed commit: %v", err)
	}
	soaRRset, _ := zd.Apex.RRtypes.Get(dns.TypeSOA)
	soa := soaRRset.RRs[0].(*dns.SOA)

	rr, _ := dns.NewRR("www.example.com. 300 IN A 192.0.2.1")
	rr.Header().Ttl = soa.Expire + 1

	_, err := zd.Mutate(MutationOp{Kind: OpAdd, Owner: "www.example.com.", RRtype: dns.TypeA, Records: []dns.RR{rr}})
	if KindOf(err) != ErrInvalidParameter {
		t.Fatalf("expected ErrInvalidParameter for TTL exceeding SOA expire, got %v", err)
	}
}

func TestMutateDeleteRemovesEmptyOwnerFromTree(t *testing.T) {
	zd := newTestZone("example.com.")
	rr, _ := dns.NewRR("www.example.com. 300 IN A 192.0.2.1")
	if _, err := zd.Mutate(MutationOp{Kind: OpAdd, Owner: "www.example.com.", RRtype: dns.TypeA, Records: []dns.RR{rr}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if !zd.Tree.SubdomainExists("www.example.com.") {
		t.Fatalf("expected owner to exist after add")
	}

	if _, err := zd.Mutate(MutationOp{Kind: OpDelete, Owner: "www.example.com.", RRtype: dns.TypeA, Records: []dns.RR{rr}}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if zd.Tree.SubdomainExists("www.example.com.") {
		t.Fatalf("expected owner to be pruned once its last RRset was deleted")
	}
}

func TestMutateRejectsAddingDisabledRecord(t *testing.T) {
	zd := newTestZone("example.com.")
	rr, _ := dns.NewRR("www.example.com. 300 IN A 192.0.2.1")
	_, err := zd.Mutate(MutationOp{Kind: OpAdd, Owner: "www.example.com.", RRtype: dns.TypeA, Records: []dns.RR{rr}, Disabled: true})
	if KindOf(err) != ErrInvalidOperation {
		t.Fatalf("expected ErrInvalidOperation adding a disabled record, got %v", err)
	}
	if zd.Tree.SubdomainExists("www.example.com.") {
		t.Fatalf("expected rejected disabled add to leave no owner behind")
	}
}

func TestMutateSetCanMarkRecordsDisabled(t *testing.T) {
	zd := newTestZone("example.com.")
	rr, _ := dns.NewRR("www.example.com. 300 IN TXT hello")
	if _, err := zd.Mutate(MutationOp{Kind: OpAdd, Owner: "www.example.com.", RRtype: dns.TypeTXT, Records: []dns.RR{rr}}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if _, err := zd.Mutate(MutationOp{Kind: OpSet, Owner: "www.example.com.", RRtype: dns.TypeTXT, Records: []dns.RR{rr}, Disabled: true}); err != nil {
		t.Fatalf("set disabled: %v", err)
	}

	owner := zd.Owner("www.example.com.")
	rrset, _ := owner.RRtypes.Get(dns.TypeTXT)
	info, ok := rrset.Infos[0]
	if !ok || !info.Disabled {
		t.Fatalf("expected record to be marked disabled after set(Disabled=true)")
	}
}

func TestMutateSetSOARequiresSingleRecordAtApex(t *testing.T) {
	zd := newTestZone("example.com.")
	soa1, _ := dns.NewRR("example.com. 3600 IN SOA ns1.example.com. hostmaster.example.com. 1 86400 7200 3600000 900")
	soa2, _ := dns.NewRR("example.com. 3600 IN SOA ns2.example.com. hostmaster.example.com. 1 86400 7200 3600000 900")

	_, err := zd.Mutate(MutationOp{Kind: OpSet, Owner: "example.com.", RRtype: dns.TypeSOA, Records: []dns.RR{soa1, soa2}})
	if KindOf(err) != ErrInvalidParameter {
		t.Fatalf("expected ErrInvalidParameter for multi-record set(SOA), got %v", err)
	}

	_, err = zd.Mutate(MutationOp{Kind: OpSet, Owner: "www.example.com.", RRtype: dns.TypeSOA, Records: []dns.RR{soa1}})
	if KindOf(err) != ErrInvalidParameter {
		t.Fatalf("expected ErrInvalidParameter for set(SOA) away from the apex, got %v", err)
	}
}

func TestMutateSignedZoneResignsTouchedOwner(t *testing.T) {
	zd := signedTestZone(t)
	rr, _ := dns.NewRR("www.example.com. 300 IN A 192.0.2.1")
	if _, err := zd.Mutate(MutationOp{Kind: OpAdd, Owner: "www.example.com.", RRtype: dns.TypeA, Records: []dns.RR{rr}}); err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	owner := zd.Owner("www.example.com.")
	rrset, _ := owner.RRtypes.Get(dns.TypeA)
	if len(rrset.RRSIGs) == 0 {
		t.Fatalf("expected the newly added RRset to be signed in a signed zone")
	}
	if !owner.RRtypes.HasType(dns.TypeNSEC) {
		t.Fatalf("expected the new owner to gain an NSEC record via relinkDenial")
	}
}
