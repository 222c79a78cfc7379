/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package pzone

import (
	"fmt"

	"github.com/miekg/dns"
)

// MutationOpKind enumerates the operations the Public Mutation API accepts,
// generalizing the teacher's per-type ops_*.go files (ops_a_aaaa.go,
// ops_csync.go, ops_key.go, ...) into a single dispatch.
type MutationOpKind string

const (
	OpAdd    MutationOpKind = "add"
	OpUpdate MutationOpKind = "update"
	OpDelete MutationOpKind = "delete"
	OpSet    MutationOpKind = "set"
)

// MutationOp is one request to the Public Mutation API: an operation kind
// plus the record(s) it carries. Disabled marks the record(s) as disabled on
// arrival (RRInfo.Disabled): an add carrying it is rejected, while an update
// or set carrying it stores its records marked disabled.
type MutationOp struct {
	Kind     MutationOpKind
	Owner    string
	RRtype   uint16
	Records  []dns.RR
	Disabled bool
}

// MutationResult reports the serial reached by a successful mutation.
type MutationResult struct {
	NewSerial uint32
}

// dnssecManagedTypes can never be mutated through the public API: they are
// owned entirely by the Signer and Denial Builder.
var dnssecManagedTypes = map[uint16]bool{
	dns.TypeDNSKEY:     true,
	dns.TypeRRSIG:      true,
	dns.TypeNSEC:       true,
	dns.TypeNSEC3:      true,
	dns.TypeNSEC3PARAM: true,
}

// Mutate is the single entry point for the public mutation API, generalizing
// the teacher's per-RRtype ops_*.go validate-then-store pattern into one
// dispatcher that applies the gating rules below before touching the RRSet
// Store, then drives the denial-chain relink, signer, committer and notify
// dispatcher in sequence.
func (zd *ApexZone) Mutate(op MutationOp) (MutationResult, error) {
	zd.Lock()
	defer zd.Unlock()

	if err := zd.validateMutation(op); err != nil {
		return MutationResult{}, err
	}

	batch, err := zd.applyMutation(op)
	if err != nil {
		return MutationResult{}, err
	}

	if zd.DnssecStatus == Signed {
		ownerRemoved := op.Kind == OpDelete && !zd.Tree.SubdomainExists(op.Owner)
		if err := zd.relinkDenial(op.Owner, ownerRemoved); err != nil {
			return MutationResult{}, err
		}
		if err := zd.resignAffectedOwner(op.Owner); err != nil {
			return MutationResult{}, err
		}
	}

	if err := NewCommitter(zd).Commit(batch); err != nil {
		return MutationResult{}, err
	}

	return MutationResult{NewSerial: zd.CurrentSerial}, nil
}

func (zd *ApexZone) validateMutation(op MutationOp) error {
	if op.Kind == OpSet && op.RRtype == dns.TypeSOA {
		if len(op.Records) != 1 {
			return NewError(ErrInvalidParameter, zd.ZoneName, "SOA", fmt.Errorf("set(SOA) requires exactly one record"))
		}
		if op.Owner != zd.ZoneName {
			return NewError(ErrInvalidParameter, zd.ZoneName, op.Owner, fmt.Errorf("SOA owner must be the zone apex"))
		}
	}

	if dnssecManagedTypes[op.RRtype] {
		return NewError(ErrInvalidOperation, zd.ZoneName, dns.TypeToString[op.RRtype], fmt.Errorf("type is managed by the DNSSEC engine, not the public API"))
	}
	if op.RRtype == dns.TypeDS && op.Owner == zd.ZoneName {
		return NewError(ErrInvalidOperation, zd.ZoneName, "DS", fmt.Errorf("DS at the apex is not valid"))
	}
	if op.RRtype == dns.TypeCNAME && op.Owner == zd.ZoneName {
		return NewError(ErrInvalidOperation, zd.ZoneName, "CNAME", fmt.Errorf("CNAME at the apex is not valid"))
	}
	if op.Kind == OpAdd && op.Disabled {
		return NewError(ErrInvalidOperation, zd.ZoneName, op.Owner, fmt.Errorf("adding a disabled record is not allowed"))
	}

	if zd.DnssecStatus == Signed && (op.Kind == OpAdd || op.Kind == OpUpdate || op.Kind == OpSet) {
		if refusesSigning(op.RRtype) {
			return NewError(ErrUnsupportedInSignedZone, zd.ZoneName, dns.TypeToString[op.RRtype], fmt.Errorf("type cannot be added to a signed zone"))
		}
	}

	soaRRset, ok := zd.Apex.RRtypes.Get(dns.TypeSOA)
	var expire uint32
	if ok && len(soaRRset.RRs) > 0 {
		if soa, ok := soaRRset.RRs[0].(*dns.SOA); ok {
			expire = soa.Expire
		}
	}
	for _, rr := range op.Records {
		if expire > 0 && rr.Header().Ttl > expire {
			return NewError(ErrInvalidParameter, zd.ZoneName, op.Owner, fmt.Errorf("record TTL %d exceeds SOA expire %d", rr.Header().Ttl, expire))
		}
	}

	return nil
}

func (zd *ApexZone) applyMutation(op MutationOp) (CommitBatch, error) {
	owner := zd.Owner(op.Owner)
	var batch CommitBatch

	switch op.Kind {
	case OpAdd:
		for _, rr := range op.Records {
			if err := owner.RRtypes.AddRR(rr); err != nil {
				return batch, err
			}
		}
		rrset := owner.RRtypes.GetOrEmpty(op.RRtype)
		batch.Added = append(batch.Added, rrset)

	case OpDelete:
		for _, rr := range op.Records {
			emptied, err := owner.RRtypes.DeleteRdata(rr)
			if err != nil {
				return batch, err
			}
			removed := NewRRset(op.Owner, op.RRtype)
			removed.RRs = []dns.RR{rr}
			batch.Removed = append(batch.Removed, removed)
			if emptied && owner.RRtypes.Count() == 0 && op.Owner != zd.ZoneName {
				zd.Tree.RemoveSubdomain(op.Owner)
			}
		}

	case OpUpdate, OpSet:
		old, _ := owner.RRtypes.Get(op.RRtype)
		batch.Removed = append(batch.Removed, old)
		newRRset := NewRRset(op.Owner, op.RRtype)
		newRRset.RRs = op.Records
		if op.Disabled {
			for i := range op.Records {
				newRRset.Infos[i] = &RRInfo{Disabled: true}
			}
		}
		owner.RRtypes.Set(op.RRtype, newRRset)
		batch.Added = append(batch.Added, newRRset)

	default:
		return batch, NewError(ErrInvalidOperation, zd.ZoneName, op.Owner, fmt.Errorf("unknown mutation kind %q", op.Kind))
	}

	return batch, nil
}

func (zd *ApexZone) relinkDenial(owner string, removed bool) error {
	switch zd.Denial {
	case DenialNSEC:
		return relinkNSEC(zd, owner, removed)
	case DenialNSEC3:
		return relinkNSEC3(zd, owner, removed)
	}
	return nil
}

func (zd *ApexZone) resignAffectedOwner(ownerName string) error {
	owner, ok := zd.ownerLocked(ownerName)
	if !ok {
		return nil
	}
	signer := NewSigner(zd)
	for _, rrt := range owner.RRtypes.Keys() {
		if rrt == dns.TypeRRSIG || dnssecManagedTypes[rrt] {
			continue
		}
		rrset := owner.RRtypes.GetOrEmpty(rrt)
		if len(rrset.RRs) == 0 {
			continue
		}
		if _, err := signer.SignRRset(&rrset, true); err != nil {
			if KindOf(err) == ErrUnsupportedInSignedZone {
				continue
			}
			return err
		}
		owner.RRtypes.Set(rrt, rrset)
	}
	return nil
}
