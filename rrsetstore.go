/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package pzone

import (
	"time"

	"github.com/miekg/dns"
	cmap "github.com/orcaman/concurrent-map/v2"
)

// RRSetStore holds every RRset present at one owner name, keyed by RR type.
// Generalizes the teacher's ConcurrentRRTypeStore (rrtypestore.go) with a
// Set-with-old-value, an AddRR/DeleteRdata pair, and RRSIG attach/detach.
type RRSetStore struct {
	data cmap.ConcurrentMap[uint16, RRset]
}

func NewRRSetStore() *RRSetStore {
	return &RRSetStore{
		data: cmap.NewWithCustomShardingFunction[uint16, RRset](func(key uint16) uint32 {
			return uint32(key)
		}),
	}
}

func (s *RRSetStore) Get(rrtype uint16) (RRset, bool) {
	return s.data.Get(rrtype)
}

func (s *RRSetStore) GetOrEmpty(rrtype uint16) RRset {
	rrset, ok := s.data.Get(rrtype)
	if !ok {
		return NewRRset("", rrtype)
	}
	return rrset
}

// Set atomically replaces the RRset for rrtype, returning the previous
// value (if any) so callers can compute diffs for the IXFR history.
func (s *RRSetStore) Set(rrtype uint16, value RRset) (old RRset, existed bool) {
	old, existed = s.data.Get(rrtype)
	s.data.Set(rrtype, value)
	return old, existed
}

func (s *RRSetStore) Delete(rrtype uint16) (old RRset, existed bool) {
	old, existed = s.data.Get(rrtype)
	s.data.Remove(rrtype)
	return old, existed
}

// AddRR validates rr against the invariants of component A (matching name
// and type, non-RRSIG) and appends it to the owner's RRset for rr's type,
// creating the RRset if it doesn't exist yet.
func (s *RRSetStore) AddRR(rr dns.RR) (*EngineError) {
	if rr == nil {
		return newErrf(ErrInvalidRRSet, "", "", "nil RR")
	}
	rrtype := rr.Header().Rrtype
	if rrtype == dns.TypeRRSIG {
		return newErrf(ErrInvalidOperation, "", rr.Header().Name, "use AddRRSIG to attach signatures")
	}
	rrset, ok := s.data.Get(rrtype)
	if !ok {
		rrset = NewRRset(rr.Header().Name, rrtype)
	}
	if rrset.Name != "" && rrset.Name != rr.Header().Name {
		return newErrf(ErrInvalidRRSet, rrset.Name, rr.Header().Name, "owner name mismatch")
	}
	rrset.Name = rr.Header().Name
	for _, existing := range rrset.RRs {
		if dns.IsDuplicate(existing, rr) {
			return nil
		}
	}
	rrset.RRs = append(rrset.RRs, rr)
	if rrset.Infos == nil {
		rrset.Infos = map[int]*RRInfo{}
	}
	now := time.Now().UTC()
	rrset.Infos[len(rrset.RRs)-1] = &RRInfo{
		AddedAt:   now,
		ExpiresAt: ExpirationFromTtl(now, rr.Header().Ttl),
	}
	s.data.Set(rrtype, rrset)
	return nil
}

// DeleteRdata removes one specific rdata instance from the RRset of rr's
// type, leaving the RRSIGs in place (the Signer will resign or drop them on
// the next pass). Returns true if the RRset became empty and was removed
// entirely.
func (s *RRSetStore) DeleteRdata(rr dns.RR) (emptied bool, err *EngineError) {
	rrtype := rr.Header().Rrtype
	rrset, ok := s.data.Get(rrtype)
	if !ok {
		return false, newErrf(ErrInvalidOperation, "", rr.Header().Name, "no such RRset")
	}
	kept := rrset.RRs[:0:0]
	removed := false
	for _, existing := range rrset.RRs {
		if !removed && dns.IsDuplicate(existing, rr) {
			removed = true
			continue
		}
		kept = append(kept, existing)
	}
	if !removed {
		return false, newErrf(ErrInvalidOperation, "", rr.Header().Name, "rdata not present")
	}
	rrset.RRs = kept
	if len(rrset.RRs) == 0 {
		s.data.Remove(rrtype)
		return true, nil
	}
	s.data.Set(rrtype, rrset)
	return false, nil
}

// AddOrUpdateRRSIG replaces any existing RRSIG by the same key tag over the
// RRset of the covered type, then appends sig.
func (s *RRSetStore) AddOrUpdateRRSIG(sig *dns.RRSIG) *EngineError {
	rrset, ok := s.data.Get(sig.TypeCovered)
	if !ok {
		return newErrf(ErrInvalidOperation, "", sig.Header().Name, "no RRset of covered type %s", dns.TypeToString[sig.TypeCovered])
	}
	kept := rrset.RRSIGs[:0:0]
	for _, existing := range rrset.RRSIGs {
		if es, ok := existing.(*dns.RRSIG); ok && es.KeyTag == sig.KeyTag {
			continue
		}
		kept = append(kept, existing)
	}
	rrset.RRSIGs = append(kept, sig)
	s.data.Set(sig.TypeCovered, rrset)
	return nil
}

func (s *RRSetStore) Count() int {
	return s.data.Count()
}

func (s *RRSetStore) Keys() []uint16 {
	return s.data.Keys()
}

func (s *RRSetStore) HasType(rrtype uint16) bool {
	_, ok := s.data.Get(rrtype)
	return ok
}
