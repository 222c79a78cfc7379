/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package pzone

import (
	"fmt"
	"sort"
	"strings"

	"github.com/miekg/dns"
)

// EnableNSEC rebuilds the NSEC chain for the entire zone from scratch.
// Generalizes the teacher's sign.go:GenerateNsecChain, which always
// recomputes the whole chain; this is the whole-zone counterpart to the new
// incremental relinkNSEC below, required when a zone is first signed or
// when its denial mode changes.
func EnableNSEC(zd *ApexZone) error {
	if zd.Denial == DenialNSEC3 {
		if err := disableNSEC3(zd); err != nil {
			return err
		}
	}
	zd.Denial = DenialNSEC

	names := zd.zoneTreeNamesLocked()
	for idx, name := range names {
		owner, ok := zd.ownerLocked(name)
		if !ok {
			continue
		}
		next := names[(idx+1)%len(names)]
		if err := buildNSECRR(owner, next); err != nil {
			return NewError(ErrInvalidOperation, zd.ZoneName, name, err)
		}
	}
	return nil
}

// relinkNSEC updates only the NSEC records whose "next owner" field needs
// to change because name was just added to or removed from the zone,
// without touching any other owner's NSEC record. This is new relative to
// the teacher, which has no incremental path at all, forcing an O(n) chain
// rebuild on every add/delete instead.
func relinkNSEC(zd *ApexZone, name string, removed bool) error {
	if zd.Denial != DenialNSEC {
		return nil
	}

	prev, ok := zd.Tree.FindPreviousName(name)
	if !ok {
		return EnableNSEC(zd) // degrade to full rebuild if tree lookup fails
	}
	prevOwner, ok := zd.ownerLocked(prev)
	if !ok {
		return nil
	}

	if removed {
		next, ok := zd.Tree.FindNextName(name)
		if !ok {
			return EnableNSEC(zd)
		}
		return buildNSECRR(prevOwner, next)
	}

	owner, ok := zd.ownerLocked(name)
	if !ok {
		return nil
	}
	next, ok := zd.Tree.FindNextName(name)
	if !ok {
		return EnableNSEC(zd)
	}
	if err := buildNSECRR(owner, next); err != nil {
		return err
	}
	return buildNSECRR(prevOwner, name)
}

// buildNSECRR (re)builds the single NSEC RR at owner, pointing to
// nextOwner, whose type bitmap reflects owner's current RRSetStore content.
// Ported from teacher sign.go:GenerateNsecChain's per-owner inner loop.
func buildNSECRR(owner *OwnerNode, nextOwner string) error {
	types := []int{int(dns.TypeNSEC)}
	hasRRSIG := false
	for _, rrt := range owner.RRtypes.Keys() {
		if rrt == dns.TypeRRSIG {
			hasRRSIG = true
			continue
		}
		if rrt == dns.TypeNSEC {
			continue
		}
		types = append(types, int(rrt))
	}
	if hasRRSIG {
		types = append(types, int(dns.TypeRRSIG))
	}
	sort.Ints(types) // NSEC's TypeBitMap must be presented in numeric order

	typeStrs := make([]string, len(types))
	for i, t := range types {
		typeStrs[i] = dns.TypeToString[uint16(t)]
	}

	line := strings.Join(append([]string{owner.Name, "NSEC", nextOwner}, typeStrs...), " ")
	nsecrr, err := dns.NewRR(line)
	if err != nil {
		return fmt.Errorf("buildNSECRR(%s): %w", owner.Name, err)
	}

	rrset := NewRRset(owner.Name, dns.TypeNSEC)
	rrset.RRs = []dns.RR{nsecrr}
	owner.RRtypes.Set(dns.TypeNSEC, rrset)
	return nil
}

func disableNSEC3(zd *ApexZone) error {
	names := zd.zoneTreeNamesLocked()
	for _, name := range names {
		owner, ok := zd.ownerLocked(name)
		if !ok {
			continue
		}
		owner.RRtypes.Delete(dns.TypeNSEC3)
	}
	zd.NSEC3Params = nil
	return nil
}
