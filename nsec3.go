/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package pzone

import (
	"fmt"
	"sort"
	"strings"

	"github.com/miekg/dns"
	"github.com/twotwotwo/sorts"
)

// NSEC3Params holds the salt/iterations/opt-out configuration for a zone's
// NSEC3 chain, mirrored into the NSEC3PARAM RR at the apex. The teacher has
// no NSEC3 support at all; this file is entirely new, grounded on RFC 5155,
// using miekg/dns's own hashing primitive (dns.HashName) rather than
// hand-rolling SHA1 iteration.
type NSEC3Params struct {
	Algorithm  uint8 // always 1 (SHA-1) per RFC 5155
	Flags      uint8 // bit 0 = opt-out
	Iterations uint16
	Salt       string // hex-encoded
}

func (p *NSEC3Params) OptOut() bool {
	return p.Flags&0x01 != 0
}

// hashedOwner is one entry in the NSEC3 hashed-owner ring.
type hashedOwner struct {
	hash  string // base32hex, unterminated
	owner string
}

type hashedOwnerRing []hashedOwner

func (r hashedOwnerRing) Len() int      { return len(r) }
func (r hashedOwnerRing) Swap(i, j int) { r[i], r[j] = r[j], r[i] }
func (r hashedOwnerRing) Less(i, j int) bool {
	return r[i].hash < r[j].hash
}

// EnableNSEC3 builds the NSEC3 chain for the entire zone: every owner name
// (including empty non-terminals implied by delegations and wildcard
// ancestors) is hashed per RFC 5155 §5 and placed on a ring sorted by hash
// value, each pointing to the next hashed owner.
func EnableNSEC3(zd *ApexZone, params NSEC3Params) error {
	if zd.Denial == DenialNSEC {
		names := zd.zoneTreeNamesLocked()
		for _, name := range names {
			if owner, ok := zd.ownerLocked(name); ok {
				owner.RRtypes.Delete(dns.TypeNSEC)
			}
		}
	}
	zd.Denial = DenialNSEC3
	zd.NSEC3Params = &params

	return relinkNSEC3Full(zd)
}

// relinkNSEC3Full recomputes the entire NSEC3 ring. Used by EnableNSEC3 and
// as the fallback for incremental relink when the ring structure itself
// changes shape (an owner is added/removed rather than just gaining or
// losing RR types).
func relinkNSEC3Full(zd *ApexZone) error {
	params := zd.NSEC3Params
	if params == nil {
		return NewError(ErrInvalidOperation, zd.ZoneName, "", fmt.Errorf("NSEC3 not enabled"))
	}

	names := allOwnersWithENTs(zd)
	ring := make(hashedOwnerRing, 0, len(names))
	hashToOwner := map[string]string{}
	for _, name := range names {
		h := hashName(zd.ZoneName, name, params)
		ring = append(ring, hashedOwner{hash: h, owner: name})
		hashToOwner[h] = name
	}

	sorts.Quicksort(ring)

	for idx, entry := range ring {
		nextHash := ring[(idx+1)%len(ring)].hash
		if err := buildNSEC3RR(zd, entry.owner, entry.hash, nextHash, params); err != nil {
			return err
		}
	}

	return publishNSEC3PARAM(zd, params)
}

// relinkNSEC3 handles the common case of an RRset being added to or removed
// from an owner that already has an NSEC3 record, without touching the
// ring's shape. If name itself is new or becomes empty, it falls back to a
// full relink since the ring's next-hash chain must change.
func relinkNSEC3(zd *ApexZone, name string, ownerRemoved bool) error {
	if zd.Denial != DenialNSEC3 {
		return nil
	}
	if ownerRemoved {
		return relinkNSEC3Full(zd)
	}
	owner, ok := zd.ownerLocked(name)
	if !ok {
		return relinkNSEC3Full(zd)
	}
	h := hashName(zd.ZoneName, name, zd.NSEC3Params)
	rrset, ok := owner.RRtypes.Get(dns.TypeNSEC3)
	if !ok {
		return relinkNSEC3Full(zd) // new owner not yet on the ring
	}
	existing, ok := rrset.RRs[0].(*dns.NSEC3)
	if !ok {
		return relinkNSEC3Full(zd)
	}
	return buildNSEC3RR(zd, name, h, existing.NextDomain, zd.NSEC3Params)
}

func allOwnersWithENTs(zd *ApexZone) []string {
	names := zd.zoneTreeNamesLocked()
	seen := make(map[string]bool, len(names))
	var all []string
	add := func(n string) {
		if !seen[n] {
			seen[n] = true
			all = append(all, n)
		}
	}
	for _, n := range names {
		add(n)
		// Walk ancestors up to (not including) the apex, adding empty
		// non-terminals implied by multi-label owner names per RFC 5155 §7.1.
		cur := n
		for cur != zd.ZoneName && strings.Contains(cur, ".") {
			_, rest, ok := strings.Cut(cur, ".")
			if !ok || rest == zd.ZoneName || rest == "" {
				break
			}
			if !zd.Tree.SubdomainExists(rest) && rest != zd.ZoneName {
				add(rest)
			}
			cur = rest
		}
	}
	return all
}

func hashName(zone, name string, params *NSEC3Params) string {
	salt := params.Salt
	return dns.HashName(name, params.Algorithm, params.Iterations, salt)
}

func buildNSEC3RR(zd *ApexZone, owner, ownerHash, nextHash string, params *NSEC3Params) error {
	types := []int{int(dns.TypeNSEC3)}
	node, exists := zd.ownerLocked(owner)
	if exists {
		for _, rrt := range node.RRtypes.Keys() {
			if rrt == dns.TypeNSEC3 || rrt == dns.TypeRRSIG {
				continue
			}
			types = append(types, int(rrt))
		}
	}
	sort.Ints(types)
	bitmap := make([]uint16, len(types))
	for i, t := range types {
		bitmap[i] = uint16(t)
	}

	hashedName := strings.ToUpper(ownerHash) + "." + zd.ZoneName
	nsec3 := &dns.NSEC3{
		Hdr: dns.RR_Header{
			Name:   hashedName,
			Rrtype: dns.TypeNSEC3,
			Class:  dns.ClassINET,
			Ttl:    3600,
		},
		Hash:       params.Algorithm,
		Flags:      params.Flags,
		Iterations: params.Iterations,
		SaltLength: uint8(len(params.Salt) / 2),
		Salt:       params.Salt,
		HashLength: uint8(len(nextHash)),
		NextDomain: strings.ToUpper(nextHash),
		TypeBitMap: bitmap,
	}

	if !exists {
		// empty non-terminal: synthesize a transient owner node just for
		// storing the NSEC3 RRset, not added to the zone tree.
		node = NewOwnerNode(hashedName)
	}
	rrset := NewRRset(hashedName, dns.TypeNSEC3)
	rrset.RRs = []dns.RR{nsec3}
	node.RRtypes.Set(dns.TypeNSEC3, rrset)
	return nil
}

func publishNSEC3PARAM(zd *ApexZone, params *NSEC3Params) error {
	p := &dns.NSEC3PARAM{
		Hdr: dns.RR_Header{
			Name:   zd.ZoneName,
			Rrtype: dns.TypeNSEC3PARAM,
			Class:  dns.ClassINET,
			Ttl:    0,
		},
		Hash:       params.Algorithm,
		Flags:      0, // NSEC3PARAM never carries the opt-out bit
		Iterations: params.Iterations,
		SaltLength: uint8(len(params.Salt) / 2),
		Salt:       params.Salt,
	}
	rrset := NewRRset(zd.ZoneName, dns.TypeNSEC3PARAM)
	rrset.RRs = []dns.RR{p}
	zd.Apex.RRtypes.Set(dns.TypeNSEC3PARAM, rrset)
	return nil
}
