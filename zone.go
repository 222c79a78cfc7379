/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package pzone

import (
	"log"

	"github.com/miekg/dns"
)

// NewApexZone wires up a fresh, unsigned primary zone: an empty zone tree,
// key registry, history log, and notify dispatcher. Mirrors the teacher's
// pattern of a single ZoneData aggregate wired together at load time
// (zone_utils.go / structs.go), generalized into a multi-component
// aggregate.
func NewApexZone(name string, logger *log.Logger) *ApexZone {
	if logger == nil {
		logger = NewZoneLogger(name)
	}
	zd := &ApexZone{
		ZoneName:     name,
		Logger:       logger,
		Apex:         NewOwnerNode(name),
		DnssecStatus: Unsigned,
		Denial:       DenialNone,
		Keys:         NewKeyRegistry(name),
		History:      NewHistory(name, 100),
	}
	zd.Tree = NewZoneTree(zd)
	zd.Notify = NewNotifyDispatcher(zd)
	return zd
}

// zoneTreeNamesLocked returns every owner name in the zone in canonical
// order. Callers must hold updateMu when the result will be used to
// iterate+mutate owner RRsets.
func (zd *ApexZone) zoneTreeNamesLocked() []string {
	return zd.Tree.AllNames()
}

func (zd *ApexZone) ownerLocked(name string) (*OwnerNode, bool) {
	if name == zd.ZoneName {
		return zd.Apex, true
	}
	return zd.Tree.FindExact(name)
}

// Owner returns the OwnerNode for name, creating it if necessary.
func (zd *ApexZone) Owner(name string) *OwnerNode {
	return zd.Tree.GetOrAddSubdomain(name)
}

// HasDelegation reports whether name carries an NS RRset and is not the
// zone apex, i.e. it is a delegation point whose descendants' A/AAAA are
// glue and whose own NS RRset is never signed.
func (zd *ApexZone) HasDelegation(name string) bool {
	if name == zd.ZoneName {
		return false
	}
	owner, ok := zd.ownerLocked(name)
	if !ok {
		return false
	}
	return owner.RRtypes.HasType(dns.TypeNS)
}

// Lock acquires the DNSSEC-update lock. All whole-zone mutating
// operations (Mutate, SignZone, Commit) hold it for their duration and
// release it before any blocking I/O (NOTIFY, DS queries).
func (zd *ApexZone) Lock()   { zd.updateMu.Lock() }
func (zd *ApexZone) Unlock() { zd.updateMu.Unlock() }
