/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package pzone

import (
	"time"

	"github.com/miekg/dns"
)

// Committer finalizes a mutation batch on a zone: bumps the SOA serial,
// re-signs the SOA if the zone is signed, records an IXFR history row, and
// triggers the NOTIFY dispatcher. Grounded on the teacher's
// zone_utils.go:BumpSerial, generalized from "bump and re-sign" alone into
// a full commit sequence: old-SOA/deletes/new-SOA/adds ordering, history
// append+prune, then the NOTIFY trigger. The teacher's BumpSerial neither
// tracks deletions nor maintains any history.
type Committer struct {
	Zone *ApexZone
}

func NewCommitter(zd *ApexZone) *Committer {
	return &Committer{Zone: zd}
}

// CommitBatch is the input to one commit: everything added or removed since
// the last commit, already reflected in the RRSet Store.
type CommitBatch struct {
	Added   []RRset
	Removed []RRset
}

// Commit records a batch of deletes and adds that is already applied to the
// RRSet Store: it bumps the SOA serial, re-signs the SOA if needed, and
// appends a history row. Caller must hold
// the zone's DNSSEC-update lock. Internal zones skip history and serial
// bumping entirely.
func (c *Committer) Commit(batch CommitBatch) error {
	zd := c.Zone
	if zd.Internal {
		return nil
	}

	now := time.Now().UTC()

	oldSOARRset, hadSOA := zd.Apex.RRtypes.Get(dns.TypeSOA)
	var oldSOA *dns.SOA
	if hadSOA && len(oldSOARRset.RRs) > 0 {
		oldSOA, _ = oldSOARRset.RRs[0].(*dns.SOA)
	}

	oldSerial := zd.CurrentSerial
	newSerial := bumpSerial(oldSerial)
	zd.CurrentSerial = newSerial

	newSOA := buildSOA(zd, oldSOA, newSerial)
	newSOARRset := NewRRset(zd.ZoneName, dns.TypeSOA)
	newSOARRset.RRs = []dns.RR{newSOA}
	zd.Apex.RRtypes.Set(dns.TypeSOA, newSOARRset)

	if zd.DnssecStatus == Signed {
		signer := NewSigner(zd)
		rrset := zd.Apex.RRtypes.GetOrEmpty(dns.TypeSOA)
		if _, err := signer.SignRRset(&rrset, true); err != nil {
			return err
		}
		zd.Apex.RRtypes.Set(dns.TypeSOA, rrset)
	}

	stampDeletionTime(oldSOARRset, now)
	for i := range batch.Removed {
		stampDeletionTime(batch.Removed[i], now)
	}

	row := HistoryRow{
		FromSerial: oldSerial,
		ToSerial:   newSerial,
		Committed:  now,
	}
	if hadSOA {
		row.Removed = append(row.Removed, oldSOARRset)
	}
	row.Removed = append(row.Removed, batch.Removed...)
	finalSOA, _ := zd.Apex.RRtypes.Get(dns.TypeSOA)
	row.Added = append(row.Added, finalSOA)
	row.Added = append(row.Added, batch.Added...)

	zd.History.Append(row)

	if zd.Notify != nil {
		zd.Notify.Trigger()
	}

	if zd.SaveZone != nil {
		if err := zd.SaveZone(zd.ZoneName); err != nil {
			zd.Logger.Printf("committer: zone %s: SaveZone failed: %v", zd.ZoneName, err)
		}
	}

	return nil
}

// bumpSerial increments a SOA serial with RFC 1982-style wraparound: the
// all-ones value wraps to 1, never to 0, so the serial stays monotonically
// comparable.
func bumpSerial(serial uint32) uint32 {
	if serial == ^uint32(0) {
		return 1
	}
	return serial + 1
}

func buildSOA(zd *ApexZone, old *dns.SOA, serial uint32) *dns.SOA {
	if old != nil {
		clone := *old
		clone.Serial = serial
		return &clone
	}
	return &dns.SOA{
		Hdr: dns.RR_Header{
			Name:   zd.ZoneName,
			Rrtype: dns.TypeSOA,
			Class:  dns.ClassINET,
			Ttl:    3600,
		},
		Ns:      "ns1." + zd.ZoneName,
		Mbox:    "hostmaster." + zd.ZoneName,
		Serial:  serial,
		Refresh: 86400,
		Retry:   7200,
		Expire:  3600000,
		Minttl:  900,
	}
}

func stampDeletionTime(rrset RRset, at time.Time) {
	if rrset.Infos == nil {
		return
	}
	for _, info := range rrset.Infos {
		info.ExpiresAt = at
	}
}
