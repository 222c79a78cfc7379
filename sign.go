/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package pzone

import (
	"fmt"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/exp/rand"
)

// Signer signs RRsets for an apex zone. Generalizes the teacher's
// ZoneData.SignRRset: selects KSKs for DNSKEY RRsets and ZSKs/CSKs
// otherwise, skips delegation NS, refuses RRSIG/ANAME/APP, and returns
// ErrNoSigningKey when no eligible key exists (the teacher silently
// produces zero RRSIGs in that case; this is treated as a hard error here).
type Signer struct {
	Zone *ApexZone
}

func NewSigner(zone *ApexZone) *Signer {
	return &Signer{Zone: zone}
}

// sigLifetime computes RRSIG inception/expiration, jittered by up to 60s in
// each direction to avoid every RRSIG in a zone expiring in lockstep.
// Ported verbatim from the teacher's sign.go:sigLifetime.
func sigLifetime(t time.Time, validitySeconds uint32) (uint32, uint32) {
	jitter := time.Duration(rand.Intn(61)) * time.Second
	validity := time.Duration(validitySeconds) * time.Second
	if validitySeconds == 0 {
		validity = 5 * time.Minute
	}
	incep := uint32(t.Add(-jitter).Add(-60 * time.Second).Unix())
	expir := uint32(t.Add(validity).Add(jitter).Unix())
	return incep, expir
}

func refusesSigning(rrtype uint16) bool {
	switch rrtype {
	case dns.TypeRRSIG:
		return true
	}
	switch dns.TypeToString[rrtype] {
	case "ANAME", "APP":
		return true
	}
	return false
}

// SignRRset signs rrset in place, replacing any existing RRSIG from the
// same key. force re-signs even if the existing RRSIG is not yet close to
// expiry. Returns ErrNoSigningKey if the zone has no active key of the
// role rrset requires.
func (s *Signer) SignRRset(rrset *RRset, force bool) (bool, error) {
	zd := s.Zone
	if refusesSigning(rrset.RRtype) {
		return false, NewError(ErrUnsupportedInSignedZone, zd.ZoneName, dns.TypeToString[rrset.RRtype], fmt.Errorf("record type is never signed"))
	}
	if len(rrset.RRs) == 0 {
		return false, NewError(ErrInvalidRRSet, zd.ZoneName, rrset.Name, fmt.Errorf("empty RRset cannot be signed"))
	}
	if rrset.RRtype == dns.TypeNS && rrset.Name != zd.ZoneName {
		return false, nil // delegation NS is never signed
	}

	var role KeyRole
	if rrset.RRtype == dns.TypeDNSKEY {
		role = RoleKSK
	} else {
		role = RoleZSK
	}
	keys := zd.Keys.ActiveSigningKeys(role)
	if len(keys) == 0 {
		return false, NewError(ErrNoSigningKey, zd.ZoneName, dns.TypeToString[rrset.RRtype], fmt.Errorf("no active %s available", role))
	}

	resigned := false
	for _, pkr := range keys {
		var kept []dns.RR
		var existed bool
		for _, sigrr := range rrset.RRSIGs {
			sig, ok := sigrr.(*dns.RRSIG)
			if ok && sig.KeyTag == pkr.KeyTag {
				existed = true
				if !force && !NeedsResigning(sig, zd.DnssecPolicy) {
					kept = append(kept, sigrr)
					continue
				}
				continue // drop: will be replaced below
			}
			kept = append(kept, sigrr)
		}
		rrset.RRSIGs = kept
		if existed && !force {
			// an up-to-date signature from this key survived above
			stillPresent := false
			for _, sigrr := range rrset.RRSIGs {
				if sig, ok := sigrr.(*dns.RRSIG); ok && sig.KeyTag == pkr.KeyTag {
					stillPresent = true
				}
			}
			if stillPresent {
				continue
			}
		}

		rrsig := &dns.RRSIG{
			Hdr: dns.RR_Header{
				Name:   rrset.Name,
				Rrtype: dns.TypeRRSIG,
				Class:  dns.ClassINET,
				Ttl:    rrHeaderTTL(rrset),
			},
			KeyTag:     pkr.KeyTag,
			Algorithm:  pkr.Algorithm,
			SignerName: zd.ZoneName,
		}
		validity := uint32(30 * 24 * 3600)
		if zd.DnssecPolicy != nil {
			switch role {
			case RoleKSK:
				validity = zd.DnssecPolicy.KSK.SigValidity
			default:
				validity = zd.DnssecPolicy.ZSK.SigValidity
			}
		}
		rrsig.Inception, rrsig.Expiration = sigLifetime(time.Now().UTC(), validity)

		if err := rrsig.Sign(pkr.Material.Signer(), rrset.RRs); err != nil {
			return resigned, NewError(ErrInvalidOperation, zd.ZoneName, rrset.Name, fmt.Errorf("rrsig.Sign: %w", err))
		}
		rrset.RRSIGs = append(rrset.RRSIGs, rrsig)
		resigned = true
	}

	return resigned, nil
}

func rrHeaderTTL(rrset RRset) uint32 {
	if len(rrset.RRs) == 0 {
		return 3600
	}
	return rrset.RRs[0].Header().Ttl
}

// NeedsResigning reports whether a signature needs refreshing: true once
// less than 50% of its total validity window remains.
func NeedsResigning(rrsig *dns.RRSIG, policy *DnssecPolicy) bool {
	inception := time.Unix(int64(rrsig.Inception), 0)
	expiration := time.Unix(int64(rrsig.Expiration), 0)
	total := expiration.Sub(inception)
	if total <= 0 {
		return true
	}
	remaining := time.Until(expiration)
	return remaining < total/2
}

// SignZone re-signs every eligible RRset in the zone and returns how many
// RRsets gained a new signature. It neither relinks the denial-of-existence
// chain nor commits, so the serial is not bumped here. Generalizes teacher
// sign.go:SignZone.
func (s *Signer) SignZone(force bool) (int, error) {
	zd := s.Zone
	if zd.DnssecStatus != Signed {
		return 0, NewError(ErrZoneNotSigned, zd.ZoneName, "", fmt.Errorf("zone has no active DNSSEC keys"))
	}

	newrrsigs := 0
	names := zd.zoneTreeNamesLocked()

	for _, name := range names {
		owner, ok := zd.ownerLocked(name)
		if !ok {
			continue
		}
		for _, rrt := range owner.RRtypes.Keys() {
			if rrt == dns.TypeRRSIG {
				continue
			}
			if rrt == dns.TypeNS && name != zd.ZoneName {
				continue // delegation
			}
			rrset := owner.RRtypes.GetOrEmpty(rrt)
			if len(rrset.RRs) == 0 {
				continue
			}
			resigned, err := s.SignRRset(&rrset, force)
			if err != nil {
				if KindOf(err) == ErrUnsupportedInSignedZone {
					continue
				}
				return newrrsigs, err
			}
			if resigned {
				owner.RRtypes.Set(rrt, rrset)
				newrrsigs++
			}
		}
	}
	return newrrsigs, nil
}
