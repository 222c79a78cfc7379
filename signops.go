/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package pzone

import (
	"fmt"

	"github.com/miekg/dns"
)

// SignZoneParams collects the parameters of the sign-zone operation.
// ZSKRolloverDays, if positive, is stamped onto the generated ZSK as its
// automatic-rollover age threshold; zero falls back to a value derived from
// Policy.ZSK.Lifetime, and zero there too leaves automatic rollover off.
type SignZoneParams struct {
	Algorithm       uint8
	Denial          DenialMode
	NSEC3Params     NSEC3Params // only read when Denial == DenialNSEC3
	DnskeyTTL       uint32
	ZSKRolloverDays int
	Policy          *DnssecPolicy
}

// SignZone transitions zd from Unsigned to Signed: generates one KSK and
// one ZSK, publishes the DNSKEY RRset, signs every RRset, builds the
// requested denial chain, activates the ZSK, and commits. The caller starts
// RunTimer once this returns to begin the lifecycle timer's bookkeeping.
func (zd *ApexZone) SignZone(params SignZoneParams) error {
	zd.Lock()
	defer zd.Unlock()

	if zd.DnssecStatus != Unsigned {
		return NewError(ErrZoneAlreadySigned, zd.ZoneName, "", fmt.Errorf("zone is not Unsigned"))
	}

	zd.DnssecPolicy = params.Policy

	ksk, err := GenerateKey(zd.ZoneName, RoleKSK, params.Algorithm, params.Policy)
	if err != nil {
		return err
	}
	zsk, err := GenerateKey(zd.ZoneName, RoleZSK, params.Algorithm, params.Policy)
	if err != nil {
		return err
	}
	if params.DnskeyTTL > 0 {
		ksk.Dnskey.Hdr.Ttl = params.DnskeyTTL
		zsk.Dnskey.Hdr.Ttl = params.DnskeyTTL
	}

	zsk.RolloverDays = params.ZSKRolloverDays
	if zsk.RolloverDays <= 0 {
		zsk.RolloverDays = defaultZSKRolloverDays(params.Policy)
	}

	if err := zd.Keys.Add(ksk); err != nil {
		return rollbackUnsigned(zd, err)
	}
	if err := zd.Keys.Add(zsk); err != nil {
		return rollbackUnsigned(zd, err)
	}
	zd.Keys.SetState(ksk.KeyTag, KeyReady)
	zd.Keys.SetState(zsk.KeyTag, KeyReady)

	zd.PublishDnskeys()
	zd.DnssecStatus = Signed

	signer := NewSigner(zd)
	dnskeyRRset := dnskeyRRsetOf(zd)
	if _, err := signer.SignRRset(dnskeyRRset, true); err != nil {
		return rollbackUnsigned(zd, err)
	}
	zd.Apex.RRtypes.Set(dns.TypeDNSKEY, *dnskeyRRset)

	switch params.Denial {
	case DenialNSEC3:
		if err := EnableNSEC3(zd, params.NSEC3Params); err != nil {
			return rollbackUnsigned(zd, err)
		}
	default:
		if err := EnableNSEC(zd); err != nil {
			return rollbackUnsigned(zd, err)
		}
		params.Denial = DenialNSEC
	}
	zd.Denial = params.Denial

	if _, err := signer.SignZone(true); err != nil {
		return rollbackUnsigned(zd, err)
	}

	zd.Keys.SetState(zsk.KeyTag, KeyActive)

	return NewCommitter(zd).Commit(CommitBatch{})
}

// rollbackUnsigned is the crypto-signing-failure recovery path: roll
// DnssecStatus back to Unsigned and clear the key registry.
func rollbackUnsigned(zd *ApexZone, cause error) error {
	zd.DnssecStatus = Unsigned
	zd.Denial = DenialNone
	zd.NSEC3Params = nil
	zd.Keys = NewKeyRegistry(zd.ZoneName)
	zd.Apex.RRtypes.Delete(dns.TypeDNSKEY)
	return cause
}

func dnskeyRRsetOf(zd *ApexZone) *RRset {
	rrset := zd.Apex.RRtypes.GetOrEmpty(dns.TypeDNSKEY)
	return &rrset
}

// UnsignZone removes all DNSSEC records, cancels the key-lifecycle timer's
// bookkeeping, clears the key registry, and commits. The caller is
// responsible for actually stopping any goroutine started by RunTimer (this
// engine's timer takes a context.Context for that purpose).
func (zd *ApexZone) UnsignZone() error {
	zd.Lock()
	defer zd.Unlock()

	if zd.DnssecStatus != Signed {
		return NewError(ErrZoneNotSigned, zd.ZoneName, "", fmt.Errorf("zone is not Signed"))
	}

	names := zd.zoneTreeNamesLocked()
	for _, name := range names {
		owner, ok := zd.ownerLocked(name)
		if !ok {
			continue
		}
		for _, rrt := range []uint16{dns.TypeRRSIG, dns.TypeNSEC, dns.TypeNSEC3, dns.TypeNSEC3PARAM} {
			owner.RRtypes.Delete(rrt)
		}
	}
	zd.Apex.RRtypes.Delete(dns.TypeDNSKEY)

	zd.DnssecStatus = Unsigned
	zd.Denial = DenialNone
	zd.NSEC3Params = nil
	zd.Keys = NewKeyRegistry(zd.ZoneName)

	return NewCommitter(zd).Commit(CommitBatch{})
}

// ConvertToNSEC performs a Disable(NSEC3)->Enable(NSEC) sequence under the
// DNSSEC-update lock.
func (zd *ApexZone) ConvertToNSEC() error {
	zd.Lock()
	defer zd.Unlock()
	if zd.DnssecStatus != Signed {
		return NewError(ErrZoneNotSigned, zd.ZoneName, "", fmt.Errorf("zone is not Signed"))
	}
	if err := EnableNSEC(zd); err != nil {
		return err
	}
	return NewCommitter(zd).Commit(CommitBatch{})
}

// ConvertToNSEC3 performs a Disable(NSEC)->Enable(NSEC3) sequence under the
// DNSSEC-update lock.
func (zd *ApexZone) ConvertToNSEC3(params NSEC3Params) error {
	zd.Lock()
	defer zd.Unlock()
	if zd.DnssecStatus != Signed {
		return NewError(ErrZoneNotSigned, zd.ZoneName, "", fmt.Errorf("zone is not Signed"))
	}
	if err := EnableNSEC3(zd, params); err != nil {
		return err
	}
	return NewCommitter(zd).Commit(CommitBatch{})
}

// UpdateNSEC3Params re-enables NSEC3 with new salt/iterations/opt-out,
// rebuilding the entire ring.
func (zd *ApexZone) UpdateNSEC3Params(params NSEC3Params) error {
	zd.Lock()
	defer zd.Unlock()
	if zd.DnssecStatus != Signed || zd.Denial != DenialNSEC3 {
		return NewError(ErrInvalidOperation, zd.ZoneName, "", fmt.Errorf("zone is not currently using NSEC3"))
	}
	if err := EnableNSEC3(zd, params); err != nil {
		return err
	}
	return NewCommitter(zd).Commit(CommitBatch{})
}

// Rollover generates a fresh key of the same algorithm and role as the key
// identified by keyTag, retrying on tag collision up to 5 times, publishes
// it, and sets the old key's is-retiring flag so the key lifecycle engine's
// next Advance pass can retire it once the new key reaches a safe state.
// Only allowed when the old key is Ready or Active.
func (zd *ApexZone) Rollover(keyTag uint16) error {
	zd.Lock()
	defer zd.Unlock()
	_, err := rolloverLocked(zd, keyTag)
	return err
}

// rolloverLocked is the Rollover implementation shared with Advance's
// automatic ZSK rollover trigger, which already runs under zd.Lock() and
// would deadlock calling the exported Rollover directly.
func rolloverLocked(zd *ApexZone, keyTag uint16) (*PrivateKeyRecord, error) {
	old, ok := zd.Keys.Get(keyTag)
	if !ok {
		return nil, NewError(ErrKeyNotFound, zd.ZoneName, fmt.Sprintf("%d", keyTag), fmt.Errorf("no such key"))
	}
	if old.State != KeyReady && old.State != KeyActive {
		return nil, NewError(ErrInvalidOperation, zd.ZoneName, fmt.Sprintf("%d", keyTag), fmt.Errorf("key must be Ready or Active to roll over"))
	}

	var fresh *PrivateKeyRecord
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		fresh, err = GenerateKey(zd.ZoneName, old.Role, old.Algorithm, zd.DnssecPolicy)
		if err != nil {
			return nil, err
		}
		fresh.RolloverDays = old.RolloverDays
		if err = zd.Keys.Add(fresh); err == nil {
			break
		}
		if KindOf(err) != ErrTagCollision {
			return nil, err
		}
	}
	if err != nil {
		return nil, err
	}

	zd.Keys.SetState(fresh.KeyTag, KeyPublished)
	zd.Keys.SetRetiring(old.KeyTag)
	zd.PublishDnskeys()

	return fresh, nil
}
