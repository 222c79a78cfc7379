/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package pzone

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gookit/goutil/dump"
	"github.com/miekg/dns"
)

// KeyRegistry holds every PrivateKeyRecord for one zone, behind a plain
// sync.Mutex held only briefly: lock, read or mutate the map, unlock. This
// is a deliberate generalization away from the teacher's DnssecKeyMgmt/
// Sig0KeyMgmt, which hold a SQL transaction for the whole operation. No
// registry method calls the KeyStore (Store is not read here); persistence
// goes through KeyStore.SaveKey, which takes no registry lock.
type KeyRegistry struct {
	mu    sync.Mutex
	Zone  string
	Keys  map[uint16]*PrivateKeyRecord
	Store *KeyStore // optional backing persistence
}

func NewKeyRegistry(zone string) *KeyRegistry {
	return &KeyRegistry{Zone: zone, Keys: map[uint16]*PrivateKeyRecord{}}
}

// Add registers a newly generated key. Returns ErrTagCollision if another
// key with the same tag and algorithm is already registered.
func (r *KeyRegistry) Add(pkr *PrivateKeyRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.Keys[pkr.KeyTag]; ok && existing.Algorithm == pkr.Algorithm {
		return NewError(ErrTagCollision, r.Zone, fmt.Sprintf("%d", pkr.KeyTag), fmt.Errorf("key tag already registered"))
	}
	r.Keys[pkr.KeyTag] = pkr
	return nil
}

func (r *KeyRegistry) Get(keyTag uint16) (*PrivateKeyRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.Keys[keyTag]
	return k, ok
}

func (r *KeyRegistry) All() []*PrivateKeyRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*PrivateKeyRecord, 0, len(r.Keys))
	for _, k := range r.Keys {
		out = append(out, k)
	}
	return out
}

func (r *KeyRegistry) byRoleAndState(role KeyRole, states ...KeyState) []*PrivateKeyRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*PrivateKeyRecord
	for _, k := range r.Keys {
		if !keyMatchesRole(k.Role, role) {
			continue
		}
		for _, st := range states {
			if k.State == st {
				out = append(out, k)
				break
			}
		}
	}
	return out
}

func keyMatchesRole(have, want KeyRole) bool {
	if have == want {
		return true
	}
	// a CSK stands in for either role
	return have == RoleCSK && (want == RoleKSK || want == RoleZSK)
}

// kskSigningStates and zskSigningStates are the role-specific eligible-state
// sets a Signer draws from: every KSK in one of kskSigningStates signs the
// DNSKEY RRset, every ZSK in one of zskSigningStates signs everything else.
var (
	kskSigningStates = []KeyState{KeyGenerated, KeyPublished, KeyReady, KeyActive, KeyRevoked}
	zskSigningStates = []KeyState{KeyReady, KeyActive}
)

// ActiveSigningKeys returns every key eligible to sign in role (used by
// Signer.SignRRset): KSKs from kskSigningStates, ZSKs from zskSigningStates.
func (r *KeyRegistry) ActiveSigningKeys(role KeyRole) []*PrivateKeyRecord {
	if role == RoleZSK {
		return r.byRoleAndState(role, zskSigningStates...)
	}
	return r.byRoleAndState(role, kskSigningStates...)
}

// setState transitions k to newState, stamping StateAt. Caller must hold r.mu.
func setState(k *PrivateKeyRecord, newState KeyState, now time.Time) {
	k.State = newState
	k.StateAt = now
}

// SetState is the locked counterpart to setState, for callers outside the
// registry (sign-zone/rollover in signops.go) that need to force a specific
// key into a state without going through the Advance cascade.
func (r *KeyRegistry) SetState(keyTag uint16, newState KeyState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if k, ok := r.Keys[keyTag]; ok {
		setState(k, newState, time.Now().UTC())
	}
}

// SetRetiring marks a key as having a successor on the way. Active ->
// Retired is gated on this flag plus the successor reaching a safe state.
func (r *KeyRegistry) SetRetiring(keyTag uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if k, ok := r.Keys[keyTag]; ok {
		k.IsRetiring = true
	}
}

// canRetireKSK reports whether a KSK may safely move Active -> Retired:
// either a successor KSK of the same algorithm is already Active and not
// itself retiring, or at least two same-algorithm KSKs, the retiring key
// included, are in Ready state. Both-Ready is accepted as sufficient; a future policy tightening
// to require Active would be a one-line change here.
func canRetireKSK(r *KeyRegistry, retiring *PrivateKeyRecord) bool {
	for _, k := range r.All() {
		if k == retiring || !keyMatchesRole(k.Role, RoleKSK) || k.Algorithm != retiring.Algorithm {
			continue
		}
		if k.State == KeyActive && !k.IsRetiring {
			return true
		}
	}
	readyCount := 0
	for _, k := range r.All() {
		if keyMatchesRole(k.Role, RoleKSK) && k.Algorithm == retiring.Algorithm && k.State == KeyReady {
			readyCount++
		}
	}
	return readyCount >= 2
}

// canRetireZSK reports whether a ZSK may safely move Active -> Retired: a
// successor ZSK of the same algorithm must already be Active and not itself
// retiring.
func canRetireZSK(r *KeyRegistry, retiring *PrivateKeyRecord) bool {
	for _, k := range r.All() {
		if k == retiring || !keyMatchesRole(k.Role, RoleZSK) || k.Algorithm != retiring.Algorithm {
			continue
		}
		if k.State == KeyActive && !k.IsRetiring {
			return true
		}
	}
	return false
}

// canRetire dispatches to the role-appropriate retire-safety check. A CSK
// is checked as a KSK, matching the KSK-biased role-matching rule already
// used throughout this registry.
func canRetire(r *KeyRegistry, retiring *PrivateKeyRecord) bool {
	if retiring.Role == RoleZSK {
		return canRetireZSK(r, retiring)
	}
	return canRetireKSK(r, retiring)
}

// rolloverDue reports whether a ZSK has aged past its configured automatic
// rollover threshold. RolloverDays <= 0 means automatic rollover is off for
// this key (Rollover must be called explicitly).
func rolloverDue(k *PrivateKeyRecord, now time.Time) bool {
	if k.RolloverDays <= 0 {
		return false
	}
	return now.Sub(k.StateAt) > time.Duration(k.RolloverDays)*24*time.Hour
}

// Advance runs one lifecycle tick: Published keys that have sat long enough
// become Ready (or, for a ZSK, go straight to Active), Ready KSKs with a
// confirmed parent DS become Active, an Active ZSK past its rollover window
// generates a successor and marks itself retiring, and any key already
// marked retiring moves to Retired once a same-algorithm successor reaches
// a safe state (canRetire). Retired KSKs are Revoked before removal per RFC
// 5011, and Revoked/Retired keys past their removal delay are Removed.
// Grounded on the teacher's resigner.go ticker-worker shape, generalized
// from pure re-signing to the full state cascade.
func (r *KeyRegistry) Advance(zd *ApexZone, policy *DnssecPolicy, dsLookup func(zone string, keyTag uint16) (bool, error)) []string {
	now := time.Now().UTC()
	var transitions []string

	for _, k := range r.All() {
		switch k.State {
		case KeyGenerated:
			r.mu.Lock()
			setState(k, KeyPublished, now)
			r.mu.Unlock()
			transitions = append(transitions, fmt.Sprintf("key %d: generated -> published", k.KeyTag))

		case KeyPublished:
			if now.Sub(k.StateAt) < publishDelay(k.Role, policy) {
				continue
			}
			if k.Role == RoleZSK {
				r.mu.Lock()
				setState(k, KeyActive, now)
				r.mu.Unlock()
				transitions = append(transitions, fmt.Sprintf("key %d: published -> active", k.KeyTag))
				continue
			}
			r.mu.Lock()
			setState(k, KeyReady, now)
			r.mu.Unlock()
			transitions = append(transitions, fmt.Sprintf("key %d: published -> ready", k.KeyTag))

		case KeyReady:
			if k.Role == RoleZSK {
				continue
			}
			if dsLookup == nil {
				continue
			}
			confirmed, err := dsLookup(zd.ZoneName, k.KeyTag)
			if err != nil {
				zd.Logger.Printf("keylifecycle: zone %s: DS lookup for key %d failed, will retry next tick: %v", zd.ZoneName, k.KeyTag, err)
				continue
			}
			if confirmed {
				r.mu.Lock()
				setState(k, KeyActive, now)
				r.mu.Unlock()
				transitions = append(transitions, fmt.Sprintf("key %d: ready -> active (parent DS confirmed)", k.KeyTag))
			}

		case KeyActive:
			if k.Role == RoleZSK && !k.IsRetiring && rolloverDue(k, now) {
				fresh, err := rolloverLocked(zd, k.KeyTag)
				if err != nil {
					zd.Logger.Printf("keylifecycle: zone %s: automatic rollover of key %d failed: %v", zd.ZoneName, k.KeyTag, err)
					continue
				}
				transitions = append(transitions, fmt.Sprintf("key %d: active, rollover due, generated successor %d and marked retiring", k.KeyTag, fresh.KeyTag))
				continue
			}
			if !k.IsRetiring {
				continue
			}
			if !canRetire(r, k) {
				zd.Logger.Printf("keylifecycle: zone %s: key %d cannot retire yet, no successor ready", zd.ZoneName, k.KeyTag)
				continue
			}
			r.mu.Lock()
			setState(k, KeyRetired, now)
			r.mu.Unlock()
			transitions = append(transitions, fmt.Sprintf("key %d: active -> retired", k.KeyTag))

		case KeyRetired:
			if keyMatchesRole(k.Role, RoleKSK) && !k.Revoked {
				if now.Sub(k.StateAt) < retiredRevokeDelay {
					continue
				}
				oldTag := k.KeyTag
				revokeKSK(k)
				r.mu.Lock()
				delete(r.Keys, oldTag)
				r.Keys[k.KeyTag] = k
				setState(k, KeyRevoked, now)
				r.mu.Unlock()
				transitions = append(transitions, fmt.Sprintf("key %d: retired -> revoked (RFC 5011)", k.KeyTag))
				continue
			}
			if now.Sub(k.StateAt) < retiredRemovalDelay {
				continue
			}
			r.mu.Lock()
			setState(k, KeyRemoved, now)
			r.mu.Unlock()
			transitions = append(transitions, fmt.Sprintf("key %d: retired -> removed", k.KeyTag))

		case KeyRevoked:
			if now.Sub(k.StateAt) < revokedRemovalDelay {
				continue
			}
			r.mu.Lock()
			setState(k, KeyRemoved, now)
			r.mu.Unlock()
			transitions = append(transitions, fmt.Sprintf("key %d: revoked -> removed", k.KeyTag))

		case KeyRemoved:
			// terminal
		}
	}
	return transitions
}

// PublishDnskeys rebuilds the apex DNSKEY RRset from every key in the
// registry that is not Generated (not yet ready for publication) or Removed
// (retired past its removal delay). Ported from the teacher's
// dnskey_ops.go:PublishDnskeyRRs, trimmed of its "external"/"foreign" key
// states (this engine only ever manages keys it generated itself) and
// generalized to read straight from the KeyRegistry rather than a live SQL
// query.
func (zd *ApexZone) PublishDnskeys() {
	var rrs []dns.RR
	for _, k := range zd.Keys.All() {
		if k.State == KeyGenerated || k.State == KeyRemoved {
			continue
		}
		rrs = append(rrs, k.Dnskey)
	}

	if len(rrs) == 0 {
		zd.Apex.RRtypes.Delete(dns.TypeDNSKEY)
		return
	}

	rrset := NewRRset(zd.ZoneName, dns.TypeDNSKEY)
	rrset.RRs = rrs
	zd.Apex.RRtypes.Set(dns.TypeDNSKEY, rrset)
}

// revokeKSK sets the RFC 5011 revoke bit (0x0080), which changes the key's
// tag, so it must be re-registered under the new tag before being re-signed
// with.
func revokeKSK(k *PrivateKeyRecord) {
	k.Revoked = true
	k.Dnskey.Flags |= 0x0080
	k.KeyTag = k.Dnskey.KeyTag()
}

const (
	retiredRevokeDelay  = 24 * time.Hour
	retiredRemovalDelay = 7 * 24 * time.Hour
	revokedRemovalDelay = 30 * 24 * time.Hour
)

func publishDelay(role KeyRole, policy *DnssecPolicy) time.Duration {
	if policy == nil {
		return time.Hour
	}
	if role == RoleZSK {
		return time.Duration(policy.ZSK.SigValidity) * time.Second
	}
	return time.Duration(policy.KSK.SigValidity) * time.Second
}

// defaultZSKRolloverDays derives a fallback automatic-rollover window from
// the policy's ZSK lifetime, used when sign-zone does not specify one
// explicitly. Zero means automatic rollover stays off.
func defaultZSKRolloverDays(policy *DnssecPolicy) int {
	if policy == nil || policy.ZSK.Lifetime == 0 {
		return 0
	}
	days := int(time.Duration(policy.ZSK.Lifetime) * time.Second / (24 * time.Hour))
	if days <= 0 {
		days = 1
	}
	return days
}

// RunTimer drives the key-lifecycle cascade for every zone in zones on a
// fixed interval until ctx is cancelled. Grounded on teacher resigner.go's
// ResignerEngine ticker-worker shape, generalized from re-signing alone to
// the full Ready->Active->Retired->Revoked->Removed cascade plus a
// re-signing pass whenever the registry changed.
func RunTimer(ctx context.Context, zones []*ApexZone, interval time.Duration, dsLookup func(zone string, keyTag uint16) (bool, error)) {
	if interval < 60*time.Second {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("*** KeyLifecycleEngine: starting with interval %s", interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("KeyLifecycleEngine: terminating due to context cancelled")
			return
		case <-ticker.C:
			for _, zd := range zones {
				// Parent DS lookups are network I/O, so they run here before
				// the DNSSEC-update lock is taken; Advance reads the results.
				var lookup func(zone string, keyTag uint16) (bool, error)
				if dsLookup != nil {
					confirmed, failed := map[uint16]bool{}, map[uint16]error{}
					for _, k := range zd.Keys.byRoleAndState(RoleKSK, KeyReady) {
						confirmed[k.KeyTag], failed[k.KeyTag] = dsLookup(zd.ZoneName, k.KeyTag)
					}
					lookup = func(_ string, keyTag uint16) (bool, error) {
						return confirmed[keyTag], failed[keyTag]
					}
				}
				zd.Lock()
				transitions := zd.Keys.Advance(zd, zd.DnssecPolicy, lookup)
				if len(transitions) > 0 {
					zd.PublishDnskeys()
				}
				zd.Unlock()
				if len(transitions) == 0 {
					continue
				}
				for _, t := range transitions {
					zd.Logger.Printf("keylifecycle: zone %s: %s", zd.ZoneName, t)
				}
				if Globals.Debug {
					dump.P(zd.Keys.All())
				}
				signer := NewSigner(zd)
				zd.Lock()
				if _, err := signer.SignZone(false); err != nil && KindOf(err) != ErrNoSigningKey {
					zd.Logger.Printf("keylifecycle: zone %s: re-sign after key transition failed: %v", zd.ZoneName, err)
				}
				zd.Unlock()
			}
		}
	}
}
