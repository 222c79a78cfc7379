/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package pzone

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/miekg/dns"
)

// rsaKeyMaterial and ecdsaKeyMaterial are the two concrete KeyMaterial
// implementations, ported from the teacher's internal-mode key generation
// in sig0_utils.go:GenerateKeypair (the exec-a-subprocess "external" mode
// has no equivalent here: this engine has no keygen-program concept).

type rsaKeyMaterial struct {
	priv   *rsa.PrivateKey
	dnskey *dns.DNSKEY
}

func (k *rsaKeyMaterial) Signer() crypto.Signer   { return k.priv }
func (k *rsaKeyMaterial) DNSKEY() *dns.DNSKEY     { return k.dnskey }
func (k *rsaKeyMaterial) KeyTag() uint16          { return k.dnskey.KeyTag() }
func (k *rsaKeyMaterial) Algorithm() uint8        { return k.dnskey.Algorithm }

type ecdsaKeyMaterial struct {
	priv   *ecdsa.PrivateKey
	dnskey *dns.DNSKEY
}

func (k *ecdsaKeyMaterial) Signer() crypto.Signer { return k.priv }
func (k *ecdsaKeyMaterial) DNSKEY() *dns.DNSKEY   { return k.dnskey }
func (k *ecdsaKeyMaterial) KeyTag() uint16        { return k.dnskey.KeyTag() }
func (k *ecdsaKeyMaterial) Algorithm() uint8      { return k.dnskey.Algorithm }

// AlgorithmAllowed reports whether alg is accepted for new key generation.
// RSAMD5 is always rejected: it is enumerated for completeness (old zones
// may still reference it) but generating new RSAMD5 keys is refused
// unconditionally. Legacy behavior, not a generation target. ED25519 passes
// this check, but GenerateKey only produces RSA and ECDSA keys and rejects it.
func AlgorithmAllowed(alg uint8, policy *DnssecPolicy) bool {
	if alg == dns.RSAMD5 {
		return false
	}
	switch alg {
	case dns.RSASHA256, dns.RSASHA512, dns.ECDSAP256SHA256, dns.ECDSAP384SHA384, dns.ED25519:
		return true
	}
	if policy != nil && policy.AllowLegacyAlgorithms {
		return true
	}
	return false
}

func bitsForAlgorithm(alg uint8) int {
	switch alg {
	case dns.ECDSAP256SHA256, dns.ED25519:
		return 256
	case dns.ECDSAP384SHA384:
		return 384
	case dns.RSASHA256, dns.RSASHA512:
		return 2048
	default:
		return 2048
	}
}

// GenerateKey creates a new DNSKEY of the given role/algorithm for zone and
// returns a fresh PrivateKeyRecord in KeyGenerated state. Grounded on
// teacher sig0_utils.go:GenerateKeypair's "internal" branch.
func GenerateKey(zone string, role KeyRole, alg uint8, policy *DnssecPolicy) (*PrivateKeyRecord, error) {
	if !AlgorithmAllowed(alg, policy) {
		return nil, NewError(ErrUnsupportedAlgorithm, zone, dns.AlgorithmToString[alg], fmt.Errorf("algorithm not permitted for key generation"))
	}

	dnskey := &dns.DNSKEY{
		Hdr: dns.RR_Header{
			Name:   zone,
			Rrtype: dns.TypeDNSKEY,
			Class:  dns.ClassINET,
			Ttl:    3600,
		},
		Algorithm: alg,
		Protocol:  3,
		Flags:     256,
	}
	if role == RoleKSK || role == RoleCSK {
		dnskey.Flags = 257
	}

	bits := bitsForAlgorithm(alg)
	privAny, err := dnskey.Generate(bits)
	if err != nil {
		return nil, NewError(ErrInvalidOperation, zone, "generate-key", err)
	}

	var material KeyMaterial
	switch pk := privAny.(type) {
	case *rsa.PrivateKey:
		material = &rsaKeyMaterial{priv: pk, dnskey: dnskey}
	case *ecdsa.PrivateKey:
		material = &ecdsaKeyMaterial{priv: pk, dnskey: dnskey}
	default:
		return nil, NewError(ErrUnsupportedAlgorithm, zone, dns.AlgorithmToString[alg], fmt.Errorf("unsupported private key type %T", privAny))
	}

	now := time.Now().UTC()
	return &PrivateKeyRecord{
		Zone:      zone,
		Role:      role,
		State:     KeyGenerated,
		KeyTag:    dnskey.KeyTag(),
		Algorithm: alg,
		Material:  material,
		Dnskey:    dnskey,
		CreatedAt: now,
		StateAt:   now,
	}, nil
}
