/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package pzone

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"fmt"

	"github.com/miekg/dns"
)

// marshalKeyMaterial serializes a KeyMaterial's private key into BIND's
// private-key-file text format (what dns.DNSKEY.PrivateKeyString produces),
// for storage in the DnssecKeyStore table. Ported from the teacher's
// readkey.go, trimmed to the in-memory round-trip this engine needs (the
// original also reads/writes .key/.private files on disk, which this
// engine never does: all key material lives in the sqlite keystore).
func marshalKeyMaterial(pkr *PrivateKeyRecord) (string, error) {
	return pkr.Dnskey.PrivateKeyString(pkr.Material.Signer()), nil
}

// unmarshalKeyMaterial reconstructs a KeyMaterial from a DNSKEY RR and its
// serialized private key text, ported from the teacher's readkey.go
// PrepareKeyCache.
func unmarshalKeyMaterial(dnskey *dns.DNSKEY, privateKeyText string) (KeyMaterial, error) {
	privAny, err := dnskey.NewPrivateKey(privateKeyText)
	if err != nil {
		return nil, fmt.Errorf("unmarshalKeyMaterial: %w", err)
	}
	switch pk := privAny.(type) {
	case *rsa.PrivateKey:
		return &rsaKeyMaterial{priv: pk, dnskey: dnskey}, nil
	case *ecdsa.PrivateKey:
		return &ecdsaKeyMaterial{priv: pk, dnskey: dnskey}, nil
	default:
		return nil, fmt.Errorf("unmarshalKeyMaterial: unsupported private key type %T", privAny)
	}
}
