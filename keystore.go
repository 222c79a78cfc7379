/*
 * Copyright (c) Johan Stenstam, <johani@johani.org>
 */
package pzone

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/miekg/dns"
)

// SaveKey persists one PrivateKeyRecord, grounded on the teacher's
// DnssecKeyMgmt upsert ("add") case, trimmed from the teacher's generic
// KeystorePost/KeystoreResponse API-command shape (which routes a dozen
// SubCommands through one function) down to the two operations this engine
// actually performs: save and load. Each call opens and commits its own
// short transaction rather than sharing one held across an entire
// multi-step operation: the KeyRegistry lock is never held across a
// persistence call, so by the time this runs the caller has already
// released it.
func (ks *KeyStore) SaveKey(pkr *PrivateKeyRecord) error {
	privtext, err := marshalKeyMaterial(pkr)
	if err != nil {
		return NewError(ErrInvalidOperation, pkr.Zone, "save-key", err)
	}

	tx, err := ks.Begin("save-key")
	if err != nil {
		return NewError(ErrInvalidOperation, pkr.Zone, "save-key", err)
	}

	_, err = tx.Exec(`INSERT INTO DnssecKeyStore
		(zonename, role, state, keytag, algorithm, revoked, privatekey, dnskeyrr, createdat, stateat)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(zonename, keytag, algorithm) DO UPDATE SET
		state=excluded.state, revoked=excluded.revoked, stateat=excluded.stateat`,
		pkr.Zone, string(pkr.Role), string(pkr.State), pkr.KeyTag, pkr.Algorithm,
		boolToInt(pkr.Revoked), privtext, pkr.Dnskey.String(),
		pkr.CreatedAt.Format(time.RFC3339), pkr.StateAt.Format(time.RFC3339))
	if err != nil {
		tx.Rollback()
		return NewError(ErrInvalidOperation, pkr.Zone, "save-key", err)
	}
	return tx.Commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// LoadKeys reloads every persisted key for zone into a fresh KeyRegistry:
// role, state, tag, algorithm, revoke flag, key material and timestamps.
// IsRetiring and RolloverDays are not stored, so reloaded keys carry their
// zero values.
func (ks *KeyStore) LoadKeys(zone string) (*KeyRegistry, error) {
	reg := NewKeyRegistry(zone)
	rows, err := ks.DB.Query(`SELECT role, state, keytag, algorithm, revoked, privatekey, dnskeyrr, createdat, stateat
		FROM DnssecKeyStore WHERE zonename = ?`, zone)
	if err != nil {
		return nil, NewError(ErrInvalidOperation, zone, "load-keys", err)
	}
	defer rows.Close()

	for rows.Next() {
		var role, state, privtext, dnskeytext, createdat, stateat string
		var keytag uint16
		var alg uint8
		var revoked int
		if err := rows.Scan(&role, &state, &keytag, &alg, &revoked, &privtext, &dnskeytext, &createdat, &stateat); err != nil {
			return nil, NewError(ErrInvalidOperation, zone, "load-keys", err)
		}

		rr, err := dns.NewRR(dnskeytext)
		if err != nil {
			return nil, NewError(ErrInvalidOperation, zone, "load-keys", fmt.Errorf("parsing stored DNSKEY: %w", err))
		}
		dnskey, ok := rr.(*dns.DNSKEY)
		if !ok {
			return nil, NewError(ErrInvalidOperation, zone, "load-keys", fmt.Errorf("stored RR is not a DNSKEY"))
		}

		material, err := unmarshalKeyMaterial(dnskey, privtext)
		if err != nil {
			return nil, NewError(ErrInvalidOperation, zone, "load-keys", err)
		}

		created, _ := time.Parse(time.RFC3339, createdat)
		stated, _ := time.Parse(time.RFC3339, stateat)

		reg.Keys[keytag] = &PrivateKeyRecord{
			Zone:      zone,
			Role:      KeyRole(role),
			State:     KeyState(state),
			KeyTag:    keytag,
			Algorithm: alg,
			Material:  material,
			Dnskey:    dnskey,
			CreatedAt: created,
			StateAt:   stated,
			Revoked:   revoked != 0,
		}
	}
	return reg, rows.Err()
}

// DeleteKey removes a Removed key's row once it no longer needs to be kept
// around for audit purposes.
func (ks *KeyStore) DeleteKey(zone string, keyTag uint16, algorithm uint8) error {
	_, err := ks.DB.Exec(`DELETE FROM DnssecKeyStore WHERE zonename = ? AND keytag = ? AND algorithm = ?`,
		zone, keyTag, algorithm)
	if err != nil {
		return NewError(ErrInvalidOperation, zone, "delete-key", err)
	}
	return nil
}

// SaveHistoryRow appends one committed IXFR delta to the HistoryLog table,
// flattening each RRset to its wire-format text representation for storage.
func (ks *KeyStore) SaveHistoryRow(zone string, row HistoryRow) error {
	addedJSON, err := json.Marshal(flattenRRsets(row.Added))
	if err != nil {
		return NewError(ErrInvalidOperation, zone, "save-history", err)
	}
	removedJSON, err := json.Marshal(flattenRRsets(row.Removed))
	if err != nil {
		return NewError(ErrInvalidOperation, zone, "save-history", err)
	}

	_, err = ks.DB.Exec(`INSERT INTO HistoryLog (zonename, fromserial, toserial, committed, added, removed)
		VALUES (?, ?, ?, ?, ?, ?)`,
		zone, row.FromSerial, row.ToSerial, row.Committed.Format(time.RFC3339), string(addedJSON), string(removedJSON))
	if err != nil {
		return NewError(ErrInvalidOperation, zone, "save-history", err)
	}
	return nil
}

func flattenRRsets(sets []RRset) []string {
	var out []string
	for _, s := range sets {
		for _, rr := range s.RRs {
			out = append(out, rr.String())
		}
	}
	return out
}

// LoadHistory reloads the most recent maxRows committed deltas for zone, for
// repopulating an in-memory History after a restart. The RRset payloads are
// not reconstructed from their flattened text (nothing in this engine needs
// to replay historical RR content, only serial bounds and commit timestamps
// for IXFR range answers), so Added/Removed are left nil.
func (ks *KeyStore) LoadHistory(zone string, maxRows int) (*History, error) {
	h := NewHistory(zone, maxRows)
	rows, err := ks.DB.Query(`SELECT fromserial, toserial, committed FROM HistoryLog
		WHERE zonename = ? ORDER BY id DESC LIMIT ?`, zone, maxRows)
	if err != nil {
		return nil, NewError(ErrInvalidOperation, zone, "load-history", err)
	}
	defer rows.Close()

	var collected []HistoryRow
	for rows.Next() {
		var from, to uint32
		var committedText string
		if err := rows.Scan(&from, &to, &committedText); err != nil {
			return nil, NewError(ErrInvalidOperation, zone, "load-history", err)
		}
		committed, _ := time.Parse(time.RFC3339, committedText)
		collected = append(collected, HistoryRow{FromSerial: from, ToSerial: to, Committed: committed})
	}
	if err := rows.Err(); err != nil {
		return nil, NewError(ErrInvalidOperation, zone, "load-history", err)
	}

	for i := len(collected) - 1; i >= 0; i-- {
		h.Append(collected[i])
	}
	return h, nil
}
