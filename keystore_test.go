/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package pzone

import (
	"path/filepath"
	"testing"

	"github.com/miekg/dns"
)

func openTestKeyStore(t *testing.T) *KeyStore {
	t.Helper()
	dbfile := filepath.Join(t.TempDir(), "keys.db")
	ks, err := OpenKeyStore(dbfile, false)
	if err != nil {
		t.Fatalf("OpenKeyStore: %v", err)
	}
	t.Cleanup(func() { ks.Close() })
	return ks
}

func TestKeyStoreSaveAndLoadRoundTrip(t *testing.T) {
	ks := openTestKeyStore(t)

	pkr, err := GenerateKey("example.com.", RoleZSK, dns.ECDSAP256SHA256, nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	pkr.State = KeyActive

	if err := ks.SaveKey(pkr); err != nil {
		t.Fatalf("SaveKey: %v", err)
	}

	reg, err := ks.LoadKeys("example.com.")
	if err != nil {
		t.Fatalf("LoadKeys: %v", err)
	}
	loaded, ok := reg.Get(pkr.KeyTag)
	if !ok {
		t.Fatalf("expected to reload key tag %d", pkr.KeyTag)
	}
	if loaded.Algorithm != pkr.Algorithm || loaded.Role != pkr.Role || loaded.State != pkr.State {
		t.Fatalf("reloaded key mismatch: got %+v, want role=%s alg=%d state=%s", loaded, pkr.Role, pkr.Algorithm, pkr.State)
	}
	if loaded.Material.KeyTag() != pkr.KeyTag {
		t.Fatalf("expected reconstructed key material to keep the same key tag")
	}
}

func TestKeyStoreSaveKeyUpsertsOnConflict(t *testing.T) {
	ks := openTestKeyStore(t)
	pkr, err := GenerateKey("example.com.", RoleKSK, dns.ECDSAP256SHA256, nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if err := ks.SaveKey(pkr); err != nil {
		t.Fatalf("SaveKey (insert): %v", err)
	}

	pkr.State = KeyRetired
	if err := ks.SaveKey(pkr); err != nil {
		t.Fatalf("SaveKey (update): %v", err)
	}

	reg, err := ks.LoadKeys("example.com.")
	if err != nil {
		t.Fatalf("LoadKeys: %v", err)
	}
	if len(reg.Keys) != 1 {
		t.Fatalf("expected upsert to keep exactly one row, got %d", len(reg.Keys))
	}
	loaded, _ := reg.Get(pkr.KeyTag)
	if loaded.State != KeyRetired {
		t.Fatalf("expected upsert to update state to retired, got %s", loaded.State)
	}
}

func TestKeyStoreDeleteKey(t *testing.T) {
	ks := openTestKeyStore(t)
	pkr, err := GenerateKey("example.com.", RoleZSK, dns.ECDSAP256SHA256, nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if err := ks.SaveKey(pkr); err != nil {
		t.Fatalf("SaveKey: %v", err)
	}
	if err := ks.DeleteKey("example.com.", pkr.KeyTag, pkr.Algorithm); err != nil {
		t.Fatalf("DeleteKey: %v", err)
	}
	reg, err := ks.LoadKeys("example.com.")
	if err != nil {
		t.Fatalf("LoadKeys: %v", err)
	}
	if len(reg.Keys) != 0 {
		t.Fatalf("expected no keys after delete, got %d", len(reg.Keys))
	}
}

func TestKeyStoreHistoryRoundTrip(t *testing.T) {
	ks := openTestKeyStore(t)
	zd := newTestZone("example.com.")

	rr, _ := dns.NewRR("www.example.com. 300 IN A 192.0.2.1")
	added := NewRRset("www.example.com.", dns.TypeA)
	added.RRs = []dns.RR{rr}

	if err := NewCommitter(zd).Commit(CommitBatch{Added: []RRset{added}}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	rows, _ := zd.History.Since(0)
	if len(rows) != 1 {
		t.Fatalf("expected one committed history row, got %d", len(rows))
	}

	if err := ks.SaveHistoryRow("example.com.", rows[0]); err != nil {
		t.Fatalf("SaveHistoryRow: %v", err)
	}

	h, err := ks.LoadHistory("example.com.", 100)
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(h.Rows) != 1 {
		t.Fatalf("expected one reloaded history row, got %d", len(h.Rows))
	}
	if h.Rows[0].ToSerial != rows[0].ToSerial {
		t.Fatalf("expected reloaded ToSerial %d, got %d", rows[0].ToSerial, h.Rows[0].ToSerial)
	}
}
