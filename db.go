/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package pzone

import (
	"database/sql"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultTables is the sqlite schema for key and history persistence.
// Grounded on the teacher's db_schema.go DefaultTables map, trimmed to the
// two tables this engine actually needs (DNSSEC key material and commit
// history); the SIG(0)/child-delegation tables have no home in
// SPEC_FULL.md and were dropped.
var DefaultTables = map[string]string{
	"DnssecKeyStore": `CREATE TABLE IF NOT EXISTS 'DnssecKeyStore' (
id         INTEGER PRIMARY KEY,
zonename   TEXT,
role       TEXT,
state      TEXT,
keytag     INTEGER,
algorithm  INTEGER,
revoked    INTEGER DEFAULT 0,
privatekey TEXT,
dnskeyrr   TEXT,
createdat  TEXT,
stateat    TEXT,
UNIQUE (zonename, keytag, algorithm)
)`,

	"HistoryLog": `CREATE TABLE IF NOT EXISTS 'HistoryLog' (
id         INTEGER PRIMARY KEY,
zonename   TEXT,
fromserial INTEGER,
toserial   INTEGER,
committed  TEXT,
added      TEXT,
removed    TEXT
)`,
}

// Tx wraps *sql.Tx with logging on commit/rollback, mirroring the teacher's
// db.go Tx wrapper, minus the KeyDB.Ctx single-transaction-in-flight guard:
// the key-registry lock is never held across a persistence call here, so
// nothing needs to serialize transactions through a shared Ctx field the
// way the teacher does.
type Tx struct {
	*sql.Tx
	context string
}

func (tx *Tx) Commit() error {
	err := tx.Tx.Commit()
	if err != nil {
		log.Printf("db: error committing transaction (%s): %v", tx.context, err)
	}
	return err
}

func (tx *Tx) Rollback() error {
	err := tx.Tx.Rollback()
	if err != nil {
		log.Printf("db: error rolling back transaction (%s): %v", tx.context, err)
	}
	return err
}

// KeyStore is the sqlite-backed persistence layer for PrivateKeyRecords and
// commit history. Grounded on the teacher's KeyDB (db.go, keystore.go).
type KeyStore struct {
	DB *sql.DB
}

func OpenKeyStore(dbfile string, force bool) (*KeyStore, error) {
	if dbfile == "" {
		return nil, fmt.Errorf("OpenKeyStore: db filename unspecified")
	}
	db, err := sql.Open("sqlite3", dbfile)
	if err != nil {
		return nil, fmt.Errorf("OpenKeyStore: sql.Open: %w", err)
	}

	if force {
		for table := range DefaultTables {
			if _, err := db.Exec("DROP TABLE IF EXISTS " + table); err != nil {
				return nil, fmt.Errorf("OpenKeyStore: dropping table %s: %w", table, err)
			}
		}
	}

	if err := setupTables(db); err != nil {
		return nil, err
	}

	return &KeyStore{DB: db}, nil
}

func setupTables(db *sql.DB) error {
	for name, schema := range DefaultTables {
		stmt, err := db.Prepare(schema)
		if err != nil {
			return fmt.Errorf("setupTables: preparing %s: %w", name, err)
		}
		if _, err := stmt.Exec(); err != nil {
			stmt.Close()
			return fmt.Errorf("setupTables: creating %s: %w", name, err)
		}
		stmt.Close()
	}
	return nil
}

func (ks *KeyStore) Begin(context string) (*Tx, error) {
	tx, err := ks.DB.Begin()
	if err != nil {
		return nil, fmt.Errorf("KeyStore.Begin(%s): %w", context, err)
	}
	return &Tx{Tx: tx, context: context}, nil
}

func (ks *KeyStore) Close() error {
	return ks.DB.Close()
}
