/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package pzone

import (
	"crypto"
	"log"
	"sync"
	"time"

	"github.com/miekg/dns"
	cmap "github.com/orcaman/concurrent-map/v2"
)

// DnssecStatus tracks whether a zone's apex currently carries a complete,
// self-consistent DNSSEC chain (DNSKEY + signed RRsets + denial chain).
type DnssecStatus uint8

const (
	Unsigned DnssecStatus = iota
	Signed
)

var DnssecStatusToString = map[DnssecStatus]string{
	Unsigned: "unsigned",
	Signed:   "signed",
}

// DenialMode selects which denial-of-existence mechanism a signed zone uses.
type DenialMode uint8

const (
	DenialNone DenialMode = iota
	DenialNSEC
	DenialNSEC3
)

// RRInfo is the side-channel metadata kept alongside a raw dns.RR, mirroring
// the informal bookkeeping the teacher scatters across RRset/RRSIG pairs
// (disabled flags, comments, glue tracking) but made explicit and addressable
// by record index.
type RRInfo struct {
	Disabled  bool
	Comment   string
	AddedAt   time.Time
	ExpiresAt time.Time
	Glue      bool
}

// RRset is one (name, type) RRset plus its covering RRSIGs and per-record
// metadata. Mirrors the teacher's RRset{Name, RRtype, RRs, RRSIGs}.
type RRset struct {
	Name   string
	RRtype uint16
	RRs    []dns.RR
	RRSIGs []dns.RR
	Infos  map[int]*RRInfo
}

func NewRRset(name string, rrtype uint16) RRset {
	return RRset{Name: name, RRtype: rrtype, Infos: map[int]*RRInfo{}}
}

// OwnerNode is a single name in the zone tree. Its RRtypes are held by the
// RRSet Store (component A), not inline, so the zone tree stays a pure
// name-ordering structure.
type OwnerNode struct {
	Name    string
	RRtypes *RRSetStore
}

func NewOwnerNode(name string) *OwnerNode {
	return &OwnerNode{Name: name, RRtypes: NewRRSetStore()}
}

// KeyState is the RFC 6781/7583/5011 lifecycle state of a DNSSEC private key.
type KeyState string

const (
	KeyGenerated KeyState = "generated"
	KeyPublished KeyState = "published"
	KeyReady     KeyState = "ready"
	KeyActive    KeyState = "active"
	KeyRetired   KeyState = "retired"
	KeyRevoked   KeyState = "revoked"
	KeyRemoved   KeyState = "removed"
)

// KeyRole distinguishes key-signing keys from zone-signing keys. A CSK keeps
// the CSK role, carries the KSK flags (257), and is matched as both a KSK and
// a ZSK when the registry selects keys.
type KeyRole string

const (
	RoleKSK KeyRole = "KSK"
	RoleZSK KeyRole = "ZSK"
	RoleCSK KeyRole = "CSK"
)

// KeyMaterial abstracts over the asymmetric algorithm backing a
// PrivateKeyRecord. rsaKeyMaterial and ecdsaKeyMaterial are the two
// concrete implementations; a future Ed25519 variant is purely additive.
type KeyMaterial interface {
	// Signer returns the crypto.Signer used directly by dns.RRSIG.Sign,
	// mirroring the teacher's PrivateKeyCache.CS field.
	Signer() crypto.Signer
	DNSKEY() *dns.DNSKEY
	KeyTag() uint16
	Algorithm() uint8
}

// PrivateKeyRecord is one DNSSEC key under lifecycle management for a zone.
type PrivateKeyRecord struct {
	Zone      string
	Role      KeyRole
	State     KeyState
	KeyTag    uint16
	Algorithm uint8
	Material  KeyMaterial
	Dnskey    *dns.DNSKEY
	CreatedAt time.Time
	StateAt   time.Time // time of last state transition
	Revoked   bool

	// IsRetiring marks a key that has a successor on the way: set by
	// Rollover (manual) or by the automatic ZSK rollover-due check in
	// Advance. Active -> Retired only happens once IsRetiring is set and
	// a successor has reached a safe state.
	IsRetiring bool

	// RolloverDays is the automatic-rollover age threshold for a ZSK,
	// in days; zero means no automatic rollover (manual Rollover only).
	RolloverDays int
}

// ApexZone is the apex node of a primary zone plus all of its engine state:
// concurrency guard, denial-of-existence config, key registry, history, and
// the SaveZone collaborator hook.
type ApexZone struct {
	updateMu sync.Mutex // the DNSSEC-update lock, guards whole-zone mutating ops

	ZoneName     string
	Logger       *log.Logger
	Apex         *OwnerNode
	Tree         *ZoneTree
	DnssecStatus DnssecStatus
	Denial       DenialMode
	NSEC3Params  *NSEC3Params

	CurrentSerial uint32

	DnssecPolicy *DnssecPolicy
	Keys         *KeyRegistry
	History      *History
	Notify       *NotifyDispatcher

	Downstreams []string // NOTIFY targets
	ParentNS    []string // parent nameservers for DS queries

	Internal bool // internal zones (e.g. housekeeping) skip commit/notify

	// SaveZone is the external persistence collaborator, called exactly
	// once at the end of a successful commit. Left as a plain function
	// value since the collaborator is opaque to this engine.
	SaveZone func(apexName string) error
}

// ZoneTree indexes all owner names under a zone's apex, keeping them
// available in canonical order for NSEC/NSEC3 chain construction and
// zone-walk operations.
type ZoneTree struct {
	Apex       *ApexZone
	Subdomains cmap.ConcurrentMap[string, *OwnerNode]

	namesMu sync.Mutex // guards the sorted name cache below
	sorted  []string   // canonical-order cache of Subdomains.Keys(), rebuilt lazily
	dirty   bool
}

func NewZoneTree(apex *ApexZone) *ZoneTree {
	return &ZoneTree{
		Apex:       apex,
		Subdomains: cmap.New[*OwnerNode](),
		dirty:      true,
	}
}

// HistoryRow is one committed IXFR delta: the serial transition plus the
// RRsets added and removed to produce it.
type HistoryRow struct {
	FromSerial uint32
	ToSerial   uint32
	Added      []RRset
	Removed    []RRset
	Committed  time.Time
}

// History is the append-only, size-bounded IXFR log for a zone.
type History struct {
	mu      sync.Mutex
	ZoneName string
	Rows     []HistoryRow
	MaxRows  int
}

func NewHistory(zone string, maxRows int) *History {
	if maxRows <= 0 {
		maxRows = 100
	}
	return &History{ZoneName: zone, MaxRows: maxRows}
}

func (h *History) Append(row HistoryRow) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Rows = append(h.Rows, row)
	if len(h.Rows) > h.MaxRows {
		h.Rows = h.Rows[len(h.Rows)-h.MaxRows:]
	}
}

func (h *History) Since(serial uint32) ([]HistoryRow, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []HistoryRow
	found := false
	for _, r := range h.Rows {
		if r.FromSerial == serial {
			found = true
		}
		if found {
			out = append(out, r)
		}
	}
	return out, found
}
