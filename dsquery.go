/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package pzone

import (
	"fmt"
	"log"
	"net"
	"time"

	"github.com/miekg/dns"
)

// ParentDSResolver queries the parent zone's nameservers for a DS record
// matching a given key tag, the one suspension point outside the
// DNSSEC-update lock besides NOTIFY dispatch.
// Grounded on the teacher's validate.go:AuthDNSQuery (iterate nameservers,
// dns.Exchange each, stop at first usable answer) generalized from a
// generic RRset lookup into a DS-specific, keytag-matching lookup.
type ParentDSResolver struct {
	ParentServers []string // host or host:port; ":53" appended if missing
	Timeout       time.Duration
}

func NewParentDSResolver(parentServers []string) *ParentDSResolver {
	return &ParentDSResolver{ParentServers: parentServers, Timeout: 5 * time.Second}
}

// Lookup implements the dsLookup signature KeyRegistry.Advance/RunTimer
// expect: true if the parent DS set includes an entry for keyTag.
func (r *ParentDSResolver) Lookup(zone string, keyTag uint16) (bool, error) {
	if len(r.ParentServers) == 0 {
		return false, fmt.Errorf("dsquery: zone %s: no parent nameservers configured", zone)
	}

	m := new(dns.Msg)
	m.SetQuestion(zone, dns.TypeDS)
	m.SetEdns0(4096, true)

	c := &dns.Client{Timeout: r.Timeout}

	for _, ns := range r.ParentServers {
		addr := ns
		if _, _, err := net.SplitHostPort(addr); err != nil {
			addr = net.JoinHostPort(addr, "53")
		}

		resp, _, err := c.Exchange(m, addr)
		if err != nil {
			log.Printf("dsquery: zone %s: exchange with %s failed: %v", zone, addr, err)
			continue
		}
		if resp.Rcode != dns.RcodeSuccess {
			continue
		}

		for _, rr := range resp.Answer {
			ds, ok := rr.(*dns.DS)
			if !ok {
				continue
			}
			if ds.KeyTag == keyTag {
				return true, nil
			}
		}
		return false, nil
	}

	return false, fmt.Errorf("dsquery: zone %s: no parent nameserver answered", zone)
}
