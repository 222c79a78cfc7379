/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package pzone

import (
	"sort"

	"github.com/miekg/dns"
)

// canonicalLabels splits a fully-qualified owner name into its labels in
// storage order (left to right, e.g. "www.example.com." -> ["www",
// "example", "com"]).
func canonicalLabels(name string) []string {
	if name == "." || name == "" {
		return nil
	}
	offsets := dns.Split(name)
	labels := make([]string, 0, len(offsets))
	for i, off := range offsets {
		var end int
		if i+1 < len(offsets) {
			end = offsets[i+1] - 1 // drop trailing dot
		} else {
			end = len(name) - 1 // drop trailing root dot
		}
		labels = append(labels, name[off:end])
	}
	return labels
}

// canonicalLess implements RFC 4034 §6.1's canonical ordering: compare
// names label by label starting from the rightmost (least-significant)
// label, case-insensitively, comparing each label's octets unsigned. A name
// with fewer labels than a common prefix sorts first.
func canonicalLess(a, b string) bool {
	la := canonicalLabels(a)
	lb := canonicalLabels(b)
	i, j := len(la)-1, len(lb)-1
	for i >= 0 && j >= 0 {
		c := compareLabel(la[i], lb[j])
		if c != 0 {
			return c < 0
		}
		i--
		j--
	}
	return len(la) < len(lb)
}

func compareLabel(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for k := 0; k < n; k++ {
		ca := canonByte(a[k])
		cb := canonByte(b[k])
		if ca != cb {
			if ca < cb {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

func canonByte(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c - 'A' + 'a'
	}
	return c
}

// canonicalSort sorts names in place according to RFC 4034 §6.1 ordering.
// Uses the teacher's plain-sort idiom (sort.Strings elsewhere in the
// codebase), but with the canonical comparator instead of byte ordering.
// The NSEC3 hashed-owner ring, which can be much larger, uses
// twotwotwo/sorts instead (nsec3.go).
func canonicalSort(names []string) {
	sort.Slice(names, func(i, j int) bool {
		return canonicalLess(names[i], names[j])
	})
}
