/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package pzone

import "testing"

// TestCanonicalSortRFC4034Example checks the ordering example from RFC
// 4034 section 6.1 verbatim.
func TestCanonicalSortRFC4034Example(t *testing.T) {
	names := []string{
		"*.z.example.",
		"\001.z.example.",
		"z.example.",
		"zABC.a.EXAMPLE.",
		"Z.a.example.",
		"yljkjljk.a.example.",
		"a.example.",
		"example.",
	}
	want := []string{
		"example.",
		"a.example.",
		"yljkjljk.a.example.",
		"Z.a.example.",
		"zABC.a.EXAMPLE.",
		"z.example.",
		"\001.z.example.",
		"*.z.example.",
	}

	canonicalSort(names)
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("position %d: got %q want %q (full: %v)", i, names[i], want[i], names)
		}
	}
}

func TestCanonicalLessCaseInsensitive(t *testing.T) {
	if !canonicalLess("a.example.", "B.example.") {
		t.Fatalf("expected a.example. to sort before B.example. case-insensitively")
	}
	if canonicalLess("b.example.", "A.example.") {
		t.Fatalf("expected b.example. not to sort before A.example.")
	}
}

func TestCanonicalSortIdempotent(t *testing.T) {
	names := []string{"www.example.com.", "example.com.", "mail.example.com."}
	canonicalSort(names)
	once := append([]string{}, names...)
	canonicalSort(names)
	for i := range once {
		if once[i] != names[i] {
			t.Fatalf("sorting twice changed order: %v vs %v", once, names)
		}
	}
}
