/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package pzone

// GetOrAddSubdomain returns the OwnerNode for name, creating it (and marking
// the sorted-name cache dirty) if it does not yet exist. Grounded on the
// teacher's zone_utils.go GetOwner/AddOwner pair, generalized into one
// idempotent call rather than keeping a separate "must not exist" add op.
func (zt *ZoneTree) GetOrAddSubdomain(name string) *OwnerNode {
	if name == zt.Apex.ZoneName {
		return zt.Apex.Apex
	}
	if owner, ok := zt.Subdomains.Get(name); ok {
		return owner
	}
	owner := NewOwnerNode(name)
	zt.Subdomains.SetIfAbsent(name, owner)
	got, _ := zt.Subdomains.Get(name)
	zt.markDirty()
	return got
}

// FindExact returns the node stored for name, if any.
func (zt *ZoneTree) FindExact(name string) (*OwnerNode, bool) {
	if name == zt.Apex.ZoneName {
		return zt.Apex.Apex, true
	}
	return zt.Subdomains.Get(name)
}

// SubdomainExists reports whether name has a node (apex included).
func (zt *ZoneTree) SubdomainExists(name string) bool {
	_, ok := zt.FindExact(name)
	return ok
}

// RemoveSubdomain deletes name's node entirely. Used when the last RRset at
// a non-apex owner is removed: an owner with zero RRsets does not persist.
func (zt *ZoneTree) RemoveSubdomain(name string) {
	if name == zt.Apex.ZoneName {
		return
	}
	zt.Subdomains.Remove(name)
	zt.markDirty()
}

func (zt *ZoneTree) markDirty() {
	zt.namesMu.Lock()
	zt.dirty = true
	zt.namesMu.Unlock()
}

// sortedNames returns every owner name in the zone, apex included, in RFC
// 4034 §6.1 canonical order. The cache is rebuilt lazily on first access
// after a mutation, mirroring the teacher's OwnerIndex-plus-rebuild pattern
// in zone_utils.go.
func (zt *ZoneTree) sortedNames() []string {
	zt.namesMu.Lock()
	defer zt.namesMu.Unlock()
	if !zt.dirty && zt.sorted != nil {
		return zt.sorted
	}
	names := append([]string{zt.Apex.ZoneName}, zt.Subdomains.Keys()...)
	canonicalSort(names)
	zt.sorted = names
	zt.dirty = false
	return names
}

// FindNextName returns the canonically-next owner name after name, wrapping
// around to the apex. Used to build NSEC "next owner" fields and to walk
// the NSEC3 hashed-owner ring.
func (zt *ZoneTree) FindNextName(name string) (string, bool) {
	names := zt.sortedNames()
	for i, n := range names {
		if n == name {
			return names[(i+1)%len(names)], true
		}
	}
	return "", false
}

// FindPreviousName returns the canonically-previous owner name before name,
// wrapping around to the last name in the zone.
func (zt *ZoneTree) FindPreviousName(name string) (string, bool) {
	names := zt.sortedNames()
	for i, n := range names {
		if n == name {
			prev := i - 1
			if prev < 0 {
				prev = len(names) - 1
			}
			return names[prev], true
		}
	}
	return "", false
}

// AllNames returns every owner name in canonical order (apex first by
// virtue of canonical ordering only if it sorts first; callers that need
// apex-first semantics should check the name against zt.Apex.ZoneName).
func (zt *ZoneTree) AllNames() []string {
	names := zt.sortedNames()
	out := make([]string, len(names))
	copy(out, names)
	return out
}
