/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package pzone

import cmap "github.com/orcaman/concurrent-map/v2"

// GlobalStuff holds process-wide flags, mirroring the teacher's own
// GlobalStuff/Globals pattern (global.go) rather than threading a verbose
// flag through every call.
type GlobalStuff struct {
	Verbose bool
	Debug   bool
}

var Globals = GlobalStuff{}

// Zones is the process-wide registry of loaded primary zones, keyed by
// zone name, exactly like the teacher's `var Zones = cmap.New[*ZoneData]()`.
var Zones = cmap.New[*ApexZone]()
