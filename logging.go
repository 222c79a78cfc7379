/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package pzone

import (
	"log"

	"gopkg.in/natefinch/lumberjack.v2"
)

// SetupLogging points the standard logger at a rotated file, ported from
// the teacher's logging.go, generalized to take the rotation tunables from
// LogConf rather than hardcoding them.
func SetupLogging(conf LogConf) error {
	log.SetFlags(log.Lshortfile | log.Ltime)

	if conf.File == "" {
		log.Fatalf("logging: config key log.file not specified")
	}

	maxSize := conf.MaxSizeMB
	if maxSize == 0 {
		maxSize = 20
	}
	maxBackups := conf.MaxBackups
	if maxBackups == 0 {
		maxBackups = 3
	}
	maxAge := conf.MaxAgeDays
	if maxAge == 0 {
		maxAge = 14
	}

	log.SetOutput(&lumberjack.Logger{
		Filename:   conf.File,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		MaxAge:     maxAge,
	})

	return nil
}

// NewZoneLogger returns a *log.Logger prefixed with the zone name, writing
// through the same rotated output SetupLogging configured on the standard
// logger. Every ApexZone gets one of these (see NewApexZone in zone.go),
// mirroring the teacher's per-ZoneData logging-by-prefix convention.
func NewZoneLogger(zone string) *log.Logger {
	return log.New(log.Writer(), "["+zone+"] ", log.Lshortfile|log.Ltime)
}
