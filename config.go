/*
 * Copyright (c) 2024 Johan Stenstam, johan.stenstam@internetstiftelsen.se
 */

package pzone

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/miekg/dns"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config is the top-level engine configuration, grounded on the teacher's
// config.go Config struct, trimmed to the sections this engine has: no
// Apiserver/Registrars/MultiSigner, since those surfaces have no home in
// SPEC_FULL.md.
type Config struct {
	App            AppDetails
	Service        ServiceConf
	Db             DbConf
	DnssecPolicies map[string]DnssecPolicyConf
	Zones          map[string]ZoneConf
	Log            LogConf
	Internal       InternalConf
}

type AppDetails struct {
	Name             string
	Version          string
	Date             string
	ServerBootTime   time.Time
	ServerConfigTime time.Time
}

// ServiceConf holds the ambient tunables for the resign engine, key
// lifecycle timer and NOTIFY dispatcher, mirroring the teacher's
// ServiceConf but replacing its DnsEngine-listener fields (this engine is a
// library, not a standalone DNS server) with the interval knobs SPEC_FULL.md
// calls for.
type ServiceConf struct {
	Name               string `validate:"required"`
	Debug              *bool
	Verbose            *bool
	ResignInterval     string `validate:"required"` // e.g. "1h"
	KeyLifecycleTick   string `validate:"required"` // e.g. "15m"
	NotifyTimeout      string `validate:"required"` // e.g. "10s"
	NotifyRetries      int    `validate:"required,min=1"`
	NotifyCoalesceWait string `validate:"required"` // e.g. "10s"
}

func (s ServiceConf) resignInterval() time.Duration {
	return mustParseDuration(s.ResignInterval, time.Hour)
}

func (s ServiceConf) keyLifecycleTick() time.Duration {
	return mustParseDuration(s.KeyLifecycleTick, 15*time.Minute)
}

func (s ServiceConf) notifyTimeout() time.Duration {
	return mustParseDuration(s.NotifyTimeout, 10*time.Second)
}

func (s ServiceConf) notifyCoalesceWait() time.Duration {
	return mustParseDuration(s.NotifyCoalesceWait, 10*time.Second)
}

func mustParseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

type DbConf struct {
	File string `validate:"required"`
}

// LogConf configures log output and rotation via lumberjack, matching the
// teacher's logging.go setup.
type LogConf struct {
	File       string `validate:"required"`
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// ZoneConf is the per-zone configuration entry, trimmed from the teacher's
// ZoneConf (which also carries delegation-sync and multi-signer fields not
// relevant here) down to what a primary DNSSEC zone needs.
type ZoneConf struct {
	Name         string `validate:"required"`
	Type         string // "primary"
	Store        string // sqlite db file backing this zone's keys/history, defaults to Db.File
	DnssecPolicy string `mapstructure:"dnssecpolicy"`
	Denial       string // "nsec" or "nsec3"
	NSEC3Salt    string `mapstructure:"nsec3salt"`
	NSEC3Iter    uint16 `mapstructure:"nsec3iterations"`
	NSEC3OptOut  bool   `mapstructure:"nsec3optout"`
	Downstreams  []string
	ParentNS     []string
}

// DnssecPolicyConf mirrors the teacher's config-file shape: human-readable
// duration strings that get resolved into a DnssecPolicy.
type DnssecPolicyConf struct {
	Name      string
	Algorithm string

	KSK struct {
		Lifetime    string
		SigValidity string
	}
	ZSK struct {
		Lifetime    string
		SigValidity string
	}
	CSK struct {
		Lifetime    string
		SigValidity string
	}

	AllowLegacyAlgorithms bool `mapstructure:"allowlegacyalgorithms"`
}

// KeyLifetime holds a role's key lifetime and signature validity window, in
// seconds, ported verbatim from the teacher's structs.go KeyLifetime.
type KeyLifetime struct {
	Lifetime    uint32
	SigValidity uint32
}

// DnssecPolicy is the resolved form of a DnssecPolicyConf: human durations
// parsed into seconds, the algorithm name resolved to its numeric RRSIG/
// DNSKEY algorithm value. Ported from the teacher's structs.go DnssecPolicy,
// with AllowLegacyAlgorithms added for keygen.go's AlgorithmAllowed check.
type DnssecPolicy struct {
	Name      string
	Algorithm uint8

	KSK KeyLifetime
	ZSK KeyLifetime
	CSK KeyLifetime

	AllowLegacyAlgorithms bool
}

// InternalConf holds runtime wiring that has no business living in a config
// file: the open KeyStore handles and resolved policies, keyed by zone.
// Trimmed hard from the teacher's InternalConf, which carries a dozen
// inter-goroutine channels (RefreshZoneCh, BumpZoneCh, ValidatorCh,
// ScannerQ, MusicSyncQ, ...) for a multi-component server this engine isn't;
// the only cross-cutting channel this engine needs is the commit notify
// hookup, which notify.go owns directly on each ApexZone.
type InternalConf struct {
	CfgFile        string
	ZonesCfgFile   string
	DnssecPolicies map[string]*DnssecPolicy
	KeyStores      map[string]*KeyStore
}

func ValidateConfig(v *viper.Viper, cfgfile string) (*Config, error) {
	var config Config

	if v == nil {
		v = viper.GetViper()
	}
	if err := v.Unmarshal(&config, viper.DecodeHook(mapstructure.StringToTimeDurationHookFunc())); err != nil {
		return nil, fmt.Errorf("ValidateConfig: unmarshal error: %w", err)
	}

	sections := map[string]interface{}{
		"log":     config.Log,
		"service": config.Service,
		"db":      config.Db,
	}
	if err := ValidateBySection(&config, sections, cfgfile); err != nil {
		return nil, err
	}

	resolved, err := resolveDnssecPolicies(config.DnssecPolicies)
	if err != nil {
		return nil, err
	}
	config.Internal.DnssecPolicies = resolved
	config.Internal.KeyStores = map[string]*KeyStore{}
	config.Internal.CfgFile = cfgfile

	return &config, nil
}

func ValidateBySection(config *Config, configsections map[string]interface{}, cfgfile string) error {
	validate := validator.New()

	for k, data := range configsections {
		if err := validate.Struct(data); err != nil {
			return fmt.Errorf("config %q section %q: missing required attributes: %w", cfgfile, k, err)
		}
	}
	return nil
}

// resolveDnssecPolicies converts every DnssecPolicyConf's human-readable
// duration/algorithm-name strings into a DnssecPolicy, grounded on the
// teacher's ParseConfig DNSSEC policy resolution step (config_validate.go).
func resolveDnssecPolicies(confs map[string]DnssecPolicyConf) (map[string]*DnssecPolicy, error) {
	out := make(map[string]*DnssecPolicy, len(confs))
	for name, c := range confs {
		alg, ok := dns.StringToAlgorithm[strings.ToUpper(c.Algorithm)]
		if !ok {
			return nil, fmt.Errorf("dnssecpolicy %q: unknown algorithm %q", name, c.Algorithm)
		}
		policy := &DnssecPolicy{
			Name:                  c.Name,
			Algorithm:             alg,
			AllowLegacyAlgorithms: c.AllowLegacyAlgorithms,
		}
		var err error
		if policy.KSK, err = parseKeyLifetime(c.KSK.Lifetime, c.KSK.SigValidity); err != nil {
			return nil, fmt.Errorf("dnssecpolicy %q: KSK: %w", name, err)
		}
		if policy.ZSK, err = parseKeyLifetime(c.ZSK.Lifetime, c.ZSK.SigValidity); err != nil {
			return nil, fmt.Errorf("dnssecpolicy %q: ZSK: %w", name, err)
		}
		if c.CSK.Lifetime != "" {
			if policy.CSK, err = parseKeyLifetime(c.CSK.Lifetime, c.CSK.SigValidity); err != nil {
				return nil, fmt.Errorf("dnssecpolicy %q: CSK: %w", name, err)
			}
		}
		out[name] = policy
	}
	return out, nil
}

func parseKeyLifetime(lifetime, sigValidity string) (KeyLifetime, error) {
	l, err := durationSeconds(lifetime)
	if err != nil {
		return KeyLifetime{}, fmt.Errorf("lifetime: %w", err)
	}
	s, err := durationSeconds(sigValidity)
	if err != nil {
		return KeyLifetime{}, fmt.Errorf("sigvalidity: %w", err)
	}
	return KeyLifetime{Lifetime: l, SigValidity: s}, nil
}

func durationSeconds(s string) (uint32, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if d, err := time.ParseDuration(s); err == nil {
		return uint32(d.Seconds()), nil
	}
	// fall back to a bare integer-seconds value
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not a duration or integer: %q", s)
	}
	return uint32(n), nil
}

func (conf *Config) ReloadConfig() (string, error) {
	newConf, err := ValidateConfig(nil, conf.Internal.CfgFile)
	if err != nil {
		log.Printf("ReloadConfig: error: %v", err)
		return "", err
	}
	*conf = *newConf
	conf.App.ServerConfigTime = time.Now()
	return "Config reloaded.", nil
}
