// Package config loads the daemon's YAML settings file and its filter-group
// directory tree, mirroring the directory-walk-plus-per-file-error-
// accumulation pattern used throughout this codebase's configuration
// loading.
package config

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/nyan-/snmptrapd/pkg/trapd/filter"
)

// Settings is the fully resolved daemon configuration.
type Settings struct {
	// SNMPLogfile is the primary trap log path. Required.
	SNMPLogfile string `yaml:"snmp_logfile"`
	// SNMPExtlog is an optional secondary trap log path.
	SNMPExtlog string `yaml:"snmp_extlog"`

	// ServerThreshold is the tick period. SNMPConsoleThreshold, when
	// nonzero, overrides it.
	ServerThreshold      int `yaml:"server_threshold"`
	SNMPConsoleThreshold int `yaml:"snmpconsole_threshold"`

	// SNMPConsoleThreads is the worker pool size.
	SNMPConsoleThreads int `yaml:"snmpconsole_threads"`

	// SNMPStormProtection is the per-window trap threshold a source may not
	// exceed before being silenced; <= 0 disables storm protection entirely.
	SNMPStormProtection    int `yaml:"snmp_storm_protection"`
	SNMPStormTimeout       int `yaml:"snmp_storm_timeout"`
	SNMPStormSilencePeriod int `yaml:"snmp_storm_silence_period"`

	// SNMPConsoleLock enables per-source serialization.
	SNMPConsoleLock bool `yaml:"snmpconsole_lock"`

	// SNMPPDUAddress enables source normalization for v1 traps.
	SNMPPDUAddress bool `yaml:"snmp_pdu_address"`

	SNMPForwardTrap      bool   `yaml:"snmp_forward_trap"`
	SNMPForwardVersion   string `yaml:"snmp_forward_version"`
	SNMPForwardIP        string `yaml:"snmp_forward_ip"`
	SNMPForwardPort      int    `yaml:"snmp_forward_port"`
	SNMPForwardCommunity string `yaml:"snmp_forward_community"`

	SNMPForwardV3User      string `yaml:"snmp_forward_v3_user"`
	SNMPForwardV3AuthProto string `yaml:"snmp_forward_v3_auth_protocol"`
	SNMPForwardV3AuthPass  string `yaml:"snmp_forward_v3_auth_passphrase"`
	SNMPForwardV3PrivProto string `yaml:"snmp_forward_v3_priv_protocol"`
	SNMPForwardV3PrivPass  string `yaml:"snmp_forward_v3_priv_passphrase"`

	// SNMPDelay paces the worker after each persist, in seconds.
	SNMPDelay int `yaml:"snmp_delay"`

	// Passed through unused by the core; recognized only so a single
	// settings file can serve both this daemon and its supervision
	// wrapper without being rejected as unknown.
	SNMPIgnoreAuthFailure bool   `yaml:"snmp_ignore_authfailure"`
	SNMPTrapdArgs         string `yaml:"snmptrapd_args"`
}

// TickPeriod returns the producer tick cadence: SNMPConsoleThreshold
// overrides ServerThreshold when set.
func (s Settings) TickPeriod() time.Duration {
	secs := s.ServerThreshold
	if s.SNMPConsoleThreshold > 0 {
		secs = s.SNMPConsoleThreshold
	}
	if secs <= 0 {
		secs = 5
	}
	return time.Duration(secs) * time.Second
}

// Threads returns the configured worker count, defaulting to 4.
func (s Settings) Threads() int {
	if s.SNMPConsoleThreads > 0 {
		return s.SNMPConsoleThreads
	}
	return 4
}

// Load reads path (YAML) into a Settings value. Lenient scalar coercion
// (e.g. a threshold written as a quoted string in an otherwise YAML file)
// is applied via spf13/cast on the handful of fields most often hand-edited
// by operators.
func Load(path string) (Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		return Settings{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	var raw map[string]interface{}
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&raw); err != nil {
		return Settings{}, fmt.Errorf("config: decode %s: %w", path, err)
	}

	var s Settings
	data, err := yaml.Marshal(raw)
	if err != nil {
		return Settings{}, fmt.Errorf("config: re-marshal %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		// A *yaml.TypeError still leaves every well-typed field decoded;
		// the lenient overrides below resolve the mistyped scalars.
		if _, typeErr := err.(*yaml.TypeError); !typeErr {
			return Settings{}, fmt.Errorf("config: unmarshal %s: %w", path, err)
		}
	}

	applyLenientOverrides(&s, raw)

	if s.SNMPLogfile == "" {
		return Settings{}, fmt.Errorf("config: %s: snmp_logfile is required", path)
	}
	return s, nil
}

// applyLenientOverrides re-coerces a few numeric/boolean fields from their
// raw YAML scalar using spf13/cast, so operators can write "5" or 5 or
// "yes"/"true" interchangeably without the strict yaml.v3 decoder rejecting
// the file outright.
func applyLenientOverrides(s *Settings, raw map[string]interface{}) {
	if v, ok := raw["server_threshold"]; ok {
		s.ServerThreshold = cast.ToInt(v)
	}
	if v, ok := raw["snmpconsole_threshold"]; ok {
		s.SNMPConsoleThreshold = cast.ToInt(v)
	}
	if v, ok := raw["snmpconsole_threads"]; ok {
		s.SNMPConsoleThreads = cast.ToInt(v)
	}
	if v, ok := raw["snmp_storm_timeout"]; ok {
		s.SNMPStormTimeout = cast.ToInt(v)
	}
	if v, ok := raw["snmp_storm_silence_period"]; ok {
		s.SNMPStormSilencePeriod = cast.ToInt(v)
	}
	if v, ok := raw["snmp_delay"]; ok {
		s.SNMPDelay = cast.ToInt(v)
	}
	if v, ok := raw["snmp_storm_protection"]; ok {
		s.SNMPStormProtection = cast.ToInt(v)
	}
	// Booleans keep the typed decode's value when cast cannot parse the
	// scalar: yaml.v3 already maps yes/no/on/off onto a typed bool field,
	// while cast.ToBool would turn "yes" into false.
	if b, err := cast.ToBoolE(raw["snmpconsole_lock"]); err == nil && raw["snmpconsole_lock"] != nil {
		s.SNMPConsoleLock = b
	}
	if b, err := cast.ToBoolE(raw["snmp_pdu_address"]); err == nil && raw["snmp_pdu_address"] != nil {
		s.SNMPPDUAddress = b
	}
	if b, err := cast.ToBoolE(raw["snmp_forward_trap"]); err == nil && raw["snmp_forward_trap"] != nil {
		s.SNMPForwardTrap = b
	}
}

// rawFilterGroupFile is the on-disk shape of one filter-group definitions
// file: group id (as a YAML key) → ordered pattern list.
type rawFilterGroupFile map[string][]string

// LoadFilterGroups walks dir for YAML files, each mapping group_id →
// []pattern, and returns the combined, sorted list of filter.Group values.
// A missing directory yields an empty (not erroring) result so that filter
// matching can be deployed without any groups defined. Malformed files are
// skipped and logged; they do not abort the load.
func LoadFilterGroups(dir string, logger *slog.Logger) ([]filter.Group, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}

	files, err := yamlFiles(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: list filter group dir %s: %w", dir, err)
	}

	groups := make(map[int][]string)
	for _, path := range files {
		raw, err := decodeFilterGroupFile(path)
		if err != nil {
			logger.Warn("config: skip malformed filter group file", "file", path, "error", err.Error())
			continue
		}
		for idStr, patterns := range raw {
			id := cast.ToInt(idStr)
			groups[id] = append(groups[id], patterns...)
		}
	}

	out := make([]filter.Group, 0, len(groups))
	for id, patterns := range groups {
		out = append(out, filter.Group{ID: id, Patterns: patterns})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func decodeFilterGroupFile(path string) (rawFilterGroupFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var raw rawFilterGroupFile
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func yamlFiles(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(p))
		if ext == ".yml" || ext == ".yaml" {
			paths = append(paths, p)
		}
		return nil
	})
	return paths, err
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
