package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nyan-/snmptrapd/pkg/trapd/config"
)

func TestLoadBasicSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	content := `
snmp_logfile: /var/log/snmptrapd/snmptrapd.log
snmp_extlog: /var/log/snmptrapd/extra.log
server_threshold: "5"
snmpconsole_threads: 8
snmp_storm_protection: "50"
snmpconsole_lock: yes
snmp_delay: "2"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.SNMPLogfile != "/var/log/snmptrapd/snmptrapd.log" {
		t.Errorf("SNMPLogfile = %q", s.SNMPLogfile)
	}
	if s.ServerThreshold != 5 {
		t.Errorf("ServerThreshold = %d, want 5 (coerced from quoted string)", s.ServerThreshold)
	}
	if s.SNMPConsoleThreads != 8 {
		t.Errorf("SNMPConsoleThreads = %d, want 8", s.SNMPConsoleThreads)
	}
	if s.SNMPStormProtection != 50 {
		t.Errorf("SNMPStormProtection = %d, want 50 (coerced from quoted string)", s.SNMPStormProtection)
	}
	if !s.SNMPConsoleLock {
		t.Error("SNMPConsoleLock should be true (yes)")
	}
	if s.SNMPDelay != 2 {
		t.Errorf("SNMPDelay = %d, want 2", s.SNMPDelay)
	}
}

func TestLoadMissingLogfileErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	if err := os.WriteFile(path, []byte("snmpconsole_threads: 4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected error for missing snmp_logfile")
	}
}

func TestTickPeriodPrefersConsoleThreshold(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	content := "snmp_logfile: /x\nserver_threshold: 10\nsnmpconsole_threshold: 3\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := s.TickPeriod().Seconds(); got != 3 {
		t.Errorf("TickPeriod = %vs, want 3s (console threshold overrides server threshold)", got)
	}
}

func TestLoadFilterGroups(t *testing.T) {
	dir := t.TempDir()
	content := "1:\n  - foo\n  - bar\n2:\n  - baz\n"
	if err := os.WriteFile(filepath.Join(dir, "groups.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	groups, err := config.LoadFilterGroups(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
}

func TestLoadFilterGroupsMissingDirIsEmpty(t *testing.T) {
	groups, err := config.LoadFilterGroups("/no/such/dir", nil)
	if err != nil {
		t.Fatalf("expected no error for missing directory, got %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("expected no groups, got %d", len(groups))
	}
}
