package tailer_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nyan-/snmptrapd/pkg/trapd/tailer"
)

func writeLog(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "snmptrapd.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTailerReadsSingleLineRecords(t *testing.T) {
	dir := t.TempDir()
	path := writeLog(t, dir, "SNMPv1[**]a\nSNMPv1[**]b\n")

	tl, err := tailer.Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tl.Close()

	line1, ok := tl.Next()
	if !ok || line1 != "SNMPv1[**]a" {
		t.Fatalf("line1 = %q, %v", line1, ok)
	}
	line2, ok := tl.Next()
	if !ok || line2 != "SNMPv1[**]b" {
		t.Fatalf("line2 = %q, %v", line2, ok)
	}
	if _, ok := tl.Next(); ok {
		t.Fatal("expected no more lines")
	}
}

func TestTailerMultiLineReassembly(t *testing.T) {
	dir := t.TempDir()
	path := writeLog(t, dir, "SNMPv2[**]head\ncont1\ncont2\ncont3\nSNMPv2[**]next\n")

	tl, err := tailer.Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tl.Close()

	line1, ok := tl.Next()
	if !ok {
		t.Fatal("expected first record")
	}
	want := "SNMPv2[**]head cont1 cont2 cont3"
	if line1 != want {
		t.Errorf("line1 = %q, want %q", line1, want)
	}

	line2, ok := tl.Next()
	if !ok || line2 != "SNMPv2[**]next" {
		t.Errorf("line2 = %q, %v", line2, ok)
	}
}

func TestTailerCheckpointAndResume(t *testing.T) {
	dir := t.TempDir()
	path := writeLog(t, dir, "SNMPv1[**]a\nSNMPv1[**]b\nSNMPv1[**]c\n")

	tl, err := tailer.Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tl.Next(); !ok {
		t.Fatal("expected line a")
	}
	if err := tl.Checkpoint(); err != nil {
		t.Fatal(err)
	}
	tl.Close()

	tl2, err := tailer.Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tl2.Close()

	line, ok := tl2.Next()
	if !ok || line != "SNMPv1[**]b" {
		t.Fatalf("after resume, expected line b, got %q, %v", line, ok)
	}
}

func TestTailerRotationResetsToStart(t *testing.T) {
	dir := t.TempDir()
	path := writeLog(t, dir, "SNMPv1[**]aaaaaaaaaa\nSNMPv1[**]bbbbbbbbbb\n")

	tl, err := tailer.Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tl.Close()

	if _, ok := tl.Next(); !ok {
		t.Fatal("expected first line")
	}
	if err := tl.Checkpoint(); err != nil {
		t.Fatal(err)
	}

	// Simulate rotation: truncate to a much shorter file.
	if err := os.WriteFile(path, []byte("SNMPv1[**]short\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := tl.CheckRotation(); err != nil {
		t.Fatal(err)
	}
	line, ok := tl.Next()
	if !ok || line != "SNMPv1[**]short" {
		t.Fatalf("after rotation, expected fresh read from start, got %q, %v", line, ok)
	}
}

func TestOpenMissingFileFails(t *testing.T) {
	if _, err := tailer.Open("/no/such/file.log", nil); err == nil {
		t.Fatal("expected error opening missing log file")
	}
}
