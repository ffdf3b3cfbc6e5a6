package forward_test

import (
	"testing"

	"github.com/nyan-/snmptrapd/snmp/forward"
)

func TestTranslateVarbindsTimeticks(t *testing.T) {
	got := forward.TranslateVarbinds(".1.3.6.1.2.1.1.3.0 = TIMETICKS: 12345")
	if len(got) != 1 {
		t.Fatalf("expected 1 varbind, got %d", len(got))
	}
	vb := got[0]
	if vb.OID != ".1.3.6.1.2.1.1.3.0" || vb.Letter != "t" || vb.Value != "12345" {
		t.Errorf("got %+v, want {.1.3.6.1.2.1.1.3.0 t 12345}", vb)
	}
}

func TestTranslateVarbindsIntegerStripsNonDigits(t *testing.T) {
	got := forward.TranslateVarbinds(".1.3.6.1.2.1.1.1.0 = INTEGER: 42 units")
	if len(got) != 1 {
		t.Fatalf("expected 1 varbind, got %d", len(got))
	}
	if got[0].Value != "42" {
		t.Errorf("value = %q, want 42 (non-digits stripped)", got[0].Value)
	}
}

func TestTranslateVarbindsMultiple(t *testing.T) {
	payload := ".1.3.6.1.2.1.1.3.0 = TIMETICKS: 12345\t.1.3.6.1.2.1.1.1.0 = STRING: hello world"
	got := forward.TranslateVarbinds(payload)
	if len(got) != 2 {
		t.Fatalf("expected 2 varbinds, got %d: %+v", len(got), got)
	}
	if got[0].Letter != "t" || got[1].Letter != "s" {
		t.Errorf("letters = %q, %q, want t, s", got[0].Letter, got[1].Letter)
	}
	if got[1].Value != "hello world" {
		t.Errorf("value = %q, want 'hello world'", got[1].Value)
	}
}

func TestTranslateVarbindsUnknownTagIgnored(t *testing.T) {
	got := forward.TranslateVarbinds(".1.3.6.1.2.1.1.3.0 = WEIRDTAG: 1")
	if len(got) != 0 {
		t.Errorf("expected unknown tag to be dropped, got %+v", got)
	}
}
