// Package parser turns one logical trap log line into a models.Trap,
// dispatching on the SNMPv1/SNMPv2 dialect and normalizing source addresses.
package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nyan-/snmptrapd/models"
)

const fieldDelim = "[**]"

// Prefilter matches the cheap shape check the producer applies to every
// line before running the full parse.
var Prefilter = regexp.MustCompile(`^SNMPv[12]\[\*\*\]`)

var genericTrapOID = regexp.MustCompile(`^\.1\.3\.6\.1\.6\.3\.1\.1\.5\.([1-5])$`)

var controlChars = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f]`)

// Options controls dialect-dependent parsing behaviour.
type Options struct {
	// UsePDUAddress enables source-address normalization for v1 traps too
	// (v2 traps are always normalized).
	UsePDUAddress bool
}

// Parse converts a logical line into a Trap. ok is false when the line
// should be dropped (unrecognized dialect, too few fields for the dialect,
// or no usable OID).
// reason, when ok is false, is a short machine-friendly drop reason suitable
// for metrics labels.
func Parse(line string, opts Options) (trap models.Trap, ok bool, reason string) {
	fields := strings.Split(line, fieldDelim)
	if len(fields) == 0 {
		return models.Trap{}, false, "empty"
	}

	switch fields[0] {
	case "SNMPv1":
		return parseV1(fields, opts)
	case "SNMPv2":
		return parseV2(fields, opts)
	default:
		return models.Trap{}, false, "unknown_dialect"
	}
}

func parseV1(fields []string, opts Options) (models.Trap, bool, string) {
	// version + 8 fields: date, time, source, oid, type, type_desc, value, data
	if len(fields) < 9 {
		return models.Trap{}, false, "malformed_v1"
	}

	date, timeStr := fields[1], fields[2]
	source := fields[3]
	oid := fields[4]
	genericType := fields[5]
	typeDesc := fields[6]
	value := sanitizeValue(fields[7])
	data := strings.Join(fields[8:], fieldDelim)

	if opts.UsePDUAddress {
		source = normalizeSource(source)
	}

	if oid == "" || oid == "." {
		oid = typeDesc
	}
	if oid == "" {
		return models.Trap{}, false, "missing_oid"
	}

	gt := parseGenericType(genericType)

	t := models.Trap{
		Version:       models.VersionV1,
		ReceivedAt:    fmt.Sprintf("%s %s", date, timeStr),
		Source:        source,
		OID:           oid,
		GenericType:   gt,
		Value:         value,
		TypeDesc:      typeDesc,
		CustomPayload: data,
		RawTail:       data,
	}
	return t, true, ""
}

func parseV2(fields []string, opts Options) (models.Trap, bool, string) {
	// version + 4 fields: date, time, source, data
	if len(fields) < 5 {
		return models.Trap{}, false, "malformed_v2"
	}

	date, timeStr := fields[1], fields[2]
	source := normalizeSource(fields[3])
	data := strings.Join(fields[4:], fieldDelim)

	// Split by tab, discard the first field, and take the second as the
	// OID; whatever tab fields remain after that become custom_payload.
	parts := strings.Split(data, "\t")
	if len(parts) < 2 {
		return models.Trap{}, false, "missing_oid"
	}
	oid := stripOIDPrefix(parts[1])
	if oid == "" {
		return models.Trap{}, false, "missing_oid"
	}

	custom := strings.Join(parts[2:], "\t")

	t := models.Trap{
		Version:       models.VersionV2,
		ReceivedAt:    fmt.Sprintf("%s %s", date, timeStr),
		Source:        source,
		OID:           oid,
		GenericType:   deriveGenericType(oid),
		CustomPayload: custom,
		RawTail:       custom,
	}
	_ = opts // v2 is always normalized regardless of UsePDUAddress
	return t, true, ""
}

// stripOIDPrefix removes a leading `... = OID: ` style label some daemons
// prepend to the varbind value, leaving the bare dotted OID.
func stripOIDPrefix(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.LastIndex(s, "OID:"); idx >= 0 {
		s = s[idx+len("OID:"):]
	}
	return strings.TrimSpace(s)
}

// deriveGenericType maps a v2 snmpTrapOID.0 value to the v1-style
// generic-type integer: the five standard coldStart..authenticationFailure
// traps map to 0..4, and anything else (including enterprise-specific
// traps) is reported as 6 (enterpriseSpecific).
func deriveGenericType(oid string) int {
	if m := genericTrapOID.FindStringSubmatch(oid); m != nil {
		switch m[1] {
		case "1":
			return 0
		case "2":
			return 1
		case "3":
			return 2
		case "4":
			return 3
		case "5":
			return 4
		}
	}
	return 6
}

func parseGenericType(s string) int {
	s = strings.TrimSpace(s)
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 6
		}
		n = n*10 + int(c-'0')
	}
	if s == "" {
		return 6
	}
	return n
}

func sanitizeValue(s string) string {
	return controlChars.ReplaceAllString(s, "")
}

var destinationTail = regexp.MustCompile(`\s*->.*$`)

// normalizeSource reduces a raw PDU source string to a bare address or
// hostname: strips an optional TCP:/UDP: transport prefix, surrounding
// brackets, a trailing :port suffix (the port may be negative), and a
// trailing "-> destination" tail some daemons append.
func normalizeSource(raw string) string {
	s := strings.TrimSpace(raw)
	s = destinationTail.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)

	for _, prefix := range []string{"TCP:", "UDP:", "tcp:", "udp:"} {
		if strings.HasPrefix(s, prefix) {
			s = s[len(prefix):]
			break
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")

	if idx := strings.LastIndex(s, "]"); idx >= 0 {
		s = s[:idx]
		return strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, ":"); idx > 0 {
		portPart := s[idx+1:]
		if isPort(portPart) {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}

func isPort(s string) bool {
	if s == "" {
		return false
	}
	i := 0
	if s[0] == '-' {
		i = 1
		if len(s) == 1 {
			return false
		}
	}
	for ; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
