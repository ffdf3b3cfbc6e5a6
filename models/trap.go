// Package models defines the data types shared across every layer of the
// trap ingestion pipeline. These are the canonical in-memory representations;
// every other package depends on this package and nothing here depends on
// any other internal package.
package models

// Version identifies the wire-format dialect a trap line was written in.
type Version string

const (
	VersionV1 Version = "v1"
	VersionV2 Version = "v2"
)

// Trap is a single parsed SNMP trap record. It is immutable once returned by
// the parser: nothing downstream mutates a Trap in place.
type Trap struct {
	Version Version

	// ReceivedAt preserves the daemon-written timestamp bit-for-bit, in its
	// original "YYYY-MM-DD HH:MM:SS" textual form.
	ReceivedAt string

	// ReceivedAtUnix is the same instant as a Unix timestamp, used for
	// storage and for the utimestamp column.
	ReceivedAtUnix int64

	// Source is the canonicalized printable host/IP the trap originated
	// from (see the normalization rule in snmp/parser).
	Source string

	// OID is the dotted numeric OID: the enterprise OID (with type_desc
	// fallback) for v1, the snmpTrapOID.0 value for v2.
	OID string

	// GenericType is 0..6, derived from the standard OID prefix for v2 and
	// carried verbatim from the wire for v1.
	GenericType int

	// Value and TypeDesc are populated only for v1 traps; empty for v2.
	Value    string
	TypeDesc string

	// CustomPayload is the remaining delimited data tail — the serialized
	// varbind list.
	CustomPayload string

	// RawTail is the portion of the line matched against filter patterns.
	RawTail string
}

// TrapRow is the persisted shape of a Trap, matching the external relational
// store's column layout exactly: (timestamp, source, oid, type, value,
// oid_custom, value_custom, type_custom, utimestamp).
type TrapRow struct {
	Timestamp   string
	Source      string
	OID         string
	GenericType int
	Value       string
	CustomOID   string
	CustomValue string
	CustomType  string
	UnixTime    int64
}

// SilenceEvent is the single structured system event the pipeline emits per
// storm-silencing transition: "too many traps from X; silenced for Ys".
type SilenceEvent struct {
	Source         string
	SilenceSeconds int
	TrapCount      int
}
