// Package forward re-emits an ingested trap's varbinds to a downstream
// SNMP trap receiver, translating the textual varbind tags parsed from the
// log line into a gosnmp trap PDU and sending it over the wire.
package forward

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/nyan-/snmptrapd/models"
)

// Version selects the outbound SNMP dialect.
type Version string

const (
	VersionV1  Version = "1"
	VersionV2c Version = "2c"
	VersionV3  Version = "3"
)

// Config holds the outbound forwarding parameters.
type Config struct {
	Enabled bool
	Target  string
	Port    uint16
	Version Version

	// Community is used for v1 and v2c.
	Community string

	// V3 credentials, used only when Version == VersionV3.
	V3Username                 string
	V3AuthenticationProtocol   string
	V3AuthenticationPassphrase string
	V3PrivacyProtocol          string
	V3PrivacyPassphrase        string

	Timeout time.Duration
}

// Forwarder translates and re-sends traps. Failures are logged only; they
// never propagate back to the caller, matching the fire-and-forget contract
// of the pipeline's forwarding stage.
type Forwarder struct {
	cfg    Config
	logger *slog.Logger
}

// New constructs a Forwarder. logger may be nil.
func New(cfg Config, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	if cfg.Port == 0 {
		cfg.Port = 162
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &Forwarder{cfg: cfg, logger: logger}
}

// varbindHead matches the "oid = TYPE_TAG:" head of one "(oid, type_tag,
// value)" occurrence in the custom varbind payload. A value runs from the end
// of its head up to the next recognized head or end of string, since the
// payload has no other delimiter guarantee.
var varbindHead = regexp.MustCompile(
	`(\.[0-9.]+)\s*=\s*(INTEGER|UNSIGNED|COUNTER32|STRING|HEX STRING|DECIMAL STRING|NULLOBJ|OBJID|TIMETICKS|IPADDRESS|BITS)\s*:`,
)

// tagLetters maps the textual varbind type tag to its one-letter downstream
// shorthand.
var tagLetters = map[string]string{
	"INTEGER":        "i",
	"UNSIGNED":       "u",
	"COUNTER32":      "c",
	"STRING":         "s",
	"HEX STRING":     "x",
	"DECIMAL STRING": "d",
	"OBJID":          "o",
	"TIMETICKS":      "t",
	"IPADDRESS":      "a",
	"BITS":           "b",
	"NULLOBJ":        "n",
}

var nonDigit = regexp.MustCompile(`[^0-9]`)

// Varbind is one translated (oid, letter, value) triple ready to append to
// the outbound command line or PDU.
type Varbind struct {
	OID    string
	Letter string
	Value  string
}

// TranslateVarbinds scans payload for (oid, type_tag, value) triples and
// returns their short-form translation. For INTEGER values, non-digit
// characters are stripped before emission.
func TranslateVarbinds(payload string) []Varbind {
	heads := varbindHead.FindAllStringSubmatchIndex(payload, -1)
	out := make([]Varbind, 0, len(heads))
	for i, h := range heads {
		end := len(payload)
		if i+1 < len(heads) {
			end = heads[i+1][0]
		}
		oid, tag, value := payload[h[2]:h[3]], payload[h[4]:h[5]], strings.TrimSpace(payload[h[1]:end])
		letter, ok := tagLetters[tag]
		if !ok {
			continue
		}
		if tag == "INTEGER" {
			value = nonDigit.ReplaceAllString(value, "")
		}
		out = append(out, Varbind{OID: oid, Letter: letter, Value: value})
	}
	return out
}

// Forward re-sends trap downstream if forwarding is enabled. Any failure —
// building the client, connecting, or sending — is logged and swallowed.
func (f *Forwarder) Forward(trap models.Trap) {
	if !f.cfg.Enabled {
		return
	}

	client, err := f.newClient()
	if err != nil {
		f.logger.Warn("forward: failed to build client", "error", err.Error())
		return
	}
	if err := client.Connect(); err != nil {
		f.logger.Warn("forward: connect failed", "target", f.cfg.Target, "error", err.Error())
		return
	}
	defer client.Conn.Close()

	pdu := buildPDU(trap)

	switch f.cfg.Version {
	case VersionV1:
		_, err = client.SendTrap(gosnmp.SnmpTrap{
			Variables:    pdu,
			Enterprise:   trap.OID,
			AgentAddress: trap.Source,
			GenericTrap:  trap.GenericType,
			SpecificTrap: specificTrap(trap.Value),
		})
	default:
		_, err = client.SendTrap(gosnmp.SnmpTrap{Variables: pdu})
	}
	if err != nil {
		f.logger.Warn("forward: send trap failed", "target", f.cfg.Target, "error", err.Error())
	}
}

// buildPDU assembles the varbind list sent downstream: the trap's own OID and
// value (the v1 path preserves value/type verbatim, which are empty for v2
// traps — that emptiness is intentional, not a bug, since the pipeline must
// not infer values the upstream daemon never provided), followed by the
// translated custom payload varbinds.
func buildPDU(trap models.Trap) []gosnmp.SnmpPDU {
	pdus := []gosnmp.SnmpPDU{
		{Name: trap.OID, Type: gosnmp.OctetString, Value: trap.Value},
	}
	for _, vb := range TranslateVarbinds(trap.CustomPayload) {
		pdus = append(pdus, gosnmp.SnmpPDU{
			Name:  vb.OID,
			Type:  gosnmp.OctetString,
			Value: fmt.Sprintf("%s %s", vb.Letter, vb.Value),
		})
	}
	return pdus
}

// specificTrap parses a v1 trap's specific_value field (wire field 7) into
// the PDU's SpecificTrap subtype. Non-numeric content falls back to 0 rather
// than failing the whole forward.
func specificTrap(value string) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return n
}

func (f *Forwarder) newClient() (*gosnmp.GoSNMP, error) {
	g := &gosnmp.GoSNMP{
		Target:  f.cfg.Target,
		Port:    f.cfg.Port,
		Timeout: f.cfg.Timeout,
		Retries: 1,
	}

	switch f.cfg.Version {
	case VersionV1:
		g.Version = gosnmp.Version1
		g.Community = f.cfg.Community
	case VersionV2c:
		g.Version = gosnmp.Version2c
		g.Community = f.cfg.Community
	case VersionV3:
		g.Version = gosnmp.Version3
		g.SecurityModel = gosnmp.UserSecurityModel
		g.MsgFlags = v3MsgFlags(f.cfg)
		g.SecurityParameters = &gosnmp.UsmSecurityParameters{
			UserName:                 f.cfg.V3Username,
			AuthenticationProtocol:   mapAuthProto(f.cfg.V3AuthenticationProtocol),
			AuthenticationPassphrase: f.cfg.V3AuthenticationPassphrase,
			PrivacyProtocol:          mapPrivProto(f.cfg.V3PrivacyProtocol),
			PrivacyPassphrase:        f.cfg.V3PrivacyPassphrase,
		}
	default:
		return nil, fmt.Errorf("forward: unsupported SNMP version %q", f.cfg.Version)
	}
	return g, nil
}

func v3MsgFlags(cfg Config) gosnmp.SnmpV3MsgFlags {
	hasAuth := cfg.V3AuthenticationProtocol != "" && !strings.EqualFold(cfg.V3AuthenticationProtocol, "noauth")
	hasPriv := cfg.V3PrivacyProtocol != "" && !strings.EqualFold(cfg.V3PrivacyProtocol, "nopriv")
	switch {
	case hasAuth && hasPriv:
		return gosnmp.AuthPriv
	case hasAuth:
		return gosnmp.AuthNoPriv
	default:
		return gosnmp.NoAuthNoPriv
	}
}

func mapAuthProto(s string) gosnmp.SnmpV3AuthProtocol {
	switch strings.ToLower(s) {
	case "md5":
		return gosnmp.MD5
	case "sha":
		return gosnmp.SHA
	case "sha224":
		return gosnmp.SHA224
	case "sha256":
		return gosnmp.SHA256
	case "sha384":
		return gosnmp.SHA384
	case "sha512":
		return gosnmp.SHA512
	default:
		return gosnmp.NoAuth
	}
}

func mapPrivProto(s string) gosnmp.SnmpV3PrivProtocol {
	switch strings.ToLower(s) {
	case "des":
		return gosnmp.DES
	case "aes":
		return gosnmp.AES
	case "aes192":
		return gosnmp.AES192
	case "aes256":
		return gosnmp.AES256
	default:
		return gosnmp.NoPriv
	}
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
