package fingerprint

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"strings"

	"github.com/darkit/machineid"
)

// hashDelimiter joins identifiers before hashing. None of the signals can
// legally contain it: hostnames, MAC addresses and machine ids never
// include '|'.
const hashDelimiter = "|"

// Fingerprint is the set of raw hardware signals captured at one point in
// time. An empty field means the platform could not supply that signal.
type Fingerprint struct {
	Hostname   string `json:"hostname,omitempty"`
	MACAddress string `json:"mac_address,omitempty"`
	MachineID  string `json:"machine_id,omitempty"`
}

// IsEmpty reports whether no signal at all could be captured.
func (fp Fingerprint) IsEmpty() bool {
	return fp.Hostname == "" && fp.MACAddress == "" && fp.MachineID == ""
}

// Generator reads hardware signals and derives identity material from them.
// The signal readers are injectable so tests can force absent or malformed
// signals.
type Generator struct {
	logger     *slog.Logger
	hostname   func() (string, error)
	interfaces func() ([]net.Interface, error)
	machineID  func() (string, error)
}

// NewGenerator creates a Generator backed by the real platform signal
// sources.
func NewGenerator(logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		logger:     logger.With(slog.String("component", "fingerprint")),
		hostname:   os.Hostname,
		interfaces: net.Interfaces,
		machineID:  machineid.ID,
	}
}

// NewGeneratorWithSources creates a Generator reading from the supplied
// signal sources instead of the platform. Tests and simulations use it to
// pin or withhold individual signals.
func NewGeneratorWithSources(logger *slog.Logger, hostname func() (string, error), interfaces func() ([]net.Interface, error), machineID func() (string, error)) *Generator {
	g := NewGenerator(logger)
	if hostname != nil {
		g.hostname = hostname
	}
	if interfaces != nil {
		g.interfaces = interfaces
	}
	if machineID != nil {
		g.machineID = machineID
	}
	return g
}

// Capture reads all hardware signals best-effort. It never fails; a signal
// that cannot be read is left absent and logged.
func (g *Generator) Capture() Fingerprint {
	var fp Fingerprint

	if hostname, err := g.hostname(); err != nil {
		g.logger.Warn("hostname unavailable", slog.String("error", err.Error()))
	} else {
		fp.Hostname = strings.ToLower(strings.TrimSpace(hostname))
	}

	if mac, err := g.primaryMAC(); err != nil {
		g.logger.Warn("MAC address unavailable", slog.String("error", err.Error()))
	} else {
		fp.MACAddress = g.normalizeMAC(mac)
	}

	if id, err := g.machineID(); err != nil {
		g.logger.Warn("machine id unavailable", slog.String("error", err.Error()))
	} else {
		fp.MachineID = strings.TrimSpace(id)
	}

	g.logger.Debug("fingerprint captured",
		slog.String("hostname", fp.Hostname),
		slog.String("mac_address", fp.MACAddress),
		slog.Bool("machine_id_present", fp.MachineID != ""),
	)
	return fp
}

// primaryMAC returns the hardware address of the first non-loopback, up
// interface carrying one. Interfaces that are down are accepted as a
// fallback when nothing better exists.
func (g *Generator) primaryMAC() (string, error) {
	interfaces, err := g.interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to list network interfaces: %w", err)
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if mac := iface.HardwareAddr.String(); mac != "" && mac != "00:00:00:00:00:00" {
			return mac, nil
		}
	}

	for _, iface := range interfaces {
		if mac := iface.HardwareAddr.String(); mac != "" && mac != "00:00:00:00:00:00" {
			g.logger.Warn("using MAC of a down interface",
				slog.String("interface", iface.Name),
				slog.String("mac", mac),
			)
			return mac, nil
		}
	}

	return "", fmt.Errorf("no interface with a hardware address")
}

// normalizeMAC canonicalizes a link-layer address to lowercase
// colon-separated form. An address that does not contain exactly 12 hex
// digits is returned as-is rather than fabricated.
func (g *Generator) normalizeMAC(mac string) string {
	stripped := strings.NewReplacer(":", "", "-", "", ".", "").Replace(strings.ToLower(strings.TrimSpace(mac)))
	if len(stripped) != 12 || !isHex(stripped) {
		g.logger.Warn("malformed MAC address kept unnormalized", slog.String("mac", mac))
		return mac
	}

	parts := make([]string, 0, 6)
	for i := 0; i < 12; i += 2 {
		parts = append(parts, stripped[i:i+2])
	}
	return strings.Join(parts, ":")
}

func isHex(s string) bool {
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			return false
		}
	}
	return true
}

// HardwareHash computes the SHA-256 digest over all present identifiers,
// hex-encoded. When every signal is absent it falls back to hashing the
// platform name alone, which barely distinguishes devices and is logged as
// a degraded condition.
func (g *Generator) HardwareHash(fp Fingerprint) string {
	identifiers := make([]string, 0, 3)
	for _, id := range []string{fp.Hostname, fp.MACAddress, fp.MachineID} {
		if id != "" {
			identifiers = append(identifiers, id)
		}
	}

	if len(identifiers) == 0 {
		g.logger.Warn("no hardware signal available, hashing platform name only",
			slog.String("platform", runtime.GOOS),
		)
		identifiers = append(identifiers, runtime.GOOS)
	}

	digest := sha256.Sum256([]byte(strings.Join(identifiers, hashDelimiter)))
	return hex.EncodeToString(digest[:])
}

// SerialNumber derives the stable human-shareable serial from a
// fingerprint: SN-<8-hex>-<identifier>. The identifier is the
// separator-stripped MAC when present, else a machine-id or hostname
// fallback, else the literal "unknown". The embedded MD5 prefix only
// shortens the identifier; it is not a security boundary.
func (g *Generator) SerialNumber(fp Fingerprint) string {
	identifier := serialIdentifier(fp)
	sum := md5.Sum([]byte(strings.ToLower(identifier)))
	prefix := strings.ToUpper(hex.EncodeToString(sum[:])[:8])
	return fmt.Sprintf("SN-%s-%s", prefix, identifier)
}

func serialIdentifier(fp Fingerprint) string {
	if fp.MACAddress != "" {
		return strings.NewReplacer(":", "", "-", "", ".", "").Replace(fp.MACAddress)
	}
	if fp.MachineID != "" {
		return truncate(fp.MachineID, 12)
	}
	if fp.Hostname != "" {
		if sanitized := sanitizeAlnum(fp.Hostname); sanitized != "" {
			return truncate(sanitized, 12)
		}
	}
	return "unknown"
}

func sanitizeAlnum(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
