package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-playground/validator/v10"

	"voxagent/internal/fingerprint"
)

// Store guarantees a complete, consistent identity record is available
// before any activation attempt. One Store per process; construct it in
// the composition root and pass it by reference. Access to the cache and
// the backing file is serialized by an internal mutex; cross-process
// access to the same file is not guarded.
type Store struct {
	path      string
	generator *fingerprint.Generator
	logger    *slog.Logger
	validate  *validator.Validate
	metrics   *Metrics

	mu     sync.Mutex
	record *Record
}

// Option customizes a Store at construction time.
type Option func(*Store)

// WithMetrics attaches OpenTelemetry counters for repair and regeneration
// events.
func WithMetrics(m *Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// NewStore creates a store persisting to path. The directory is created on
// first write.
func NewStore(path string, generator *fingerprint.Generator, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		path:      path,
		generator: generator,
		logger:    logger.With(slog.String("component", "identity")),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the backing file location.
func (s *Store) Path() string {
	return s.path
}

// EnsureRecord loads, repairs, or creates the identity record and
// populates the in-memory cache. The returned error means the backing
// file could not be read or written; the cache is valid either way, so
// activation can still proceed on a read-only filesystem.
func (s *Store) EnsureRecord() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLocked()
}

// Record returns a copy of the current record, ensuring it first.
func (s *Store) Record() *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLocked(); err != nil {
		s.logger.Warn("identity record not durable", slog.String("error", err.Error()))
	}
	return s.record.Clone()
}

// SerialNumber returns the device serial, loading the record if needed.
func (s *Store) SerialNumber() string {
	return s.Record().SerialNumber
}

// HMACKey returns the signing key, loading the record if needed.
func (s *Store) HMACKey() string {
	return s.Record().HMACKey
}

// HasSerialNumber reports whether a serial number is available.
func (s *Store) HasSerialNumber() bool {
	return s.SerialNumber() != ""
}

// MACAddress returns the MAC captured at creation time, or "" when the
// record holds none.
func (s *Store) MACAddress() string {
	if mac := s.Record().MACAddress; mac != nil {
		return *mac
	}
	return ""
}

// IsActivated reports whether the server has confirmed activation.
func (s *Store) IsActivated() bool {
	return s.Record().ActivationStatus
}

// SetActivationStatus updates the cached record and persists it. The
// return value reports whether the write reached disk; on false the
// in-memory state diverges from disk until a later successful write.
func (s *Store) SetActivationStatus(activated bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLocked(); err != nil {
		s.logger.Warn("identity record not durable before status update",
			slog.String("error", err.Error()))
	}
	s.record.ActivationStatus = activated

	if err := s.persistLocked(); err != nil {
		s.logger.Error("failed to persist activation status",
			slog.Bool("activated", activated),
			slog.String("error", err.Error()),
		)
		return false
	}

	s.logger.Info("activation status persisted", slog.Bool("activated", activated))
	return true
}

// SignChallenge computes HMAC-SHA256 over the challenge with the device
// key, lowercase hex encoded. Deterministic for a fixed (key, challenge)
// pair. Fails with ErrEmptyChallenge or ErrNoKey; both are local
// conditions, never network faults.
func (s *Store) SignChallenge(challenge string) (string, error) {
	if challenge == "" {
		s.logger.Warn("refusing to sign an empty challenge")
		return "", ErrEmptyChallenge
	}
	key := s.HMACKey()
	if key == "" {
		s.logger.Warn("no HMAC key available for signing")
		return "", ErrNoKey
	}

	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(challenge))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// ensureLocked implements create / repair / regenerate. Callers hold s.mu.
func (s *Store) ensureLocked() error {
	if s.record != nil {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Info("identity file absent, creating new record", slog.String("path", s.path))
		s.record = s.newRecord()
		s.metrics.addRegeneration("absent")
		return s.persistLocked()
	}
	if err != nil {
		// The file exists but cannot be read (permissions, transient I/O).
		// Do not overwrite it: the serial and key on disk may still be
		// intact, and a rewrite would orphan a registered identity. Work
		// from a cache-only record; serial and key derive deterministically
		// from the hardware, so they normally match the file anyway.
		s.logger.Error("identity file unreadable, using in-memory record",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)
		s.record = s.newRecord()
		return fmt.Errorf("read identity file: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		// Data loss: the previous serial number and activation flag are
		// unrecoverable.
		s.logger.Error("identity file unparseable, regenerating record",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)
		s.record = s.newRecord()
		s.metrics.addRegeneration("corrupt")
		return s.persistLocked()
	}

	repaired := s.repair(&record)
	s.record = &record
	if !repaired {
		return nil
	}
	return s.persistLocked()
}

// repair regenerates each missing or malformed field individually from a
// freshly captured fingerprint, leaving well-formed fields untouched.
// Returns whether anything changed.
func (s *Store) repair(record *Record) bool {
	missing := s.missingFields(record)
	if len(missing) == 0 {
		return false
	}

	s.logger.Warn("identity record incomplete, repairing fields",
		slog.Any("fields", missing))

	fresh := s.generator.Capture()
	changed := false
	for _, field := range missing {
		switch field {
		case "mac_address":
			if fresh.MACAddress == "" {
				// Nothing to repair with; leave the field nil rather than
				// churning the file on every start.
				continue
			}
			mac := fresh.MACAddress
			record.MACAddress = &mac
		case "serial_number":
			record.SerialNumber = s.generator.SerialNumber(fresh)
		case "hmac_key":
			record.HMACKey = s.generator.HardwareHash(fresh)
		case "device_fingerprint":
			fp := fresh
			record.DeviceFingerprint = &fp
		}
		changed = true
		s.metrics.addRepair(field)
	}
	return changed
}

// missingFields lists the record fields requiring repair. A field that is
// present but fails schema validation counts as missing; it is repaired
// individually rather than discarding the whole record.
func (s *Store) missingFields(record *Record) []string {
	var missing []string
	if record.MACAddress == nil {
		missing = append(missing, "mac_address")
	}
	if record.SerialNumber == "" || s.validate.Var(record.SerialNumber, "startswith=SN-") != nil {
		missing = append(missing, "serial_number")
	}
	if record.HMACKey == "" || s.validate.Var(record.HMACKey, "len=64,hexadecimal,lowercase") != nil {
		missing = append(missing, "hmac_key")
	}
	if record.DeviceFingerprint == nil {
		missing = append(missing, "device_fingerprint")
	}
	return missing
}

// newRecord builds a complete record from a fresh fingerprint with
// activation_status=false.
func (s *Store) newRecord() *Record {
	fp := s.generator.Capture()
	record := &Record{
		SerialNumber:      s.generator.SerialNumber(fp),
		HMACKey:           s.generator.HardwareHash(fp),
		ActivationStatus:  false,
		DeviceFingerprint: &fp,
	}
	if fp.MACAddress != "" {
		mac := fp.MACAddress
		record.MACAddress = &mac
	}
	s.logger.Info("identity record created",
		slog.String("serial_number", record.SerialNumber),
		slog.Bool("mac_present", record.MACAddress != nil),
	)
	return record
}

func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal identity record: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create identity directory: %w", err)
		}
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write identity file: %w", err)
	}
	return nil
}
