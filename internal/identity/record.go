package identity

import (
	"voxagent/internal/fingerprint"
)

// Record is the single persisted identity entity, one per installed
// instance. All five fields are present after any successful load; repair
// fills whatever is missing.
type Record struct {
	// MACAddress copies the fingerprint's MAC at creation time. Nil when
	// the platform had no usable interface.
	MACAddress *string `json:"mac_address"`

	// SerialNumber is the stable human-shareable id, SN-<8-hex>-<identifier>.
	SerialNumber string `json:"serial_number"`

	// HMACKey is the 64-hex-char secret used to sign activation challenges.
	HMACKey string `json:"hmac_key"`

	// ActivationStatus flips to true only on a confirmed server activation.
	ActivationStatus bool `json:"activation_status"`

	// DeviceFingerprint is the signal snapshot taken at creation or last
	// repair. Informational; identity math trusts it only at creation time.
	DeviceFingerprint *fingerprint.Fingerprint `json:"device_fingerprint"`
}

// Clone returns a deep copy so callers can inspect a record without
// aliasing the store's cache.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	if r.MACAddress != nil {
		mac := *r.MACAddress
		out.MACAddress = &mac
	}
	if r.DeviceFingerprint != nil {
		fp := *r.DeviceFingerprint
		out.DeviceFingerprint = &fp
	}
	return &out
}
