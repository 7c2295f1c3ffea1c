// Package identity owns the persisted device identity record: the stable
// serial number, the HMAC signing key derived from hardware signals, the
// activation flag, and the fingerprint snapshot taken when the record was
// created.
//
// The store follows repair-not-replace semantics. A missing or malformed
// field is regenerated individually from a freshly captured fingerprint;
// the record as a whole is discarded and rebuilt only when the backing
// file cannot be parsed at all, which is logged as a data-loss event.
// Once present and well-formed, serial number and key are never silently
// regenerated, even when hardware signals later drift.
package identity
