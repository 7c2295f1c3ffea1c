// Package fingerprint derives a stable hardware identity from locally
// readable signals: hostname, the primary network MAC address, and the
// platform machine identifier.
//
// Every signal is best-effort. A signal that cannot be read is simply
// absent from the resulting Fingerprint; capture itself never fails.
// Derived values (hardware hash, serial number) degrade gracefully as
// signals disappear, down to a platform-name-only hash that is logged
// as a weak-identity condition.
package fingerprint
