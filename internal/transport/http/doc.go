// Package http serves the local control API: identity inspection,
// activation start/cancel/status, health, and the Prometheus scrape
// endpoint. The server binds to the configured local port and is not
// meant to be exposed beyond the device.
package http
