package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"voxagent/internal/identity"
)

// IdentityHandler serves read-only identity state. The HMAC key never
// leaves the process; only its presence is reported.
type IdentityHandler struct {
	store  *identity.Store
	logger *slog.Logger
}

// NewIdentityHandler creates an identity handler.
func NewIdentityHandler(store *identity.Store, logger *slog.Logger) *IdentityHandler {
	return &IdentityHandler{
		store:  store,
		logger: logger.With(slog.String("handler", "identity")),
	}
}

// IdentityResponse is the public view of the identity record.
type IdentityResponse struct {
	SerialNumber      string `json:"serial_number"`
	MACAddress        string `json:"mac_address,omitempty"`
	Activated         bool   `json:"activated"`
	HMACKeyPresent    bool   `json:"hmac_key_present"`
	FingerprintStored bool   `json:"fingerprint_stored"`
}

// Identity handles GET /api/identity.
func (h *IdentityHandler) Identity(w http.ResponseWriter, r *http.Request) {
	record := h.store.Record()
	render.JSON(w, r, IdentityResponse{
		SerialNumber:      record.SerialNumber,
		MACAddress:        h.store.MACAddress(),
		Activated:         record.ActivationStatus,
		HMACKeyPresent:    record.HMACKey != "",
		FingerprintStored: record.DeviceFingerprint != nil,
	})
}
