package http

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxagent/internal/activation"
	"voxagent/internal/config"
	"voxagent/internal/fingerprint"
	"voxagent/internal/identity"
	"voxagent/internal/presenter"
	"voxagent/internal/services"
)

func boolPtr(b bool) *bool { return &b }

func testServerConfig() config.ServerConfig {
	return config.ServerConfig{
		Enabled:         boolPtr(true),
		Port:            0,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
		ShutdownTimeout: time.Second,
		RateLimit:       config.RateLimitConfig{Enabled: boolPtr(false)},
	}
}

func testFixtures(t *testing.T, activationHandler http.HandlerFunc) (*identity.Store, *services.ActivationService) {
	t.Helper()
	upstream := httptest.NewServer(activationHandler)
	t.Cleanup(upstream.Close)

	hw, err := net.ParseMAC("aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	generator := fingerprint.NewGeneratorWithSources(nil,
		func() (string, error) { return "test-host", nil },
		func() ([]net.Interface, error) {
			return []net.Interface{{Name: "eth0", Flags: net.FlagUp, HardwareAddr: hw}}, nil
		},
		func() (string, error) { return "test-machine-id", nil },
	)
	store := identity.NewStore(filepath.Join(t.TempDir(), "identity.json"), generator, nil)

	client := activation.NewClient(
		activation.Endpoint{BaseURL: upstream.URL, DeviceID: "device-1", ClientID: "client-1"},
		store,
		presenter.NewLogPresenter(nil),
		nil,
		activation.WithOptions(activation.Options{MaxAttempts: 2, PollInterval: time.Millisecond}),
	)
	return store, services.NewActivationService(client, nil)
}

func TestHealthEndpoint(t *testing.T) {
	store, service := testFixtures(t, func(w http.ResponseWriter, r *http.Request) {})
	server := NewServer(testServerConfig(), store, service, nil, nil)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.False(t, body.Activated)
}

func TestIdentityEndpointHidesKey(t *testing.T) {
	store, service := testFixtures(t, func(w http.ResponseWriter, r *http.Request) {})
	server := NewServer(testServerConfig(), store, service, nil, nil)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/identity", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body IdentityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Regexp(t, `^SN-`, body.SerialNumber)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", body.MACAddress)
	assert.True(t, body.HMACKeyPresent)
	assert.NotContains(t, rec.Body.String(), store.HMACKey())
}

func TestActivateEndpointLifecycle(t *testing.T) {
	store, service := testFixtures(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := NewServer(testServerConfig(), store, service, nil, nil)

	body := strings.NewReader(`{"challenge":"nonce","code":"123456","message":"enter the code"}`)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/activate/", body))
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		return store.IsActivated()
	}, 2*time.Second, 10*time.Millisecond)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/activate/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status services.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "activated", status.State)
}

func TestActivateEndpointValidation(t *testing.T) {
	store, service := testFixtures(t, func(w http.ResponseWriter, r *http.Request) {})
	server := NewServer(testServerConfig(), store, service, nil, nil)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"not json", "{nope", http.StatusBadRequest},
		{"missing code", `{"challenge":"nonce"}`, http.StatusBadRequest},
		{"missing challenge", `{"code":"123456"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/activate/", strings.NewReader(tt.body)))
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestCancelWithoutRunConflicts(t *testing.T) {
	store, service := testFixtures(t, func(w http.ResponseWriter, r *http.Request) {})
	server := NewServer(testServerConfig(), store, service, nil, nil)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/activate/cancel", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRateLimit(t *testing.T) {
	store, service := testFixtures(t, func(w http.ResponseWriter, r *http.Request) {})
	cfg := testServerConfig()
	cfg.RateLimit = config.RateLimitConfig{Enabled: boolPtr(true), RPS: 1, Burst: 2}
	server := NewServer(cfg, store, service, nil, nil)

	var limited bool
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if rec.Code == http.StatusTooManyRequests {
			limited = true
		}
	}
	assert.True(t, limited)
}
