package activation

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxagent/internal/fingerprint"
	"voxagent/internal/identity"
)

func testStore(t *testing.T) *identity.Store {
	t.Helper()
	hw, err := net.ParseMAC("aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	generator := fingerprint.NewGeneratorWithSources(nil,
		func() (string, error) { return "test-host", nil },
		func() ([]net.Interface, error) {
			return []net.Interface{{Name: "eth0", Flags: net.FlagUp, HardwareAddr: hw}}, nil
		},
		func() (string, error) { return "test-machine-id", nil },
	)
	return identity.NewStore(filepath.Join(t.TempDir(), "identity.json"), generator, nil)
}

// fakeSleep records requested delays and optionally runs a hook per call.
type fakeSleep struct {
	delays []time.Duration
	hook   func(call int)
}

func (f *fakeSleep) sleep(ctx context.Context, d time.Duration) error {
	f.delays = append(f.delays, d)
	if f.hook != nil {
		f.hook(len(f.delays))
	}
	return ctx.Err()
}

// recordingPresenter counts code presentations.
type recordingPresenter struct {
	calls int32
	code  string
}

func (p *recordingPresenter) PresentCode(code, message string) {
	atomic.AddInt32(&p.calls, 1)
	p.code = code
}

func newTestClient(t *testing.T, serverURL string, store *identity.Store, sleep *fakeSleep, opts Options, logger *slog.Logger) (*Client, *recordingPresenter) {
	t.Helper()
	sink := &recordingPresenter{}
	client := NewClient(
		Endpoint{BaseURL: serverURL, DeviceID: "device-1", ClientID: "client-1"},
		store,
		sink,
		logger,
		WithOptions(opts),
		withSleep(sleep.sleep),
	)
	return client, sink
}

func TestActivateURLTrailingSlash(t *testing.T) {
	assert.Equal(t, "https://ota.example.com/activate",
		Endpoint{BaseURL: "https://ota.example.com"}.ActivateURL())
	assert.Equal(t, "https://ota.example.com/activate",
		Endpoint{BaseURL: "https://ota.example.com/"}.ActivateURL())
	assert.Equal(t, "https://ota.example.com/v2/activate",
		Endpoint{BaseURL: "https://ota.example.com/v2//"}.ActivateURL())
}

func TestProcessRejectsMissingPreconditions(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
	}))
	defer server.Close()

	sleep := &fakeSleep{}
	client, sink := newTestClient(t, server.URL, testStore(t), sleep, Options{}, nil)

	tests := []struct {
		name      string
		challenge Challenge
	}{
		{"empty code", Challenge{Challenge: "nonce", Code: ""}},
		{"empty challenge", Challenge{Challenge: "", Code: "123456"}},
		{"both empty", Challenge{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome := client.Process(context.Background(), tt.challenge)

			assert.Equal(t, StateFailed, outcome.State)
			assert.Equal(t, 0, outcome.Attempts)
			assert.Zero(t, atomic.LoadInt32(&requests))
			assert.Empty(t, sleep.delays)
			assert.Zero(t, atomic.LoadInt32(&sink.calls))
		})
	}
}

func TestProcessActivatesAfterPendingResponses(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&requests, 1)
		if n < 6 {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := testStore(t)
	sleep := &fakeSleep{}
	client, sink := newTestClient(t, server.URL, store, sleep, Options{PollInterval: 5 * time.Second}, nil)

	outcome := client.Process(context.Background(), Challenge{Challenge: "nonce", Code: "482913", Message: "enter the code"})

	assert.Equal(t, StateActivated, outcome.State)
	assert.Equal(t, 6, outcome.Attempts)
	assert.EqualValues(t, 6, atomic.LoadInt32(&requests))
	assert.True(t, store.IsActivated())

	// Five full intervals elapse between the six attempts: 25s simulated.
	require.Len(t, sleep.delays, 5)
	var total time.Duration
	for _, d := range sleep.delays {
		assert.Equal(t, 5*time.Second, d)
		total += d
	}
	assert.Equal(t, 25*time.Second, total)

	// Presented once up front, then re-presented before attempts 2..6.
	assert.EqualValues(t, 6, atomic.LoadInt32(&sink.calls))
	assert.Equal(t, "482913", sink.code)
}

func TestProcessCancelledDuringSleep(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sleep := &fakeSleep{}
	client, _ := newTestClient(t, server.URL, testStore(t), sleep, Options{}, nil)
	sleep.hook = func(call int) {
		if call == 2 {
			client.Cancel()
		}
	}

	outcome := client.Process(context.Background(), Challenge{Challenge: "nonce", Code: "482913"})

	assert.Equal(t, StateCancelled, outcome.State)
	assert.Equal(t, 2, outcome.Attempts)
	assert.LessOrEqual(t, atomic.LoadInt32(&requests), int32(2))
}

func TestProcessCancelledDuringRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server watches the connection and cancels
		// the request context when the client goes away.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer server.Close()

	sleep := &fakeSleep{}
	client, _ := newTestClient(t, server.URL, testStore(t), sleep, Options{}, nil)

	go func() {
		time.Sleep(50 * time.Millisecond)
		client.Cancel()
	}()

	outcome := client.Process(context.Background(), Challenge{Challenge: "nonce", Code: "482913"})

	assert.Equal(t, StateCancelled, outcome.State)
	assert.Equal(t, 1, outcome.Attempts)
}

func TestProcessExhaustsAttemptsOnServerErrors(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("<html>not json</html>"))
	}))
	defer server.Close()

	sleep := &fakeSleep{}
	client, _ := newTestClient(t, server.URL, testStore(t), sleep, Options{}, nil)

	outcome := client.Process(context.Background(), Challenge{Challenge: "nonce", Code: "482913"})

	assert.Equal(t, StateFailed, outcome.State)
	assert.Equal(t, 60, outcome.Attempts)
	assert.EqualValues(t, 60, atomic.LoadInt32(&requests))
	assert.Equal(t, "server error (status 500)", outcome.Message)
	// No sleep after the final attempt.
	assert.Len(t, sleep.delays, 59)
}

func TestProcessRetriesNetworkErrors(t *testing.T) {
	// A closed server makes every request fail at the transport level.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	sleep := &fakeSleep{}
	client, _ := newTestClient(t, server.URL, testStore(t), sleep, Options{MaxAttempts: 3}, nil)

	outcome := client.Process(context.Background(), Challenge{Challenge: "nonce", Code: "482913"})

	assert.Equal(t, StateFailed, outcome.State)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, "unknown error", outcome.Message)
}

func TestProcessSendsSignedPayload(t *testing.T) {
	type captured struct {
		headers http.Header
		body    []byte
	}
	var got captured
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.headers = r.Header.Clone()
		got.body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := testStore(t)
	sleep := &fakeSleep{}
	client, _ := newTestClient(t, server.URL, store, sleep, Options{}, nil)

	outcome := client.Process(context.Background(), Challenge{Challenge: "nonce-42", Code: "482913"})
	require.Equal(t, StateActivated, outcome.State)

	assert.Equal(t, "2", got.headers.Get("Activation-Version"))
	assert.Equal(t, "device-1", got.headers.Get("Device-Id"))
	assert.Equal(t, "client-1", got.headers.Get("Client-Id"))
	assert.Equal(t, "application/json", got.headers.Get("Content-Type"))

	var req activateRequest
	require.NoError(t, json.Unmarshal(got.body, &req))
	assert.Equal(t, "hmac-sha256", req.Payload.Algorithm)
	assert.Equal(t, store.SerialNumber(), req.Payload.SerialNumber)
	assert.Equal(t, "nonce-42", req.Payload.Challenge)

	mac := hmac.New(sha256.New, []byte(store.HMACKey()))
	mac.Write([]byte("nonce-42"))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), req.Payload.HMAC)
}

func TestProcessDeduplicatesRepeatedErrorLogs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid signature"})
	}))
	defer server.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	sleep := &fakeSleep{}
	client, _ := newTestClient(t, server.URL, testStore(t), sleep, Options{MaxAttempts: 4}, logger)

	outcome := client.Process(context.Background(), Challenge{Challenge: "nonce", Code: "482913"})

	assert.Equal(t, StateFailed, outcome.State)
	assert.Equal(t, "invalid signature", outcome.Message)
	assert.Equal(t, 1, strings.Count(buf.String(), "activation rejected by server"))
}

func TestProcessHintsOnRepeatedUnknownDevice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "device not found"})
	}))
	defer server.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	sleep := &fakeSleep{}
	client, _ := newTestClient(t, server.URL, testStore(t), sleep, Options{MaxAttempts: 10}, logger)

	outcome := client.Process(context.Background(), Challenge{Challenge: "nonce", Code: "482913"})

	assert.Equal(t, StateFailed, outcome.State)
	assert.Equal(t, 2, strings.Count(buf.String(), "refresh the verification page"))
}

func TestProcessRejectsConcurrentRun(t *testing.T) {
	client, _ := newTestClient(t, "http://127.0.0.1:0", testStore(t), &fakeSleep{}, Options{}, nil)

	client.mu.Lock()
	client.running = true
	client.mu.Unlock()

	outcome := client.Process(context.Background(), Challenge{Challenge: "nonce", Code: "482913"})
	assert.Equal(t, StateFailed, outcome.State)
	assert.Equal(t, "activation already in progress", outcome.Message)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "polling", StatePolling.String())
	assert.Equal(t, "cancelled", StateCancelled.String())
	assert.True(t, StateActivated.Terminal())
	assert.False(t, StatePolling.Terminal())
}
