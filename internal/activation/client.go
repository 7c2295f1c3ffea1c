package activation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"voxagent/internal/identity"
	"voxagent/internal/presenter"
)

const (
	// activationVersion is the protocol version marker sent on every
	// request.
	activationVersion = "2"

	defaultMaxAttempts    = 60
	defaultPollInterval   = 5 * time.Second
	defaultRequestTimeout = 10 * time.Second

	// unknownDeviceHintEvery controls how often a repeated
	// device-not-found rejection triggers the operator hint.
	unknownDeviceHintEvery = 5
)

// Endpoint is the configured activation target: the OTA base URL and the
// identifiers sent as request headers.
type Endpoint struct {
	BaseURL  string
	DeviceID string
	ClientID string
}

// ActivateURL joins the base URL with the activate route, tolerating a
// base configured with or without a trailing slash.
func (e Endpoint) ActivateURL() string {
	return strings.TrimRight(e.BaseURL, "/") + "/activate"
}

// Options tunes the polling loop. Zero values fall back to the protocol
// defaults: 60 attempts, 5s interval, 10s request timeout.
type Options struct {
	MaxAttempts    int
	PollInterval   time.Duration
	RequestTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = defaultRequestTimeout
	}
	return o
}

// sleepFunc waits for d or until ctx is done, returning ctx.Err() in the
// latter case. Injectable so the loop-timing tests run without real time.
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Client executes the challenge-response activation protocol against the
// configured endpoint. One run at a time; a second Process call while one
// is in flight is rejected.
type Client struct {
	endpoint  Endpoint
	opts      Options
	store     *identity.Store
	presenter presenter.CodePresenter
	http      *http.Client
	sleep     sleepFunc
	logger    *slog.Logger
	metrics   *Metrics

	mu      sync.Mutex
	state   State
	running bool
	cancel  context.CancelFunc
}

// ClientOption customizes a Client at construction time.
type ClientOption func(*Client)

// WithOptions overrides the polling defaults.
func WithOptions(opts Options) ClientOption {
	return func(c *Client) { c.opts = opts.withDefaults() }
}

// WithHTTPClient substitutes the transport, keeping the configured request
// timeout authoritative.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithMetrics attaches OpenTelemetry instruments.
func WithMetrics(m *Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

func withSleep(fn sleepFunc) ClientOption {
	return func(c *Client) { c.sleep = fn }
}

// NewClient creates an activation client bound to one identity store and
// one presentation sink.
func NewClient(endpoint Endpoint, store *identity.Store, sink presenter.CodePresenter, logger *slog.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		endpoint:  endpoint,
		opts:      Options{}.withDefaults(),
		store:     store,
		presenter: sink,
		sleep:     sleepContext,
		logger:    logger.With(slog.String("component", "activation")),
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: c.opts.RequestTimeout}
	}
	return c
}

// State returns the current lifecycle position.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Cancel requests cancellation of the in-flight run. It is observed at
// the next suspension point: the inter-attempt sleep, or promptly while a
// request is outstanding. A no-op when nothing is running.
func (c *Client) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		c.logger.Info("activation cancellation requested")
		cancel()
	}
}

// Process runs one activation handshake to completion and returns its
// terminal outcome. All retry and error detail stays in the log; the
// verification code and message are the only operator-visible content.
func (c *Client) Process(ctx context.Context, challenge Challenge) Outcome {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		c.logger.Error("activation already in flight, rejecting concurrent run")
		return Outcome{State: StateFailed, Message: "activation already in progress"}
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		c.running = false
		c.cancel = nil
		c.mu.Unlock()
	}()

	outcome := c.run(runCtx, challenge)
	c.setState(outcome.State)
	c.metrics.addOutcome(outcome.State)
	return outcome
}

func (c *Client) run(ctx context.Context, challenge Challenge) Outcome {
	if challenge.Challenge == "" || challenge.Code == "" {
		c.logger.Error("activation precondition failed",
			slog.Bool("challenge_present", challenge.Challenge != ""),
			slog.Bool("code_present", challenge.Code != ""),
		)
		return Outcome{State: StateFailed, Message: "missing challenge or verification code"}
	}

	c.setState(StatePreparing)
	if err := c.store.EnsureRecord(); err != nil {
		c.logger.Warn("identity record not durable, continuing with cached record",
			slog.String("error", err.Error()))
	}

	// The operator sees the code once up front; later attempts re-present
	// it in case nobody has acted yet.
	c.presenter.PresentCode(challenge.Code, challenge.Message)

	c.setState(StatePolling)
	c.logger.Info("activation polling started",
		slog.String("url", c.endpoint.ActivateURL()),
		slog.String("serial_number", c.store.SerialNumber()),
		slog.Int("max_attempts", c.opts.MaxAttempts),
		slog.Duration("interval", c.opts.PollInterval),
	)

	var (
		lastError       string
		unknownStreak   int
		attemptsStarted int
	)

	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			c.presenter.PresentCode(challenge.Code, challenge.Message)
		}

		attemptsStarted = attempt
		result, err := c.attempt(ctx, challenge, attempt)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("activation cancelled during request", slog.Int("attempt", attempt))
				return Outcome{State: StateCancelled, Attempts: attempt}
			}
			// Transient network failure, always retryable.
			c.logger.Warn("activation request failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		} else {
			switch {
			case result.status == http.StatusOK:
				if !c.store.SetActivationStatus(true) {
					c.logger.Error("activation confirmed but status not persisted")
				}
				c.logger.Info("device activated", slog.Int("attempt", attempt))
				return Outcome{State: StateActivated, Attempts: attempt}

			case result.status == http.StatusAccepted:
				c.logger.Debug("activation pending operator action", slog.Int("attempt", attempt))

			default:
				if result.errorMessage != lastError {
					c.logger.Warn("activation rejected by server",
						slog.Int("attempt", attempt),
						slog.Int("status", result.status),
						slog.String("error", result.errorMessage),
					)
				}
				lastError = result.errorMessage

				if isUnknownDevice(result.errorMessage) {
					unknownStreak++
					if unknownStreak%unknownDeviceHintEvery == 0 {
						c.logger.Info("server still does not recognize this device; ask the operator to refresh the verification page and re-enter the code")
					}
				} else {
					unknownStreak = 0
				}
			}
		}

		if attempt == c.opts.MaxAttempts {
			break
		}
		if err := c.sleep(ctx, c.opts.PollInterval); err != nil {
			c.logger.Info("activation cancelled between attempts", slog.Int("attempts", attempt))
			return Outcome{State: StateCancelled, Attempts: attempt}
		}
	}

	if lastError == "" {
		lastError = "unknown error"
	}
	c.logger.Error("activation attempts exhausted",
		slog.Int("attempts", attemptsStarted),
		slog.String("last_error", lastError),
	)
	return Outcome{State: StateFailed, Message: lastError, Attempts: attemptsStarted}
}

// attemptResult is one classified server response.
type attemptResult struct {
	status       int
	errorMessage string
}

// attempt issues exactly one signed POST and classifies the response.
func (c *Client) attempt(ctx context.Context, challenge Challenge, attempt int) (attemptResult, error) {
	start := time.Now()

	signature, err := c.store.SignChallenge(challenge.Challenge)
	if err != nil {
		// Local signing failure: no key or empty challenge. Not a network
		// fault, but retried identically since repair may restore the key.
		c.metrics.addAttempt("signing_error", time.Since(start))
		return attemptResult{}, fmt.Errorf("failed to sign challenge: %w", err)
	}

	body, err := json.Marshal(activateRequest{
		Payload: activatePayload{
			Algorithm:    "hmac-sha256",
			SerialNumber: c.store.SerialNumber(),
			Challenge:    challenge.Challenge,
			HMAC:         signature,
		},
	})
	if err != nil {
		c.metrics.addAttempt("encode_error", time.Since(start))
		return attemptResult{}, fmt.Errorf("failed to encode activation payload: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint.ActivateURL(), bytes.NewReader(body))
	if err != nil {
		c.metrics.addAttempt("request_error", time.Since(start))
		return attemptResult{}, fmt.Errorf("failed to build activation request: %w", err)
	}
	req.Header.Set("Activation-Version", activationVersion)
	req.Header.Set("Device-Id", c.endpoint.DeviceID)
	req.Header.Set("Client-Id", c.endpoint.ClientID)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.addAttempt("network_error", time.Since(start))
		return attemptResult{}, fmt.Errorf("activation request failed: %w", err)
	}
	defer resp.Body.Close()

	result := attemptResult{status: resp.StatusCode}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		result.errorMessage = parseServerError(resp.Body, resp.StatusCode)
	}

	c.metrics.addAttempt(fmt.Sprintf("status_%d", resp.StatusCode), time.Since(start))
	return result, nil
}

func (c *Client) setState(state State) {
	c.mu.Lock()
	previous := c.state
	c.state = state
	c.mu.Unlock()
	if previous != state {
		c.logger.Debug("activation state changed",
			slog.String("from", previous.String()),
			slog.String("to", state.String()),
		)
	}
}

// activateRequest is the wire body. The server expects the capitalized
// envelope key.
type activateRequest struct {
	Payload activatePayload `json:"Payload"`
}

type activatePayload struct {
	Algorithm    string `json:"algorithm"`
	SerialNumber string `json:"serial_number"`
	Challenge    string `json:"challenge"`
	HMAC         string `json:"hmac"`
}

type serverError struct {
	Error string `json:"error"`
}

// parseServerError extracts the server's error string, falling back to a
// generic status-code message when the body is unparseable or silent.
func parseServerError(body io.Reader, status int) string {
	data, err := io.ReadAll(io.LimitReader(body, 64*1024))
	if err == nil {
		var parsed serverError
		if json.Unmarshal(data, &parsed) == nil && parsed.Error != "" {
			return parsed.Error
		}
	}
	return fmt.Sprintf("server error (status %d)", status)
}

// isUnknownDevice reports whether a server rejection reads like the
// device or serial not being registered yet.
func isUnknownDevice(message string) bool {
	lower := strings.ToLower(message)
	for _, marker := range []string{"not found", "unknown device", "unknown serial", "unrecognized", "not registered"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
