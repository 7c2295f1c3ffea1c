// Package services holds the thin orchestration layer between the
// transport surface and the domain components.
package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"voxagent/internal/activation"
)

var (
	// ErrAlreadyRunning is returned when a run is requested while one is
	// in flight.
	ErrAlreadyRunning = errors.New("activation run already in progress")

	// ErrNotRunning is returned when cancellation is requested with no run
	// in flight.
	ErrNotRunning = errors.New("no activation run in progress")
)

// ActivationService serializes access to the activation client: one run
// at a time, started synchronously or in the background, cancellable, with
// the last terminal outcome retained for status queries.
type ActivationService struct {
	client *activation.Client
	logger *slog.Logger

	mu          sync.Mutex
	running     bool
	cancel      context.CancelFunc
	lastOutcome *activation.Outcome
}

// NewActivationService wraps client.
func NewActivationService(client *activation.Client, logger *slog.Logger) *ActivationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ActivationService{
		client: client,
		logger: logger.With(slog.String("service", "activation")),
	}
}

// Run executes one activation handshake synchronously and returns its
// terminal outcome.
func (s *ActivationService) Run(ctx context.Context, challenge activation.Challenge) (activation.Outcome, error) {
	runCtx, err := s.begin(ctx)
	if err != nil {
		return activation.Outcome{}, err
	}
	outcome := s.client.Process(runCtx, challenge)
	s.finish(outcome)
	return outcome, nil
}

// Start launches an activation run in the background. The outcome is
// retrievable via Status once the run terminates.
func (s *ActivationService) Start(challenge activation.Challenge) error {
	runCtx, err := s.begin(context.Background())
	if err != nil {
		return err
	}
	go func() {
		outcome := s.client.Process(runCtx, challenge)
		s.finish(outcome)
	}()
	return nil
}

// Cancel requests cancellation of the in-flight run. The service owns the
// run's context, so cancellation takes effect even if it lands before the
// client has issued its first request.
func (s *ActivationService) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ErrNotRunning
	}
	s.cancel()
	return nil
}

// Status describes the current run state and the last terminal outcome.
type Status struct {
	State       string              `json:"state"`
	Running     bool                `json:"running"`
	LastOutcome *activation.Outcome `json:"last_outcome,omitempty"`
}

// Status reports the service's view of the activation lifecycle.
func (s *ActivationService) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:       s.client.State().String(),
		Running:     s.running,
		LastOutcome: s.lastOutcome,
	}
}

func (s *ActivationService) begin(ctx context.Context) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil, ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	return runCtx, nil
}

func (s *ActivationService) finish(outcome activation.Outcome) {
	s.mu.Lock()
	s.running = false
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.lastOutcome = &outcome
	s.mu.Unlock()
	s.logger.Info("activation run finished",
		slog.String("state", outcome.State.String()),
		slog.Int("attempts", outcome.Attempts),
	)
}
