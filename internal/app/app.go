// Package app is the composition root: it wires configuration, logging,
// metrics, the fingerprint generator, the identity store, the activation
// client, and the local control API into one runnable agent. Every
// component is constructed exactly once here and passed by reference;
// nothing holds hidden global state.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"voxagent/internal/activation"
	"voxagent/internal/config"
	"voxagent/internal/fingerprint"
	"voxagent/internal/identity"
	"voxagent/internal/infrastructure"
	"voxagent/internal/presenter"
	"voxagent/internal/services"
	transporthttp "voxagent/internal/transport/http"
)

// Application bundles the wired components.
type Application struct {
	cfg       *config.Config
	logger    *slog.Logger
	providers *infrastructure.OTelProviders
	store     *identity.Store
	service   *services.ActivationService
	server    *transporthttp.Server
}

// New loads configuration and wires the agent.
func New() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	providers, err := infrastructure.InitializeOTel(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	generator := fingerprint.NewGenerator(logger)

	identityMetrics, err := identity.NewMetrics(providers.Meter(identity.MeterName))
	if err != nil {
		return nil, fmt.Errorf("failed to register identity metrics: %w", err)
	}
	store := identity.NewStore(cfg.IdentityPath(), generator, logger,
		identity.WithMetrics(identityMetrics))

	// The record must exist before the endpoint identifiers are derived;
	// a file that cannot be read or written only costs durability, not
	// identity, so the agent keeps going on the in-memory record.
	if err := store.EnsureRecord(); err != nil {
		logger.Warn("identity record not durable", slog.String("error", err.Error()))
	}

	clientID, err := cfg.EnsureClientID()
	if err != nil {
		return nil, fmt.Errorf("failed to establish client id: %w", err)
	}
	deviceID := cfg.Activation.DeviceID
	if deviceID == "" {
		deviceID = store.MACAddress()
	}

	activationMetrics, err := activation.NewMetrics(providers.Meter(activation.MeterName))
	if err != nil {
		return nil, fmt.Errorf("failed to register activation metrics: %w", err)
	}

	client := activation.NewClient(
		activation.Endpoint{
			BaseURL:  cfg.Activation.OTABaseURL,
			DeviceID: deviceID,
			ClientID: clientID,
		},
		store,
		presenter.NewLogPresenter(logger),
		logger,
		activation.WithOptions(activation.Options{
			MaxAttempts:    cfg.Activation.MaxAttempts,
			PollInterval:   cfg.Activation.PollInterval,
			RequestTimeout: cfg.Activation.RequestTimeout,
		}),
		activation.WithMetrics(activationMetrics),
	)

	service := services.NewActivationService(client, logger)

	var server *transporthttp.Server
	if cfg.Server.IsEnabled() {
		server = transporthttp.NewServer(cfg.Server, store, service, providers.PrometheusHTTP, logger)
	}

	logger.Info("agent wired",
		slog.String("serial_number", store.SerialNumber()),
		slog.Bool("activated", store.IsActivated()),
		slog.Bool("control_api", server != nil),
	)

	return &Application{
		cfg:       cfg,
		logger:    logger,
		providers: providers,
		store:     store,
		service:   service,
		server:    server,
	}, nil
}

// Activate runs one activation handshake synchronously.
func (a *Application) Activate(ctx context.Context, challenge activation.Challenge) (activation.Outcome, error) {
	return a.service.Run(ctx, challenge)
}

// Run serves the control API until ctx is cancelled, then shuts down
// cleanly. With the control API disabled it just waits for cancellation.
func (a *Application) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.server != nil {
		g.Go(a.server.ListenAndServe)
		g.Go(func() error {
			<-ctx.Done()
			return a.server.Shutdown(context.Background())
		})
	} else {
		g.Go(func() error {
			<-ctx.Done()
			return nil
		})
	}

	err := g.Wait()
	a.shutdown()
	return err
}

func (a *Application) shutdown() {
	if err := a.providers.Shutdown(context.Background()); err != nil {
		a.logger.Warn("metrics shutdown failed", slog.String("error", err.Error()))
	}
	infrastructure.CloseLogger()
}
