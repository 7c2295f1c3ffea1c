package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"voxagent/internal/activation"
	"voxagent/internal/app"
)

func main() {
	var (
		challenge = flag.String("challenge", "", "activation challenge issued by the server")
		code      = flag.String("code", "", "human verification code to present to the operator")
		message   = flag.String("message", "", "instructional message shown with the code")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New()
	if err != nil {
		slog.Error("failed to initialize agent", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// A challenge supplied on the command line runs one activation
	// handshake and exits; otherwise the agent serves its control API
	// until interrupted.
	if *challenge != "" || *code != "" {
		outcome, err := application.Activate(ctx, activation.Challenge{
			Challenge: *challenge,
			Code:      *code,
			Message:   *message,
		})
		if err != nil {
			slog.Error("activation did not start", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if outcome.State != activation.StateActivated {
			slog.Error("activation did not complete",
				slog.String("state", outcome.State.String()),
				slog.String("message", outcome.Message),
			)
			os.Exit(1)
		}
		return
	}

	if err := application.Run(ctx); err != nil {
		slog.Error("agent terminated with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
