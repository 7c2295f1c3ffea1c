// Package presenter defines the sink that surfaces a human verification
// code to the operator. Presentation is fire-and-forget: a failing sink is
// logged, never propagated into the activation flow.
package presenter

import "log/slog"

// CodePresenter surfaces a verification code and its instructional message
// to the operator. Implementations may speak, display, or copy the code;
// they must not block the caller for long and must swallow their own
// failures.
type CodePresenter interface {
	PresentCode(code, message string)
}

// LogPresenter writes the code and message to the structured log. It is
// the default sink when no richer output channel is wired in.
type LogPresenter struct {
	logger *slog.Logger
}

// NewLogPresenter creates a presenter writing to logger.
func NewLogPresenter(logger *slog.Logger) *LogPresenter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPresenter{logger: logger.With(slog.String("component", "presenter"))}
}

// PresentCode implements CodePresenter.
func (p *LogPresenter) PresentCode(code, message string) {
	p.logger.Info("verification code ready for operator",
		slog.String("code", code),
		slog.String("message", message),
	)
}
