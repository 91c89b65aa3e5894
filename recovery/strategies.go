package recovery

import (
	"fmt"

	"github.com/wudi/handoutify/observability"
)

// StrictStrategy implements a fail-fast recovery strategy.
type StrictStrategy struct{}

func NewStrictStrategy() *StrictStrategy {
	return &StrictStrategy{}
}

func (s *StrictStrategy) OnError(err error, location Location) Action {
	return ActionFail
}

// LenientStrategy keeps going past recoverable errors. Every error is kept
// in Errors and reported through the logger.
type LenientStrategy struct {
	Errors []error
	logger observability.Logger
}

func NewLenientStrategy(logger observability.Logger) *LenientStrategy {
	if logger == nil {
		logger = observability.NopLogger{}
	}
	return &LenientStrategy{logger: logger}
}

func (s *LenientStrategy) OnError(err error, location Location) Action {
	s.Errors = append(s.Errors, fmt.Errorf("%s: %w", location, err))
	s.logger.Warn("recovered from malformed input",
		observability.String("component", location.Component),
		observability.Int64("offset", location.ByteOffset),
		observability.Error("error", err))
	return ActionFix
}
