// Package capture turns a capture request into raw image bytes by walking an
// ordered chain of platform screenshot strategies.
package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// ErrExhausted reports that every strategy in the chain failed.
var ErrExhausted = errors.New("all capture strategies failed")

// Strategy is one way of taking a screenshot. Grab either returns image bytes
// or an error that escalates to the next strategy in the chain.
type Strategy struct {
	Name string
	Grab func(ctx context.Context) ([]byte, error)
}

type Adapter struct {
	strategies []Strategy
	log        zerolog.Logger
}

// New builds an adapter with the default strategy chain for the current
// platform.
func New(log zerolog.Logger) *Adapter {
	return NewWithStrategies(log, platformStrategies())
}

func NewWithStrategies(log zerolog.Logger, strategies []Strategy) *Adapter {
	return &Adapter{strategies: strategies, log: log}
}

// Capture tries each strategy in order and stops at the first success. There
// are no retries within a strategy. When every strategy fails the returned
// error wraps ErrExhausted together with the per-strategy reasons.
func (a *Adapter) Capture(ctx context.Context) ([]byte, error) {
	if len(a.strategies) == 0 {
		return nil, fmt.Errorf("%w: no strategies for this platform", ErrExhausted)
	}

	var reasons []string
	for _, s := range a.strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := s.Grab(ctx)
		if err == nil && len(img) > 0 {
			a.log.Debug().Str("strategy", s.Name).Int("bytes", len(img)).Msg("captured")
			return img, nil
		}
		if err == nil {
			err = errors.New("empty image")
		}
		a.log.Debug().Str("strategy", s.Name).Err(err).Msg("capture strategy failed, escalating")
		reasons = append(reasons, fmt.Sprintf("%s: %v", s.Name, err))
	}
	return nil, fmt.Errorf("%w: %s", ErrExhausted, strings.Join(reasons, "; "))
}
