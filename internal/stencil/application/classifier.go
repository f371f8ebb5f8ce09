// Package application runs the overdue stencil classification and the
// notification gate that guards the persisted alert flag.
package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"es-schedule/internal/stencil/domain"
)

// AssetReader loads active stencils with their latest deployment.
type AssetReader interface {
	ListActive(ctx context.Context) ([]domain.Asset, error)
}

// Clock provides current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Classifier selects and orders overdue stencils.
type Classifier struct {
	reader     AssetReader
	thresholds domain.Thresholds
	clock      Clock
}

// ClassifierOption configures the classifier.
type ClassifierOption func(*Classifier)

// WithThresholds overrides the tier thresholds.
func WithThresholds(th domain.Thresholds) ClassifierOption {
	return func(c *Classifier) {
		if th.DaysOnline > 0 {
			c.thresholds.DaysOnline = th.DaysOnline
		}
		if th.UsageRate.IsPositive() {
			c.thresholds.UsageRate = th.UsageRate
		}
	}
}

// WithClassifierClock overrides the clock.
func WithClassifierClock(clock Clock) ClassifierOption {
	return func(c *Classifier) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// NewClassifier constructs a classifier.
func NewClassifier(reader AssetReader, opts ...ClassifierOption) (*Classifier, error) {
	if reader == nil {
		return nil, errors.New("stencil: nil asset reader")
	}
	c := &Classifier{reader: reader, thresholds: domain.DefaultThresholds(), clock: systemClock{}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Thresholds returns the effective thresholds.
func (c *Classifier) Thresholds() domain.Thresholds {
	return c.thresholds
}

// Classify returns the overdue stencils in digest order.
func (c *Classifier) Classify(ctx context.Context) ([]domain.Asset, error) {
	assets, err := c.reader.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("stencil: load assets: %w", err)
	}
	return domain.Evaluate(assets, c.clock.Now(), c.thresholds), nil
}
