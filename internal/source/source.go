// Package source produces heart-rate samples for the sensor node.
package source

import (
	"context"
	"time"
)

// EmitFunc receives one sample. It must not block.
type EmitFunc func(heartRate float64, ts time.Time)

// HeartRateSource pushes samples to emit until ctx ends or the source is exhausted.
type HeartRateSource interface {
	Run(ctx context.Context, emit EmitFunc) error
}
