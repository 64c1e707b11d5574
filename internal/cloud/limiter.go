package cloud

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/tfconvoy/tfconvoy/internal/core/ports"
)

const (
	defaultRateLimitRPS = 20
	minRateLimitRPS     = 1
	maxRateLimitRPS     = 100
)

// Limiter throttles bulk cloud API loops. Clean sweeps list, download and
// delete many objects back to back and would otherwise burst well past the
// provider's comfortable request rate.
type Limiter struct {
	limiter *rate.Limiter
}

func NewLimiter(rps int, logger ports.Logger) *Limiter {
	value := defaultRateLimitRPS
	if rps >= minRateLimitRPS && rps <= maxRateLimitRPS {
		value = rps
	} else if rps != 0 {
		logger.Warnf(context.Background(),
			"invalid cloud API RPS configured (%d), using default %d. Valid range: %d-%d.",
			rps, defaultRateLimitRPS, minRateLimitRPS, maxRateLimitRPS)
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(value), value)}
}

func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}
