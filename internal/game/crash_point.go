package game

import (
	"errors"
	"math"

	"github.com/rs/zerolog"
)

const (
	MinMultiplier = 1.00
)

// CrashPoint maps a uniform draw r in [0,1) to a crash multiplier:
// 1.0 when r < houseEdge, otherwise min(1/(1-r), maxMultiplier).
func CrashPoint(r, houseEdge, maxMultiplier float64) (float64, error) {
	if math.IsNaN(r) || r < 0 || r >= 1 {
		return MinMultiplier, &GeneratorRangeError{Draw: r}
	}
	if r < houseEdge {
		return MinMultiplier, nil
	}

	crash := 1 / (1 - r)
	if math.IsInf(crash, 1) || crash > maxMultiplier {
		crash = maxMultiplier
	}
	if crash < MinMultiplier {
		crash = MinMultiplier
	}
	return crash, nil
}

// CrashPointGenerator produces one crash point per round.
type CrashPointGenerator struct {
	source        RandomSource
	houseEdge     float64
	maxMultiplier float64
	logger        zerolog.Logger
}

func NewCrashPointGenerator(source RandomSource, houseEdge, maxMultiplier float64, logger zerolog.Logger) *CrashPointGenerator {
	return &CrashPointGenerator{
		source:        source,
		houseEdge:     houseEdge,
		maxMultiplier: maxMultiplier,
		logger:        logger,
	}
}

// Next draws a crash point. Any failure of the source degrades to an
// instant crash and is logged; it never returns an error to the driver.
func (g *CrashPointGenerator) Next() float64 {
	r, err := g.source.Float64()
	if err != nil {
		g.logger.Error().Err(err).Msg("random source failed, forcing instant crash")
		return MinMultiplier
	}

	crash, err := CrashPoint(r, g.houseEdge, g.maxMultiplier)
	if err != nil {
		var rangeErr *GeneratorRangeError
		if errors.As(err, &rangeErr) {
			g.logger.Error().Float64("draw", rangeErr.Draw).Msg("generator range anomaly, forcing instant crash")
		}
		return MinMultiplier
	}
	return crash
}
