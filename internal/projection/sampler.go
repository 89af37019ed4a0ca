package projection

import (
	"context"
	"math/big"
	"time"

	"github.com/rs/zerolog"

	"github.com/NearDeFi/burrowland/internal/core"
	"github.com/NearDeFi/burrowland/internal/decimal"
	"github.com/NearDeFi/burrowland/internal/state"
)

const millisPerYear = 365 * 24 * 60 * 60 * 1000

// Executor runs a closure on the processor goroutine.
type Executor interface {
	Do(ctx context.Context, f func()) error
}

// Sampler periodically reads every asset's touched state off the processor
// goroutine and hands samples to the history worker. The handoff never
// blocks: if the worker is behind, the tick's samples are dropped.
type Sampler struct {
	core     *core.Core
	exec     Executor
	out      chan<- RateSample
	interval time.Duration
	logger   zerolog.Logger
}

func NewSampler(c *core.Core, exec Executor, out chan<- RateSample, interval time.Duration, logger zerolog.Logger) *Sampler {
	return &Sampler{
		core:     c,
		exec:     exec,
		out:      out,
		interval: interval,
		logger:   logger.With().Str("component", "rate_sampler").Logger(),
	}
}

func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sampler) tick(ctx context.Context) {
	nowMs := time.Now().UnixMilli()
	var samples []RateSample
	err := s.exec.Do(ctx, func() {
		for _, tokenID := range s.core.AssetIDs() {
			a, ok := s.core.GetAsset(tokenID)
			if !ok {
				continue
			}
			samples = append(samples, sampleAsset(tokenID, a, nowMs))
		}
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("rate sampling skipped")
		return
	}
	for _, sample := range samples {
		select {
		case s.out <- sample:
		default:
			s.logger.Warn().Str("token_id", sample.TokenID).Msg("rate sample dropped, worker behind")
		}
	}
}

func sampleAsset(tokenID string, a *state.Asset, nowMs int64) RateSample {
	asset := a.Clone()
	asset.Touch(nowMs)

	borrowAPR := uint64(0)
	if apr, err := asset.Rate().Pow(millisPerYear).Sub(decimal.One()); err == nil {
		borrowAPR = apr.Mul(decimal.FromInt(10000)).RoundBalance(false).Uint64()
	}

	utilization := uint64(0)
	supplyAPR := uint64(0)
	totalSupplied := new(big.Int).Add(asset.Supplied.Balance, asset.Reserved)
	if totalSupplied.Sign() > 0 {
		util := decimal.FromBalance(asset.Borrowed.Balance).Div(decimal.FromBalance(totalSupplied))
		utilization = util.Mul(decimal.FromInt(10000)).RoundBalance(false).Uint64()
		supplyAPR = decimal.FromInt(borrowAPR).
			Mul(util).
			MulRatio(decimal.MaxRatio - asset.Config.ReserveRatio).
			RoundBalance(false).
			Uint64()
	}

	return RateSample{
		TokenID:        tokenID,
		TimestampMs:    nowMs,
		BorrowAPRBps:   borrowAPR,
		SupplyAPRBps:   supplyAPR,
		UtilizationBps: utilization,
		Supplied:       asset.Supplied.Balance.String(),
		Borrowed:       asset.Borrowed.Balance.String(),
		Reserved:       asset.Reserved.String(),
	}
}
