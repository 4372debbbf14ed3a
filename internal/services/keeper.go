package services

import (
	"context"
	"time"

	"github.com/google/logger"
)

// Keeper performs upkeep: it triggers a draw whenever the raffle becomes eligible.
type Keeper struct {
	Raffle   *Raffle
	Interval time.Duration
	Now      func() time.Time
}

// Run checks upkeep every Interval until ctx is cancelled.
func (k *Keeper) Run(ctx context.Context) {
	ticker := time.NewTicker(k.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			k.Tick(ctx)
		}
	}
}

// Tick triggers a draw if one is due and reports whether it did.
func (k *Keeper) Tick(ctx context.Context) bool {
	now := time.Now()
	if k.Now != nil {
		now = k.Now()
	}
	ok, _ := k.Raffle.CheckEligibility(now)
	if !ok {
		return false
	}
	id, err := k.Raffle.TriggerDraw(ctx, now)
	if err != nil {
		logger.Warningf("upkeep: draw failed: %v", err)
		return false
	}
	logger.Infof("upkeep: draw triggered, request %d", id)
	return true
}
