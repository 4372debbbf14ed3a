package oracle

import (
	"context"
	"time"

	"github.com/google/logger"
)

// Fulfiller plays the oracle network against a Simulator: it answers pending
// requests once they are older than Delay.
type Fulfiller struct {
	Sim      *Simulator
	Delay    time.Duration
	Interval time.Duration
	Now      func() time.Time
}

// Run polls until ctx is cancelled.
func (f *Fulfiller) Run(ctx context.Context) {
	ticker := time.NewTicker(f.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.Tick(ctx)
		}
	}
}

// Tick fulfils every request that has waited at least Delay and returns how many succeeded.
func (f *Fulfiller) Tick(ctx context.Context) int {
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	done := 0
	for _, req := range f.Sim.PendingRequests() {
		if now().Sub(req.CreatedAt) < f.Delay {
			continue
		}
		if err := f.Sim.FulfillRandomness(ctx, req.ID, req.Requester); err != nil {
			logger.Warningf("auto-fulfil of request %d failed: %v", req.ID, err)
			continue
		}
		done++
	}
	return done
}
