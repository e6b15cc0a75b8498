package faulttrace

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/sushant-115/mmextents/core/addressspace"
	"github.com/sushant-115/mmextents/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// DefaultSpace receives faults whose trace line names no space.
const DefaultSpace = "default"

// Stats summarises a replay.
type Stats struct {
	Recorded int64
	Failed   int64
}

// Replayer feeds faults into address spaces, optionally rate limited.
type Replayer struct {
	manager *addressspace.Manager
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewReplayer creates a replayer. ratePerSecond <= 0 disables limiting.
func NewReplayer(manager *addressspace.Manager, ratePerSecond float64, burst int, log *zap.Logger) *Replayer {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
	}
	return &Replayer{
		manager: manager,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.Component(log, "replay"),
	}
}

// Replay records every fault. Spaces are replayed concurrently, each in
// trace order. Individual RecordPage failures are counted and logged, not
// returned; only context cancellation or a space that cannot be created
// aborts the replay.
func (r *Replayer) Replay(ctx context.Context, faults []Fault) (Stats, error) {
	groups := GroupBySpace(faults, DefaultSpace)
	labels := make([]string, 0, len(groups))
	for label := range groups {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	// Every space is resolved before any worker starts, so a failure here
	// never leaves a replay running unobserved.
	spaces := make([]*addressspace.AddressSpace, len(labels))
	for i, label := range labels {
		space, err := r.manager.GetOrCreate(ctx, label)
		if err != nil {
			return Stats{}, fmt.Errorf("resolve address space %q: %w", label, err)
		}
		spaces[i] = space
	}

	var recorded, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for i, label := range labels {
		space, group := spaces[i], groups[label]
		g.Go(func() error {
			for _, f := range group {
				if err := r.limiter.Wait(gctx); err != nil {
					return err
				}
				if _, err := space.RecordPage(gctx, f.Phys, f.Virt); err != nil {
					failed.Add(1)
					r.logger.Warn("fault not recorded",
						zap.String("address_space", label),
						zap.Int("line", f.Line),
						zap.Error(err),
					)
					continue
				}
				recorded.Add(1)
			}
			return nil
		})
	}

	err := g.Wait()
	stats := Stats{Recorded: recorded.Load(), Failed: failed.Load()}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		r.logger.Info("replay interrupted", zap.Int64("recorded", stats.Recorded))
	}
	return stats, err
}
