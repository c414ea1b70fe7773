package mapeval

import (
	"context"
	"math/rand/v2"
	"runtime"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"
)

// nullConfig identifies a null distribution: the AP of nPos positives placed
// uniformly at random among nTotal ranked items.
type nullConfig struct {
	nPos, nTotal int
}

// nullDistributions draws size random APs for every configuration. Each
// configuration has its own generator seeded from seed and the configuration,
// so the result is independent of scheduling.
func nullDistributions(ctx context.Context, configs []nullConfig, size int, seed uint64) (map[nullConfig][]float64, error) {
	var mu sync.Mutex
	out := make(map[nullConfig][]float64, len(configs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, cfg := range configs {
		g.Go(func() error {
			dist, err := nullSample(ctx, cfg, size, seed)
			if err != nil {
				return err
			}
			mu.Lock()
			out[cfg] = dist
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func nullSample(ctx context.Context, cfg nullConfig, size int, seed uint64) ([]float64, error) {
	rng := rand.New(rand.NewPCG(seed, uint64(cfg.nPos)<<32|uint64(cfg.nTotal)))
	perm := make([]int, cfg.nTotal)
	for i := range perm {
		perm[i] = i
	}
	ranks := make([]int, cfg.nPos)
	dist := make([]float64, size)
	for s := range dist {
		if s%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		// Partial Fisher-Yates: the first nPos slots become a uniform
		// random subset of positions.
		for k := 0; k < cfg.nPos; k++ {
			j := k + rng.IntN(cfg.nTotal-k)
			perm[k], perm[j] = perm[j], perm[k]
		}
		copy(ranks, perm[:cfg.nPos])
		slices.Sort(ranks)
		var sum float64
		for i, r := range ranks {
			sum += float64(i+1) / float64(r+1)
		}
		dist[s] = sum / float64(cfg.nPos)
	}
	return dist, nil
}
