package scheduler

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
)

// Placer chooses hosts for the replicas of a new volume
type Placer struct {
	mu   sync.Mutex
	rand *rand.Rand
}

// NewPlacer creates a placer seeded from the clock
func NewPlacer() *Placer {
	return NewPlacerWithSeed(time.Now().UnixNano())
}

// NewPlacerWithSeed creates a placer with a fixed shuffle seed
func NewPlacerWithSeed(seed int64) *Placer {
	return &Placer{rand: rand.New(rand.NewSource(seed))}
}

// Place returns one host UUID per replica. Hosts are shuffled, ordered by the
// number of replicas they already carry (load), and assigned round-robin, so
// replicas land on distinct hosts whenever there are enough of them.
func (p *Placer) Place(n int, hosts []*types.Host, load map[string]int) ([]string, error) {
	if n < 1 {
		return nil, errdefs.NewInvalidArgumentError("number of replicas must be at least 1, got %d", n)
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PlacementLatency)

	candidates := filterReadyHosts(hosts)
	if len(candidates) == 0 {
		return nil, errdefs.NewInsufficientHostsError("no hosts available to place %d replicas", n)
	}

	p.mu.Lock()
	p.rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	p.mu.Unlock()

	sort.SliceStable(candidates, func(i, j int) bool {
		return load[candidates[i].UUID] < load[candidates[j].UUID]
	})

	placed := make([]string, n)
	for i := range placed {
		placed[i] = candidates[i%len(candidates)].UUID
	}

	if n > len(candidates) {
		log.Logger.Warn().
			Int("replicas", n).
			Int("hosts", len(candidates)).
			Msg("Fewer hosts than replicas, some hosts carry several replicas")
	}

	metrics.ReplicasPlaced.Add(float64(n))
	return placed, nil
}

// Load counts the replicas each host carries across volumes
func Load(volumes []*types.Volume) map[string]int {
	load := make(map[string]int)
	for _, v := range volumes {
		for _, r := range v.Replicas {
			load[r.HostID]++
		}
	}
	return load
}

// filterReadyHosts drops down hosts, unless every host is down
func filterReadyHosts(hosts []*types.Host) []*types.Host {
	var ready []*types.Host
	for _, host := range hosts {
		if host.Status != types.HostStatusDown {
			ready = append(ready, host)
		}
	}
	if len(ready) == 0 {
		ready = append(ready, hosts...)
	}
	return ready
}
