package cluster

import (
	"context"
	"log"
	"sort"
	"sync"

	"digiskimmer/spot"
)

// Registry hands out one Cluster per station, created on first use and kept
// for the lifetime of the registry.
type Registry struct {
	opts Options

	mu       sync.Mutex
	clusters map[string]*Cluster
}

// NewRegistry creates an empty registry. Zero durations take the defaults.
func NewRegistry(opts Options) *Registry {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Jitter < 0 {
		opts.Jitter = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Registry{opts: opts, clusters: make(map[string]*Cluster)}
}

// Get returns the cluster for station, creating it if needed.
func (r *Registry) Get(station string) *Cluster {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clusters[station]
	if !ok {
		c = newCluster(station, &r.opts)
		r.clusters[station] = c
	}
	return c
}

// Spot routes s to the station's cluster.
func (r *Registry) Spot(station string, s spot.Spot) {
	r.Get(station).Spot(s)
}

// Clusters returns every live cluster ordered by station name.
func (r *Registry) Clusters() []*Cluster {
	r.mu.Lock()
	out := make([]*Cluster, 0, len(r.clusters))
	for _, c := range r.clusters {
		out = append(out, c)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].station < out[j].station })
	return out
}

// Pending returns the number of spots waiting across all clusters.
func (r *Registry) Pending() int {
	total := 0
	for _, c := range r.Clusters() {
		total += c.Pending()
	}
	return total
}

// Stop cancels and joins every cluster timer. With flush set, each cluster
// that still holds spots gets one last upload attempt.
func (r *Registry) Stop(ctx context.Context, flush bool) {
	clusters := r.Clusters()
	for _, c := range clusters {
		c.Cancel()
	}
	if !flush {
		return
	}
	for _, c := range clusters {
		if n := c.Pending(); n > 0 {
			log.Printf("Cluster[%s]: final flush of %d spots", c.station, n)
			_ = c.Flush(ctx)
		}
	}
}
