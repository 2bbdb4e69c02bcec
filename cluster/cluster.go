// Package cluster aggregates the spots decoded for each station and uploads
// them in batches on a jittered timer.
package cluster

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"time"

	"digiskimmer/spot"
	"digiskimmer/stats"
)

const (
	DefaultInterval = 15 * time.Second
	DefaultJitter   = 15 * time.Second
	DefaultTimeout  = 60 * time.Second
)

// Uploader sends one batch of spots for a station.
type Uploader interface {
	Upload(ctx context.Context, station string, spots []spot.Spot) error
}

// Archiver receives every batch after a successful upload.
type Archiver interface {
	Archive(station string, spots []spot.Spot) error
}

// Options are shared by every cluster of a Registry.
type Options struct {
	Uploader Uploader
	// SpotLog appends uploaded batches to the per-station day file; nil disables it.
	SpotLog  *SpotLog
	Archive  Archiver
	Stats    *stats.Tracker
	Interval time.Duration
	Jitter   time.Duration
	Timeout  time.Duration
	// Delay overrides the interval+jitter computation.
	Delay func() time.Duration
}

func (o *Options) delay() time.Duration {
	if o.Delay != nil {
		return o.Delay()
	}
	d := o.Interval
	if o.Jitter > 0 {
		d += rand.N(o.Jitter)
	}
	return d
}

// Cluster holds the pending spots of one station.
//
// Purpose: dedup spots and upload them in batches.
// Key aspects: pending spots and the timer handle change only under mu; at
// most one timer is armed; the batch is swapped out under the lock and
// uploaded outside it so new spots keep accumulating.
// Upstream: extparser via Registry.Spot.
// Downstream: Uploader.Upload, SpotLog.Append, Archiver.Archive.
type Cluster struct {
	station string
	opts    *Options

	mu      sync.Mutex
	pending []spot.Spot
	index   map[uint64]int // Key -> number of pending spots with that key
	timer   *time.Timer
	closed  bool
	wg      sync.WaitGroup // held while a timer is armed or its callback runs
}

func newCluster(station string, opts *Options) *Cluster {
	return &Cluster{station: station, opts: opts, index: make(map[uint64]int)}
}

// Station returns the station name.
func (c *Cluster) Station() string {
	return c.station
}

// Spot adds s unless an equal spot is already pending and makes sure an
// upload is scheduled. Spots in unsupported modes are ignored.
func (c *Cluster) Spot(s spot.Spot) {
	if !spot.IsSupportedMode(s.Mode) {
		c.opts.Stats.RecordUnsupported()
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.containsLocked(s) {
		c.opts.Stats.RecordDuplicate()
	} else {
		c.pending = append(c.pending, s)
		c.index[s.Key()]++
		c.opts.Stats.RecordSpot(s.Mode)
	}
	c.scheduleLocked()
}

func (c *Cluster) containsLocked(s spot.Spot) bool {
	if c.index[s.Key()] == 0 {
		return false
	}
	for _, p := range c.pending {
		if spot.Equal(p, s) {
			return true
		}
	}
	return false
}

func (c *Cluster) scheduleLocked() {
	if c.timer != nil || c.closed {
		return
	}
	delay := c.opts.delay()
	log.Printf("Cluster[%s]: scheduling next upload in %3.2f seconds", c.station, delay.Seconds())
	c.wg.Add(1)
	c.timer = time.AfterFunc(delay, c.fire)
}

func (c *Cluster) fire() {
	defer c.wg.Done()
	c.upload(context.Background())
}

// Pending returns the number of spots waiting for upload.
func (c *Cluster) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Scheduled reports whether an upload timer is armed.
func (c *Cluster) Scheduled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer != nil
}

// Flush disarms the timer and uploads whatever is pending right now.
func (c *Cluster) Flush(ctx context.Context) error {
	c.mu.Lock()
	if c.timer != nil && c.timer.Stop() {
		c.timer = nil
		c.wg.Done()
	}
	c.mu.Unlock()
	return c.upload(ctx)
}

func (c *Cluster) swap() []spot.Spot {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timer = nil
	batch := c.pending
	c.pending = nil
	if len(batch) > 0 {
		c.index = make(map[uint64]int)
	}
	return batch
}

// upload never panics and never retries; a failed batch is dropped.
func (c *Cluster) upload(ctx context.Context) (err error) {
	batch := c.swap()
	if len(batch) == 0 {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			log.Printf("Cluster[%s]: failed to upload %d spots: %v", c.station, len(batch), err)
		}
		c.opts.Stats.RecordUpload(c.station, len(batch), err)
	}()

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.Printf("Cluster[%s]: uploading %d spots", c.station, len(batch))
	if err := c.opts.Uploader.Upload(ctx, c.station, batch); err != nil {
		return err
	}
	if c.opts.SpotLog != nil {
		if lerr := c.opts.SpotLog.Append(c.station, batch, time.Now()); lerr != nil {
			log.Printf("Cluster[%s]: spot log: %v", c.station, lerr)
		}
	}
	if c.opts.Archive != nil {
		if aerr := c.opts.Archive.Archive(c.station, batch); aerr != nil {
			log.Printf("Cluster[%s]: archive: %v", c.station, aerr)
		}
	}
	return nil
}

// Cancel stops the pending timer, waits for a running upload to finish and
// prevents new timers from being armed. Spots may still be added and sent
// with Flush.
func (c *Cluster) Cancel() {
	c.mu.Lock()
	c.closed = true
	t := c.timer
	c.timer = nil
	if t != nil && t.Stop() {
		c.wg.Done()
	}
	c.mu.Unlock()
	c.wg.Wait()
}
