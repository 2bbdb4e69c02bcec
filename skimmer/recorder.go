package skimmer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"digiskimmer/config"
	"digiskimmer/decoder"
	"digiskimmer/internal/ratelimit"
	"digiskimmer/profile"
	"digiskimmer/station"
	"digiskimmer/stats"
)

const (
	defaultWaitTimeout = 10 * time.Second
	tuneTimeout        = 10 * time.Second
)

// Hop is one entry of a recorder's band-hop list.
type Hop struct {
	Band      string
	Mode      string
	Frequency float64 // MHz
}

// HopsFromConfig resolves configured hops, filling missing frequencies from
// the band table.
func HopsFromConfig(hops []config.HopConfig) ([]Hop, error) {
	out := make([]Hop, 0, len(hops))
	for _, h := range hops {
		freq := h.Frequency
		if freq == 0 {
			f, err := profile.BandFrequency(h.Mode, h.Band)
			if err != nil {
				return nil, err
			}
			freq = f
		}
		out = append(out, Hop{Band: h.Band, Mode: h.Mode, Frequency: freq})
	}
	return out, nil
}

// Options configures a Recorder.
type Options struct {
	Station     string
	Hops        []Hop
	Modulation  string
	LowCut      float64
	TmpPath     string
	Nice        int
	WaitTimeout time.Duration
}

// Deps are the collaborators of a Recorder.
type Deps struct {
	Profiles *profile.Registry
	Queue    JobQueue
	Receiver Receiver
	Parser   Parser
	Stations *station.Store
	Stats    *stats.Tracker
	// Now overrides the wall clock; tests use it to pin the hop schedule.
	Now func() time.Time
	// After overrides time.After for RunSchedule.
	After func(time.Duration) <-chan time.Time
}

// Recorder owns one receiver, its band-hop schedule and the decoding of the
// segments it records.
//
// Purpose: turn closed audio segments into decode jobs and decode them.
// Key aspects: hop state is guarded by mu; a job carries the mode it was
// recorded with so decoding is unaffected by a later hop.
// Upstream: capture loop or Spool (SegmentClosed/SubmitSegment), RunSchedule,
// decoder.Queue workers (Decode).
// Downstream: Receiver.SetMod, decoder.Queue.Put, Parser.Parse.
type Recorder struct {
	opts Options
	deps Deps

	mu      sync.Mutex
	idx     int
	profile profile.Profile
	lastHop time.Time

	telemetryErrs *ratelimit.Throttle
}

// NewRecorder builds a recorder positioned on the first hop.
func NewRecorder(opts Options, deps Deps) (*Recorder, error) {
	if len(opts.Hops) == 0 {
		return nil, fmt.Errorf("recorder %s: no hops configured", opts.Station)
	}
	if deps.Profiles == nil || deps.Queue == nil {
		return nil, errors.New("recorder: profiles and queue are required")
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = defaultWaitTimeout
	}
	if opts.Modulation == "" {
		opts.Modulation = "usb"
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.After == nil {
		deps.After = time.After
	}
	p, err := deps.Profiles.Get(opts.Hops[0].Mode)
	if err != nil {
		return nil, err
	}
	return &Recorder{
		opts:          opts,
		deps:          deps,
		profile:       p,
		lastHop:       deps.Now(),
		telemetryErrs: ratelimit.New(10 * time.Minute),
	}, nil
}

// Station returns the station this recorder reports for.
func (r *Recorder) Station() string {
	return r.opts.Station
}

// CurrentHop returns the hop the receiver is tuned to.
func (r *Recorder) CurrentHop() Hop {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opts.Hops[r.idx]
}

// Profile returns the profile of the current hop.
func (r *Recorder) Profile() profile.Profile {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.profile
}

// Tune applies the current hop to the receiver.
func (r *Recorder) Tune(ctx context.Context) error {
	hop := r.CurrentHop()
	return r.tune(ctx, hop)
}

func (r *Recorder) tune(ctx context.Context, hop Hop) error {
	if r.deps.Receiver == nil {
		return nil
	}
	highCut := profile.HighCut(hop.Mode)
	lowCut := r.opts.LowCut
	if r.opts.Modulation == "am" {
		lowCut = -highCut
	}
	ctx, cancel := context.WithTimeout(ctx, tuneTimeout)
	defer cancel()
	return r.deps.Receiver.SetMod(ctx, r.opts.Modulation, lowCut, highCut, hop.Frequency)
}

// SegmentPath returns where a segment recorded on hop starting at start lives:
// <tmp>/<station>/<mode>/<band>/<timestamp>.wav.
func (r *Recorder) SegmentPath(hop Hop, start time.Time) (string, error) {
	p, err := r.deps.Profiles.Get(hop.Mode)
	if err != nil {
		return "", err
	}
	name := start.Format(p.FileTimestampLayout()) + ".wav"
	return filepath.Join(r.opts.TmpPath, r.opts.Station, hop.Mode, hop.Band, name), nil
}

// SegmentDir returns the directory holding this recorder's segments.
func (r *Recorder) SegmentDir() string {
	return filepath.Join(r.opts.TmpPath, r.opts.Station)
}

// HopFor returns the configured hop for mode and band. Segments for a
// mode/band outside the hop list resolve their frequency from the band table.
func (r *Recorder) HopFor(mode, band string) (Hop, error) {
	for _, h := range r.opts.Hops {
		if h.Mode == mode && h.Band == band {
			return h, nil
		}
	}
	freq, err := profile.BandFrequency(mode, band)
	if err != nil {
		return Hop{}, err
	}
	return Hop{Band: band, Mode: mode, Frequency: freq}, nil
}

// SegmentClosed is called by a capture loop at the segment boundary, once
// the segment in file, recorded on the current hop, has been closed. The
// segment is submitted and the band-hop check runs for that boundary.
func (r *Recorder) SegmentClosed(ctx context.Context, file string) {
	r.preDecode(file, r.CurrentHop())
	r.OnBandHop(ctx)
}

// SubmitSegment submits file, recorded on hop, for decoding. Segments found
// after the fact do not drive the band-hop schedule; RunSchedule does.
func (r *Recorder) SubmitSegment(ctx context.Context, file string, hop Hop) {
	r.preDecode(file, hop)
}

func (r *Recorder) preDecode(file string, hop Hop) {
	job := decoder.Job{File: file, Frequency: hop.Frequency, Mode: hop.Mode, Owner: r}
	if err := r.deps.Queue.Put(job); err != nil {
		log.Printf("Recorder[%s]: error: decoding queue overflow; dropping %s: %v", r.opts.Station, filepath.Base(file), err)
		r.deps.Stats.RecordOverflow()
		job.Unlink()
	}
}

// OnBandHop runs the band-hop check for the current wall clock time.
func (r *Recorder) OnBandHop(ctx context.Context) {
	r.bandHopAt(ctx, r.deps.Now())
}

// RunSchedule runs the band-hop check at every segment boundary of the
// current profile until ctx is cancelled. Boundaries are multiples of the
// segment interval since local midnight, like the segments themselves.
func (r *Recorder) RunSchedule(ctx context.Context) error {
	for {
		now := r.deps.Now()
		interval := r.Profile().Interval()
		if interval <= 0 {
			interval = time.Minute
		}
		_, remaining := SegmentProgress(now, interval)
		boundary := now.Add(remaining)
		select {
		case <-ctx.Done():
			return nil
		case <-r.deps.After(remaining):
			r.bandHopAt(ctx, boundary)
		}
	}
}

// bandHopAt rotates to the next hop when more than one hop is configured,
// at least max(interval, 60s) has passed since the last rotation and at is
// at second 0. The rotation timestamp is updated before the index advances
// and the receiver is reconfigured last.
func (r *Recorder) bandHopAt(ctx context.Context, at time.Time) {
	r.mu.Lock()
	if len(r.opts.Hops) <= 1 || at.Sub(r.lastHop) < profile.HopDelay(r.profile) || at.Second() != 0 {
		r.mu.Unlock()
		return
	}
	r.lastHop = at
	next := (r.idx + 1) % len(r.opts.Hops)
	hop := r.opts.Hops[next]
	p, err := r.deps.Profiles.Get(hop.Mode)
	if err != nil {
		r.mu.Unlock()
		log.Printf("Recorder[%s]: cannot hop to %s-%sm: %v", r.opts.Station, hop.Mode, hop.Band, err)
		return
	}
	r.idx = next
	r.profile = p
	r.mu.Unlock()

	log.Printf("Recorder[%s]: switching to %s-%sm", r.opts.Station, hop.Mode, hop.Band)
	if err := r.tune(ctx, hop); err != nil {
		log.Printf("Recorder[%s]: receiver reconfiguration failed: %v", r.opts.Station, err)
	}
}
