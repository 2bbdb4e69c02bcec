// Package profile describes the per-mode decoding parameters: segment
// interval, decoder command line and recording file naming.
package profile

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"digiskimmer/config"
)

// ErrUnknownMode is returned for modes without a decoder profile.
var ErrUnknownMode = errors.New("profile: unknown mode")

// Profile is immutable once built.
type Profile interface {
	Mode() string
	Interval() time.Duration
	FileTimestampLayout() string
	DecoderCommand(file string) []string
}

const (
	secondsLayout = "060102_150405"
	minutesLayout = "060102_1504"
)

// Fst4wIntervals lists the FST4W T/R periods in seconds; the first is the default.
var Fst4wIntervals = []int{120, 300, 900, 1800}

type wsjtProfile struct {
	mode     string
	interval time.Duration
	layout   string
	command  func(file string) []string
}

func (p *wsjtProfile) Mode() string                        { return p.mode }
func (p *wsjtProfile) Interval() time.Duration             { return p.interval }
func (p *wsjtProfile) FileTimestampLayout() string         { return p.layout }
func (p *wsjtProfile) DecoderCommand(file string) []string { return p.command(file) }

// Registry builds profiles lazily and caches one per mode.
type Registry struct {
	cfg config.DecoderConfig

	mu       sync.Mutex
	profiles map[string]Profile
}

// NewRegistry creates a registry using the decoder settings for depth and
// FST4W interval selection.
func NewRegistry(cfg config.DecoderConfig) *Registry {
	return &Registry{cfg: cfg, profiles: make(map[string]Profile)}
}

// Get returns the cached profile for mode, building it on first use.
func (r *Registry) Get(mode string) (Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.profiles[mode]; ok {
		return p, nil
	}
	p, err := r.build(mode)
	if err != nil {
		return nil, err
	}
	r.profiles[mode] = p
	return p, nil
}

func (r *Registry) build(mode string) (Profile, error) {
	depth := strconv.Itoa(r.depth(mode))
	jt9 := func(flag string) func(string) []string {
		return func(file string) []string {
			return []string{"jt9", flag, "-d", depth, file}
		}
	}
	switch mode {
	case "FT8", "FT8W":
		return &wsjtProfile{mode: mode, interval: 15 * time.Second, layout: secondsLayout, command: jt9("--ft8")}, nil
	case "FT4", "FT4W":
		return &wsjtProfile{mode: mode, interval: 7500 * time.Millisecond, layout: secondsLayout, command: jt9("--ft4")}, nil
	case "JT65":
		return &wsjtProfile{mode: mode, interval: time.Minute, layout: minutesLayout, command: jt9("--jt65")}, nil
	case "JT9":
		return &wsjtProfile{mode: mode, interval: time.Minute, layout: minutesLayout, command: jt9("--jt9")}, nil
	case "WSPR":
		deep := r.depth(mode) > 1
		return &wsjtProfile{mode: mode, interval: 2 * time.Minute, layout: minutesLayout, command: func(file string) []string {
			// -C 500 bounds decoder cycles per bit, -w enables wideband search.
			cmd := []string{"wsprd", "-C", "500", "-w"}
			if deep {
				cmd = append(cmd, "-o", "4", "-d")
			}
			return append(cmd, file)
		}}, nil
	case "FST4W":
		period := r.fst4wInterval()
		return &wsjtProfile{mode: mode, interval: time.Duration(period) * time.Second, layout: minutesLayout, command: func(file string) []string {
			return []string{"jt9", "--fst4w", "-p", strconv.Itoa(period), "-F", "100", "-d", depth, file}
		}}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
}

func (r *Registry) depth(mode string) int {
	if d, ok := r.cfg.DepthModes[mode]; ok && d > 0 {
		return d
	}
	if r.cfg.DepthGlobal > 0 {
		return r.cfg.DepthGlobal
	}
	return 3
}

func (r *Registry) fst4wInterval() int {
	want, ok := r.cfg.Interval["FST4W"]
	if !ok {
		return Fst4wIntervals[0]
	}
	for _, v := range Fst4wIntervals {
		if v == want {
			return v
		}
	}
	return Fst4wIntervals[0]
}

// HighCut returns the receiver high-cut filter frequency in Hz for mode.
func HighCut(mode string) float64 {
	switch mode {
	case "WSPR":
		return 2500
	case "FST4W":
		return 1500
	case "FT8W", "FT4W":
		return 9000
	}
	return 3000
}

// HopDelay is the minimum time between two band hops for a profile: one
// interval, but never less than a minute.
func HopDelay(p Profile) time.Duration {
	if p.Interval() < time.Minute {
		return time.Minute
	}
	return p.Interval()
}
