// Package stats tracks pipeline counters (decodes, drops, uploads) for the
// status line and the shutdown summary.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Tracker tracks pipeline activity. A nil *Tracker is valid and ignores
// every update.
type Tracker struct {
	// counters live in sync.Map + atomic.Uint64 so per-spot increments don't fight over a mutex
	modeCounts    sync.Map // decoded spots, mode -> *atomic.Uint64
	stationCounts sync.Map // uploaded spots, station -> *atomic.Uint64
	start         atomic.Int64

	decodes          atomic.Uint64
	decoderLines     atomic.Uint64
	decoderFailures  atomic.Uint64
	decoderTimeouts  atomic.Uint64
	overflowDrops    atomic.Uint64
	uploads          atomic.Uint64
	uploadFailures   atomic.Uint64
	duplicateReject  atomic.Uint64
	unsupportedModes atomic.Uint64
}

// NewTracker creates a new stats tracker
func NewTracker() *Tracker {
	t := &Tracker{}
	t.start.Store(time.Now().UnixNano())
	return t
}

// Snapshot is a copy of every counter.
type Snapshot struct {
	Uptime           time.Duration
	Decodes          uint64
	DecoderLines     uint64
	DecoderFailures  uint64
	DecoderTimeouts  uint64
	OverflowDrops    uint64
	Uploads          uint64
	UploadFailures   uint64
	Duplicates       uint64
	UnsupportedModes uint64
	SpotsByMode      map[string]uint64
	UploadedBy       map[string]uint64
}

// RecordDecode counts one finished decoder run and the lines it produced.
func (t *Tracker) RecordDecode(lines int) {
	if t == nil {
		return
	}
	t.decodes.Add(1)
	t.decoderLines.Add(uint64(lines))
}

// RecordDecoderFailure counts a decoder that exited non-zero or failed to start.
func (t *Tracker) RecordDecoderFailure() {
	if t == nil {
		return
	}
	t.decoderFailures.Add(1)
}

// RecordDecoderTimeout counts a decoder killed after the wait timeout.
func (t *Tracker) RecordDecoderTimeout() {
	if t == nil {
		return
	}
	t.decoderTimeouts.Add(1)
}

// RecordOverflow counts a segment dropped because the decode queue was full.
func (t *Tracker) RecordOverflow() {
	if t == nil {
		return
	}
	t.overflowDrops.Add(1)
}

// RecordSpot counts a spot accepted into a cluster.
func (t *Tracker) RecordSpot(mode string) {
	if t == nil {
		return
	}
	incrementCounter(&t.modeCounts, mode, 1)
}

// RecordDuplicate counts a spot rejected as a duplicate.
func (t *Tracker) RecordDuplicate() {
	if t == nil {
		return
	}
	t.duplicateReject.Add(1)
}

// RecordUnsupported counts a spot rejected for its mode.
func (t *Tracker) RecordUnsupported() {
	if t == nil {
		return
	}
	t.unsupportedModes.Add(1)
}

// RecordUpload counts one upload attempt of n spots for station.
func (t *Tracker) RecordUpload(station string, n int, err error) {
	if t == nil {
		return
	}
	if err != nil {
		t.uploadFailures.Add(1)
		return
	}
	t.uploads.Add(1)
	incrementCounter(&t.stationCounts, station, uint64(n))
}

// Snapshot returns a copy of the counters.
func (t *Tracker) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	return Snapshot{
		Uptime:           time.Since(time.Unix(0, t.start.Load())),
		Decodes:          t.decodes.Load(),
		DecoderLines:     t.decoderLines.Load(),
		DecoderFailures:  t.decoderFailures.Load(),
		DecoderTimeouts:  t.decoderTimeouts.Load(),
		OverflowDrops:    t.overflowDrops.Load(),
		Uploads:          t.uploads.Load(),
		UploadFailures:   t.uploadFailures.Load(),
		Duplicates:       t.duplicateReject.Load(),
		UnsupportedModes: t.unsupportedModes.Load(),
		SpotsByMode:      copyCounts(&t.modeCounts),
		UploadedBy:       copyCounts(&t.stationCounts),
	}
}

// SnapshotLines returns human-readable stats ready for console display.
func (t *Tracker) SnapshotLines() []string {
	if t == nil {
		return nil
	}
	s := t.Snapshot()
	return []string{
		fmt.Sprintf("Decodes: %d (lines %d, failed %d, killed %d, dropped %d)",
			s.Decodes, s.DecoderLines, s.DecoderFailures, s.DecoderTimeouts, s.OverflowDrops),
		fmt.Sprintf("Uploads: %d (failed %d, duplicates %d, unsupported %d)",
			s.Uploads, s.UploadFailures, s.Duplicates, s.UnsupportedModes),
		formatCounts("Spots by mode", s.SpotsByMode),
		formatCounts("Uploaded by station", s.UploadedBy),
	}
}

func copyCounts(m *sync.Map) map[string]uint64 {
	counts := make(map[string]uint64)
	m.Range(func(key, value any) bool {
		counts[key.(string)] = value.(*atomic.Uint64).Load()
		return true
	})
	return counts
}

func formatCounts(label string, counts map[string]uint64) string {
	var builder strings.Builder
	builder.WriteString(label)
	builder.WriteString(": ")
	if len(counts) == 0 {
		builder.WriteString("(none)")
		return builder.String()
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i > 0 {
			builder.WriteString(", ")
		}
		fmt.Fprintf(&builder, "%s=%d", k, counts[k])
	}
	return builder.String()
}

func incrementCounter(m *sync.Map, key string, n uint64) {
	if strings.TrimSpace(key) == "" {
		return
	}
	if value, ok := m.Load(key); ok {
		value.(*atomic.Uint64).Add(n)
		return
	}
	counter := &atomic.Uint64{}
	actual, loaded := m.LoadOrStore(key, counter)
	if loaded {
		actual.(*atomic.Uint64).Add(n)
		return
	}
	counter.Add(n)
}
