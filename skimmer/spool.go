package skimmer

import (
	"context"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"digiskimmer/internal/ratelimit"
)

// Spool discovers closed segments written by an external capture process
// under a recorder's segment directory (<mode>/<band>/<timestamp>.wav) and
// submits them to the recorder in name order. A file counts as closed once
// it has not been modified for the settle period.
type Spool struct {
	rec    *Recorder
	poll   time.Duration
	settle time.Duration

	seen     map[string]struct{}
	scanErrs *ratelimit.Throttle
	now      func() time.Time
}

// NewSpool creates a spool for rec.
func NewSpool(rec *Recorder, poll, settle time.Duration) *Spool {
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	if settle <= 0 {
		settle = 2 * time.Second
	}
	return &Spool{
		rec:      rec,
		poll:     poll,
		settle:   settle,
		seen:     make(map[string]struct{}),
		scanErrs: ratelimit.New(time.Minute),
		now:      time.Now,
	}
}

// Run scans until ctx is cancelled.
func (s *Spool) Run(ctx context.Context) error {
	dir := s.rec.SegmentDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Scan(ctx)
		}
	}
}

// Scan submits every settled segment not seen before and returns how many
// were submitted.
func (s *Spool) Scan(ctx context.Context) int {
	root := s.rec.SegmentDir()
	cutoff := s.now().Add(-s.settle)
	var ready []string
	present := make(map[string]struct{})
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".wav") {
			return nil
		}
		present[path] = struct{}{}
		if _, ok := s.seen[path]; ok {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.ModTime().After(cutoff) {
			return nil
		}
		ready = append(ready, path)
		return nil
	})
	if err != nil {
		if suppressed, ok := s.scanErrs.Allow(); ok {
			log.Printf("Spool[%s]: scan failed (%d similar suppressed): %v", s.rec.Station(), suppressed, err)
		}
		return 0
	}
	for path := range s.seen {
		if _, ok := present[path]; !ok {
			delete(s.seen, path)
		}
	}

	sort.Strings(ready)
	submitted := 0
	for _, path := range ready {
		s.seen[path] = struct{}{}
		hop, err := s.hopForPath(root, path)
		if err != nil {
			log.Printf("Spool[%s]: ignoring %s: %v", s.rec.Station(), path, err)
			continue
		}
		s.rec.SubmitSegment(ctx, path, hop)
		submitted++
	}
	return submitted
}

func (s *Spool) hopForPath(root, path string) (Hop, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return Hop{}, err
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 3 {
		return Hop{}, fs.ErrInvalid
	}
	return s.rec.HopFor(strings.ToUpper(parts[0]), parts[1])
}
