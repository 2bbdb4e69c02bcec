package cluster

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"digiskimmer/spot"
)

const spotLogDateLayout = "060102"

// SpotLog appends uploaded spots to one file per station and day:
// <dir>/spots/telnet/<station>/<yyMMdd>.log. The day comes from the upload
// time in loc.
type SpotLog struct {
	dir string
	loc *time.Location

	mu sync.Mutex
}

// NewSpotLog creates a spot log rooted at logDir.
func NewSpotLog(logDir string, loc *time.Location) *SpotLog {
	if loc == nil {
		loc = time.Local
	}
	return &SpotLog{dir: logDir, loc: loc}
}

// Path returns the log file for station on the day of now.
func (l *SpotLog) Path(station string, now time.Time) string {
	return filepath.Join(l.dir, "spots", "telnet", station, now.In(l.loc).Format(spotLogDateLayout)+".log")
}

// Append writes spots to the station's file for the day of now.
func (l *SpotLog) Append(station string, spots []spot.Spot, now time.Time) error {
	if len(spots) == 0 {
		return nil
	}
	var b strings.Builder
	for _, s := range spots {
		b.WriteString(spot.FormatLogLine(s, l.loc))
	}
	path := l.Path(station, now)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create spot log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open spot log: %w", err)
	}
	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		return fmt.Errorf("write spot log: %w", err)
	}
	return f.Close()
}
