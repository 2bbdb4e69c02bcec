package skimmer

import (
	"strings"
	"time"
)

const progressWidth = 6

// SegmentProgress returns how far now is into the current segment interval.
// Segments are aligned to multiples of the interval since local midnight.
func SegmentProgress(now time.Time, interval time.Duration) (elapsed, remaining time.Duration) {
	if interval <= 0 {
		return 0, 0
	}
	y, m, d := now.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	elapsed = now.Sub(midnight) % interval
	return elapsed, interval - elapsed
}

// StatusBar renders the current mode and segment progress, e.g. "FT8:[###...]".
func (r *Recorder) StatusBar(now time.Time) string {
	p := r.Profile()
	elapsed, _ := SegmentProgress(now, p.Interval())
	filled := int(elapsed * progressWidth / p.Interval())
	if filled > progressWidth {
		filled = progressWidth
	}
	var b strings.Builder
	b.WriteString(p.Mode())
	b.WriteString(":[")
	b.WriteString(strings.Repeat("#", filled))
	b.WriteString(strings.Repeat(".", progressWidth-filled))
	b.WriteString("]")
	return b.String()
}
