package spot

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const logTimeLayout = "150405"

// FormatLogLine renders s in the fixed column layout of the spot log:
//
//	HHMMSS  SNR.D   DT.D   FREQ.FFFFFF MODE CALLSIGN LOCATOR
//
// The time column uses loc. MODE is the decoder tag of the mode; unsupported
// modes fall back to the mode name. The returned line ends with a newline.
func FormatLogLine(s Spot, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	sym, ok := ModeSymbol(s.Mode)
	if !ok {
		sym = s.Mode
	}
	return fmt.Sprintf("%s %5.1f %5.1f  %10.6f %s %-6s %s\n",
		time.Unix(s.Timestamp, 0).In(loc).Format(logTimeLayout),
		s.DB,
		s.DT,
		s.Freq,
		sym,
		s.Callsign,
		s.Locator,
	)
}

// ParseLogLine reads a line written by FormatLogLine back into a Spot. The log
// carries only the time of day, so day supplies the date (in its location).
// Msg is not stored in the log and is left empty.
func ParseLogLine(line string, day time.Time) (Spot, error) {
	fields := strings.Fields(line)
	if len(fields) < 6 {
		return Spot{}, fmt.Errorf("spot log line has %d fields, want at least 6", len(fields))
	}
	tod, err := time.ParseInLocation(logTimeLayout, fields[0], day.Location())
	if err != nil {
		return Spot{}, fmt.Errorf("spot log time %q: %w", fields[0], err)
	}
	db, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Spot{}, fmt.Errorf("spot log snr %q: %w", fields[1], err)
	}
	dt, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return Spot{}, fmt.Errorf("spot log dt %q: %w", fields[2], err)
	}
	freq, err := strconv.ParseFloat(fields[3], 64)
	if err != nil {
		return Spot{}, fmt.Errorf("spot log frequency %q: %w", fields[3], err)
	}
	mode, ok := ModeForSymbol(fields[4])
	if !ok {
		mode = NormalizeMode(fields[4])
	}
	locator := ""
	if len(fields) > 6 {
		locator = fields[6]
	}
	year, month, date := day.Date()
	ts := time.Date(year, month, date, tod.Hour(), tod.Minute(), tod.Second(), 0, day.Location())
	return Spot{
		Callsign:  fields[5],
		Timestamp: ts.Unix(),
		Locator:   locator,
		DB:        db,
		DT:        dt,
		Freq:      freq,
		Mode:      mode,
	}, nil
}
