package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"digiskimmer/config"
	"digiskimmer/internal/ratelimit"
)

const (
	logTimestampLayout = "2006/01/02 15:04:05"
	logFileDateLayout  = "2006-01-02"
	logFileLayout      = "digiskimmer-" + logFileDateLayout + ".log"
	maxPartialLine     = 16 * 1024

	eraseLine = "\r\x1b[K"
)

// terminal is the only writer of stdout. Log lines and the status line both
// go through it, so a redraw never lands inside a log line. A log line first
// erases a status line still on screen; the next redraw brings it back.
type terminal struct {
	mu     sync.Mutex
	w      io.Writer
	stamp  bool
	status bool
}

func newTerminal(w io.Writer) *terminal {
	return &terminal{w: w, stamp: true}
}

// Println writes one log line.
func (t *terminal) Println(now time.Time, line string) {
	if t == nil || t.w == nil {
		return
	}
	var b strings.Builder
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status {
		b.WriteString(eraseLine)
		t.status = false
	}
	if t.stamp {
		b.WriteString(formatLogTimestamp(now))
		b.WriteByte(' ')
	}
	b.WriteString(line)
	b.WriteByte('\n')
	_, _ = io.WriteString(t.w, b.String())
}

// Status replaces the status line with text. An empty text erases it.
func (t *terminal) Status(text string) {
	if t == nil || t.w == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = io.WriteString(t.w, eraseLine+text)
	t.status = text != ""
}

// dayLog appends timestamped lines to one file per UTC day under dir and
// keeps the newest keepDays files.
type dayLog struct {
	dir      string
	keepDays int
	errs     *ratelimit.Throttle

	mu         sync.Mutex
	f          *os.File
	day        time.Time
	onRollover func(prevDay time.Time)
}

// Purpose: Open the process log directory and prune stale day files.
// Key aspects: The first file is opened lazily by Append; cleanup failure
// is reported but does not block startup.
// Upstream: setupLogging.
// Downstream: os.MkdirAll, pruneDayLogs.
func openDayLog(dir string, keepDays int) (*dayLog, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("log directory is empty")
	}
	if keepDays <= 0 {
		keepDays = 7
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory %q: %w", dir, err)
	}
	d := &dayLog{dir: dir, keepDays: keepDays, errs: ratelimit.New(time.Minute)}
	if err := pruneDayLogs(dir, time.Now(), keepDays); err != nil {
		d.report(fmt.Errorf("cleanup of %s: %w", dir, err))
	}
	return d, nil
}

// OnRollover registers fn to run after the log moved on to a new day.
func (d *dayLog) OnRollover(fn func(prevDay time.Time)) {
	if d == nil {
		return
	}
	d.mu.Lock()
	d.onRollover = fn
	d.mu.Unlock()
}

// Append writes line stamped with now. The first line of a new UTC day
// switches files and starts the rollover callback on its own goroutine;
// Append may be running under the standard logger's lock, and the callback
// may log.
func (d *dayLog) Append(now time.Time, line string) {
	if d == nil {
		return
	}
	now = now.UTC()
	today := utcDay(now)

	d.mu.Lock()
	prev := d.day
	var rolled func(time.Time)
	if d.f == nil || !prev.Equal(today) {
		if err := d.switchLocked(today); err != nil {
			d.report(err)
		} else if !prev.IsZero() && !prev.Equal(today) {
			rolled = d.onRollover
		}
	}
	if d.f != nil {
		if _, err := d.f.WriteString(formatLogTimestamp(now) + " " + line + "\n"); err != nil {
			d.report(fmt.Errorf("write %s: %w", d.f.Name(), err))
		}
	}
	d.mu.Unlock()

	if rolled != nil {
		go rolled(prev)
	}
}

func (d *dayLog) switchLocked(day time.Time) error {
	if d.f != nil {
		_ = d.f.Close()
		d.f = nil
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("create log directory %q: %w", d.dir, err)
	}
	path := filepath.Join(d.dir, logFileName(day))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	d.f = f
	d.day = day
	if err := pruneDayLogs(d.dir, day, d.keepDays); err != nil {
		d.report(fmt.Errorf("cleanup of %s: %w", d.dir, err))
	}
	return nil
}

func (d *dayLog) report(err error) {
	suppressed, ok := d.errs.Allow()
	if !ok {
		return
	}
	if suppressed > 0 {
		fmt.Fprintf(os.Stderr, "Logging: %v (%d more suppressed)\n", err, suppressed)
		return
	}
	fmt.Fprintf(os.Stderr, "Logging: %v\n", err)
}

func (d *dayLog) Close() error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	d.day = time.Time{}
	return err
}

// logRouter is the output of the standard logger. Writes are cut into
// lines; each line is shown on the terminal and appended to the day log.
type logRouter struct {
	term *terminal
	file *dayLog
	now  func() time.Time

	mu   sync.Mutex
	tail []byte
}

// Purpose: Build the process log writer from config.
// Key aspects: Always returns a usable router; a day log failure is returned
// alongside it so the caller can log and continue.
// Upstream: runDaemon.
// Downstream: openDayLog.
func setupLogging(cfg config.LoggingConfig, tty *terminal) (*logRouter, error) {
	r := &logRouter{term: tty, now: time.Now}
	if !cfg.Enabled {
		return r, nil
	}
	file, err := openDayLog(cfg.Dir, cfg.RetentionDays)
	if err != nil {
		return r, err
	}
	r.file = file
	return r, nil
}

func (r *logRouter) Write(p []byte) (int, error) {
	r.mu.Lock()
	r.tail = append(r.tail, p...)
	var lines []string
	for {
		i := bytes.IndexByte(r.tail, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, strings.TrimSuffix(string(r.tail[:i]), "\r"))
		r.tail = r.tail[i+1:]
	}
	if len(r.tail) > maxPartialLine {
		lines = append(lines, strings.TrimSuffix(string(r.tail), "\r"))
		r.tail = nil
	}
	r.mu.Unlock()

	now := r.now()
	for _, line := range lines {
		r.term.Println(now, line)
		r.file.Append(now, line)
	}
	return len(p), nil
}

// FileOnly appends line to the day log without showing it. No-op without
// file logging.
func (r *logRouter) FileOnly(now time.Time, line string) {
	r.file.Append(now, line)
}

// OnRollover registers fn with the day log, if any.
func (r *logRouter) OnRollover(fn func(prevDay time.Time)) {
	r.file.OnRollover(fn)
}

func (r *logRouter) Close() error {
	return r.file.Close()
}

func formatLogTimestamp(now time.Time) string {
	return now.UTC().Format(logTimestampLayout)
}

func utcDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func logFileName(day time.Time) string {
	return day.UTC().Format(logFileLayout)
}

// pruneDayLogs removes day files older than keepDays, counting today. Files
// not named like a day file are left alone.
func pruneDayLogs(dir string, now time.Time, keepDays int) error {
	if keepDays <= 0 {
		return nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, "digiskimmer-*.log"))
	if err != nil {
		return err
	}
	oldest := utcDay(now).AddDate(0, 0, 1-keepDays)
	var errs []error
	for _, path := range matches {
		day, err := time.ParseInLocation(logFileLayout, filepath.Base(path), time.UTC)
		if err != nil || !day.Before(oldest) {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
