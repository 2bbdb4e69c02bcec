package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"digiskimmer/cluster"
	"digiskimmer/decoder"
	"digiskimmer/skimmer"
)

const statusRefresh = time.Second

// Purpose: Report whether stdout is a TTY for status line gating.
// Key aspects: Uses term.IsTerminal on stdout fd.
// Upstream: runDaemon.
// Downstream: term.IsTerminal.
func isStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// statusLine redraws a single console line with the queue depth, pending
// spots and one progress bar per recorder. It shares the terminal with the
// log, which erases it before printing; the next tick redraws it.
type statusLine struct {
	term      *terminal
	queue     *decoder.Queue
	clusters  *cluster.Registry
	recorders []*skimmer.Recorder
	now       func() time.Time
}

func newStatusLine(tty *terminal, queue *decoder.Queue, clusters *cluster.Registry, recorders []*skimmer.Recorder) *statusLine {
	return &statusLine{term: tty, queue: queue, clusters: clusters, recorders: recorders, now: time.Now}
}

func (s *statusLine) Run(ctx context.Context) error {
	ticker := time.NewTicker(statusRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.term.Status("")
			return nil
		case <-ticker.C:
			s.term.Status(s.render(s.now()))
		}
	}
}

func (s *statusLine) render(now time.Time) string {
	bars := make([]string, 0, len(s.recorders))
	for _, rec := range s.recorders {
		bars = append(bars, rec.Station()+" "+rec.StatusBar(now))
	}
	return formatStatus(now, s.queue.Len(), s.queue.Cap(), s.clusters.Pending(), bars)
}

func formatStatus(now time.Time, queued, capacity, pending int, bars []string) string {
	line := fmt.Sprintf("[%s Q:%d/%d P:%s]", now.Format("15:04:05"), queued, capacity, humanize.Comma(int64(pending)))
	if len(bars) > 0 {
		line += " " + strings.Join(bars, " ")
	}
	return line
}
