package skimmer

import (
	"context"
	"errors"
	"log"
	"path/filepath"

	"digiskimmer/decoder"
)

// Decode runs the decoder for job and hands its output to the parser. It is
// called by a decode queue worker; every failure is logged and contained.
func (r *Recorder) Decode(ctx context.Context, job decoder.Job) {
	_ = r.run(ctx, job, func(lines []string) {
		r.backfill(ctx)
		if r.deps.Parser == nil || len(lines) == 0 {
			return
		}
		messages := make([]Message, 0, len(lines))
		for _, line := range lines {
			messages = append(messages, Message{Mode: job.Mode, Frequency: job.Frequency, Line: line})
		}
		r.deps.Parser.Parse(ctx, r.opts.Station, messages)
	})
}

// DecodeLines runs the decoder for job and returns its raw output lines.
// Lines already read are returned even when the decoder later fails or has
// to be killed.
func (r *Recorder) DecodeLines(ctx context.Context, job decoder.Job) ([]string, error) {
	var out []string
	err := r.run(ctx, job, func(lines []string) { out = lines })
	return out, err
}

// run starts the decoder, drains its stdout, passes the lines to consume and
// only then waits for the process to exit.
func (r *Recorder) run(ctx context.Context, job decoder.Job, consume func(lines []string)) error {
	p, err := r.deps.Profiles.Get(job.Mode)
	if err != nil {
		log.Printf("Recorder[%s]: cannot decode %s: %v", r.opts.Station, job.File, err)
		return err
	}
	file, err := filepath.Abs(job.File)
	if err != nil {
		log.Printf("Recorder[%s]: cannot resolve %s: %v", r.opts.Station, job.File, err)
		return err
	}
	if resolved, rerr := filepath.EvalSymlinks(file); rerr == nil {
		file = resolved
	}

	proc, err := decoder.StartProcess(filepath.Dir(file), decoder.NiceArgs(r.opts.Nice, p.DecoderCommand(file)))
	if err != nil {
		log.Printf("Recorder[%s]: %v", r.opts.Station, err)
		r.deps.Stats.RecordDecoderFailure()
		return err
	}
	lines, readErr := proc.ReadLines()
	if readErr != nil {
		log.Printf("Recorder[%s]: %v", r.opts.Station, readErr)
	}
	r.deps.Stats.RecordDecode(len(lines))
	consume(lines)

	waitErr := proc.Wait(r.opts.WaitTimeout)
	switch {
	case waitErr == nil:
	case errors.Is(waitErr, decoder.ErrWaitTimeout):
		log.Printf("Recorder[%s]: warning: decoder (pid=%d) did not terminate within %s; killed", r.opts.Station, proc.Pid(), r.opts.WaitTimeout)
		r.deps.Stats.RecordDecoderTimeout()
	default:
		log.Printf("Recorder[%s]: warning: decoder return code: %d", r.opts.Station, decoder.ExitCode(waitErr))
		r.deps.Stats.RecordDecoderFailure()
	}
	if readErr != nil {
		return readErr
	}
	return waitErr
}

// backfill copies grid and antenna from live receiver telemetry into the
// station record when they are still missing.
func (r *Recorder) backfill(ctx context.Context) {
	if r.deps.Stations == nil || r.deps.Receiver == nil || !r.deps.Stations.NeedsBackfill(r.opts.Station) {
		return
	}
	tel, err := r.deps.Receiver.Telemetry(ctx)
	if err != nil {
		if suppressed, ok := r.telemetryErrs.Allow(); ok {
			log.Printf("Recorder[%s]: receiver telemetry unavailable (%d similar suppressed): %v", r.opts.Station, suppressed, err)
		}
		return
	}
	gridSet, antennaSet := r.deps.Stations.Backfill(r.opts.Station, tel.Grid, tel.Antenna)
	if gridSet {
		log.Printf("Recorder[%s]: station grid set from receiver: %q", r.opts.Station, tel.Grid)
	}
	if antennaSet {
		log.Printf("Recorder[%s]: station antenna set from receiver: %q", r.opts.Station, tel.Antenna)
	}
}
