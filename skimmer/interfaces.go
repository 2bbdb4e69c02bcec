// Package skimmer drives one receiver per recorder: it rotates the receiver
// through its band-hop list, submits closed audio segments for decoding and
// runs the decoder for the segments it submitted.
package skimmer

import (
	"context"

	"digiskimmer/decoder"
)

// Telemetry is receiver metadata reported by the front-end.
type Telemetry struct {
	Grid    string
	Antenna string
}

// Receiver is the receiver front-end a recorder tunes.
type Receiver interface {
	SetMod(ctx context.Context, modulation string, lowCut, highCut, freq float64) error
	Telemetry(ctx context.Context) (Telemetry, error)
}

// Message is one raw decoder output line together with how it was decoded.
type Message struct {
	Mode      string
	Frequency float64 // MHz, dial frequency of the segment
	Line      string
}

// Parser turns raw decoder output into spots for a station.
type Parser interface {
	Parse(ctx context.Context, station string, messages []Message)
}

// JobQueue accepts decode jobs without blocking.
type JobQueue interface {
	Put(job decoder.Job) error
	Len() int
}
