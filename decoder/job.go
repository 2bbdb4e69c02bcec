// Package decoder runs external decoder programs on recorded audio segments.
// Jobs flow through a bounded Queue into a fixed pool of workers; each job is
// handed back to the Decoder that created it.
package decoder

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"os"
)

// Decoder is implemented by whatever produced a Job. Decode must contain its
// own failures: the worker only logs and moves on.
type Decoder interface {
	Decode(ctx context.Context, job Job)
}

// Job pairs one closed audio segment with the tuning it was recorded at.
// Mode is captured at submission so a band hop between recording and decoding
// does not change how the segment is decoded.
type Job struct {
	File      string
	Frequency float64 // MHz
	Mode      string
	Owner     Decoder
}

// Unlink removes the job's segment file. A file that is already gone only
// produces a warning.
func (j Job) Unlink() {
	if j.File == "" {
		return
	}
	if err := os.Remove(j.File); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Printf("Decoder: warning: segment %s already removed", j.File)
			return
		}
		log.Printf("Decoder: failed to remove segment %s: %v", j.File, err)
	}
}
