// Package spot defines the decoded station sighting passed from the decode
// workers to the per-station clusters, plus the helpers the rest of the
// pipeline needs: dedup identity, the mode table and the spot log line format.
package spot

import (
	"encoding/binary"
	"math"

	"github.com/zeebo/xxh3"
)

// Spot is an immutable record of one decoded transmission.
type Spot struct {
	Callsign  string  `json:"callsign"`
	Timestamp int64   `json:"timestamp"` // Unix seconds
	Locator   string  `json:"locator"`
	DB        float64 `json:"db"`   // SNR in dB
	DT        float64 `json:"dt"`   // time offset in seconds
	Freq      float64 `json:"freq"` // MHz
	Mode      string  `json:"mode"`
	Msg       string  `json:"msg"`
}

// Equal reports whether a and b describe the same sighting. DT is not part of
// the identity: two decoders may disagree on the time offset of one signal.
func Equal(a, b Spot) bool {
	return a.Callsign == b.Callsign &&
		a.Timestamp == b.Timestamp &&
		a.Locator == b.Locator &&
		a.DB == b.DB &&
		a.Freq == b.Freq &&
		a.Mode == b.Mode &&
		a.Msg == b.Msg
}

// Key returns a 64-bit fingerprint over the same fields Equal compares.
// Equal spots always share a key; callers must still confirm with Equal
// because distinct spots may collide.
//
// Layout: timestamp (8) | db bits (8) | freq bits (8) | then each string
// length-prefixed with 2 bytes so "AB"+"C" and "A"+"BC" hash differently.
func (s Spot) Key() uint64 {
	buf := make([]byte, 24, 24+len(s.Callsign)+len(s.Locator)+len(s.Mode)+len(s.Msg)+8)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(s.Timestamp))
	binary.LittleEndian.PutUint64(buf[8:16], floatBits(s.DB))
	binary.LittleEndian.PutUint64(buf[16:24], floatBits(s.Freq))
	for _, field := range [...]string{s.Callsign, s.Locator, s.Mode, s.Msg} {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(field)))
		buf = append(buf, field...)
	}
	return xxh3.Hash(buf)
}

// floatBits folds -0 into +0 so Key agrees with the == comparison in Equal.
func floatBits(v float64) uint64 {
	if v == 0 {
		return 0
	}
	return math.Float64bits(v)
}
