package upload

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"digiskimmer/config"
	"digiskimmer/spot"
	"digiskimmer/station"
)

// Packet layout (big-endian):
//
//	header (16): version 0x000A | total length | unix time | sequence | instance id
//	receiver information header (template)
//	sender information header (template)
//	receiver information block: 0x9992 | length | callsign grid software antenna, padded to 4
//	sender information block:   0x9993 | length | spots, padded to 4
const (
	protocolVersion = 0x000A
	headerLen       = 16
	maxStringLen    = 255
	// ChunkSize is the maximum number of spots per packet.
	ChunkSize = 50
	// informationSource tags spots as automatically extracted.
	informationSource = 0x01
)

var (
	// ErrStringTooLong is returned for strings whose UTF-8 form exceeds 255 bytes.
	ErrStringTooLong = errors.New("upload: string too long")
	// ErrFieldRange is returned when a numeric field does not fit its wire width.
	ErrFieldRange = errors.New("upload: field out of range")
	// ErrShortPacket is returned by DecodePacket for truncated or malformed input.
	ErrShortPacket = errors.New("upload: short or malformed packet")

	receiverDelimiter = [2]byte{0x99, 0x92}
	senderDelimiter   = [2]byte{0x99, 0x93}
)

var receiverInfoHeader = []byte{
	0x00, 0x03, 0x00, 0x2C,
	0x99, 0x92,
	0x00, 0x04, 0x00, 0x00,
	0x80, 0x02, 0xFF, 0xFF, 0x00, 0x00, 0x76, 0x8F, // receiver callsign
	0x80, 0x04, 0xFF, 0xFF, 0x00, 0x00, 0x76, 0x8F, // receiver locator
	0x80, 0x08, 0xFF, 0xFF, 0x00, 0x00, 0x76, 0x8F, // decoding software
	0x80, 0x09, 0xFF, 0xFF, 0x00, 0x00, 0x76, 0x8F, // antenna information
	0x00, 0x00,
}

var senderInfoHeader = []byte{
	0x00, 0x02, 0x00, 0x3C,
	0x99, 0x93,
	0x00, 0x07,
	0x80, 0x01, 0xFF, 0xFF, 0x00, 0x00, 0x76, 0x8F, // sender callsign
	0x80, 0x05, 0x00, 0x04, 0x00, 0x00, 0x76, 0x8F, // frequency
	0x80, 0x06, 0x00, 0x01, 0x00, 0x00, 0x76, 0x8F, // SNR
	0x80, 0x0A, 0xFF, 0xFF, 0x00, 0x00, 0x76, 0x8F, // mode
	0x80, 0x03, 0xFF, 0xFF, 0x00, 0x00, 0x76, 0x8F, // sender locator
	0x80, 0x0B, 0x00, 0x01, 0x00, 0x00, 0x76, 0x8F, // information source
	0x00, 0x96, 0x00, 0x04, // flow start seconds
}

// ReceiverInfo is the content of the receiver information block.
type ReceiverInfo struct {
	Callsign         string
	Locator          string
	DecodingSoftware string
	Antenna          string
}

// Packet is a decoded wire packet.
type Packet struct {
	Version  uint16
	Length   uint16
	Time     uint32
	Sequence uint32
	Instance uint32
	Receiver ReceiverInfo
	Spots    []spot.Spot
}

// PacketEncoder builds packets for one uploader instance. Sequence numbers
// increase by one for every packet produced.
type PacketEncoder struct {
	instance uint32
	sequence atomic.Uint32
	now      func() time.Time
}

// NewPacketEncoder creates an encoder with a random instance identifier.
func NewPacketEncoder() *PacketEncoder {
	id := uuid.New()
	return &PacketEncoder{instance: binary.BigEndian.Uint32(id[:4]), now: time.Now}
}

// Instance returns the sender instance identifier.
func (e *PacketEncoder) Instance() uint32 {
	return e.instance
}

// ReceiverInfoFor describes st for the receiver information block.
func ReceiverInfoFor(st station.Station) ReceiverInfo {
	return ReceiverInfo{
		Callsign:         st.Callsign,
		Locator:          st.Grid,
		DecodingSoftware: config.DecodingSoftware + " KiwiSDR",
		Antenna:          st.Antenna,
	}
}

// Packets encodes spots into one packet per chunk of at most ChunkSize spots.
// A spot that cannot be encoded is logged and left out.
func (e *PacketEncoder) Packets(rx ReceiverInfo, spots []spot.Spot) ([][]byte, error) {
	encoded := make([][]byte, 0, len(spots))
	for _, s := range spots {
		b, err := EncodeSpot(s)
		if err != nil {
			log.Printf("Packet: dropping spot %s %.6f %s: %v", s.Callsign, s.Freq, s.Mode, err)
			continue
		}
		encoded = append(encoded, b)
	}
	rInfo, err := encodeReceiverInfo(rx)
	if err != nil {
		return nil, err
	}

	var packets [][]byte
	for start := 0; start < len(encoded); start += ChunkSize {
		end := min(start+ChunkSize, len(encoded))
		sInfo := encodeSenderInfo(encoded[start:end])
		length := headerLen + len(receiverInfoHeader) + len(senderInfoHeader) + len(rInfo) + len(sInfo)
		if length > math.MaxUint16 {
			return packets, fmt.Errorf("%w: packet length %d", ErrFieldRange, length)
		}
		pkt := make([]byte, 0, length)
		pkt = e.appendHeader(pkt, uint16(length))
		pkt = append(pkt, receiverInfoHeader...)
		pkt = append(pkt, senderInfoHeader...)
		pkt = append(pkt, rInfo...)
		pkt = append(pkt, sInfo...)
		packets = append(packets, pkt)
	}
	return packets, nil
}

func (e *PacketEncoder) appendHeader(b []byte, length uint16) []byte {
	b = binary.BigEndian.AppendUint16(b, protocolVersion)
	b = binary.BigEndian.AppendUint16(b, length)
	b = binary.BigEndian.AppendUint32(b, uint32(e.now().Unix()))
	b = binary.BigEndian.AppendUint32(b, e.sequence.Add(1))
	return binary.BigEndian.AppendUint32(b, e.instance)
}

func appendString(b []byte, s string) ([]byte, error) {
	if len(s) > maxStringLen {
		return b, fmt.Errorf("%w: %d bytes", ErrStringTooLong, len(s))
	}
	b = append(b, byte(len(s)))
	return append(b, s...), nil
}

func pad4(b []byte) []byte {
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}

// EncodeSpot encodes one spot of the sender information block.
func EncodeSpot(s spot.Spot) ([]byte, error) {
	hz := s.Freq * 1e6
	if math.IsNaN(hz) || hz < 0 || hz >= 1<<32 {
		return nil, fmt.Errorf("%w: frequency %v MHz", ErrFieldRange, s.Freq)
	}
	db := math.Trunc(s.DB)
	if math.IsNaN(db) || db < math.MinInt8 || db > math.MaxInt8 {
		return nil, fmt.Errorf("%w: snr %v", ErrFieldRange, s.DB)
	}
	if s.Timestamp < 0 || s.Timestamp > math.MaxUint32 {
		return nil, fmt.Errorf("%w: timestamp %d", ErrFieldRange, s.Timestamp)
	}

	b := make([]byte, 0, 16+len(s.Callsign)+len(s.Mode)+len(s.Locator))
	var err error
	if b, err = appendString(b, s.Callsign); err != nil {
		return nil, err
	}
	b = binary.BigEndian.AppendUint32(b, uint32(hz))
	b = append(b, byte(int8(db)))
	if b, err = appendString(b, s.Mode); err != nil {
		return nil, err
	}
	if b, err = appendString(b, s.Locator); err != nil {
		return nil, err
	}
	b = append(b, informationSource)
	return binary.BigEndian.AppendUint32(b, uint32(s.Timestamp)), nil
}

func encodeReceiverInfo(rx ReceiverInfo) ([]byte, error) {
	var body []byte
	var err error
	for _, s := range []string{rx.Callsign, rx.Locator, rx.DecodingSoftware, rx.Antenna} {
		if body, err = appendString(body, s); err != nil {
			return nil, fmt.Errorf("receiver information: %w", err)
		}
	}
	body = pad4(body)
	out := append([]byte{}, receiverDelimiter[:]...)
	out = binary.BigEndian.AppendUint16(out, uint16(len(body)+4))
	return append(out, body...), nil
}

func encodeSenderInfo(spots [][]byte) []byte {
	body := pad4(bytes.Join(spots, nil))
	out := append([]byte{}, senderDelimiter[:]...)
	out = binary.BigEndian.AppendUint16(out, uint16(len(body)+4))
	return append(out, body...)
}

// minSpotLen is an encoded spot with empty strings.
const minSpotLen = 1 + 4 + 1 + 1 + 1 + 1 + 4

type reader struct {
	b   []byte
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n > len(r.b) {
		r.err = ErrShortPacket
		return nil
	}
	out := r.b[:n]
	r.b = r.b[n:]
	return out
}

func (r *reader) u8() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) str() string {
	n := int(r.u8())
	return string(r.take(n))
}

// DecodePacket parses a packet produced by PacketEncoder.Packets.
func DecodePacket(b []byte) (Packet, error) {
	var p Packet
	r := &reader{b: b}
	p.Version = r.u16()
	p.Length = r.u16()
	p.Time = r.u32()
	p.Sequence = r.u32()
	p.Instance = r.u32()
	if r.err != nil {
		return p, r.err
	}
	if p.Version != protocolVersion {
		return p, fmt.Errorf("%w: version 0x%04X", ErrShortPacket, p.Version)
	}
	if int(p.Length) != len(b) {
		return p, fmt.Errorf("%w: length field %d, got %d bytes", ErrShortPacket, p.Length, len(b))
	}
	if !bytes.Equal(r.take(len(receiverInfoHeader)), receiverInfoHeader) {
		return p, fmt.Errorf("%w: receiver information header", ErrShortPacket)
	}
	if !bytes.Equal(r.take(len(senderInfoHeader)), senderInfoHeader) {
		return p, fmt.Errorf("%w: sender information header", ErrShortPacket)
	}

	rBody, err := block(r, receiverDelimiter)
	if err != nil {
		return p, err
	}
	rr := &reader{b: rBody}
	p.Receiver = ReceiverInfo{Callsign: rr.str(), Locator: rr.str(), DecodingSoftware: rr.str(), Antenna: rr.str()}
	if rr.err != nil {
		return p, fmt.Errorf("%w: receiver information", ErrShortPacket)
	}

	sBody, err := block(r, senderDelimiter)
	if err != nil {
		return p, err
	}
	sr := &reader{b: sBody}
	for len(sr.b) >= minSpotLen {
		var s spot.Spot
		s.Callsign = sr.str()
		s.Freq = float64(sr.u32()) / 1e6
		s.DB = float64(int8(sr.u8()))
		s.Mode = sr.str()
		s.Locator = sr.str()
		if src := sr.u8(); sr.err == nil && src != informationSource {
			return p, fmt.Errorf("%w: information source 0x%02X", ErrShortPacket, src)
		}
		s.Timestamp = int64(sr.u32())
		if sr.err != nil {
			return p, fmt.Errorf("%w: sender information", ErrShortPacket)
		}
		p.Spots = append(p.Spots, s)
	}
	if len(sr.b) >= 4 || len(bytes.Trim(sr.b, "\x00")) != 0 {
		return p, fmt.Errorf("%w: trailing sender data", ErrShortPacket)
	}
	if len(r.b) != 0 {
		return p, fmt.Errorf("%w: %d trailing bytes", ErrShortPacket, len(r.b))
	}
	return p, nil
}

func block(r *reader, delim [2]byte) ([]byte, error) {
	d := r.take(2)
	length := int(r.u16())
	if r.err != nil || d[0] != delim[0] || d[1] != delim[1] || length < 4 {
		return nil, fmt.Errorf("%w: block 0x%02X%02X", ErrShortPacket, delim[0], delim[1])
	}
	body := r.take(length - 4)
	if r.err != nil {
		return nil, r.err
	}
	return body, nil
}
