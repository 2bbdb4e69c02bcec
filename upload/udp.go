package upload

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"golang.org/x/time/rate"

	"digiskimmer/config"
	"digiskimmer/spot"
	"digiskimmer/station"
)

// PacketUploader sends binary packets as UDP datagrams. There is no
// acknowledgement; packets are paced by a token bucket shared by all
// stations. Each station reports as its own sender instance with its own
// sequence.
type PacketUploader struct {
	addr     string
	stations *station.Store
	limiter  *rate.Limiter

	mu       sync.Mutex
	conn     net.Conn
	encoders map[string]*PacketEncoder
}

// NewPacketUploader creates the packet transport.
func NewPacketUploader(cfg config.PacketConfig, stations *station.Store) *PacketUploader {
	pps := cfg.PacketsPerSecond
	if pps <= 0 {
		pps = 1
	}
	return &PacketUploader{
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		stations: stations,
		limiter:  rate.NewLimiter(rate.Limit(pps), 1),
		encoders: make(map[string]*PacketEncoder),
	}
}

// Upload encodes spots for the station and sends one datagram per packet.
func (u *PacketUploader) Upload(ctx context.Context, stationName string, spots []spot.Spot) error {
	st, err := lookupStation(u.stations, stationName)
	if err != nil {
		return err
	}
	packets, err := u.encoderFor(stationName).Packets(ReceiverInfoFor(st), spots)
	if err != nil {
		return err
	}
	conn, err := u.dial()
	if err != nil {
		return err
	}
	for i, pkt := range packets {
		if err := u.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("packet: sent %d of %d packets: %w", i, len(packets), err)
		}
		if _, err := conn.Write(pkt); err != nil {
			u.reset()
			return fmt.Errorf("packet: write to %s: %w", u.addr, err)
		}
	}
	return nil
}

func (u *PacketUploader) encoderFor(stationName string) *PacketEncoder {
	u.mu.Lock()
	defer u.mu.Unlock()
	enc, ok := u.encoders[stationName]
	if !ok {
		enc = NewPacketEncoder()
		u.encoders[stationName] = enc
	}
	return enc
}

func (u *PacketUploader) dial() (net.Conn, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn != nil {
		return u.conn, nil
	}
	conn, err := net.Dial("udp", u.addr)
	if err != nil {
		return nil, fmt.Errorf("packet: dial %s: %w", u.addr, err)
	}
	u.conn = conn
	return conn, nil
}

func (u *PacketUploader) reset() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn != nil {
		u.conn.Close()
		u.conn = nil
	}
}

// Close releases the socket.
func (u *PacketUploader) Close() error {
	u.reset()
	return nil
}
