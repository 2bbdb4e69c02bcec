package upload

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/ziutek/telnet"

	"digiskimmer/spot"
	"digiskimmer/station"
)

const (
	loginPrompt   = "login: "
	commandPrompt = ">"
)

// SessionOptions configures the interactive session transport.
type SessionOptions struct {
	Host             string
	Port             int
	HandshakeTimeout time.Duration
	// CommandTimeout bounds the prompt wait after each dx command. Zero
	// leaves it unbounded; the caller's context still closes the session.
	CommandTimeout time.Duration
}

// Session uploads spots as dx commands over a telnet login session. A new
// session is opened for every batch.
type Session struct {
	opts     SessionOptions
	stations *station.Store
}

// NewSession creates the session transport.
func NewSession(opts SessionOptions, stations *station.Store) *Session {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 2 * time.Second
	}
	return &Session{opts: opts, stations: stations}
}

// FormatCommand renders the dx command for s. The frequency is sent in kHz
// in its shortest decimal form, always with a fractional part.
func FormatCommand(s spot.Spot) string {
	return "dx " + formatKHz(s.Freq*1000) + "  " + s.Callsign + " " + s.Mode + "\r\n"
}

func formatKHz(v float64) string {
	text := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(text, ".") {
		text += ".0"
	}
	return text
}

// Upload logs in as the station and submits one dx command per spot.
func (s *Session) Upload(ctx context.Context, stationName string, spots []spot.Spot) error {
	st, err := lookupStation(s.stations, stationName)
	if err != nil {
		return err
	}
	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	conn, err := telnet.DialTimeout("tcp", addr, s.opts.HandshakeTimeout)
	if err != nil {
		return fmt.Errorf("session: dial %s: %w", addr, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	wrap := func(step string, err error) error {
		if ctx.Err() != nil {
			return fmt.Errorf("session: %s: %w", step, ctx.Err())
		}
		return fmt.Errorf("session: %s: %w", step, err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(s.opts.HandshakeTimeout)); err != nil {
		return wrap("set deadline", err)
	}
	if _, err := conn.ReadUntil(loginPrompt); err != nil {
		return wrap("waiting for login prompt", err)
	}
	if _, err := conn.Write([]byte(st.LoginName() + "\n")); err != nil {
		return wrap("login", err)
	}
	if err := conn.SetReadDeadline(time.Now().Add(s.opts.HandshakeTimeout)); err != nil {
		return wrap("set deadline", err)
	}
	banner, err := conn.ReadUntil(commandPrompt)
	if err != nil {
		return wrap("waiting for prompt", err)
	}
	log.Printf("Session[%s]: %s", stationName, strings.TrimSpace(string(banner)))

	for _, sp := range spots {
		deadline := time.Time{}
		if s.opts.CommandTimeout > 0 {
			deadline = time.Now().Add(s.opts.CommandTimeout)
		}
		if err := conn.SetReadDeadline(deadline); err != nil {
			return wrap("set deadline", err)
		}
		if _, err := conn.Write([]byte(FormatCommand(sp))); err != nil {
			return wrap("dx "+sp.Callsign, err)
		}
		resp, err := conn.ReadUntil(commandPrompt)
		if err != nil {
			return wrap("dx "+sp.Callsign, err)
		}
		if text := strings.TrimSpace(string(resp)); text != commandPrompt {
			log.Printf("Session[%s]: %s", stationName, text)
		}
	}
	return nil
}

// Close is a no-op; sessions are closed after each batch.
func (s *Session) Close() error {
	return nil
}
