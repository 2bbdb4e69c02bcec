// Package kiwi adapts a KiwiSDR-style receiver: tuning goes through an
// external command and telemetry is read from the receiver's /status page.
package kiwi

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"digiskimmer/config"
	"digiskimmer/skimmer"
)

const statusBodyLimit = 64 * 1024

// Receiver implements skimmer.Receiver.
type Receiver struct {
	host   string
	port   int
	tune   []string
	client *http.Client
}

// New creates a receiver adapter from configuration.
func New(cfg config.ReceiverConfig) *Receiver {
	timeout := time.Duration(cfg.StatusTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Receiver{
		host:   cfg.Host,
		port:   cfg.Port,
		tune:   append([]string(nil), cfg.TuneCommand...),
		client: &http.Client{Timeout: timeout},
	}
}

// TuneArgs expands the tune command template. Placeholders: {host}, {port},
// {mod}, {lc}, {hc} (Hz) and {freq} (kHz).
func (r *Receiver) TuneArgs(modulation string, lowCut, highCut, freq float64) []string {
	repl := strings.NewReplacer(
		"{host}", r.host,
		"{port}", strconv.Itoa(r.port),
		"{mod}", modulation,
		"{lc}", strconv.FormatFloat(lowCut, 'f', -1, 64),
		"{hc}", strconv.FormatFloat(highCut, 'f', -1, 64),
		"{freq}", strconv.FormatFloat(math.Round(freq*1e6)/1000, 'f', -1, 64),
	)
	args := make([]string, len(r.tune))
	for i, a := range r.tune {
		args[i] = repl.Replace(a)
	}
	return args
}

// SetMod retunes the receiver. Without a tune command the receiver is
// assumed to be driven by the capture process and SetMod is a no-op.
func (r *Receiver) SetMod(ctx context.Context, modulation string, lowCut, highCut, freq float64) error {
	if len(r.tune) == 0 {
		return nil
	}
	args := r.TuneArgs(modulation, lowCut, highCut, freq)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("kiwi: tune %s:%d to %.3f kHz: %w (%s)", r.host, r.port, freq*1000, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Telemetry fetches grid and antenna from the receiver's /status page.
func (r *Receiver) Telemetry(ctx context.Context) (skimmer.Telemetry, error) {
	if r.host == "" {
		return skimmer.Telemetry{}, errors.New("kiwi: receiver host not configured")
	}
	url := "http://" + net.JoinHostPort(r.host, strconv.Itoa(r.port)) + "/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return skimmer.Telemetry{}, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return skimmer.Telemetry{}, fmt.Errorf("kiwi: status: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return skimmer.Telemetry{}, fmt.Errorf("kiwi: status: unexpected HTTP %d", resp.StatusCode)
	}
	return ParseStatus(io.LimitReader(resp.Body, statusBodyLimit))
}

// ParseStatus reads the key=value lines of a /status page. An explicit grid
// wins over one derived from the gps=(lat, lon) line.
func ParseStatus(r io.Reader) (skimmer.Telemetry, error) {
	var tel skimmer.Telemetry
	var gpsGrid string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "grid":
			tel.Grid = value
		case "antenna":
			tel.Antenna = value
		case "gps":
			if lat, lon, ok := parseGPS(value); ok {
				gpsGrid, _ = LocatorFromLatLon(lat, lon)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return tel, fmt.Errorf("kiwi: read status: %w", err)
	}
	if tel.Grid == "" {
		tel.Grid = gpsGrid
	}
	return tel, nil
}

func parseGPS(value string) (float64, float64, bool) {
	value = strings.Trim(value, "() ")
	latText, lonText, ok := strings.Cut(value, ",")
	if !ok {
		return 0, 0, false
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(latText), 64)
	lon, err2 := strconv.ParseFloat(strings.TrimSpace(lonText), 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	if lat == 0 && lon == 0 {
		// receivers without a fix report the origin
		return 0, 0, false
	}
	return lat, lon, true
}
