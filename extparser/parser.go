// Package extparser hands raw decoder output to an external parser program
// and forwards the spots it reports to the station clusters.
//
// Protocol: one record per line on the program's stdin,
// "<mode>\t<dial MHz>\t<decoder line>", then EOF. The program answers with
// one JSON spot object per line on stdout.
package extparser

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"digiskimmer/skimmer"
	"digiskimmer/spot"
)

const defaultTimeout = 30 * time.Second

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Sink receives parsed spots for a station.
type Sink interface {
	Spot(station string, s spot.Spot)
}

// Parser implements skimmer.Parser by running Command once per batch.
type Parser struct {
	command []string
	sink    Sink
	timeout time.Duration
}

// New creates a parser running command and forwarding spots to sink.
func New(command []string, sink Sink) (*Parser, error) {
	if len(command) == 0 {
		return nil, errors.New("extparser: no parser command configured")
	}
	return &Parser{command: append([]string(nil), command...), sink: sink, timeout: defaultTimeout}, nil
}

// Parse runs the parser over messages. Failures are logged; spots reported
// before a failure are still forwarded.
func (p *Parser) Parse(ctx context.Context, station string, messages []skimmer.Message) {
	if len(messages) == 0 {
		return
	}
	spots, err := p.Run(ctx, messages)
	if err != nil {
		log.Printf("Parser[%s]: %v", station, err)
	}
	for _, s := range spots {
		p.sink.Spot(station, s)
	}
}

// Run executes the parser program and returns the decoded spots.
func (p *Parser) Run(ctx context.Context, messages []skimmer.Message) ([]spot.Spot, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.command[0], p.command[1:]...)
	cmd.Stdin = bytes.NewReader(EncodeMessages(messages))
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	runErr := cmd.Run()

	spots, parseErr := DecodeSpots(&stdout)
	if runErr != nil {
		return spots, fmt.Errorf("extparser: %s: %w", p.command[0], runErr)
	}
	return spots, parseErr
}

// EncodeMessages renders messages in the stdin record format.
func EncodeMessages(messages []skimmer.Message) []byte {
	var buf bytes.Buffer
	for _, m := range messages {
		buf.WriteString(m.Mode)
		buf.WriteByte('\t')
		buf.WriteString(strconv.FormatFloat(m.Frequency, 'f', -1, 64))
		buf.WriteByte('\t')
		buf.WriteString(strings.TrimRight(m.Line, "\r\n"))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// DecodeSpots reads JSON spot lines. Blank lines and spots without a
// locator are skipped; a malformed line or a spot with an invalid callsign
// is reported after the remaining lines are read.
func DecodeSpots(r io.Reader) ([]spot.Spot, error) {
	var spots []spot.Spot
	var errs []error
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var s spot.Spot
		if err := json.Unmarshal(line, &s); err != nil {
			errs = append(errs, fmt.Errorf("extparser: line %d: %w", lineNo, err))
			continue
		}
		if !spot.IsValidCallsign(s.Callsign) {
			errs = append(errs, fmt.Errorf("extparser: line %d: invalid callsign %q", lineNo, s.Callsign))
			continue
		}
		if s.Locator = strings.TrimSpace(s.Locator); s.Locator == "" {
			continue
		}
		s.Callsign = spot.NormalizeCallsign(s.Callsign)
		s.Mode = spot.NormalizeMode(s.Mode)
		spots = append(spots, s)
	}
	if err := scanner.Err(); err != nil {
		errs = append(errs, err)
	}
	return spots, errors.Join(errs...)
}
