package extparser

import (
	"context"
	"strings"
	"sync"
	"testing"

	"digiskimmer/skimmer"
	"digiskimmer/spot"
)

type captureSink struct {
	mu    sync.Mutex
	spots map[string][]spot.Spot
}

func (c *captureSink) Spot(station string, s spot.Spot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.spots == nil {
		c.spots = make(map[string][]spot.Spot)
	}
	c.spots[station] = append(c.spots[station], s)
}

func TestEncodeMessages(t *testing.T) {
	got := string(EncodeMessages([]skimmer.Message{
		{Mode: "FT8", Frequency: 14.074, Line: "223015 -12  0.2 1234 ~  CQ EA7MJ IM66\n"},
		{Mode: "WSPR", Frequency: 7.0386, Line: "0100 -21"},
	}))
	want := "FT8\t14.074\t223015 -12  0.2 1234 ~  CQ EA7MJ IM66\nWSPR\t7.0386\t0100 -21\n"
	if got != want {
		t.Fatalf("EncodeMessages() = %q, want %q", got, want)
	}
}

func TestDecodeSpotsSkipsMalformedLines(t *testing.T) {
	input := `{"callsign":"EA7MJ","timestamp":1714600815,"locator":"IM66","db":-12,"dt":0.2,"freq":14.075234,"mode":"ft8","msg":"CQ EA7MJ IM66"}

not json
{"callsign":"K1ABC","timestamp":1714600815,"locator":"FN42","db":-3,"freq":14.0751,"mode":"FT8"}
`
	spots, err := DecodeSpots(strings.NewReader(input))
	if err == nil || !strings.Contains(err.Error(), "line 3") {
		t.Fatalf("expected error for line 3, got %v", err)
	}
	if len(spots) != 2 {
		t.Fatalf("expected 2 spots, got %d", len(spots))
	}
	if spots[0].Callsign != "EA7MJ" || spots[0].Mode != "FT8" || spots[0].DB != -12 || spots[0].Freq != 14.075234 {
		t.Fatalf("unexpected first spot %+v", spots[0])
	}
}

func TestDecodeSpotsRejectsBadCallsigns(t *testing.T) {
	input := `{"callsign":"<...>","timestamp":1,"locator":"FK52","freq":14.0751,"mode":"FT8"}
{"callsign":"<pj4/k1abc>","timestamp":1,"locator":"FK52","freq":14.0751,"mode":"FT8"}
`
	spots, err := DecodeSpots(strings.NewReader(input))
	if err == nil || !strings.Contains(err.Error(), "invalid callsign") {
		t.Fatalf("expected invalid callsign error, got %v", err)
	}
	if len(spots) != 1 || spots[0].Callsign != "PJ4/K1ABC" {
		t.Fatalf("unexpected spots %+v", spots)
	}
}

func TestDecodeSpotsDropsSpotsWithoutLocator(t *testing.T) {
	input := `{"callsign":"W1AW","timestamp":1,"freq":14.0751,"mode":"FT8","msg":"K1ABC W1AW -10"}
{"callsign":"EA7MJ","timestamp":1,"locator":"  ","freq":14.0751,"mode":"FT8"}
{"callsign":"DK0BT","timestamp":1,"locator":" JO62 ","freq":14.0751,"mode":"FT8"}
`
	spots, err := DecodeSpots(strings.NewReader(input))
	if err != nil {
		t.Fatalf("a missing locator is not an error: %v", err)
	}
	if len(spots) != 1 || spots[0].Callsign != "DK0BT" || spots[0].Locator != "JO62" {
		t.Fatalf("unexpected spots %+v", spots)
	}
}

func TestParseForwardsSpotsFromCommand(t *testing.T) {
	script := `while IFS="$(printf '\t')" read mode freq line; do
  printf '{"callsign":"%s","locator":"%s","timestamp":1,"freq":%s,"mode":"%s","msg":"%s"}\n' "$(echo "$line" | cut -d' ' -f2)" "$(echo "$line" | cut -d' ' -f3)" "$freq" "$mode" "$line"
done`
	sink := &captureSink{}
	p, err := New([]string{"sh", "-c", script}, sink)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.Parse(context.Background(), "home", []skimmer.Message{
		{Mode: "FT8", Frequency: 14.074, Line: "CQ EA7MJ IM66"},
		{Mode: "FT4", Frequency: 7.0475, Line: "CQ K1ABC FN42"},
		{Mode: "FT8", Frequency: 14.074, Line: "EA7MJ K1ABC"},
	})
	got := sink.spots["home"]
	if len(got) != 2 {
		t.Fatalf("expected 2 spots, got %+v", sink.spots)
	}
	if got[0].Callsign != "EA7MJ" || got[0].Locator != "IM66" || got[0].Freq != 14.074 || got[1].Mode != "FT4" {
		t.Fatalf("unexpected spots %+v", got)
	}
}

func TestNewRequiresCommand(t *testing.T) {
	if _, err := New(nil, &captureSink{}); err == nil {
		t.Fatalf("expected error without a command")
	}
}
