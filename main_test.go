package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"digiskimmer/spot"
)

const testConfig = `stations:
  home:
    callsign: EA7XYZ
    grid: IM76
    antenna: EFHW
upload:
  transport: packet
packet:
  host: 127.0.0.1
  port: 4739
`

func writeTestConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "settings.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigExplicitPath(t *testing.T) {
	path := writeTestConfig(t, t.TempDir(), testConfig)
	cfg, source, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if source != path {
		t.Fatalf("source = %q, want %q", source, path)
	}
	if cfg.Stations["home"].Callsign != "EA7XYZ" {
		t.Fatalf("unexpected stations: %+v", cfg.Stations)
	}
}

func TestLoadConfigExplicitMissing(t *testing.T) {
	t.Setenv(envConfigPath, "")
	missing := filepath.Join(t.TempDir(), "nope.yaml")
	if _, _, err := loadConfig(missing); err == nil {
		t.Fatalf("expected error for missing explicit config")
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := writeTestConfig(t, t.TempDir(), testConfig)
	t.Setenv(envConfigPath, path)
	_, source, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if source != path {
		t.Fatalf("source = %q, want env path %q", source, path)
	}
}

func TestLoadConfigFallsThroughMissingEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv(envConfigPath, filepath.Join(dir, "missing.yaml"))
	writeTestConfig(t, dir, testConfig)
	_, source, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if source != defaultConfigPath {
		t.Fatalf("source = %q, want %q", source, defaultConfigPath)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := writeTestConfig(t, t.TempDir(), "stations: {}\n")
	_, _, err := loadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "no stations configured") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestFormatStatus(t *testing.T) {
	now := time.Date(2026, time.January, 22, 10, 4, 5, 0, time.Local)
	got := formatStatus(now, 3, 10, 1234, []string{"home FT8:[###...]"})
	want := "[10:04:05 Q:3/10 P:1,234] home FT8:[###...]"
	if got != want {
		t.Fatalf("formatStatus = %q, want %q", got, want)
	}
	if got := formatStatus(now, 0, 10, 0, nil); got != "[10:04:05 Q:0/10 P:0]" {
		t.Fatalf("formatStatus without bars = %q", got)
	}
}

func TestStationFromLogPath(t *testing.T) {
	path := filepath.Join("log", "spots", "telnet", "home", "260122.log")
	if got := stationFromLogPath("", path); got != "home" {
		t.Fatalf("station = %q, want home", got)
	}
	if got := stationFromLogPath("other", path); got != "other" {
		t.Fatalf("explicit station ignored: %q", got)
	}
}

func TestReadSpotLog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "260122.log")
	in := spot.Spot{
		Callsign:  "EA7MJ",
		Timestamp: time.Date(2026, time.January, 22, 22, 21, 0, 0, time.UTC).Unix(),
		Locator:   "IM66",
		DB:        -15,
		DT:        -0.1,
		Freq:      14.074508,
		Mode:      "FT8",
	}
	body := spot.FormatLogLine(in, time.UTC) + "\ngarbage\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	spots, err := readSpotLog(path, time.UTC)
	if err != nil {
		t.Fatalf("readSpotLog: %v", err)
	}
	if len(spots) != 1 {
		t.Fatalf("expected 1 spot, got %d", len(spots))
	}
	if !spot.Equal(spots[0], in) || spots[0].Timestamp != in.Timestamp {
		t.Fatalf("spot mismatch: got %+v want %+v", spots[0], in)
	}
}

func TestDumpPackets(t *testing.T) {
	dir := t.TempDir()
	configPath = writeTestConfig(t, dir, testConfig)
	t.Cleanup(func() { configPath = "" })
	packetStation = ""

	logDir := filepath.Join(dir, "spots", "telnet", "home")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	var body strings.Builder
	for i := 0; i < 3; i++ {
		body.WriteString(spot.FormatLogLine(spot.Spot{
			Callsign:  "K1ABC",
			Timestamp: time.Date(2026, time.January, 22, 12, 0, i*15, 0, time.Local).Unix(),
			Locator:   "FN42",
			DB:        -10,
			Freq:      14.0745,
			Mode:      "FT8",
		}, time.Local))
	}
	path := filepath.Join(logDir, "260122.log")
	if err := os.WriteFile(path, []byte(body.String()), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	var out bytes.Buffer
	if err := dumpPackets(&out, path); err != nil {
		t.Fatalf("dumpPackets: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "packet 1 (") {
		t.Fatalf("missing packet header in %q", text)
	}
	if !strings.Contains(text, "seq=1") || !strings.Contains(text, "receiver=EA7XYZ/IM76 spots=3") {
		t.Fatalf("unexpected summary in %q", text)
	}
}
