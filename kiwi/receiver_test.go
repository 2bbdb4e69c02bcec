package kiwi

import (
	"context"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strconv"
	"strings"
	"testing"

	"digiskimmer/config"
)

func TestLocatorFromLatLon(t *testing.T) {
	tests := []struct {
		name   string
		lat    float64
		lon    float64
		want   string
		wantOK bool
	}{
		{name: "origin", lat: 0, lon: 0, want: "JJ00aa", wantOK: true},
		{name: "munich", lat: 48.1375, lon: 11.575, want: "JN58sd", wantOK: true},
		{name: "north_pole_clamp", lat: 90, lon: 180, want: "RR99xx", wantOK: true},
		{name: "invalid_nan", lat: math.NaN(), lon: 0, wantOK: false},
		{name: "invalid_out_of_range", lat: 95, lon: 0, wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := LocatorFromLatLon(tt.lat, tt.lon)
			if ok != tt.wantOK {
				t.Fatalf("ok=%v want %v (grid=%q)", ok, tt.wantOK, got)
			}
			if ok && got != tt.want {
				t.Fatalf("grid=%q want %q", got, tt.want)
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	body := "status=active\nname=Test Kiwi\ngps=(48.137500, 11.575000)\nantenna=Mini-Whip\n"
	tel, err := ParseStatus(strings.NewReader(body))
	if err != nil {
		t.Fatalf("ParseStatus: %v", err)
	}
	if tel.Grid != "JN58sd" || tel.Antenna != "Mini-Whip" {
		t.Fatalf("unexpected telemetry %+v", tel)
	}

	tel, _ = ParseStatus(strings.NewReader("grid=IO91wm\ngps=(48.1, 11.5)\n"))
	if tel.Grid != "IO91wm" {
		t.Fatalf("explicit grid should win, got %q", tel.Grid)
	}

	tel, _ = ParseStatus(strings.NewReader("gps=(0.000000, 0.000000)\n"))
	if tel.Grid != "" {
		t.Fatalf("no-fix position must not produce a grid, got %q", tel.Grid)
	}
}

func TestTelemetryFetchesStatusPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("grid=JO62qm\nantenna=Dipole\n"))
	}))
	defer srv.Close()
	host, portText, _ := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	port, _ := strconv.Atoi(portText)

	rx := New(config.ReceiverConfig{Host: host, Port: port})
	tel, err := rx.Telemetry(context.Background())
	if err != nil {
		t.Fatalf("Telemetry: %v", err)
	}
	if tel.Grid != "JO62qm" || tel.Antenna != "Dipole" {
		t.Fatalf("unexpected telemetry %+v", tel)
	}
}

func TestTuneArgs(t *testing.T) {
	rx := New(config.ReceiverConfig{
		Host:        "kiwi.local",
		Port:        8073,
		TuneCommand: []string{"kiwictl", "-s", "{host}", "-p", "{port}", "-m", "{mod}", "-L", "{lc}", "-H", "{hc}", "-f", "{freq}"},
	})
	got := rx.TuneArgs("usb", 300, 3000, 14.074)
	want := []string{"kiwictl", "-s", "kiwi.local", "-p", "8073", "-m", "usb", "-L", "300", "-H", "3000", "-f", "14074"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("TuneArgs() = %v, want %v", got, want)
	}
}

func TestSetModRunsTuneCommand(t *testing.T) {
	rx := New(config.ReceiverConfig{TuneCommand: []string{"sh", "-c", "test {mod} = usb"}})
	if err := rx.SetMod(context.Background(), "usb", 0, 3000, 7.074); err != nil {
		t.Fatalf("SetMod: %v", err)
	}
	if err := rx.SetMod(context.Background(), "am", 0, 3000, 7.074); err == nil {
		t.Fatalf("expected failing tune command to report an error")
	}
	if err := New(config.ReceiverConfig{}).SetMod(context.Background(), "usb", 0, 3000, 7.074); err != nil {
		t.Fatalf("SetMod without command: %v", err)
	}
}
