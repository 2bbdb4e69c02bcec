package upload

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"digiskimmer/config"
	"digiskimmer/spot"
	"digiskimmer/station"
)

type fakeNode struct {
	ln       net.Listener
	login    chan string
	commands chan string
	silent   bool
}

func newFakeNode(t *testing.T) *fakeNode {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	n := &fakeNode{ln: ln, login: make(chan string, 1), commands: make(chan string, 16)}
	t.Cleanup(func() { ln.Close() })
	return n
}

func (n *fakeNode) serveOne() {
	conn, err := n.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	r := bufio.NewReader(conn)
	conn.Write([]byte("Welcome to the test node\r\n\r\nlogin: "))
	line, err := r.ReadString('\n')
	if err != nil {
		return
	}
	n.login <- strings.TrimRight(line, "\r\n")
	conn.Write([]byte("Hello DK0BT, this is TEST-2\r\nDK0BT de TEST-2 >"))
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		n.commands <- line
		if n.silent {
			continue
		}
		conn.Write([]byte("\r\nDK0BT de TEST-2 >"))
	}
}

func (n *fakeNode) port() int {
	return n.ln.Addr().(*net.TCPAddr).Port
}

func testStations() *station.Store {
	return station.NewStore(map[string]config.StationConfig{
		"home": {Callsign: "DK0BT", Grid: "JO62", Login: "dk0bt-0"},
	})
}

func TestFormatCommand(t *testing.T) {
	tests := []struct {
		freq float64
		want string
	}{
		{14.0745, "dx 14074.5  EA7MJ FT8\r\n"},
		{14.074, "dx 14074.0  EA7MJ FT8\r\n"},
		{7.074, "dx 7074.0  EA7MJ FT8\r\n"},
		{14.0, "dx 14000.0  EA7MJ FT8\r\n"},
	}
	for _, tc := range tests {
		got := FormatCommand(spot.Spot{Callsign: "EA7MJ", Freq: tc.freq, Mode: "FT8"})
		if got != tc.want {
			t.Fatalf("FormatCommand(%v) = %q, want %q", tc.freq, got, tc.want)
		}
	}
}

func TestSessionUpload(t *testing.T) {
	node := newFakeNode(t)
	go node.serveOne()
	s := NewSession(SessionOptions{Host: "127.0.0.1", Port: node.port(), HandshakeTimeout: 2 * time.Second}, testStations())

	spots := []spot.Spot{
		{Callsign: "EA7MJ", Freq: 14.0745, Mode: "FT8"},
		{Callsign: "K1ABC", Freq: 7.0475, Mode: "FT4"},
	}
	if err := s.Upload(context.Background(), "home", spots); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if got := <-node.login; got != "dk0bt-0" {
		t.Fatalf("login = %q", got)
	}
	want := []string{"dx 14074.5  EA7MJ FT8\r\n", "dx 7047.5  K1ABC FT4\r\n"}
	for _, w := range want {
		select {
		case got := <-node.commands:
			if got != w {
				t.Fatalf("command = %q, want %q", got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("missing command %q", w)
		}
	}
}

func TestSessionLoginDefaultsToCallsign(t *testing.T) {
	node := newFakeNode(t)
	go node.serveOne()
	stations := station.NewStore(map[string]config.StationConfig{"home": {Callsign: "DK0BT"}})
	s := NewSession(SessionOptions{Host: "127.0.0.1", Port: node.port()}, stations)
	if err := s.Upload(context.Background(), "home", nil); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if got := <-node.login; got != "dk0bt" {
		t.Fatalf("login = %q, want lowercased callsign", got)
	}
}

func TestSessionHandshakeTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(2 * time.Second)
	}()
	s := NewSession(SessionOptions{Host: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port, HandshakeTimeout: 100 * time.Millisecond}, testStations())
	start := time.Now()
	if err := s.Upload(context.Background(), "home", []spot.Spot{{Callsign: "EA7MJ", Freq: 14.074, Mode: "FT8"}}); err == nil {
		t.Fatalf("expected handshake timeout")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("handshake timeout not enforced")
	}
}

func TestSessionContextClosesStalledCommand(t *testing.T) {
	node := newFakeNode(t)
	node.silent = true
	go node.serveOne()
	s := NewSession(SessionOptions{Host: "127.0.0.1", Port: node.port()}, testStations())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := s.Upload(ctx, "home", []spot.Spot{{Callsign: "EA7MJ", Freq: 14.074, Mode: "FT8"}})
	if err == nil || !strings.Contains(err.Error(), "deadline exceeded") {
		t.Fatalf("expected context deadline error, got %v", err)
	}
}

func TestSessionCommandTimeout(t *testing.T) {
	node := newFakeNode(t)
	node.silent = true
	go node.serveOne()
	s := NewSession(SessionOptions{Host: "127.0.0.1", Port: node.port(), CommandTimeout: 100 * time.Millisecond}, testStations())
	start := time.Now()
	if err := s.Upload(context.Background(), "home", []spot.Spot{{Callsign: "EA7MJ", Freq: 14.074, Mode: "FT8"}}); err == nil {
		t.Fatalf("expected command timeout")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("command timeout not enforced")
	}
}

func TestSessionUnknownStation(t *testing.T) {
	s := NewSession(SessionOptions{Host: "127.0.0.1", Port: 1}, testStations())
	if err := s.Upload(context.Background(), "away", nil); err == nil {
		t.Fatalf("expected unknown station error")
	}
}
