package cluster

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"digiskimmer/spot"
)

type fakeUploader struct {
	mu      sync.Mutex
	batches [][]spot.Spot
	err     error
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeUploader) Upload(ctx context.Context, station string, spots []spot.Spot) error {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, append([]spot.Spot(nil), spots...))
	return f.err
}

func (f *fakeUploader) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func testSpot(call string) spot.Spot {
	return spot.Spot{Callsign: call, Timestamp: 1714600815, Locator: "IM66", DB: -12, DT: 0.2, Freq: 14.075234, Mode: "FT8", Msg: "CQ " + call}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func never() time.Duration { return time.Hour }

func TestSpotDedup(t *testing.T) {
	reg := NewRegistry(Options{Uploader: &fakeUploader{}, Delay: never})
	defer reg.Stop(context.Background(), false)
	c := reg.Get("home")

	a := testSpot("EA7MJ")
	b := a
	c.Spot(a)
	c.Spot(b)
	if c.Pending() != 1 {
		t.Fatalf("equal spots should be deduplicated, pending=%d", c.Pending())
	}

	b.DT = 1.7
	c.Spot(b)
	if c.Pending() != 1 {
		t.Fatalf("spots differing only in dt are duplicates, pending=%d", c.Pending())
	}

	b.DB = -11
	c.Spot(b)
	if c.Pending() != 2 {
		t.Fatalf("spots differing in db are distinct, pending=%d", c.Pending())
	}
}

func TestUnsupportedModeIgnored(t *testing.T) {
	reg := NewRegistry(Options{Uploader: &fakeUploader{}, Delay: never})
	defer reg.Stop(context.Background(), false)
	c := reg.Get("home")

	s := testSpot("EA7MJ")
	s.Mode = "CW"
	c.Spot(s)
	if c.Pending() != 0 || c.Scheduled() {
		t.Fatalf("unsupported mode must not add or schedule (pending=%d scheduled=%v)", c.Pending(), c.Scheduled())
	}
}

func TestDuplicateStillSchedules(t *testing.T) {
	up := &fakeUploader{}
	reg := NewRegistry(Options{Uploader: up, Delay: func() time.Duration { return 20 * time.Millisecond }})
	defer reg.Stop(context.Background(), false)
	c := reg.Get("home")

	s := testSpot("EA7MJ")
	c.Spot(s)
	waitFor(t, func() bool { return up.count() == 1 })
	waitFor(t, func() bool { return !c.Scheduled() })

	c.Spot(s)
	if !c.Scheduled() {
		t.Fatalf("every accepted-mode spot must ensure an upload is scheduled")
	}
}

func TestSingleTimerAndBatchUpload(t *testing.T) {
	up := &fakeUploader{}
	var delays int
	var mu sync.Mutex
	reg := NewRegistry(Options{Uploader: up, Delay: func() time.Duration {
		mu.Lock()
		delays++
		mu.Unlock()
		return 30 * time.Millisecond
	}})
	defer reg.Stop(context.Background(), false)
	c := reg.Get("home")

	for _, call := range []string{"EA7MJ", "K1ABC", "DL1XYZ"} {
		c.Spot(testSpot(call))
	}
	mu.Lock()
	if delays != 1 {
		t.Fatalf("expected one timer for three spots, got %d", delays)
	}
	mu.Unlock()

	waitFor(t, func() bool { return up.count() == 1 })
	up.mu.Lock()
	batch := up.batches[0]
	up.mu.Unlock()
	if len(batch) != 3 || batch[0].Callsign != "EA7MJ" || batch[2].Callsign != "DL1XYZ" {
		t.Fatalf("unexpected batch %+v", batch)
	}
	if c.Pending() != 0 {
		t.Fatalf("pending spots must be swapped out")
	}
}

func TestSpotsAccumulateDuringUpload(t *testing.T) {
	up := &fakeUploader{block: make(chan struct{}), entered: make(chan struct{}, 2)}
	var armed int
	reg := NewRegistry(Options{Uploader: up, Delay: func() time.Duration {
		armed++
		if armed == 1 {
			return 10 * time.Millisecond
		}
		return time.Hour
	}})
	c := reg.Get("home")

	c.Spot(testSpot("EA7MJ"))
	<-up.entered
	// the first batch is in flight; an equal spot is new to the empty window
	c.Spot(testSpot("EA7MJ"))
	c.Spot(testSpot("K1ABC"))
	if c.Pending() != 2 {
		t.Fatalf("spots must accumulate while an upload is in flight, pending=%d", c.Pending())
	}
	close(up.block)
	waitFor(t, func() bool { return up.count() == 1 })
	reg.Stop(context.Background(), true)

	up.mu.Lock()
	defer up.mu.Unlock()
	if len(up.batches) != 2 || len(up.batches[0]) != 1 || len(up.batches[1]) != 2 {
		t.Fatalf("unexpected batches %+v", up.batches)
	}
}

func TestUploadFailureDropsBatch(t *testing.T) {
	up := &fakeUploader{err: errors.New("connection refused")}
	reg := NewRegistry(Options{Uploader: up, Delay: func() time.Duration { return 10 * time.Millisecond }})
	defer reg.Stop(context.Background(), false)
	c := reg.Get("home")

	c.Spot(testSpot("EA7MJ"))
	waitFor(t, func() bool { return up.count() == 1 })
	waitFor(t, func() bool { return !c.Scheduled() })
	time.Sleep(50 * time.Millisecond)
	if up.count() != 1 || c.Pending() != 0 {
		t.Fatalf("failed uploads must not retry (uploads=%d pending=%d)", up.count(), c.Pending())
	}
}

func TestCancelJoinsRunningUpload(t *testing.T) {
	up := &fakeUploader{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	reg := NewRegistry(Options{Uploader: up, Delay: func() time.Duration { return 10 * time.Millisecond }})
	c := reg.Get("home")
	c.Spot(testSpot("EA7MJ"))
	<-up.entered

	done := make(chan struct{})
	go func() {
		c.Cancel()
		close(done)
	}()
	select {
	case <-done:
		t.Fatalf("Cancel returned while the upload callback was still running")
	case <-time.After(50 * time.Millisecond):
	}
	close(up.block)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Cancel did not return")
	}

	c.Spot(testSpot("K1ABC"))
	if c.Scheduled() {
		t.Fatalf("cancelled cluster must not arm new timers")
	}
}

func TestStopFlushesPending(t *testing.T) {
	up := &fakeUploader{}
	reg := NewRegistry(Options{Uploader: up, Delay: never})
	reg.Get("home").Spot(testSpot("EA7MJ"))
	reg.Get("away").Spot(testSpot("K1ABC"))
	reg.Get("idle")

	reg.Stop(context.Background(), true)
	if up.count() != 2 {
		t.Fatalf("expected one final upload per non-empty cluster, got %d", up.count())
	}
	if reg.Pending() != 0 {
		t.Fatalf("expected nothing pending after flush")
	}
}

func TestStopWithoutFlushKeepsSpots(t *testing.T) {
	up := &fakeUploader{}
	reg := NewRegistry(Options{Uploader: up, Delay: never})
	reg.Get("home").Spot(testSpot("EA7MJ"))
	reg.Stop(context.Background(), false)
	if up.count() != 0 || reg.Pending() != 1 {
		t.Fatalf("Stop without flush must not upload (uploads=%d pending=%d)", up.count(), reg.Pending())
	}
}

func TestRegistryReturnsSameCluster(t *testing.T) {
	reg := NewRegistry(Options{Uploader: &fakeUploader{}, Delay: never})
	defer reg.Stop(context.Background(), false)
	var wg sync.WaitGroup
	got := make([]*Cluster, 8)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = reg.Get("home")
		}(i)
	}
	wg.Wait()
	for _, c := range got[1:] {
		if c != got[0] {
			t.Fatalf("expected one cluster per station")
		}
	}
}

func TestUploadWritesSpotLog(t *testing.T) {
	dir := t.TempDir()
	up := &fakeUploader{}
	sl := NewSpotLog(dir, time.UTC)
	reg := NewRegistry(Options{Uploader: up, SpotLog: sl, Delay: never})
	c := reg.Get("home")
	c.Spot(spot.Spot{Callsign: "EA7MJ", Timestamp: time.Date(2024, 5, 1, 22, 21, 0, 0, time.UTC).Unix(), Locator: "IM66", DB: -15, DT: -0.1, Freq: 14.074508, Mode: "FT8"})
	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	reg.Stop(context.Background(), false)

	data, err := os.ReadFile(sl.Path("home", time.Now()))
	if err != nil {
		t.Fatalf("read spot log: %v", err)
	}
	if string(data) != "222100 -15.0  -0.1   14.074508 ~ EA7MJ  IM66\n" {
		t.Fatalf("unexpected spot log %q", data)
	}
}

func TestSpotLogPath(t *testing.T) {
	sl := NewSpotLog("/var/log/digiskr", time.UTC)
	got := sl.Path("home", time.Date(2024, 5, 1, 23, 59, 0, 0, time.UTC))
	if !strings.HasSuffix(got, "/spots/telnet/home/240501.log") {
		t.Fatalf("unexpected path %s", got)
	}
}

func TestFailedUploadSkipsSpotLog(t *testing.T) {
	dir := t.TempDir()
	sl := NewSpotLog(dir, time.UTC)
	reg := NewRegistry(Options{Uploader: &fakeUploader{err: errors.New("down")}, SpotLog: sl, Delay: never})
	c := reg.Get("home")
	c.Spot(testSpot("EA7MJ"))
	if err := c.Flush(context.Background()); err == nil {
		t.Fatalf("expected upload error")
	}
	reg.Stop(context.Background(), false)
	if _, err := os.Stat(sl.Path("home", time.Now())); !os.IsNotExist(err) {
		t.Fatalf("spot log must only record uploaded batches")
	}
}
