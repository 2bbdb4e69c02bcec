package stats

import (
	"errors"
	"strings"
	"testing"
)

func TestTrackerCounts(t *testing.T) {
	tr := NewTracker()
	tr.RecordDecode(4)
	tr.RecordDecode(2)
	tr.RecordDecoderTimeout()
	tr.RecordOverflow()
	tr.RecordSpot("FT8")
	tr.RecordSpot("FT8")
	tr.RecordSpot("WSPR")
	tr.RecordUpload("home", 3, nil)
	tr.RecordUpload("home", 2, errors.New("refused"))

	s := tr.Snapshot()
	if s.Decodes != 2 || s.DecoderLines != 6 || s.DecoderTimeouts != 1 || s.OverflowDrops != 1 {
		t.Fatalf("unexpected decode counters %+v", s)
	}
	if s.SpotsByMode["FT8"] != 2 || s.SpotsByMode["WSPR"] != 1 {
		t.Fatalf("unexpected mode counts %v", s.SpotsByMode)
	}
	if s.Uploads != 1 || s.UploadFailures != 1 || s.UploadedBy["home"] != 3 {
		t.Fatalf("unexpected upload counters %+v", s)
	}
	lines := tr.SnapshotLines()
	if !strings.Contains(lines[2], "FT8=2, WSPR=1") {
		t.Fatalf("unexpected mode line %q", lines[2])
	}
}

func TestNilTrackerIsSafe(t *testing.T) {
	var tr *Tracker
	tr.RecordDecode(1)
	tr.RecordUpload("x", 1, nil)
	if s := tr.Snapshot(); s.Decodes != 0 {
		t.Fatalf("nil tracker should report zero")
	}
	if tr.SnapshotLines() != nil {
		t.Fatalf("nil tracker should have no lines")
	}
}
