package decoder

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestNiceArgs(t *testing.T) {
	got := NiceArgs(10, []string{"jt9", "--ft8", "f.wav"})
	want := []string{"nice", "-n", "10", "jt9", "--ft8", "f.wav"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("NiceArgs() = %v, want %v", got, want)
	}
	if got := NiceArgs(0, []string{"jt9"}); !reflect.DeepEqual(got, []string{"jt9"}) {
		t.Fatalf("NiceArgs(0) = %v", got)
	}
}

func TestProcessReadsLinesInWorkingDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "marker"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	p, err := StartProcess(dir, []string{"sh", "-c", "ls marker; echo second"})
	if err != nil {
		t.Fatalf("StartProcess: %v", err)
	}
	lines, err := p.ReadLines()
	if err != nil {
		t.Fatalf("ReadLines: %v", err)
	}
	if !reflect.DeepEqual(lines, []string{"marker", "second"}) {
		t.Fatalf("lines = %v", lines)
	}
	if err := p.Wait(5 * time.Second); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestProcessNonZeroExit(t *testing.T) {
	p, err := StartProcess(t.TempDir(), []string{"sh", "-c", "echo partial; exit 3"})
	if err != nil {
		t.Fatalf("StartProcess: %v", err)
	}
	lines, _ := p.ReadLines()
	if len(lines) != 1 || lines[0] != "partial" {
		t.Fatalf("lines = %v", lines)
	}
	err = p.Wait(5 * time.Second)
	if code := ExitCode(err); code != 3 {
		t.Fatalf("ExitCode = %d (err %v), want 3", code, err)
	}
}

func TestProcessWaitTimeoutKills(t *testing.T) {
	p, err := StartProcess(t.TempDir(), []string{"sh", "-c", "echo hi; exec >&-; sleep 30"})
	if err != nil {
		t.Fatalf("StartProcess: %v", err)
	}
	if _, err := p.ReadLines(); err != nil {
		t.Fatalf("ReadLines: %v", err)
	}
	start := time.Now()
	err = p.Wait(200 * time.Millisecond)
	if !errors.Is(err, ErrWaitTimeout) {
		t.Fatalf("expected ErrWaitTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Wait blocked for %s after kill", elapsed)
	}
}

func TestStartProcessEmptyCommand(t *testing.T) {
	if _, err := StartProcess("", nil); err == nil {
		t.Fatalf("expected error for empty command")
	}
}
