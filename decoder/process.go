package decoder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// ErrWaitTimeout is returned by Process.Wait when the decoder had to be killed.
var ErrWaitTimeout = errors.New("decoder: wait timeout")

// NiceArgs prefixes args with a nice invocation at the given level. Level 0
// runs the command at normal priority.
func NiceArgs(level int, args []string) []string {
	if level == 0 {
		return args
	}
	out := make([]string, 0, len(args)+3)
	out = append(out, "nice", "-n", strconv.Itoa(level))
	return append(out, args...)
}

// Process is a running decoder whose stdout is read line by line.
type Process struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	done   chan error
}

// StartProcess launches args in dir. The child runs in its own process group
// so a kill reaches everything it spawned; stderr is discarded and no file
// descriptors other than stdin/stdout/stderr are inherited.
func StartProcess(dir string, args []string) (*Process, error) {
	if len(args) == 0 {
		return nil, errors.New("decoder: empty command")
	}
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("decoder: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("decoder: start %s: %w", args[0], err)
	}
	return &Process{cmd: cmd, stdout: stdout}, nil
}

// Pid returns the process id of the decoder.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// ReadLines reads stdout until EOF. The read itself is not bounded: a decoder
// that keeps stdout open without writing stalls the caller.
func (p *Process) ReadLines() ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(p.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return lines, fmt.Errorf("decoder: read stdout: %w", err)
	}
	return lines, nil
}

// Wait waits up to timeout for the decoder to exit. On timeout the whole
// process group is killed and ErrWaitTimeout is returned. A non-zero exit is
// reported as *exec.ExitError.
func (p *Process) Wait(timeout time.Duration) error {
	if p.done == nil {
		p.done = make(chan error, 1)
		go func() { p.done <- p.cmd.Wait() }()
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-p.done:
		return err
	case <-timer.C:
	}
	pid := p.cmd.Process.Pid
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		_ = p.cmd.Process.Kill()
	}
	<-p.done
	return ErrWaitTimeout
}

// ExitCode returns the exit status carried by a Wait error, or -1.
func ExitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
