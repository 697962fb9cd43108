// Copyright 2020-2022 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package ffmpeg runs ffmpeg subprocesses.
package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"time"
)

// Errors.
var (
	ErrStdoutSet = errors.New("stdout already set")
	ErrStderrSet = errors.New("stderr already set")
)

// Process manages a subprocess.
type Process struct {
	timeout time.Duration
	cmd     *exec.Cmd

	prefix       string
	stdoutLogger func(string)
	stderrLogger func(string)
}

// NewProcess returns a process with a one second stop timeout.
func NewProcess(cmd *exec.Cmd) Process {
	return Process{
		timeout: 1000 * time.Millisecond,
		cmd:     cmd,
	}
}

// Timeout sets the time between the interrupt and kill signals.
func (p Process) Timeout(timeout time.Duration) Process {
	p.timeout = timeout
	return p
}

// Prefix is prepended to each logged line.
func (p Process) Prefix(prefix string) Process {
	p.prefix = prefix
	return p
}

// StdoutLogger logs stdout line by line.
func (p Process) StdoutLogger(l func(string)) Process {
	p.stdoutLogger = l
	return p
}

// StderrLogger logs stderr line by line.
func (p Process) StderrLogger(l func(string)) Process {
	p.stderrLogger = l
	return p
}

func (p Process) attachLogger(l func(string), label string) *io.PipeWriter {
	r, w := io.Pipe()
	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			l(p.prefix + label + ": " + scanner.Text())
		}
		r.Close()
	}()
	return w
}

// Start starts the process and blocks until it exits. The process
// is interrupted when the context is canceled.
func (p Process) Start(ctx context.Context) error {
	var pipes []*io.PipeWriter
	defer func() {
		for _, pw := range pipes {
			pw.Close()
		}
	}()

	if p.stdoutLogger != nil {
		if p.cmd.Stdout != nil {
			return ErrStdoutSet
		}
		pw := p.attachLogger(p.stdoutLogger, "stdout")
		p.cmd.Stdout = pw
		pipes = append(pipes, pw)
	}
	if p.stderrLogger != nil {
		if p.cmd.Stderr != nil {
			return ErrStderrSet
		}
		pw := p.attachLogger(p.stderrLogger, "stderr")
		p.cmd.Stderr = pw
		pipes = append(pipes, pw)
	}

	if err := p.cmd.Start(); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-done:
		case <-ctx.Done():
			p.stop(done)
		}
	}()

	err := p.cmd.Wait()
	close(done)

	// FFmpeg seems to return 255 on normal exit.
	if err != nil && err.Error() == "exit status 255" {
		return nil
	}

	return err
}

// Note, can't use CommandContext to stop process as it would
// kill the process before it has a chance to exit on its own.
func (p Process) stop(done chan struct{}) {
	p.cmd.Process.Signal(os.Interrupt) //nolint:errcheck

	select {
	case <-done:
	case <-time.After(p.timeout):
		p.cmd.Process.Signal(os.Kill) //nolint:errcheck
		<-done
	}
}

// FFMPEG stores ffmpeg binary location.
type FFMPEG struct {
	command func(...string) *exec.Cmd
}

// New returns FFMPEG.
func New(bin string) *FFMPEG {
	command := func(args ...string) *exec.Cmd {
		return exec.Command(bin, args...)
	}
	return &FFMPEG{command: command}
}
