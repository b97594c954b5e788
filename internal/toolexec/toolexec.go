// Package toolexec runs external toolchain processes (compilers, package
// resolvers, interpreters) on behalf of the resolver and the runners. The
// Runner interface is the seam tests use to fake toolchains.
package toolexec

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// Spec describes one tool invocation.
type Spec struct {
	// Dir is the working directory for the process.
	Dir string

	// Env entries (KEY=value) appended to the inherited environment.
	Env []string

	// Name and Args form the command line.
	Name string
	Args []string

	// LogLine, when set, receives each stdout/stderr line as it is produced.
	// Output is captured in the Result either way.
	LogLine func(line string)
}

// Result holds the outcome of a completed tool invocation. A non-zero exit
// code is reported here, not as an error; errors mean the process could not
// be run at all.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner executes external toolchain commands.
type Runner interface {
	Run(ctx context.Context, spec Spec) (Result, error)
}

// Compile-time interface satisfaction check.
var _ Runner = ExecRunner{}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run starts the process described by spec and waits for it to finish.
func (ExecRunner) Run(ctx context.Context, spec Spec) (Result, error) {
	cmd := exec.CommandContext(ctx, spec.Name, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start %s: %w", spec.Name, err)
	}

	// LogLine may be called from both pipe readers; serialize it.
	var logMu sync.Mutex
	logLine := func(line string) {
		if spec.LogLine == nil {
			return
		}
		logMu.Lock()
		spec.LogLine(line)
		logMu.Unlock()
	}

	var stdout, stderr bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		captureLines(stdoutPipe, &stdout, logLine)
	}()
	go func() {
		defer wg.Done()
		captureLines(stderrPipe, &stderr, logLine)
	}()
	wg.Wait()

	waitErr := cmd.Wait()

	res := Result{
		Stdout: stdout.Bytes(),
		Stderr: stderr.Bytes(),
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return res, fmt.Errorf("run %s: %w", spec.Name, waitErr)
		}
		res.ExitCode = exitErr.ExitCode()
	}
	return res, nil
}

// captureLines copies r line by line into buf, forwarding each line.
func captureLines(r io.Reader, buf *bytes.Buffer, logLine func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		buf.WriteString(line)
		buf.WriteByte('\n')
		logLine(line)
	}
}
