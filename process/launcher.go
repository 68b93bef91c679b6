// Copyright 2015 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package process builds and supervises a single child process invocation:
// constructing a platform-correct exec.Cmd, optionally capturing its
// stdio, transferring ownership of its working directory to a run-as user,
// and terminating it through a graceful-then-forceful shutdown sequence.
package process

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	gopsproc "github.com/shirou/gopsutil/v3/process"
)

// stopGraceSteps and stopGraceInterval together bound each of Stop's two
// waiting phases (before and after the platform graceful kill) at
// 50*200ms = 10s, for a 20s worst case before the force-kill, per spec.
const (
	stopGraceSteps    = 50
	stopGraceInterval = 200 * time.Millisecond
)

// managedRuntimes maps an entrypoint extension to the runtime that must
// host it and the argv prefix that names the entrypoint to that runtime —
// a bare .dll or .jar is data, not something the OS can exec directly.
var managedRuntimes = map[string]struct {
	exe    string
	prefix func(entry string) []string
}{
	".dll": {"dotnet", func(entry string) []string { return []string{entry} }},
	".jar": {"java", func(entry string) []string { return []string{"-jar", entry} }},
}

// ResolveRuntime returns the executable to exec and the argv prefix that
// should precede the caller's own arguments, so that a managed-runtime
// entrypoint (.dll → dotnet, .jar → java) is hosted correctly instead of
// being exec'd directly. Any other entry is returned unchanged.
func ResolveRuntime(entry string) (exe string, prefixArgs []string) {
	rt, ok := managedRuntimes[strings.ToLower(filepath.Ext(entry))]
	if !ok {
		return entry, nil
	}
	return rt.exe, rt.prefix(entry)
}

// Options configures a single Launch call.
type Options struct {
	FileName     string
	Arguments    []string
	WorkingDir   string
	UserName     string
	CaptureStdio bool
	Logger       *log.Logger
}

// Launcher starts and stops child processes on behalf of a Controller.
type Launcher struct {
	logger *log.Logger
}

// NewLauncher returns a Launcher that logs through l. A nil logger falls
// back to log.Default().
func NewLauncher(l *log.Logger) *Launcher {
	if l == nil {
		l = log.Default()
	}
	return &Launcher{logger: l}
}

// Handle wraps a launched or adopted OS process, exposing gopsutil-backed
// introspection (memory, cpu, thread count) and the graceful/forceful
// termination sequence from spec.md §4.4.
type Handle struct {
	cmd    *exec.Cmd // nil when adopted rather than launched
	proc   *gopsproc.Process
	logger *log.Logger

	mu        sync.Mutex
	stdoutBuf strings.Builder
	stderrBuf strings.Builder
	waitErr   error
	waitDone  chan struct{}
}

// Pid returns the process ID, or 0 if the handle is empty.
func (h *Handle) Pid() int32 {
	if h == nil || h.proc == nil {
		return 0
	}
	return h.proc.Pid
}

// Launch starts a new child process per opts and returns a live Handle.
// When opts.CaptureStdio is true, stdout/stderr are piped and drained by
// background goroutines into in-memory buffers (stderr retrievable via
// StdioTail); otherwise the child's stdout/stderr are the supervisor's own,
// so it writes to the supervisor's console, per spec.md §4.2's
// UseShellExecute semantics.
func (l *Launcher) Launch(ctx context.Context, opts Options) (*Handle, error) {
	if opts.FileName == "" {
		return nil, fmt.Errorf("process: empty FileName")
	}
	if err := maybeChown(opts.WorkingDir, opts.UserName, l.loggerOr(opts.Logger)); err != nil {
		l.loggerOr(opts.Logger).Printf("process: chown %s for %s failed (continuing): %v", opts.WorkingDir, opts.UserName, err)
	}

	cmd := exec.Command(opts.FileName, opts.Arguments...)
	cmd.Dir = opts.WorkingDir
	cmd.Env = append(os.Environ(), "BasePath="+absWorkDir(opts.WorkingDir))
	setPlatformProcAttr(cmd, opts.CaptureStdio)

	h := &Handle{cmd: cmd, logger: l.loggerOr(opts.Logger), waitDone: make(chan struct{})}

	// Wait closes the pipes, so it must not run until both drains have
	// read to EOF; otherwise output written just before exit is lost.
	var drained sync.WaitGroup
	if opts.CaptureStdio {
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			h.logger.Printf("process: failed to capture stdout: %v", err)
		} else {
			drained.Add(1)
			go func() { defer drained.Done(); h.drain(stdout, &h.stdoutBuf, "stdout> ") }()
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			h.logger.Printf("process: failed to capture stderr: %v", err)
		} else {
			drained.Add(1)
			go func() { defer drained.Done(); h.drain(stderr, &h.stderrBuf, "stderr> ") }()
		}
	} else {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("process: spawn %s: %w", opts.FileName, err)
	}

	gp, err := gopsproc.NewProcessWithContext(ctx, int32(cmd.Process.Pid))
	if err != nil {
		// The process started, but gopsutil couldn't enumerate it
		// (already exited, or a proc-fs edge case); keep the handle
		// usable via cmd alone.
		h.logger.Printf("process: gopsutil lookup for pid %d failed: %v", cmd.Process.Pid, err)
	}
	h.proc = gp

	go func() {
		drained.Wait()
		h.waitErr = cmd.Wait()
		close(h.waitDone)
	}()

	return h, nil
}

func (h *Handle) drain(r io.ReadCloser, dst *strings.Builder, prefix string) {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if len(line) != 0 {
			h.mu.Lock()
			dst.WriteString(line)
			h.mu.Unlock()
			h.logger.Print(prefix, strings.TrimRight(line, "\n"))
		}
		if err != nil {
			return
		}
	}
}

// StdioTail returns everything captured on stderr so far, for logging diagnostics on
// an early-exit failure per spec.md §4.1's LastError / §4.4's Start retry.
func (h *Handle) StdioTail() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stderrBuf.String()
}

// ExitedWithin blocks up to d for the process to exit, returning (true,
// exitErr) if it did, or (false, nil) if the deadline elapsed first.
// d == 0 returns immediately without waiting, per spec.md §8's
// StartWait == 0 boundary.
func (h *Handle) ExitedWithin(d time.Duration) (exited bool, exitErr error) {
	if d <= 0 {
		select {
		case <-h.waitDone:
			return true, h.waitErr
		default:
			return false, nil
		}
	}
	select {
	case <-h.waitDone:
		return true, h.waitErr
	case <-time.After(d):
		return false, nil
	}
}

// HasExited reports whether the process has exited, without blocking.
func (h *Handle) HasExited() bool {
	select {
	case <-h.waitDone:
		return true
	default:
		return false
	}
}

// ExitErr returns the error Wait() completed with, valid only once
// HasExited is true.
func (h *Handle) ExitErr() error {
	return h.waitErr
}

// Name returns the OS process name (e.g. "dotnet", "java", "myapp"), used
// to persist ProcessName for adoption after a supervisor restart.
func (h *Handle) Name() string {
	if h == nil || h.proc == nil {
		return ""
	}
	name, err := h.proc.Name()
	if err != nil {
		return ""
	}
	return name
}

// Sample is one reading of a process's working-set memory (MiB), CPU
// percent, thread count, handle count and uptime, as returned by
// Handle.Sample.
type Sample struct {
	WorkingSetMiB float64
	CPUPercent    float64
	NumThreads    int32
	NumHandles    int32 // best-effort; 0 on platforms gopsutil can't report this for
	Uptime        time.Duration
}

// Sample reads the process's metrics via gopsutil. It returns an error
// only when there is no process to inspect or its memory cannot be read
// (e.g. it has exited); CPU, thread count, handle count and uptime fall
// back to zero when unavailable.
func (h *Handle) Sample() (Sample, error) {
	if h.proc == nil {
		return Sample{}, fmt.Errorf("process: no live handle to sample")
	}
	mem, err := h.proc.MemoryInfo()
	if err != nil {
		return Sample{}, fmt.Errorf("process: memory info: %w", err)
	}
	cpuPct, err := h.proc.CPUPercent()
	if err != nil {
		cpuPct = 0
	}
	threads, err := h.proc.NumThreads()
	if err != nil {
		threads = 0
	}
	var handles int32
	if n, err := h.proc.NumFDs(); err == nil {
		handles = n
	}
	createMs, err := h.proc.CreateTime()
	var uptime time.Duration
	if err == nil {
		uptime = time.Since(time.UnixMilli(createMs))
	}
	return Sample{
		WorkingSetMiB: float64(mem.RSS) / (1024 * 1024),
		CPUPercent:    cpuPct,
		NumThreads:    threads,
		NumHandles:    handles,
		Uptime:        uptime,
	}, nil
}

// Stop implements spec.md §4.4's three-phase Stop sequence: wait for a
// graceful window, send a platform-specific graceful kill, then force-kill.
// It never returns an error; all failures are logged and swallowed.
func (h *Handle) Stop(reason string) {
	if h == nil {
		return
	}
	if h.HasExited() {
		return
	}
	if h.waitFor(stopGraceSteps, stopGraceInterval) {
		return
	}
	h.gracefulKill(reason)
	if h.waitFor(stopGraceSteps, stopGraceInterval) {
		return
	}
	h.forceKill(reason)
}

func (h *Handle) waitFor(steps int, interval time.Duration) bool {
	for i := 0; i < steps; i++ {
		if h.HasExited() {
			return true
		}
		time.Sleep(interval)
	}
	return h.HasExited()
}

func (h *Handle) gracefulKill(reason string) {
	pid := int(h.Pid())
	if pid <= 0 {
		return
	}
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.Command("taskkill", "-pid", fmt.Sprint(pid))
	} else {
		cmd = exec.Command("kill", fmt.Sprint(pid))
	}
	if err := cmd.Run(); err != nil {
		h.logger.Printf("process: graceful kill of pid %d (%s) failed: %v", pid, reason, err)
	}
}

func (h *Handle) forceKill(reason string) {
	if h.cmd != nil && h.cmd.Process != nil {
		if err := h.cmd.Process.Kill(); err != nil {
			h.logger.Printf("process: force kill of pid %d (%s) failed: %v", h.Pid(), reason, err)
		}
		return
	}
	if h.proc != nil {
		if err := h.proc.Kill(); err != nil {
			h.logger.Printf("process: force kill of pid %d (%s) failed: %v", h.Pid(), reason, err)
		}
	}
}

func (l *Launcher) loggerOr(override *log.Logger) *log.Logger {
	if override != nil {
		return override
	}
	if l.logger != nil {
		return l.logger
	}
	return log.Default()
}

func absWorkDir(dir string) string {
	if dir == "" {
		wd, _ := os.Getwd()
		return wd
	}
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return dir
}

func filepathParent(dir string) string {
	if dir == "" {
		return ""
	}
	return filepath.Dir(dir)
}
