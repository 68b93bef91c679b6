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

// Package controller implements the per-service state machine described
// in spec.md §4.4 (ServiceController, C4): it starts or adopts a process,
// monitors it for exit, memory violation, or file change, stops it
// gracefully, and drives the zip-based deployment flow through the
// deploy and process packages.
package controller

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"svcsupervisor/config"
	"svcsupervisor/deploy"
	"svcsupervisor/filewatch"
	"svcsupervisor/process"
)

// DefaultStartWait is how long Start waits for an early exit before
// declaring the attempt successful, absent an override.
const DefaultStartWait = 2 * time.Second

// Snapshot is a read-only copy of a Controller's mutable state, safe to
// hand to callers outside the controller's lock — mirroring how
// govisor.Manager.GetInfo hands back an immutable copy rather than the
// live, locked struct.
type Snapshot struct {
	Name             string
	Running          bool
	Disabled         bool
	ProcessId        int32
	ProcessName      string
	StartTime        time.Time
	ErrorCount       int
	ResolvedFileName string
	ResolvedWorkDir  string
}

// Controller is the per-service state machine. One Controller owns at
// most one live child process (Multiple mode excepted, see spec.md §4.4).
type Controller struct {
	name     string
	launcher *process.Launcher
	sink     EventSink
	perf     PerfReporter
	tracer   Tracer
	logger   *log.Logger

	startWait time.Duration
	maxFails  int

	mu          sync.Mutex
	info        *config.ServiceInfo
	deployInfo  *config.DeployInfo
	handle      *process.Handle
	processId   int32
	processName string
	running     bool
	startTime   time.Time
	errorCount  int
	disabledLog bool

	resolvedFileName string
	resolvedWorkDir  string

	watcher *filewatch.Watcher
}

// New returns a Controller named name, launching through launcher and
// reporting through the given collaborators. A nil tracer falls back to
// NoopTracer; a nil sink or perf is accepted and simply means no events or
// no process metrics are reported.
func New(name string, launcher *process.Launcher, sink EventSink, perf PerfReporter, tracer Tracer, logger *log.Logger) *Controller {
	if tracer == nil {
		tracer = NoopTracer
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Controller{
		name:      name,
		launcher:  launcher,
		sink:      sink,
		perf:      perf,
		tracer:    tracer,
		logger:    logger,
		startWait: DefaultStartWait,
		maxFails:  config.MaxFails,
	}
}

// SetWaitAndFailParams overrides the defaults for StartWait and MaxFails;
// intended for tests and for operators tuning a specific service.
func (c *Controller) SetWaitAndFailParams(startWait time.Duration, maxFails int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if startWait > 0 {
		c.startWait = startWait
	}
	if maxFails > 0 {
		c.maxFails = maxFails
	}
}

// SetInfo installs a new ServiceInfo revision. Per spec.md §3/§4.4, a new
// *ServiceInfo pointer (not merely an equal-by-value one) resets
// ErrorCount to 0 and clears the backoff-disabled state, letting operators
// unstick a flapping service by re-pushing configuration.
func (c *Controller) SetInfo(info *config.ServiceInfo, deployInfo *config.DeployInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if info == c.info {
		return
	}
	c.info = info
	c.deployInfo = deployInfo
	c.errorCount = 0
	c.disabledLog = false
}

// Info returns the currently installed ServiceInfo, or nil if none has
// been set yet.
func (c *Controller) Info() *config.ServiceInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// State returns a point-in-time Snapshot of the controller's mutable
// state.
func (c *Controller) State() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Name:             c.name,
		Running:          c.running,
		Disabled:         c.isDisabledLocked(),
		ProcessId:        c.processId,
		ProcessName:      c.processName,
		StartTime:        c.startTime,
		ErrorCount:       c.errorCount,
		ResolvedFileName: c.resolvedFileName,
		ResolvedWorkDir:  c.resolvedWorkDir,
	}
}

func (c *Controller) isDisabledLocked() bool {
	if c.info == nil || !c.info.Enable {
		return true
	}
	return c.errorCount >= c.maxFails
}

func (c *Controller) logInfo(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	c.logger.Print(msg)
	if c.sink != nil {
		c.sink.WriteInfoEvent(sourceName, msg)
	}
}

func (c *Controller) logEvent(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	c.logger.Print(msg)
	if c.sink == nil {
		return
	}
	if strings.Contains(msg, "错误") || strings.Contains(msg, "失败") {
		c.sink.WriteErrorEvent(sourceName, msg)
	} else {
		c.sink.WriteInfoEvent(sourceName, msg)
	}
}

// sourceName is the Source string passed to EventSink, per spec.md §6:
// "Source string is the controller class name."
const sourceName = "ServiceController"

// resolveWorkDir derives WorkingDirectory from FileName's directory when
// the ServiceInfo leaves it empty.
func resolveWorkDir(info *config.ServiceInfo) string {
	if info.WorkingDirectory != "" {
		return info.WorkingDirectory
	}
	if info.FileName != "" && info.FileName != config.ZipDeploy {
		return filepath.Dir(info.FileName)
	}
	return "."
}

// Start attempts to transition Stopped -> Running. It returns true iff
// that transition succeeded. Preconditions (per spec.md §4.4): not
// already Running, Info set, ErrorCount < MaxFails.
func (c *Controller) Start() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked()
}

func (c *Controller) startLocked() bool {
	span := c.tracer.NewSpan("Start", c.name)
	defer span.End()

	if c.running {
		return false
	}
	if c.info == nil {
		span.SetError(newError(ConfigError, fmt.Errorf("no ServiceInfo set")))
		return false
	}
	if err := c.info.Validate(); err != nil {
		span.SetError(newError(ConfigError, err))
		c.logEvent("service %s failed config validation: %v", c.name, err)
		return false
	}
	if c.errorCount >= c.maxFails {
		return false
	}

	c.errorCount++
	captureStdio := c.errorCount > 1

	var err error
	switch c.info.Mode {
	case config.Extract:
		err = c.startExtractOnly()
	case config.ExtractAndRun:
		err = c.startExtractAndRun(captureStdio)
	case config.RunOnce:
		err = c.startDirectOrZip(captureStdio)
	default: // Default, Multiple
		err = c.startDirectOrZip(captureStdio)
	}

	if err != nil {
		span.SetError(err)
		c.logEvent("service %s failed to start (启动失败): %v", c.name, err)
		if c.errorCount == c.maxFails && !c.disabledLog {
			c.disabledLog = true
			c.logEvent("service %s disabled after %d consecutive failures", c.name, c.maxFails)
		}
		return false
	}

	c.running = true
	if c.startTime.IsZero() {
		c.startTime = time.Now()
	}
	c.logInfo("service %s started", c.name)
	c.installWatcherLocked()

	if c.info.Mode == config.RunOnce {
		c.info.Enable = false
		c.running = false
	}
	return true
}

func (c *Controller) startExtractOnly() error {
	dest, err := c.extract()
	if err != nil {
		return err
	}
	c.resolvedWorkDir = dest
	c.resolvedFileName = ""
	return nil
}

func (c *Controller) startExtractAndRun(captureStdio bool) error {
	dest, err := c.extract()
	if err != nil {
		return err
	}
	d := deploy.NewDeployer(c.logger, c.launcher)
	if perr := d.Parse(c.info.FileName, config.Tokenize(c.info.Arguments)); perr != nil {
		return newError(ConfigError, perr)
	}
	entry, ferr := d.FindExeFile(dest)
	if ferr != nil {
		return newError(ExtractionError, ferr)
	}
	ctx := context.Background()
	handle, eerr := d.Execute(ctx, entry, dest, int(c.startWait.Milliseconds()), captureStdio)
	if eerr != nil {
		if captureStdio {
			c.logEvent("service %s startup stderr: %s", c.name, d.LastError())
		}
		return newError(EarlyExitError, eerr)
	}
	c.handle = handle
	c.processId = handle.Pid()
	c.processName = handle.Name()
	c.resolvedFileName = entry
	c.resolvedWorkDir = dest
	return nil
}

func (c *Controller) extract() (string, error) {
	workDir := resolveWorkDir(c.info)
	d := deploy.NewDeployer(c.logger, c.launcher)
	if err := d.Parse(c.info.FileName, config.Tokenize(c.info.Arguments)); err != nil {
		return "", newError(ConfigError, err)
	}
	var overwrite []string
	if c.deployInfo != nil {
		overwrite = c.deployInfo.Overwrite
	}
	dest, err := d.Extract(c.info.FileName, workDir, overwrite)
	if err != nil {
		return "", newError(ExtractionError, err)
	}
	return dest, nil
}

func (c *Controller) startDirectOrZip(captureStdio bool) error {
	if c.info.IsZip() {
		return c.startExtractAndRun(captureStdio)
	}
	workDir := resolveWorkDir(c.info)
	ctx := context.Background()
	exe, prefixArgs := process.ResolveRuntime(c.info.FileName)
	handle, err := c.launcher.Launch(ctx, process.Options{
		FileName:     exe,
		Arguments:    append(prefixArgs, config.Tokenize(c.info.Arguments)...),
		WorkingDir:   workDir,
		UserName:     c.info.UserName,
		CaptureStdio: captureStdio,
		Logger:       c.logger,
	})
	if err != nil {
		return newError(SpawnError, err)
	}

	exited, exitErr := handle.ExitedWithin(c.startWait)
	if exited && exitErr != nil {
		if captureStdio {
			c.logEvent("service %s startup stderr: %s", c.name, handle.StdioTail())
		}
		return newError(EarlyExitError, exitErr)
	}

	c.handle = handle
	c.processId = handle.Pid()
	c.processName = handle.Name()
	c.resolvedFileName = c.info.FileName
	c.resolvedWorkDir = workDir
	return nil
}

func (c *Controller) installWatcherLocked() {
	if c.info.Mode == config.Extract {
		return
	}
	dir := c.resolvedWorkDir
	if dir == "" {
		return
	}
	if c.watcher != nil && c.watcher.Dir == dir {
		// Already watching the right directory — in particular, this is
		// the path Start takes when called from onFileReady, which runs
		// on this same watcher's own goroutine; replacing it here would
		// mean Stop-ping it from inside itself.
		return
	}
	c.stopWatcherLocked()
	c.watcher = filewatch.New(dir, c.onFileChange, c.onFileReady)
	c.watcher.Start()
}

// stopWatcherLocked detaches the current watcher, if any, and stops it in
// the background. onFileChange and onFileReady run on the watcher's own
// goroutine, so a path reachable from either of them (Stop, or Start's
// installWatcherLocked replacing a watcher for a new directory) must never
// wait on that same watcher's shutdown inline — doing so deadlocks the
// watcher against itself.
func (c *Controller) stopWatcherLocked() {
	w := c.watcher
	c.watcher = nil
	if w != nil {
		go w.Stop()
	}
}

func (c *Controller) onFileChange() {
	span := c.tracer.NewSpan("FileChange", c.name)
	defer span.End()
	c.logEvent("detected artifact change for service %s, stopping for redeploy", c.name)
	c.mu.Lock()
	err := c.stopProcessLocked("file changed")
	c.mu.Unlock()
	if err != nil {
		span.SetError(err)
	}
}

func (c *Controller) onFileReady() {
	c.Start()
}

// Stop idempotently transitions toward Stopped: marks Running=false,
// waits a graceful window, sends a platform graceful-kill, then
// force-kills, per spec.md §4.4. It never panics or returns an error;
// all failures are logged and swallowed.
func (c *Controller) Stop(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked(reason)
}

func (c *Controller) stopLocked(reason string) {
	span := c.tracer.NewSpan("Stop", c.name)
	defer span.End()
	span.AppendTag(reason)

	if err := c.stopProcessLocked(reason); err != nil {
		span.SetError(err)
	}
	c.stopWatcherLocked()
}

// stopProcessLocked halts the child process, if any, but leaves the file
// watcher untouched. onFileChange uses this directly rather than the full
// stopLocked: the restart it is debouncing toward runs through the very
// watcher that called it, so that watcher must survive the Stop.
func (c *Controller) stopProcessLocked(reason string) error {
	c.running = false
	if c.handle == nil {
		return nil
	}
	h := c.handle
	c.handle = nil
	h.Stop(reason)
	c.logInfo("service %s stopped: %s", c.name, reason)
	if !h.HasExited() {
		return newError(StopError, fmt.Errorf("process %d did not exit after stop sequence", h.Pid()))
	}
	return nil
}

// Check is the liveness/reconciliation tick invoked periodically by a
// Supervisor. It returns true if the controller performed an action this
// tick that a caller might want to know about (started, stopped, or
// adopted); false on a quiet no-op tick.
func (c *Controller) Check() bool {
	c.mu.Lock()
	acted := c.checkLocked()
	handle, perf, name, pid := c.handle, c.perf, c.processName, c.processId
	c.mu.Unlock()

	if handle != nil && perf != nil {
		go reportPing(handle, perf, name, pid)
	}
	return acted
}

func reportPing(h *process.Handle, perf PerfReporter, name string, pid int32) {
	sample, err := h.Sample()
	if err != nil {
		return
	}
	perf.ReportAppPing(AppMetrics{
		ProcessName:   name,
		ProcessId:     pid,
		WorkingSetMiB: sample.WorkingSetMiB,
		CPUPercent:    sample.CPUPercent,
		NumThreads:    sample.NumThreads,
		NumHandles:    sample.NumHandles,
		Uptime:        sample.Uptime,
	})
}

func (c *Controller) checkLocked() bool {
	span := c.tracer.NewSpan("Check", c.name)
	defer span.End()

	if c.info == nil || !c.info.Enable {
		return false
	}
	if c.errorCount >= c.maxFails {
		return false // disabled by backoff; SetInfo is the only way out
	}

	if c.info.Mode == config.Extract {
		// An external host runs the artifact; nothing to reconcile
		// here (see DESIGN.md's Open Question resolution).
		return false
	}

	if c.handle != nil {
		if c.handle.HasExited() {
			c.handle = nil
			c.running = false
			// fall through to adoption/Start below
		} else {
			return c.enforceMemoryLocked(span)
		}
	}

	var adoptErr error
	if c.processId > 0 {
		ctx := context.Background()
		h, err := process.AdoptByPid(ctx, c.processId, c.processName, c.logger)
		if err == nil {
			c.adoptLocked(h, span)
			return true
		}
		adoptErr = err
	}

	if c.processName != "" && c.info.Mode != config.Multiple {
		ctx := context.Background()
		suffix := adoptionSuffix(c.info, c.resolvedFileName)
		h, err := process.AdoptByName(ctx, c.processName, suffix, 0, c.logger)
		if err == nil {
			c.adoptLocked(h, span)
			return true
		}
		adoptErr = err
	}

	if adoptErr != nil {
		// Not counted against ErrorCount, per spec.md §7 — a stale
		// identity just means there is nothing to adopt, not a failure.
		span.SetError(newError(AdoptionError, adoptErr))
	}

	return c.startLocked()
}

func adoptionSuffix(info *config.ServiceInfo, resolvedFileName string) string {
	if resolvedFileName != "" {
		return filepath.Base(resolvedFileName)
	}
	fields := config.Tokenize(info.Arguments)
	for _, f := range fields {
		if strings.HasSuffix(f, ".dll") || strings.HasSuffix(f, ".jar") {
			return f
		}
	}
	return ""
}

func (c *Controller) adoptLocked(h *process.Handle, span Span) {
	takeover := c.tracer.NewSpan("TakeOver", c.name)
	defer takeover.End()

	c.handle = h
	c.processId = h.Pid()
	c.processName = h.Name()
	c.running = true
	if c.startTime.IsZero() {
		c.startTime = time.Now()
	}
	c.logInfo("service %s adopted pid %d", c.name, c.processId)
	c.installWatcherLocked()
}

func (c *Controller) enforceMemoryLocked(span Span) bool {
	if c.info.MaxMemory <= 0 {
		c.errorCount = 0
		return false
	}
	sample, err := c.handle.Sample()
	if err != nil {
		c.errorCount = 0
		return false
	}
	if sample.WorkingSetMiB > float64(c.info.MaxMemory) {
		span.AppendTag("memory-violation")
		c.logEvent("service %s exceeded memory ceiling (%.1fMiB > %dMiB): 内存超限", c.name, sample.WorkingSetMiB, c.info.MaxMemory)
		c.stopLocked("内存超限")
		return true
	}
	c.errorCount = 0
	return false
}

// TakeOver records persisted identity ({ProcessId, ProcessName,
// StartTime}) without touching Info, for use immediately after
// constructing a Controller that is about to receive SetInfo. It does not
// look the process up itself: the next Check tries adoption by that pid,
// then by name, before it would Start a new process — see spec.md §6's
// "Persistent state" note and §8's round-trip property.
func (c *Controller) TakeOver(processId int32, processName string, startTime time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processId = processId
	c.processName = processName
	c.startTime = startTime
}
