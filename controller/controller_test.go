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

// +build darwin dragonfly freebsd linux netbsd openbsd solaris

package controller

import (
	"archive/zip"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"svcsupervisor/config"
	"svcsupervisor/process"
)

type recordingSink struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (r *recordingSink) WriteInfoEvent(source, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.infos = append(r.infos, message)
}

func (r *recordingSink) WriteErrorEvent(source, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, message)
}

func (r *recordingSink) errorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errors)
}

type recordingPerf struct {
	mu      sync.Mutex
	samples []AppMetrics
}

func (r *recordingPerf) ReportAppPing(m AppMetrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, m)
}

func newTestController(t *testing.T) (*Controller, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	c := New(t.Name(), process.NewLauncher(nil), sink, &recordingPerf{}, nil, nil)
	c.SetWaitAndFailParams(50*time.Millisecond, 3)
	return c, sink
}

func TestStartLaunchesDirectProcess(t *testing.T) {
	Convey("Start launches a plain executable and Stop tears it down", t, func() {
		c, _ := newTestController(t)
		c.SetInfo(&config.ServiceInfo{
			Name:     "direct",
			FileName: "/bin/sleep",
			Arguments: "3600",
			Mode:     config.Default,
			Enable:   true,
		}, nil)

		ok := c.Start()
		So(ok, ShouldBeTrue)

		st := c.State()
		So(st.Running, ShouldBeTrue)
		So(st.ProcessId, ShouldBeGreaterThan, 0)

		c.Stop("test teardown")
		So(c.State().Running, ShouldBeFalse)
	})
}

func TestStartFailsOnEarlyExit(t *testing.T) {
	Convey("A process that exits immediately during the start window fails Start", t, func() {
		c, sink := newTestController(t)
		c.SetInfo(&config.ServiceInfo{
			Name:     "flaky",
			FileName: "/bin/false",
			Mode:     config.Default,
			Enable:   true,
		}, nil)

		ok := c.Start()
		So(ok, ShouldBeFalse)
		So(c.State().Running, ShouldBeFalse)
		So(c.State().ErrorCount, ShouldEqual, 1)
		So(sink.errorCount(), ShouldBeGreaterThan, 0)
	})
}

func TestBackoffDisablesAfterMaxFails(t *testing.T) {
	Convey("ErrorCount reaching MaxFails disables further Start attempts", t, func() {
		c, _ := newTestController(t)
		c.SetInfo(&config.ServiceInfo{
			Name:     "always-fails",
			FileName: "/bin/false",
			Mode:     config.Default,
			Enable:   true,
		}, nil)

		for i := 0; i < 3; i++ {
			c.Start()
		}
		So(c.State().Disabled, ShouldBeTrue)

		// A further Start is now a no-op.
		ok := c.Start()
		So(ok, ShouldBeFalse)
		So(c.State().ErrorCount, ShouldEqual, 3)
	})
}

func TestSetInfoWithNewPointerResetsBackoff(t *testing.T) {
	Convey("Pushing a new *ServiceInfo resets ErrorCount even after backoff", t, func() {
		c, _ := newTestController(t)
		info := &config.ServiceInfo{Name: "svc", FileName: "/bin/false", Mode: config.Default, Enable: true}
		c.SetInfo(info, nil)
		for i := 0; i < 3; i++ {
			c.Start()
		}
		So(c.State().Disabled, ShouldBeTrue)

		newInfo := &config.ServiceInfo{Name: "svc", FileName: "/bin/false", Mode: config.Default, Enable: true}
		c.SetInfo(newInfo, nil)
		So(c.State().ErrorCount, ShouldEqual, 0)
		So(c.State().Disabled, ShouldBeFalse)
	})
}

func TestRunOnceDisablesAfterSuccess(t *testing.T) {
	Convey("RunOnce disables Enable after a successful run", t, func() {
		c, _ := newTestController(t)
		info := &config.ServiceInfo{Name: "once", FileName: "/bin/true", Mode: config.RunOnce, Enable: true}
		c.SetInfo(info, nil)

		ok := c.Start()
		So(ok, ShouldBeTrue)
		So(info.Enable, ShouldBeFalse)
		So(c.State().Running, ShouldBeFalse)
	})
}

func TestCheckReconcilesExitedProcess(t *testing.T) {
	Convey("Check restarts a service whose process exited on its own", t, func() {
		c, _ := newTestController(t)
		c.SetInfo(&config.ServiceInfo{
			Name:     "reconcile",
			FileName: "/bin/sleep",
			Arguments: "3600",
			Mode:     config.Default,
			Enable:   true,
		}, nil)
		So(c.Start(), ShouldBeTrue)
		first := c.State().ProcessId

		c.Stop("simulate crash")
		// Simulate the process having exited outside of our control by
		// clearing Running without going through the graceful path twice.
		acted := c.Check()
		So(acted, ShouldBeTrue)
		So(c.State().Running, ShouldBeTrue)
		So(c.State().ProcessId, ShouldNotEqual, 0)
		c.Stop("test teardown")
		_ = first
	})
}

func TestMemoryCeilingStopsProcess(t *testing.T) {
	Convey("Check stops a process that exceeds MaxMemory", t, func() {
		c, sink := newTestController(t)
		c.SetInfo(&config.ServiceInfo{
			Name:      "hungry",
			FileName:  "/bin/sleep",
			Arguments: "3600",
			Mode:      config.Default,
			Enable:    true,
			MaxMemory: 1, // 1 MiB, guaranteed to be exceeded
		}, nil)
		So(c.Start(), ShouldBeTrue)

		acted := c.Check()
		So(acted, ShouldBeTrue)
		So(c.State().Running, ShouldBeFalse)

		found := false
		sink.mu.Lock()
		for _, m := range sink.errors {
			if strings.Contains(m, "内存超限") {
				found = true
			}
		}
		sink.mu.Unlock()
		So(found, ShouldBeTrue)
	})
}

func TestExtractOnlyModeNeverLaunches(t *testing.T) {
	Convey("Extract mode extracts without owning a process", t, func() {
		dir := t.TempDir()
		archive := dir + "/app.zip"
		writeMinimalZip(t, archive)

		c, _ := newTestController(t)
		c.SetInfo(&config.ServiceInfo{
			Name:             "extract-only",
			FileName:         archive,
			WorkingDirectory: dir,
			Mode:             config.Extract,
			Enable:           true,
		}, nil)

		ok := c.Start()
		So(ok, ShouldBeTrue)
		st := c.State()
		So(st.ProcessId, ShouldEqual, 0)
		So(st.ResolvedWorkDir, ShouldNotBeEmpty)
	})
}

func writeMinimalZip(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	// A data-only archive is enough for Extract; Extract does not require
	// a discoverable entrypoint the way ExtractAndRun does.
	zw := zip.NewWriter(f)
	defer zw.Close()
	w, err := zw.Create("data.txt")
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte("hello"))
}
