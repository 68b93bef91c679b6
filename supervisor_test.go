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

package svcsupervisor

import (
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"svcsupervisor/config"
	"svcsupervisor/controller"
	"svcsupervisor/process"
)

type fakeClient struct {
	mu      sync.Mutex
	entries []ConfigEntry
}

func (f *fakeClient) Load() ([]ConfigEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ConfigEntry, len(f.entries))
	copy(out, f.entries)
	return out, nil
}

func (f *fakeClient) set(entries ...ConfigEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = entries
}

func newTestSupervisor() (*Supervisor, *fakeClient) {
	client := &fakeClient{}
	launcher := process.NewLauncher(nil)
	newCtrl := func(name string) *controller.Controller {
		return controller.New(name, launcher, discardSink{}, discardPerf{}, nil, nil)
	}
	sup := New(client, newCtrl, nil)
	sup.SetTickPeriod(10 * time.Millisecond)
	return sup, client
}

type discardSink struct{}

func (discardSink) WriteInfoEvent(string, string)  {}
func (discardSink) WriteErrorEvent(string, string) {}

type discardPerf struct{}

func (discardPerf) ReportAppPing(controller.AppMetrics) {}

func TestSupervisorAddsAndTicksControllers(t *testing.T) {
	Convey("Supervisor creates a controller for each configured service and ticks it", t, func() {
		sup, client := newTestSupervisor()
		client.set(ConfigEntry{Info: &config.ServiceInfo{
			Name:      "svc-a",
			FileName:  "/bin/sleep",
			Arguments: "3600",
			Mode:      config.Default,
			Enable:    true,
		}})

		sup.Start()
		defer sup.Stop()

		So(waitFor(func() bool {
			c, ok := sup.Controller("svc-a")
			return ok && c.State().Running
		}, time.Second), ShouldBeTrue)
	})
}

func TestSupervisorRemovesDroppedServices(t *testing.T) {
	Convey("Supervisor stops and forgets a controller no longer present in config", t, func() {
		sup, client := newTestSupervisor()
		client.set(ConfigEntry{Info: &config.ServiceInfo{
			Name:      "svc-b",
			FileName:  "/bin/sleep",
			Arguments: "3600",
			Mode:      config.Default,
			Enable:    true,
		}})
		sup.Start()
		defer sup.Stop()

		So(waitFor(func() bool {
			_, ok := sup.Controller("svc-b")
			return ok
		}, time.Second), ShouldBeTrue)

		client.set() // remove every service
		// Removal stops the live process first: the first Check's Start
		// waits controller.DefaultStartWait (2s), and Stop waits out the
		// 50*200ms graceful window before it kills, so allow well over 12s.
		So(waitFor(func() bool {
			_, ok := sup.Controller("svc-b")
			return !ok
		}, 30*time.Second), ShouldBeTrue)
	})
}

func waitFor(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
