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

package telemetry

import (
	"fmt"
	"sync"

	"svcsupervisor/controller"
)

// GopsutilReporter is the default controller.PerfReporter, keeping the
// most recent AppMetrics sample per process name for inspection (by a
// future admin surface, or tests) and optionally forwarding every sample
// to an upstream sink function.
type GopsutilReporter struct {
	Forward func(controller.AppMetrics)

	mu     sync.Mutex
	latest map[string]controller.AppMetrics
}

// NewGopsutilReporter returns a GopsutilReporter with no forwarding
// configured; set Forward directly to wire one up.
func NewGopsutilReporter() *GopsutilReporter {
	return &GopsutilReporter{latest: make(map[string]controller.AppMetrics)}
}

func (g *GopsutilReporter) ReportAppPing(m controller.AppMetrics) {
	g.mu.Lock()
	g.latest[m.ProcessName] = m
	g.mu.Unlock()
	if g.Forward != nil {
		g.Forward(m)
	}
}

// Latest returns the most recently reported AppMetrics for a process
// name, and whether one has ever been reported.
func (g *GopsutilReporter) Latest(processName string) (controller.AppMetrics, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.latest[processName]
	return m, ok
}

// FormatMetrics renders an AppMetrics sample for a log line.
func FormatMetrics(m controller.AppMetrics) string {
	return fmt.Sprintf("pid=%d rss=%.1fMiB cpu=%.1f%% threads=%d handles=%d uptime=%s",
		m.ProcessId, m.WorkingSetMiB, m.CPUPercent, m.NumThreads, m.NumHandles, m.Uptime)
}
