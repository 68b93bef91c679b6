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

package controller

import "time"

// EventSink is the upstream event log, per spec.md §6. The controller does
// the info/error classification itself (a message containing "错误" or
// "失败" goes to WriteErrorEvent, any other to WriteInfoEvent), so
// implementations just record each event with the severity of the method
// called.
type EventSink interface {
	WriteInfoEvent(source, message string)
	WriteErrorEvent(source, message string)
}

// AppMetrics is the per-process sample reported to PerfReporter, per
// spec.md §6.
type AppMetrics struct {
	ProcessName   string
	ProcessId     int32
	WorkingSetMiB float64
	CPUPercent    float64
	NumThreads    int32
	NumHandles    int32
	Uptime        time.Duration
}

// PerfReporter receives periodic process telemetry. ReportAppPing is
// called asynchronously after each Check, per spec.md §6.
type PerfReporter interface {
	ReportAppPing(AppMetrics)
}

// Span is a single traced operation, per spec.md §6.
type Span interface {
	AppendTag(s string)
	SetError(err error)
	End()
}

// Tracer opens spans wrapping Start, Stop, Check, TakeOver (adoption), and
// file-change events.
type Tracer interface {
	NewSpan(name, tag string) Span
}

// noopSpan discards everything; used when no Tracer is configured.
type noopSpan struct{}

func (noopSpan) AppendTag(string)  {}
func (noopSpan) SetError(error)    {}
func (noopSpan) End()              {}

type noopTracer struct{}

func (noopTracer) NewSpan(string, string) Span { return noopSpan{} }

// NoopTracer is a Tracer that does nothing, for use when no real tracer is
// wired up.
var NoopTracer Tracer = noopTracer{}
