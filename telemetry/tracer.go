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

	"svcsupervisor/controller"
)

// NoopTracer is a controller.Tracer that discards every span, for hosts
// that have no real tracing backend wired up.
var NoopTracer controller.Tracer = controller.NoopTracer

// LogTracer opens spans that log AppendTag/SetError/End calls through an
// EventSink, useful as a fallback when no distributed tracer (Jaeger,
// OTel) is configured but span activity is still worth seeing in logs.
type LogTracer struct {
	Sink *EventSink
}

// NewLogTracer returns a LogTracer writing through sink.
func NewLogTracer(sink *EventSink) *LogTracer {
	return &LogTracer{Sink: sink}
}

func (t *LogTracer) NewSpan(name, tag string) controller.Span {
	return &logSpan{tracer: t, name: name, tag: tag}
}

type logSpan struct {
	tracer *LogTracer
	name   string
	tag    string
	tags   []string
	err    error
}

func (s *logSpan) AppendTag(tag string) {
	s.tags = append(s.tags, tag)
}

func (s *logSpan) SetError(err error) {
	s.err = err
}

func (s *logSpan) End() {
	if s.tracer == nil || s.tracer.Sink == nil {
		return
	}
	msg := fmt.Sprintf("span %s(%s) tags=%v", s.name, s.tag, s.tags)
	if s.err != nil {
		s.tracer.Sink.WriteErrorEvent("Tracer", fmt.Sprintf("%s err=%v", msg, s.err))
		return
	}
	s.tracer.Sink.WriteInfoEvent("Tracer", msg)
}
