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

// Package telemetry provides the default EventSink, PerfReporter, and
// Tracer implementations described in spec.md §6, adapted from govisor's
// logging primitives (MultiLogger, Log). They live outside the controller
// package, which only defines the interfaces, so callers can bring their
// own collaborators instead.
package telemetry

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// MultiLogger fans writes out to any number of io.Writer destinations,
// adapted from govisor.MultiLogger.
type MultiLogger struct {
	mu      sync.Mutex
	writers []io.Writer
}

// NewMultiLogger returns a MultiLogger writing to the given destinations.
func NewMultiLogger(w ...io.Writer) *MultiLogger {
	return &MultiLogger{writers: w}
}

// Add registers an additional destination.
func (m *MultiLogger) Add(w io.Writer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writers = append(m.writers, w)
}

func (m *MultiLogger) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.writers {
		_, _ = w.Write(p)
	}
	return len(p), nil
}

// Record is a single entry retained by RingLog.
type Record struct {
	ID      uint64
	Time    time.Time
	Source  string
	Message string
	IsError bool
}

// RingLog keeps the most recent Capacity records in memory with a
// monotonically increasing ID, adapted from govisor.Log.
type RingLog struct {
	Capacity int

	mu      sync.Mutex
	records []Record
	nextID  uint64
	subs    []chan Record
}

// NewRingLog returns a RingLog retaining at most capacity records (1000
// if capacity <= 0, matching govisor's default).
func NewRingLog(capacity int) *RingLog {
	if capacity <= 0 {
		capacity = 1000
	}
	return &RingLog{Capacity: capacity}
}

// Append adds a record, assigning it the next monotonic ID, and notifies
// any watchers.
func (r *RingLog) Append(source, message string, isError bool) Record {
	r.mu.Lock()
	r.nextID++
	rec := Record{ID: r.nextID, Time: time.Now(), Source: source, Message: message, IsError: isError}
	r.records = append(r.records, rec)
	if len(r.records) > r.Capacity {
		r.records = r.records[len(r.records)-r.Capacity:]
	}
	subs := append([]chan Record(nil), r.subs...)
	r.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- rec:
		default:
		}
	}
	return rec
}

// GetRecords returns every retained record with ID strictly greater than
// since, oldest first.
func (r *RingLog) GetRecords(since uint64) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Record
	for _, rec := range r.records {
		if rec.ID > since {
			out = append(out, rec)
		}
	}
	return out
}

// Watch registers a channel that receives every future Append; callers
// must drain it or risk dropped notifications (sends are non-blocking).
func (r *RingLog) Watch() <-chan Record {
	ch := make(chan Record, 16)
	r.mu.Lock()
	r.subs = append(r.subs, ch)
	r.mu.Unlock()
	return ch
}

// EventSink implements controller.EventSink on top of a RingLog, recording
// each event with the severity of the method called. The "错误"/"失败"
// substring classification of spec.md §6 happens in the controller before
// it picks WriteInfoEvent or WriteErrorEvent.
type EventSink struct {
	log *RingLog
	out io.Writer
}

// NewEventSink returns an EventSink backed by log, additionally echoing
// every event to out (nil disables the echo).
func NewEventSink(log *RingLog, out io.Writer) *EventSink {
	return &EventSink{log: log, out: out}
}

func (s *EventSink) WriteInfoEvent(source, message string) {
	s.write(source, message, false)
}

func (s *EventSink) WriteErrorEvent(source, message string) {
	s.write(source, message, true)
}

func (s *EventSink) write(source, message string, isError bool) {
	if s.log != nil {
		s.log.Append(source, message, isError)
	}
	if s.out != nil {
		fmt.Fprintf(s.out, "[%s] %s: %s\n", source, severity(isError), message)
	}
}

func severity(isError bool) string {
	if isError {
		return "ERROR"
	}
	return "INFO"
}
