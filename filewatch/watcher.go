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

// Package filewatch implements the polling, debounced file-change
// detector described in spec.md §4.3 (FileWatcher, C3): it watches a
// directory for mutations among a fixed extension set and emits a single
// debounced "restart" signal per change burst.
package filewatch

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultMonitorPeriod is the poll interval absent a pending change.
	DefaultMonitorPeriod = 5 * time.Second
	// AcceleratedMonitorPeriod is the poll interval once a change is
	// pending, so the debounce window is measured precisely.
	AcceleratedMonitorPeriod = 1 * time.Second
	// DefaultDelay is how long the watcher waits after the most recent
	// change before firing OnReady.
	DefaultDelay = 3 * time.Second
)

// Extensions is the fixed set of file extensions watched, per spec.md
// §4.3: {dll, exe, zip, jar}.
var Extensions = []string{".dll", ".exe", ".zip", ".jar"}

// Watcher polls Dir for changes among Extensions and calls OnChange once
// per burst (as soon as the first change in a burst is observed) and
// OnReady once the burst has settled for Delay.
type Watcher struct {
	Dir              string
	MonitorPeriod    time.Duration
	Delay            time.Duration
	OnChange         func() // called on the tick that first observes a change in a burst
	OnReady          func() // called once Delay has elapsed since the last change

	mu         sync.Mutex
	stamps     map[string]time.Time
	seeded     bool
	ready      bool
	readyTime  time.Time
	stopCh     chan struct{}
	stoppedWg  sync.WaitGroup
}

// New returns a Watcher with the spec's default periods, ready to Start.
func New(dir string, onChange, onReady func()) *Watcher {
	return &Watcher{
		Dir:           dir,
		MonitorPeriod: DefaultMonitorPeriod,
		Delay:         DefaultDelay,
		OnChange:      onChange,
		OnReady:       onReady,
		stamps:        make(map[string]time.Time),
	}
}

// Start begins polling in a background goroutine. The first tick always
// seeds FileStamps without emitting any change, per spec.md §4.3's
// bootstrap rule.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.stopCh != nil {
		w.mu.Unlock()
		return // already running
	}
	w.stopCh = make(chan struct{})
	stop := w.stopCh
	w.mu.Unlock()

	w.stoppedWg.Add(1)
	go w.run(stop)
}

// Stop halts polling. It is safe to call multiple times.
func (w *Watcher) Stop() {
	w.mu.Lock()
	stop := w.stopCh
	w.stopCh = nil
	w.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	w.stoppedWg.Wait()
}

func (w *Watcher) run(stop chan struct{}) {
	defer w.stoppedWg.Done()
	for {
		period := w.tick()
		select {
		case <-stop:
			return
		case <-time.After(period):
		}
	}
}

// tick performs one poll pass and returns the interval to wait before the
// next one: AcceleratedMonitorPeriod while a change is pending debounce,
// MonitorPeriod otherwise.
func (w *Watcher) tick() time.Duration {
	changed := w.scan()

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.seeded {
		w.seeded = true
		return w.period()
	}

	if changed {
		if !w.ready {
			w.ready = true
			if w.OnChange != nil {
				w.mu.Unlock()
				w.OnChange()
				w.mu.Lock()
			}
		}
		w.readyTime = time.Now()
		return w.period()
	}

	if w.ready && time.Since(w.readyTime) >= w.delay() {
		w.ready = false
		if w.OnReady != nil {
			w.mu.Unlock()
			w.OnReady()
			w.mu.Lock()
		}
	}
	return w.period()
}

func (w *Watcher) period() time.Duration {
	p := w.MonitorPeriod
	if p <= 0 {
		p = DefaultMonitorPeriod
	}
	if w.ready {
		ap := AcceleratedMonitorPeriod
		if ap < p {
			return ap
		}
	}
	return p
}

func (w *Watcher) delay() time.Duration {
	if w.Delay <= 0 {
		return DefaultDelay
	}
	return w.Delay
}

// scan enumerates matching files recursively and reports whether any
// unseen file appeared or any known file's mtime advanced.
func (w *Watcher) scan() bool {
	changed := false
	seen := make(map[string]time.Time)

	_ = filepath.WalkDir(w.Dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if !matchesExtension(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		mtime := info.ModTime().Truncate(time.Second)
		seen[path] = mtime
		return nil
	})

	w.mu.Lock()
	for path, mtime := range seen {
		prev, ok := w.stamps[path]
		if !ok {
			changed = true
			w.stamps[path] = mtime
			continue
		}
		if mtime.After(prev) {
			changed = true
			w.stamps[path] = mtime
		}
	}
	w.mu.Unlock()
	return changed
}

func matchesExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the currently known file stamps, for tests
// and introspection.
func (w *Watcher) Snapshot() map[string]time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]time.Time, len(w.stamps))
	for k, v := range w.stamps {
		out[k] = v
	}
	return out
}
