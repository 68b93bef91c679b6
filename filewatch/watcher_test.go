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

package filewatch

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestFirstTickSeedsWithoutEmitting(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "app.dll"), []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	changes := 0
	w := New(dir, func() { mu.Lock(); changes++; mu.Unlock() }, nil)
	w.MonitorPeriod = time.Millisecond
	w.tick() // bootstrap tick

	mu.Lock()
	got := changes
	mu.Unlock()
	if got != 0 {
		t.Errorf("bootstrap tick fired OnChange %d times, want 0", got)
	}
	if len(w.Snapshot()) != 1 {
		t.Errorf("bootstrap tick should have seeded FileStamps, got %v", w.Snapshot())
	}
}

func TestChangeAfterBootstrapFiresOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.dll")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	changes := 0
	w := New(dir, func() { mu.Lock(); changes++; mu.Unlock() }, nil)
	w.MonitorPeriod = time.Millisecond
	w.tick() // bootstrap

	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}
	w.tick()

	mu.Lock()
	got := changes
	mu.Unlock()
	if got != 1 {
		t.Errorf("OnChange fired %d times after one mutation, want 1", got)
	}
}

func TestOnReadyFiresOnlyAfterDelaySettles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.dll")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	ready := 0
	w := New(dir, nil, func() { mu.Lock(); ready++; mu.Unlock() })
	w.MonitorPeriod = time.Millisecond
	w.Delay = 5 * time.Millisecond
	w.tick() // bootstrap

	future := time.Now().Add(time.Hour)
	os.Chtimes(path, future, future)
	w.tick() // observes the change, starts the debounce window

	mu.Lock()
	got := ready
	mu.Unlock()
	if got != 0 {
		t.Fatalf("OnReady fired before the debounce delay elapsed")
	}

	time.Sleep(10 * time.Millisecond)
	w.tick()

	mu.Lock()
	got = ready
	mu.Unlock()
	if got != 1 {
		t.Errorf("OnReady fired %d times after the debounce window, want 1", got)
	}
}

func TestIgnoresUnwatchedExtensions(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := New(dir, nil, nil)
	w.tick() // bootstrap
	if len(w.Snapshot()) != 0 {
		t.Errorf("watcher should ignore non-matching extensions, got %v", w.Snapshot())
	}
}

func TestStartStopIsClean(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, nil, nil)
	w.MonitorPeriod = time.Millisecond
	w.Start()
	time.Sleep(10 * time.Millisecond)
	w.Stop()
	w.Stop() // idempotent
}
