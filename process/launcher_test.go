// Copyright 2016 The Govisor Authors
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

package process

import (
	"context"
	"os"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLaunchAndStop(t *testing.T) {
	Convey("Launch a long-running process and stop it", t, func() {
		l := NewLauncher(nil)
		h, err := l.Launch(context.Background(), Options{
			FileName:   "/bin/sleep",
			Arguments:  []string{"3600"},
			WorkingDir: os.TempDir(),
		})
		So(err, ShouldBeNil)
		So(h, ShouldNotBeNil)
		So(h.HasExited(), ShouldBeFalse)
		So(h.Pid(), ShouldBeGreaterThan, 0)

		h.Stop("test teardown")
		So(h.HasExited(), ShouldBeTrue)
	})
}

func TestExitedWithinCapturesEarlyExit(t *testing.T) {
	Convey("A process that exits immediately is observed within the wait window", t, func() {
		l := NewLauncher(nil)
		h, err := l.Launch(context.Background(), Options{
			FileName:     "/bin/false",
			WorkingDir:   os.TempDir(),
			CaptureStdio: true,
		})
		So(err, ShouldBeNil)

		exited, exitErr := h.ExitedWithin(2 * time.Second)
		So(exited, ShouldBeTrue)
		So(exitErr, ShouldNotBeNil)
	})
}

func TestExitedWithinTimesOutOnLongRunner(t *testing.T) {
	Convey("A long-running process is not reported exited before the deadline", t, func() {
		l := NewLauncher(nil)
		h, err := l.Launch(context.Background(), Options{
			FileName:   "/bin/sleep",
			Arguments:  []string{"3600"},
			WorkingDir: os.TempDir(),
		})
		So(err, ShouldBeNil)
		defer h.Stop("test teardown")

		exited, _ := h.ExitedWithin(50 * time.Millisecond)
		So(exited, ShouldBeFalse)
	})
}

func TestStdioCapture(t *testing.T) {
	Convey("Captured stderr is retrievable via StdioTail", t, func() {
		l := NewLauncher(nil)
		h, err := l.Launch(context.Background(), Options{
			FileName:     "/bin/sh",
			Arguments:    []string{"-c", "echo boom 1>&2; exit 1"},
			WorkingDir:   os.TempDir(),
			CaptureStdio: true,
		})
		So(err, ShouldBeNil)
		h.ExitedWithin(2 * time.Second)
		So(h.StdioTail(), ShouldContainSubstring, "boom")
	})
}
