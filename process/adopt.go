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

package process

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	gopsproc "github.com/shirou/gopsutil/v3/process"
)

// AdoptByPid re-binds to an existing process by pid, succeeding only if a
// process with that id exists, has not exited, and its process name
// equals wantName — the adoption policy from spec.md §4.4 step 2.
func AdoptByPid(ctx context.Context, pid int32, wantName string, logger *log.Logger) (*Handle, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("process: invalid pid %d", pid)
	}
	running, err := gopsproc.PidExistsWithContext(ctx, pid)
	if err != nil || !running {
		return nil, fmt.Errorf("process: pid %d not running", pid)
	}
	p, err := gopsproc.NewProcessWithContext(ctx, pid)
	if err != nil {
		return nil, fmt.Errorf("process: lookup pid %d: %w", pid, err)
	}
	name, err := p.NameWithContext(ctx)
	if err != nil || !strings.EqualFold(name, wantName) {
		return nil, fmt.Errorf("process: pid %d name %q does not match %q", pid, name, wantName)
	}
	return adoptedHandle(p, logger), nil
}

// AdoptByName scans all processes for one whose name matches wantName
// (excluding selfPid), returning the first match. When wantName is
// "dotnet" or "java", the match additionally requires a command-line
// argument ending in dllOrJarSuffix (the expected entrypoint), per
// spec.md §4.4 step 3.
func AdoptByName(ctx context.Context, wantName string, dllOrJarSuffix string, selfPid int32, logger *log.Logger) (*Handle, error) {
	procs, err := gopsproc.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("process: enumerate processes: %w", err)
	}
	needsSuffixMatch := strings.EqualFold(wantName, "dotnet") || strings.EqualFold(wantName, "java")
	for _, p := range procs {
		if p.Pid == selfPid {
			continue
		}
		name, err := p.NameWithContext(ctx)
		if err != nil || !strings.EqualFold(name, wantName) {
			continue
		}
		if !needsSuffixMatch {
			return adoptedHandle(p, logger), nil
		}
		args, err := p.CmdlineSliceWithContext(ctx)
		if err != nil {
			continue
		}
		if dllOrJarSuffix == "" {
			continue
		}
		for _, arg := range args {
			if strings.HasSuffix(arg, dllOrJarSuffix) {
				return adoptedHandle(p, logger), nil
			}
		}
	}
	return nil, fmt.Errorf("process: no running %q matched for adoption", wantName)
}

func adoptedHandle(p *gopsproc.Process, logger *log.Logger) *Handle {
	h := &Handle{proc: p, logger: logger, waitDone: make(chan struct{})}
	go h.watchAdopted()
	return h
}

// watchAdopted polls until the adopted process exits, since we hold no
// exec.Cmd (and hence no Wait()) for a process we did not start ourselves.
func (h *Handle) watchAdopted() {
	for {
		running, err := h.proc.IsRunning()
		if err != nil || !running {
			close(h.waitDone)
			return
		}
		time.Sleep(adoptedPollInterval)
	}
}

// adoptedPollInterval is how often an adopted Handle checks whether its
// process is still alive, in the absence of a Wait()-able exec.Cmd.
const adoptedPollInterval = time.Second
