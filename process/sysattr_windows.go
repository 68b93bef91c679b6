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

//go:build windows

package process

import (
	"os/exec"
	"syscall"
)

// setPlatformProcAttr applies UseShellExecute-equivalent semantics: when
// stdio is captured, the child is detached from the supervisor's console
// (CREATE_NEW_PROCESS_GROUP) while still inheriting the supervisor's
// lifetime, per spec.md §4.2.
func setPlatformProcAttr(cmd *exec.Cmd, captureStdio bool) {
	if !captureStdio {
		return
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}
