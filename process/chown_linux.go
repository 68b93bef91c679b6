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

//go:build linux

package process

import (
	"fmt"
	"log"
	"os/exec"
)

// maybeChown transfers ownership of workDir (and its parent) to userName
// via an out-of-process "chown -R user:user dir" invocation, per
// spec.md §4.2. Failure is never fatal to the launch.
func maybeChown(workDir, userName string, logger *log.Logger) error {
	if userName == "" || workDir == "" {
		return nil
	}
	owner := fmt.Sprintf("%s:%s", userName, userName)
	for _, dir := range []string{filepathParent(workDir), workDir} {
		if dir == "" {
			continue
		}
		cmd := exec.Command("chown", "-R", owner, dir)
		if out, err := cmd.CombinedOutput(); err != nil {
			logger.Printf("process: chown -R %s %s: %v (%s)", owner, dir, err, out)
		}
	}
	return nil
}
