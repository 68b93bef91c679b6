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

// Package config defines the declarative inputs that describe a managed
// service. These types are shared by the process, deploy, and controller
// packages, so they live on their own to avoid an import cycle back to
// controller.
package config

import (
	"errors"
	"strings"
)

// RunMode selects the deployment discipline for a service.
type RunMode string

const (
	// Default launches FileName directly (or via the deployer, if
	// FileName is a zip archive); the normal single-instance mode.
	Default RunMode = "Default"
	// Multiple behaves like Default but opts out of the "at most one
	// live process" invariant and of adoption-by-name.
	Multiple RunMode = "Multiple"
	// Extract unpacks an archive but does not launch anything; an
	// external host is expected to run the extracted artifact.
	Extract RunMode = "Extract"
	// ExtractAndRun unpacks an archive, then launches the discovered
	// entrypoint.
	ExtractAndRun RunMode = "ExtractAndRun"
	// RunOnce launches the service a single time; on success it
	// disables itself.
	RunOnce RunMode = "RunOnce"
)

// ZipDeploy is the sentinel FileName value that requests archive-based
// deployment without naming a concrete archive path up front. IsZip
// reports true for it, but no deployer argument supplies another archive
// path: extraction opens FileName itself, so a ZipDeploy service deploys
// only if a file named "ZipDeploy" exists relative to the supervisor's
// working directory.
const ZipDeploy = "ZipDeploy"

// ErrInvalidServiceInfo is returned by Validate when a ServiceInfo cannot
// possibly be started: an empty FileName, or a Mode outside the known set.
var ErrInvalidServiceInfo = errors.New("config: invalid ServiceInfo")

// ServiceInfo is the immutable-per-revision description of a managed
// service. A new *ServiceInfo instance (distinct pointer identity) is how
// an operator "re-pushes" configuration to reset a controller's backoff
// counter — see controller.Controller.SetInfo.
type ServiceInfo struct {
	// Name is a unique identifier for this service within the host.
	Name string `json:"name"`
	// FileName is an executable path, the literal ZipDeploy, or a path
	// to a *.zip archive.
	FileName string `json:"fileName"`
	// Arguments is the command-line argument string, tokenized by
	// whitespace where the target component needs discrete tokens.
	Arguments string `json:"arguments"`
	// WorkingDirectory is absolute or host-relative; when empty it is
	// derived from FileName's directory.
	WorkingDirectory string `json:"workingDirectory"`
	// UserName optionally names a user to run the child process as.
	UserName string `json:"userName,omitempty"`
	// MaxMemory is a soft working-set ceiling in MiB; 0 disables the
	// check.
	MaxMemory int `json:"maxMemory"`
	// Mode selects the deployment discipline, see RunMode.
	Mode RunMode `json:"mode"`
	// Enable gates whether the controller is permitted to run this
	// service at all; false holds the controller in the Stopped state.
	Enable bool `json:"enable"`
}

// DeployInfo is an optional overlay accompanying a ServiceInfo that
// customizes archive extraction.
type DeployInfo struct {
	// Overwrite lists file globs (doublestar syntax, so "**" is
	// supported) that must always be overwritten during extraction.
	// Files outside this set are preserved if their on-disk mtime is
	// newer than the corresponding archive entry.
	Overwrite []string `json:"overwrite,omitempty"`
}

// IsZip reports whether FileName names an archive to be extracted, either
// via the ZipDeploy sentinel or a literal *.zip path.
func (s *ServiceInfo) IsZip() bool {
	return s.FileName == ZipDeploy || strings.HasSuffix(strings.ToLower(s.FileName), ".zip")
}

// Validate rejects ServiceInfo values that can never be started.
func (s *ServiceInfo) Validate() error {
	if s.FileName == "" {
		return ErrInvalidServiceInfo
	}
	switch s.Mode {
	case Default, Multiple, Extract, ExtractAndRun, RunOnce:
	default:
		return ErrInvalidServiceInfo
	}
	return nil
}

// Tokenize splits an Arguments string into argv tokens on whitespace.
// It does not understand quoting; callers needing quoted arguments should
// pre-split and not rely on this helper.
func Tokenize(arguments string) []string {
	return strings.Fields(arguments)
}

// MaxFails is the default ErrorCount ceiling at which a controller is
// disabled until a new ServiceInfo instance arrives via SetInfo.
const MaxFails = 20

// WatchedExtensions lists the file extensions FileWatcher polls for
// within a service's resolved working directory.
var WatchedExtensions = []string{".dll", ".exe", ".zip", ".jar"}
