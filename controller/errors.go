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

import "fmt"

// ErrorKind classifies why a Start/Stop/Check attempt failed, per
// spec.md §7. These are kinds, not exhaustive type names: callers should
// switch on Kind, not on the concrete *Error type.
type ErrorKind string

const (
	// ConfigError: Info.FileName is empty, Mode is invalid, or the deployer
	// arguments do not parse. An empty FileName or invalid Mode fails the
	// Start without counting against ErrorCount; the controller is not
	// marked Disabled, so every later Check attempts the Start again and
	// fails again until SetInfo installs a valid ServiceInfo. A deployer
	// argument failure counts against ErrorCount like any other attempt.
	ConfigError ErrorKind = "ConfigError"
	// ExtractionError: a zip archive is corrupt, or has no discoverable
	// entrypoint. Fails Start and counts against ErrorCount.
	ExtractionError ErrorKind = "ExtractionError"
	// SpawnError: the OS refused to create the process. Counts against
	// ErrorCount; captured stderr (if any) is forwarded to EventSink.
	SpawnError ErrorKind = "SpawnError"
	// EarlyExitError: the process died within StartWait. Same treatment
	// as SpawnError.
	EarlyExitError ErrorKind = "EarlyExitError"
	// StopError: an exception-equivalent occurred during graceful or
	// forceful termination. Logged and swallowed; Stop always completes.
	StopError ErrorKind = "StopError"
	// AdoptionError: a pid/name lookup failed during adoption. Not
	// counted as an error; the controller falls through to Start.
	AdoptionError ErrorKind = "AdoptionError"
)

// Error wraps a Cause with the ErrorKind that classifies it, so callers
// can use errors.As to recover the kind without string matching.
type Error struct {
	Kind  ErrorKind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(kind ErrorKind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}
