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

// Package svcsupervisor is a host-resident application supervisor: it
// deploys zip-packaged or directly-invoked services, launches or adopts
// their OS processes, restarts them on crash or artifact change, and
// enforces a soft memory ceiling.
//
// The core state machine lives in the controller package
// (ServiceController); this package is the fleet-level Supervisor that
// keeps a set of controllers in sync with a ConfigClient and ticks them
// periodically. See cmd/svcsupervisord for a runnable daemon that wires
// everything together.
package svcsupervisor
