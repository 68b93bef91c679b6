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

// Command svcsupervisord is the daemon entry point: it wires a
// manifest.Client, telemetry defaults, and a Supervisor together, and
// runs until signaled. Grounded on govisord/main.go's flag parsing,
// manifest-directory scan, and signal handling; the HTTP admin surface
// (govisor/rpc, govisor/rest) it wired is out of scope here.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"svcsupervisor"
	"svcsupervisor/controller"
	"svcsupervisor/manifest"
	"svcsupervisor/process"
	"svcsupervisor/telemetry"
)

func main() {
	var (
		dir        = flag.String("d", ".", "base directory (manifests are read from its services subdirectory)")
		name       = flag.String("n", "svcsupervisord", "supervisor name (used in log output)")
		tickPeriod = flag.Duration("t", svcsupervisor.DefaultTickPeriod, "reconcile/check tick period")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "["+*name+"] ", log.LstdFlags)

	ringLog := telemetry.NewRingLog(1000)
	sink := telemetry.NewEventSink(ringLog, os.Stderr)
	reporter := telemetry.NewGopsutilReporter()
	tracer := telemetry.NewLogTracer(sink)
	launcher := process.NewLauncher(logger)

	svcDir := filepath.Join(*dir, "services")
	client := &configClientAdapter{inner: manifest.NewClient(svcDir)}

	newCtrl := func(name string) *controller.Controller {
		return controller.New(name, launcher, sink, reporter, tracer, logger)
	}

	sup := svcsupervisor.New(client, newCtrl, logger)
	sup.SetTickPeriod(*tickPeriod)
	sup.Start()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	logger.Printf("svcsupervisord started, watching %s", svcDir)
	<-sigs

	logger.Printf("svcsupervisord shutting down")
	sup.Stop()
}

// configClientAdapter satisfies svcsupervisor.ConfigClient by converting
// manifest.Entry values to svcsupervisor.ConfigEntry values; the two
// packages stay decoupled (manifest never imports the root package) so
// this tiny adapter lives at the wiring layer instead.
type configClientAdapter struct {
	inner *manifest.Client
}

func (a *configClientAdapter) Load() ([]svcsupervisor.ConfigEntry, error) {
	entries, err := a.inner.Load()
	out := make([]svcsupervisor.ConfigEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, svcsupervisor.ConfigEntry{Info: e.Info, Deploy: e.Deploy})
	}
	return out, err
}
