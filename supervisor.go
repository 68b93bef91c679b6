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

// Package svcsupervisor implements the Supervisor (C5): a fleet of
// ServiceController instances kept in sync with a ConfigClient, ticked
// periodically so each controller reconciles its owned process.
//
// Grounded on govisor.Manager: a locked map of managed units, a
// background poll loop, and create/update/remove handling driven by a
// change in configuration rather than govisor's manual AddService /
// DeleteService calls.
package svcsupervisor

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"svcsupervisor/config"
	"svcsupervisor/controller"
)

// ConfigClient is the upstream configuration pull interface, per
// spec.md §6: it returns the current ServiceInfo list plus an optional
// DeployInfo overlay per service. The Supervisor diffs and applies.
type ConfigClient interface {
	Load() ([]ConfigEntry, error)
}

// ConfigEntry pairs a ServiceInfo with its optional DeployInfo overlay.
// manifest.Entry satisfies this shape; Supervisor depends only on the
// shape, not on the manifest package, to avoid a needless import.
type ConfigEntry struct {
	Info   *config.ServiceInfo
	Deploy *config.DeployInfo
}

// ControllerFactory builds a Controller for a newly discovered service
// name, wiring in whatever EventSink/PerfReporter/Tracer/Launcher the
// caller wants every controller to share.
type ControllerFactory func(name string) *controller.Controller

// Supervisor owns a fleet of named controllers, keeping them in sync with
// a ConfigClient on a fixed tick and dispatching Check on each tick.
type Supervisor struct {
	client     ConfigClient
	newCtrl    ControllerFactory
	tickPeriod time.Duration
	logger     *log.Logger

	mu          sync.Mutex
	controllers map[string]*controller.Controller

	stopCh chan struct{}
	wg     sync.WaitGroup

	metrics fleetMetrics
}

// DefaultTickPeriod is how often the Supervisor reconciles configuration
// and ticks every controller's Check, absent an override.
const DefaultTickPeriod = 5 * time.Second

// New returns a Supervisor that pulls configuration from client and
// builds controllers via newCtrl.
func New(client ConfigClient, newCtrl ControllerFactory, logger *log.Logger) *Supervisor {
	if logger == nil {
		logger = log.Default()
	}
	return &Supervisor{
		client:      client,
		newCtrl:     newCtrl,
		tickPeriod:  DefaultTickPeriod,
		logger:      logger,
		controllers: make(map[string]*controller.Controller),
		metrics:     newFleetMetrics(),
	}
}

// SetTickPeriod overrides DefaultTickPeriod; must be called before Start.
func (s *Supervisor) SetTickPeriod(d time.Duration) {
	if d > 0 {
		s.tickPeriod = d
	}
}

// Start begins the background reconcile-and-tick loop. A second call
// while the loop is already running does nothing.
func (s *Supervisor) Start() {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	s.stopCh = make(chan struct{})
	stop := s.stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(stop)
}

// Stop halts the reconcile loop and stops every managed controller's
// owned process, mirroring govisor.Manager.Shutdown.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	stop := s.stopCh
	s.stopCh = nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
		s.wg.Wait()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, c := range s.controllers {
		c.Stop("supervisor shutting down")
		s.logger.Printf("supervisor: stopped %s", name)
	}
}

func (s *Supervisor) run(stop chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.tickPeriod)
	defer ticker.Stop()
	for {
		s.reconcile()
		s.tickAll()
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// reconcile pulls the current configuration and applies a create/update/
// remove diff against the controller map, the way govisor's caller would
// build/tear down Service objects — except driven by a ConfigClient pull
// instead of manual AddService/DeleteService calls.
func (s *Supervisor) reconcile() {
	entries, err := s.client.Load()
	if err != nil {
		s.logger.Printf("supervisor: config load failed: %v", err)
		s.metrics.loadErrors.Inc()
		if len(entries) == 0 {
			return
		}
	}

	seen := make(map[string]bool, len(entries))
	s.mu.Lock()
	for _, e := range entries {
		if e.Info == nil || e.Info.Name == "" {
			continue
		}
		seen[e.Info.Name] = true
		c, ok := s.controllers[e.Info.Name]
		if !ok {
			c = s.newCtrl(e.Info.Name)
			s.controllers[e.Info.Name] = c
			s.logger.Printf("supervisor: added service %s", e.Info.Name)
		}
		c.SetInfo(e.Info, e.Deploy)
	}
	var removed []string
	for name, c := range s.controllers {
		if !seen[name] {
			removed = append(removed, name)
			c.Stop("removed from configuration")
			delete(s.controllers, name)
		}
	}
	s.metrics.managedCount.Set(float64(len(s.controllers)))
	s.mu.Unlock()

	for _, name := range removed {
		s.logger.Printf("supervisor: removed service %s", name)
	}
}

// tickAll dispatches Check on every controller concurrently, one
// goroutine per controller per tick, so a controller blocked on OS
// process enumeration cannot stall the others — per spec.md §5.
func (s *Supervisor) tickAll() {
	s.mu.Lock()
	snapshot := make([]*controller.Controller, 0, len(s.controllers))
	for _, c := range s.controllers {
		snapshot = append(snapshot, c)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range snapshot {
		wg.Add(1)
		go func(c *controller.Controller) {
			defer wg.Done()
			start := time.Now()
			c.Check()
			s.metrics.checkDuration.Observe(time.Since(start).Seconds())
		}(c)
	}
	wg.Wait()
}

// Controller returns the controller for a given service name, and
// whether one currently exists, for callers (e.g. an admin surface) that
// need read access to a specific controller's Snapshot.
func (s *Supervisor) Controller(name string) (*controller.Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.controllers[name]
	return c, ok
}

// Snapshots returns a Snapshot for every currently managed controller.
func (s *Supervisor) Snapshots() map[string]controller.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]controller.Snapshot, len(s.controllers))
	for name, c := range s.controllers {
		out[name] = c.State()
	}
	return out
}

// fleetMetrics is the ambient Prometheus surface described in
// SPEC_FULL.md §4.5: operational counters about the fleet itself, not the
// per-process metrics spec.md's PerfReporter already covers.
type fleetMetrics struct {
	registry      *prometheus.Registry
	managedCount  prometheus.Gauge
	checkDuration prometheus.Histogram
	loadErrors    prometheus.Counter
}

// Registry returns the Supervisor's private Prometheus registry, for
// callers that want to expose it via an HTTP handler. Each Supervisor
// gets its own registry rather than registering on the global default,
// so multiple Supervisors (e.g. in tests) never collide on metric names.
func (s *Supervisor) Registry() *prometheus.Registry {
	return s.metrics.registry
}

func newFleetMetrics() fleetMetrics {
	reg := prometheus.NewRegistry()
	m := fleetMetrics{
		registry: reg,
		managedCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "svcsupervisor_managed_services",
			Help: "Number of services currently managed by the supervisor.",
		}),
		checkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "svcsupervisor_check_duration_seconds",
			Help: "Duration of a single controller Check call.",
		}),
		loadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "svcsupervisor_config_load_errors_total",
			Help: "Number of ConfigClient.Load calls that returned an error.",
		}),
	}
	reg.MustRegister(m.managedCount, m.checkDuration, m.loadErrors)
	return m
}
