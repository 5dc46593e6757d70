// Package server tracks listening endpoints. Every configured port gets one
// Instance; instances stay in the registry after shutdown so callers can
// still ask what ran where, with the active flag reflecting truth.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/SOLUCIONESSYCOM/scribe"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// Instance is one listening endpoint.
type Instance struct {
	Port     int
	listener net.Listener
	server   *http.Server

	mu     sync.Mutex
	active bool
}

// Active reports whether the instance is currently serving.
func (i *Instance) Active() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.active
}

// Addr returns the listener's bound address, useful when the configured port
// was 0.
func (i *Instance) Addr() string {
	return i.listener.Addr().String()
}

// Close shuts the instance down and marks it inactive. Closing an already
// inactive instance is a no-op.
func (i *Instance) Close() error {
	i.mu.Lock()
	if !i.active {
		i.mu.Unlock()
		return nil
	}
	i.active = false
	i.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return i.server.Shutdown(ctx)
}

func (i *Instance) markInactive() {
	i.mu.Lock()
	i.active = false
	i.mu.Unlock()
}

// Record is a queryable snapshot of one tracked instance.
type Record struct {
	Port   int
	Active bool
}

// Manager owns the instance registry for one pipeline. It is handed to and
// returned from the start and close operations instead of living in process
// globals, so independent pipelines in one process never share lifecycle
// state.
type Manager struct {
	logger *scribe.Scribe

	mu        sync.Mutex
	instances map[int]*Instance
	order     []int
}

// NewManager creates an empty registry.
func NewManager(logger *scribe.Scribe) *Manager {
	return &Manager{
		logger:    logger,
		instances: make(map[int]*Instance),
	}
}

// Start binds every port and begins serving handler on each. Binding is
// synchronous: when Start returns nil every port is listening. A port that is
// already active is skipped with a warning; any bind failure closes the
// listeners this call already bound and reports the first error.
func (m *Manager) Start(handler http.Handler, ports []int) error {
	targets := m.filterActive(ports)
	m.reserve(targets)

	var started []*Instance
	var startedMu sync.Mutex

	var group errgroup.Group
	for _, port := range targets {
		port := port
		group.Go(func() error {
			listener, err := net.Listen("tcp", ":"+strconv.Itoa(port))
			if err != nil {
				return fmt.Errorf("error binding port %d: %w", port, err)
			}

			instance := m.track(port, listener, handler)
			startedMu.Lock()
			started = append(started, instance)
			startedMu.Unlock()

			go instance.serve(m.logger)

			m.logger.Info().
				Int("port", port).
				Str("addr", instance.Addr()).
				Msg("Listening")
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		for _, instance := range started {
			instance.Close()
		}
		return err
	}
	return nil
}

// filterActive drops ports that already have an active instance, and
// duplicates within the requested set itself.
func (m *Manager) filterActive(ports []int) []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[int]bool, len(ports))
	targets := make([]int, 0, len(ports))
	for _, port := range ports {
		if seen[port] {
			m.logger.Warn().Int("port", port).Msg("Port requested twice, skipping duplicate")
			continue
		}
		seen[port] = true

		if instance, exists := m.instances[port]; exists && instance.Active() {
			m.logger.Warn().Int("port", port).Msg("Port already active, skipping")
			continue
		}
		targets = append(targets, port)
	}
	return targets
}

// reserve fixes the registration order of the ports a Start call is about to
// bind. Binds run concurrently, so the order cannot be derived from bind
// completion.
func (m *Manager) reserve(ports []int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, port := range ports {
		if !m.known(port) {
			m.order = append(m.order, port)
		}
	}
}

// known reports whether the port was ever reserved. Callers hold m.mu.
func (m *Manager) known(port int) bool {
	for _, p := range m.order {
		if p == port {
			return true
		}
	}
	return false
}

// track registers a freshly bound listener. Restarting a previously closed
// port reuses its slot in the registry.
func (m *Manager) track(port int, listener net.Listener, handler http.Handler) *Instance {
	instance := &Instance{
		Port:     port,
		listener: listener,
		server:   &http.Server{Handler: handler},
		active:   true,
	}

	m.mu.Lock()
	m.instances[port] = instance
	m.mu.Unlock()

	return instance
}

func (i *Instance) serve(logger *scribe.Scribe) {
	err := i.server.Serve(i.listener)
	i.markInactive()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().
			Int("port", i.Port).
			AnErr("error", err).
			Msg("Server stopped unexpectedly")
	}
}

// Close shuts down the given ports, or every tracked instance when called
// with none. All closures run concurrently and Close waits for them to
// finish. Closing when nothing is active is an error.
func (m *Manager) Close(ports ...int) error {
	m.mu.Lock()
	var targets []*Instance
	if len(ports) == 0 {
		for _, port := range m.order {
			if instance, exists := m.instances[port]; exists {
				targets = append(targets, instance)
			}
		}
	} else {
		for _, port := range ports {
			if instance, exists := m.instances[port]; exists {
				targets = append(targets, instance)
			}
		}
	}
	m.mu.Unlock()

	active := targets[:0]
	for _, instance := range targets {
		if instance.Active() {
			active = append(active, instance)
		}
	}
	if len(active) == 0 {
		return errors.New("no active servers to close")
	}

	var group errgroup.Group
	for _, instance := range active {
		instance := instance
		group.Go(func() error {
			m.logger.Info().Int("port", instance.Port).Msg("Closing server")
			return instance.Close()
		})
	}
	return group.Wait()
}

// Records returns a snapshot of every tracked instance in registration order.
func (m *Manager) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := make([]Record, 0, len(m.order))
	for _, port := range m.order {
		instance, exists := m.instances[port]
		if !exists {
			// Reserved but never bound.
			continue
		}
		records = append(records, Record{
			Port:   port,
			Active: instance.Active(),
		})
	}
	return records
}

// Instance returns the tracked instance for a port, if any.
func (m *Manager) Instance(port int) (*Instance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	instance, exists := m.instances[port]
	return instance, exists
}
