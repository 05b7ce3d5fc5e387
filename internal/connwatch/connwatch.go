// Package connwatch tracks the reachability of the services the
// assistant depends on: the model provider, the Evolution API instance
// and the MQTT broker.
//
// This is distinct from httpkit's transport-level retry, which absorbs
// sub-second dial errors. A watcher deals with outages that last minutes:
// while a service is down it is probed with exponential backoff (2s, 4s,
// 8s, ... capped at 60s); while it is up it is probed at a fixed interval.
package connwatch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ProbeFunc checks whether a service is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// Backoff controls probe timing.
type Backoff struct {
	// Initial is the delay after the first failed probe.
	Initial time.Duration
	// Max caps the delay between failed probes.
	Max time.Duration
	// Interval is the delay between probes while the service is up.
	Interval time.Duration
	// Timeout bounds each probe.
	Timeout time.Duration
}

// DefaultBackoff returns 2s initial, 60s cap, 60s healthy interval and a
// 10s probe timeout.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:  2 * time.Second,
		Max:      60 * time.Second,
		Interval: 60 * time.Second,
		Timeout:  10 * time.Second,
	}
}

func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.Initial <= 0 {
		b.Initial = d.Initial
	}
	if b.Max <= 0 {
		b.Max = d.Max
	}
	if b.Interval <= 0 {
		b.Interval = d.Interval
	}
	if b.Timeout <= 0 {
		b.Timeout = d.Timeout
	}
	return b
}

// Status is the health of one watched service, suitable for JSON
// serialization in health endpoints.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
	// Failures counts consecutive failed probes.
	Failures int `json:"failures,omitempty"`
}

// Watcher monitors a single service.
type Watcher struct {
	name    string
	probe   ProbeFunc
	backoff Backoff
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	status Status
}

func newWatcher(name string, probe ProbeFunc, b Backoff, logger *slog.Logger) *Watcher {
	return &Watcher{
		name:    name,
		probe:   probe,
		backoff: b.withDefaults(),
		logger:  logger,
		now:     time.Now,
		status:  Status{Name: name},
	}
}

// Status returns the current health of the service.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Ready reports whether the last probe succeeded.
func (w *Watcher) Ready() bool {
	return w.Status().Ready
}

// check probes once, records the outcome, and returns the delay before
// the next probe.
func (w *Watcher) check(ctx context.Context) time.Duration {
	probeCtx, cancel := context.WithTimeout(ctx, w.backoff.Timeout)
	err := w.probe(probeCtx)
	cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	wasReady := w.status.Ready
	w.status.LastCheck = w.now()

	if err == nil {
		if !wasReady {
			w.logger.Info("service reachable", "service", w.name, "after_failures", w.status.Failures)
		}
		w.status.Ready = true
		w.status.LastError = ""
		w.status.Failures = 0
		return w.backoff.Interval
	}

	w.status.Ready = false
	w.status.LastError = err.Error()
	w.status.Failures++
	switch {
	case wasReady:
		w.logger.Warn("service became unreachable", "service", w.name, "error", err)
	case w.status.Failures == 1:
		w.logger.Warn("service unreachable", "service", w.name, "error", err)
	default:
		w.logger.Debug("service still unreachable", "service", w.name, "failures", w.status.Failures, "error", err)
	}

	delay := w.backoff.Initial
	for i := 1; i < w.status.Failures && delay < w.backoff.Max; i++ {
		delay *= 2
	}
	return min(delay, w.backoff.Max)
}

func (w *Watcher) run(ctx context.Context) {
	for {
		delay := w.check(ctx)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Manager coordinates the watchers of all services.
type Manager struct {
	logger *slog.Logger

	mu       sync.RWMutex
	watchers map[string]*Watcher
	cancels  []context.CancelFunc
	wg       sync.WaitGroup
}

// NewManager creates a connection watch manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger, watchers: make(map[string]*Watcher)}
}

// Watch starts probing a service in the background until ctx is
// cancelled or Stop is called. An empty name or a nil probe is a
// programming error and panics.
func (m *Manager) Watch(ctx context.Context, name string, probe ProbeFunc, b Backoff) *Watcher {
	if name == "" {
		panic("connwatch: service name must not be empty")
	}
	if probe == nil {
		panic("connwatch: probe must not be nil")
	}

	w := newWatcher(name, probe, b, m.logger)
	watchCtx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.watchers[name] = w
	m.cancels = append(m.cancels, cancel)
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		w.run(watchCtx)
	}()
	return w
}

// Status returns the health of every watched service.
func (m *Manager) Status() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Status, len(m.watchers))
	for name, w := range m.watchers {
		out[name] = w.Status()
	}
	return out
}

// Unready lists the services whose last probe failed, sorted by name.
func (m *Manager) Unready() []string {
	var names []string
	for name, s := range m.Status() {
		if !s.Ready {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Stop cancels every watcher and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancels := m.cancels
	m.cancels = nil
	m.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	m.wg.Wait()
}
