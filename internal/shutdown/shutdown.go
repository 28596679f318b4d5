// Package shutdown implements the graceful-teardown manager the ambient stack carries
// around Server Core (spec §4.9 "a single SIGINT handler that closes the transport and
// exits"). Grounded on svrcore/policies/shutdown.go + svrcore/stages/shutdown.go's
// ShutdownMgr, adapted from an HTTP-policy gate (reject new requests with 503, drain in
// flight, cancel a BaseContext) to the MCP transport's shape: a root context every
// suspending call threads through, cancelled after a health-probe delay and a drain delay,
// with in-flight tool calls tracked by the same WaitGroup idiom.
package shutdown

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// Config holds the tunables of the shutdown manager (spec §12 "graceful shutdown").
type Config struct {
	Logger *slog.Logger
	// HealthProbeDelay is the time a load balancer or local supervisor needs to stop
	// routing new sessions to this process once ShuttingDown() starts returning true.
	HealthProbeDelay time.Duration
	// CancellationDelay is the time given to in-flight tool calls to finish once Context
	// is cancelled, before the process force-exits.
	CancellationDelay time.Duration
}

// Manager owns the root context every suspending operation (remote job calls, task-store
// writes, remote-MCP forwarding) should accept, and the SIGINT/SIGTERM handling that
// cancels it on a delay (spec §4.9 "a single SIGINT handler ... On teardown, close the
// registry and detach handlers").
type Manager struct {
	context.Context
	shuttingDown atomic.Bool
	inFlight     sync.WaitGroup
	cancel       context.CancelCauseFunc
	logger       *slog.Logger
}

// New installs the signal handler and returns a Manager whose Context is cancelled after
// Config.HealthProbeDelay + Config.CancellationDelay once SIGINT/SIGTERM arrives.
func New(c Config) *Manager {
	m := &Manager{logger: c.Logger}
	m.Context, m.cancel = context.WithCancelCause(context.Background())

	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigs
		if m.logger != nil {
			m.logger.Info("shutdown: signal received", "signal", sig.String())
		}

		m.shuttingDown.Store(true)
		time.Sleep(c.HealthProbeDelay)

		m.cancel(errors.New("shutdown requested"))
		time.Sleep(c.CancellationDelay)

		if m.logger != nil {
			m.logger.Info("shutdown: drain complete, exiting")
		}
		os.Exit(0)
	}()
	return m
}

// ShuttingDown reports whether a shutdown signal has been received; HealthHandler uses it
// for the health probe.
func (m *Manager) ShuttingDown() bool { return m.shuttingDown.Load() }

// Track registers one in-flight tool call; the returned func must be deferred at the call
// site. The signal handler does not wait on this count: it waits a fixed CancellationDelay
// after cancelling Context.
func (m *Manager) Track() func() {
	m.inFlight.Add(1)
	return m.inFlight.Done
}

// HealthHandler serves /debug/health: 503 while shutting down, 200 otherwise, mirroring
// svrcore/policies/shutdown.go's HealthProbe for the load-balancer probe contract.
func (m *Manager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if m.ShuttingDown() {
		http.Error(w, "service instance shutting down", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// DebugMux returns the debug surface (health probe + pprof). It has no config gate:
// cmd/mcpserver mounts it under /debug/ on every HTTP server.
func (m *Manager) DebugMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/health", m.HealthHandler)
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}
