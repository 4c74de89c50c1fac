// Package health serves the agent's /healthz and /metrics endpoints, a
// trimmed-down version of the teacher's fiber mux in
// internal/agent/router/router.go: same recover+cors middleware stack
// and shutdown-aware health route, minus the CI/CD-specific job
// endpoints this agent has no equivalent of.
package health

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sentryd/sentryd/internal/metrics"
	"github.com/sentryd/sentryd/internal/shutdown"
	"github.com/sentryd/sentryd/pkg/statemachine"
)

// State is the agent's own liveness, separate from per-subsystem
// shutdown: a process is Starting until its producer/consumer are
// actually running, then Running, Degraded (running, but e.g. the
// kernel producer lost its BPF link and fell back to nothing), or
// Stopped once shutdown begins.
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateDegraded State = "degraded"
	StateStopped  State = "stopped"
)

func newStateMachine() *statemachine.StateMachine[State] {
	sm := statemachine.NewWithState(StateStarting)
	sm.AddTransitions(StateStarting, StateRunning, StateDegraded, StateStopped)
	sm.AddTransitions(StateRunning, StateDegraded, StateStopped)
	sm.AddTransitions(StateDegraded, StateRunning, StateStopped)
	return sm
}

// Stats is the set of collaborator counters reported at /healthz
// alongside the agent's state: events delivered, drops by cause, and
// alerts by rule (spec §7).
type Stats struct {
	LiveProcesses   int
	ReapedProcesses int
	AnomalyCount    uint64

	EventsDelivered  uint64
	EventsOverrun    uint64
	EventsDropped    uint64
	LossySubscribers int

	AlertsByRule map[string]uint64
}

// StatsSource supplies the counters /healthz reports alongside the
// agent's own state, implemented by internal/procstate.Store and
// internal/rules.Engine through a small adapter in bootstrap.
type StatsSource interface {
	Stats() Stats
}

// Server owns the fiber app and the agent's health state machine.
type Server struct {
	app    *fiber.App
	sm     *statemachine.StateMachine[State]
	sd     *shutdown.Manager
	stats  StatsSource
	addr   string
	srvErr chan error
}

// New builds the health server; call Run to start listening.
func New(addr string, sd *shutdown.Manager, stats StatsSource, reg *metrics.Registry) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "sentryd",
		DisableStartupMessage: true,
	})
	app.Use(fiberrecover.New(), cors.New())

	s := &Server{app: app, sm: newStateMachine(), sd: sd, stats: stats, addr: addr, srvErr: make(chan error, 1)}

	app.Get("/healthz", s.handleHealthz)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg.Prometheus(), promhttp.HandlerOpts{})))

	return s
}

func (s *Server) handleHealthz(c *fiber.Ctx) error {
	if s.sd != nil && s.sd.IsShuttingDown() {
		s.sm.SetCurrent(StateStopped)
	}

	state := s.sm.Current()
	status := fiber.StatusOK
	if state != StateRunning {
		status = fiber.StatusServiceUnavailable
	}

	body := fiber.Map{"state": state}
	if s.stats != nil {
		body["stats"] = s.stats.Stats()
	}
	return c.Status(status).JSON(body)
}

// SetDegraded marks the agent degraded (e.g. a producer fallback),
// surfaced as a 503 on /healthz until SetRunning is called.
func (s *Server) SetDegraded() {
	if s.sm.Current() != StateStopped {
		s.sm.SetCurrent(StateDegraded)
	}
}

// SetRunning marks the agent running, clearing Starting or a prior
// Degraded marking. Called once the producer and consumer loop have
// actually started (internal/agent/bootstrap.Run).
func (s *Server) SetRunning() {
	if s.sm.Current() != StateStopped {
		s.sm.SetCurrent(StateRunning)
	}
}

// Run starts the listener; blocks until ctx is canceled, then shuts
// the fiber app down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		s.srvErr <- s.app.Listen(s.addr)
	}()

	select {
	case <-ctx.Done():
		return s.app.Shutdown()
	case err := <-s.srvErr:
		if err != nil {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	}
}
