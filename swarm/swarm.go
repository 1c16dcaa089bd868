package swarm

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/meshworks/actorbus/agent"
	"github.com/meshworks/actorbus/bus"
	"github.com/meshworks/actorbus/config"
	"github.com/meshworks/actorbus/heartbeat"
	"github.com/meshworks/actorbus/logging"
	"github.com/meshworks/actorbus/orchestrate"
	"github.com/meshworks/actorbus/registry"
	"github.com/meshworks/actorbus/shutdown"
)

// Common errors.
var (
	ErrAlreadyStarted = errors.New("swarm already started")
	ErrNotStarted     = errors.New("swarm not started")
)

// Member is a runnable swarm participant.
type Member interface {
	ID() string
	Start(ctx context.Context) error
	Stop() error
}

// Swarm owns the shared runtime infrastructure and its members.
type Swarm struct {
	config   config.Config
	log      *logging.Logger
	bus      *bus.Bus
	registry *registry.MemoryRegistry
	monitor  *heartbeat.Monitor

	mu      sync.Mutex
	members []Member
	started bool
}

// New builds the shared infrastructure from a validated configuration.
func New(cfg config.Config) (*Swarm, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logging.New()
	log.SetLevel(logging.ParseLevel(cfg.LogLevel))

	b := bus.New(bus.Config{
		MailboxSize:    cfg.Bus.MailboxSize,
		RequestTimeout: cfg.Bus.RequestTimeout.Std(),
	}, log)

	reg := registry.NewMemoryRegistry(registry.MemoryConfig{
		StaleThreshold: cfg.Heartbeat.StaleThreshold.Std(),
	})

	mon, err := heartbeat.NewMonitor(heartbeat.MonitorConfig{
		Bus:            b,
		Registry:       reg,
		Logger:         log,
		StaleThreshold: cfg.Heartbeat.StaleThreshold.Std(),
		CheckInterval:  cfg.Heartbeat.CheckInterval.Std(),
	})
	if err != nil {
		reg.Close()
		b.Close()
		return nil, err
	}

	return &Swarm{
		config:   cfg,
		log:      log,
		bus:      b,
		registry: reg,
		monitor:  mon,
	}, nil
}

// Bus returns the shared bus.
func (s *Swarm) Bus() *bus.Bus {
	return s.bus
}

// Registry returns the shared capability registry.
func (s *Swarm) Registry() registry.Registry {
	return s.registry
}

// Monitor returns the heartbeat monitor.
func (s *Swarm) Monitor() *heartbeat.Monitor {
	return s.monitor
}

// Logger returns the shared logger.
func (s *Swarm) Logger() *logging.Logger {
	return s.log
}

// AddAgent creates an agent wired to the swarm's infrastructure and adds it
// as a member. Bus, registry, logger, and heartbeat interval fall back to
// the swarm's own when unset.
func (s *Swarm) AddAgent(cfg agent.Config) (*agent.Agent, error) {
	if cfg.Bus == nil {
		cfg.Bus = s.bus
	}
	if cfg.Registry == nil {
		cfg.Registry = s.registry
	}
	if cfg.Logger == nil {
		cfg.Logger = s.log
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = s.config.Heartbeat.Interval.Std()
	}

	a, err := agent.New(cfg)
	if err != nil {
		return nil, err
	}
	s.add(a)
	return a, nil
}

// AddOrchestrator creates an orchestrator wired to the swarm's
// infrastructure and adds it as a member. The swarm's static routes and
// delegation settings apply when unset.
func (s *Swarm) AddOrchestrator(cfg orchestrate.Config) (*orchestrate.Orchestrator, error) {
	if cfg.Bus == nil {
		cfg.Bus = s.bus
	}
	if cfg.Registry == nil {
		cfg.Registry = s.registry
	}
	if cfg.Logger == nil {
		cfg.Logger = s.log
	}
	if cfg.Routes == nil {
		cfg.Routes = s.config.Routes
	}
	if cfg.DelegationTimeout == 0 {
		cfg.DelegationTimeout = s.config.Delegation.Timeout.Std()
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = s.config.Delegation.SweepInterval.Std()
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = s.config.Heartbeat.Interval.Std()
	}

	o, err := orchestrate.New(cfg)
	if err != nil {
		return nil, err
	}
	s.add(o)
	return o, nil
}

// add appends a member.
func (s *Swarm) add(m Member) {
	s.mu.Lock()
	s.members = append(s.members, m)
	s.mu.Unlock()
}

// Start launches the monitor and all members. Members start concurrently;
// the first startup failure stops the swarm again and is returned.
func (s *Swarm) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	members := make([]Member, len(s.members))
	copy(members, s.members)
	s.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.monitor.Start(ctx); err != nil {
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return err
	}

	// Members keep the caller's context: the group only collects startup
	// errors.
	var g errgroup.Group
	for _, m := range members {
		m := m
		g.Go(func() error {
			if err := m.Start(ctx); err != nil {
				s.log.Error("member_start_failed", map[string]any{"member": m.ID(), "error": err.Error()})
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.Stop()
		return err
	}
	return nil
}

// Stop tears down the swarm in dependency order via the shutdown
// coordinator: orchestrators, then agents, then the monitor, then the
// registry and bus.
func (s *Swarm) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.started = false
	members := make([]Member, len(s.members))
	copy(members, s.members)
	s.mu.Unlock()

	coord := shutdown.NewCoordinator(shutdown.Config{}, s.log)

	for _, m := range members {
		phase := shutdown.PhaseAgents
		if _, ok := m.(*orchestrate.Orchestrator); ok {
			phase = shutdown.PhaseOrchestrators
		}
		member := m
		coord.RegisterFunc(member.ID(), phase, func(ctx context.Context) error {
			return member.Stop()
		})
	}
	coord.RegisterFunc("heartbeat-monitor", shutdown.PhaseMonitors, func(ctx context.Context) error {
		return s.monitor.Stop()
	})
	coord.RegisterFunc("registry", shutdown.PhaseBus, func(ctx context.Context) error {
		return s.registry.Close()
	})
	coord.RegisterFunc("bus", shutdown.PhaseBus, func(ctx context.Context) error {
		return s.bus.Close()
	})

	return coord.ShutdownWithTimeout()
}

// Run starts the swarm and blocks until the context is canceled, then stops
// it.
func (s *Swarm) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop()
}
