package heartbeat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meshworks/actorbus/bus"
	"github.com/meshworks/actorbus/logging"
	"github.com/meshworks/actorbus/message"
	"github.com/meshworks/actorbus/registry"
)

// MonitorConfig configures a heartbeat Monitor.
type MonitorConfig struct {
	// Bus is the message bus to listen on. Required.
	Bus *bus.Bus

	// Registry, when set, has agent liveness and status mirrored into it.
	Registry registry.Registry

	// Logger for monitor events. Nil disables logging.
	Logger *logging.Logger

	// MonitorID is the monitor's bus identity.
	// Default: "heartbeat-monitor"
	MonitorID string

	// StaleThreshold marks an agent unhealthy when its last beat is older.
	// Default: 15 seconds
	StaleThreshold time.Duration

	// CheckInterval is how often the staleness sweep runs.
	// Default: 5 seconds
	CheckInterval time.Duration
}

// DefaultMonitorConfig returns configuration with sensible defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		MonitorID:      "heartbeat-monitor",
		StaleThreshold: 15 * time.Second,
		CheckInterval:  5 * time.Second,
	}
}

// Monitor tracks agent liveness from broadcast heartbeats.
type Monitor struct {
	config  MonitorConfig
	log     *logging.Logger
	mailbox *bus.Mailbox

	mu          sync.RWMutex
	lastSeen    map[string]Beat
	reported    map[string]bool // agents already flagged this incident
	unhealthyCB []func(agentID string, staleness time.Duration)

	running atomic.Bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
}

// NewMonitor creates a heartbeat monitor. It does not touch the bus until
// Start.
func NewMonitor(cfg MonitorConfig) (*Monitor, error) {
	if cfg.Bus == nil {
		return nil, ErrNilBus
	}

	def := DefaultMonitorConfig()
	if cfg.MonitorID == "" {
		cfg.MonitorID = def.MonitorID
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = def.StaleThreshold
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}

	log := cfg.Logger
	if log == nil {
		log = logging.New()
		log.SetLevel(logging.LevelError)
	}

	return &Monitor{
		config:   cfg,
		log:      log.WithComponent("heartbeat"),
		lastSeen: make(map[string]Beat),
		reported: make(map[string]bool),
	}, nil
}

// OnUnhealthy registers a callback fired once per staleness incident.
func (m *Monitor) OnUnhealthy(cb func(agentID string, staleness time.Duration)) {
	m.mu.Lock()
	m.unhealthyCB = append(m.unhealthyCB, cb)
	m.mu.Unlock()
}

// Start registers the monitor's mailbox, subscribes to the heartbeat
// pattern, and begins processing.
func (m *Monitor) Start(ctx context.Context) error {
	if m.running.Swap(true) {
		return ErrAlreadyStarted
	}

	mb, err := m.config.Bus.Register(m.config.MonitorID)
	if err != nil {
		m.running.Store(false)
		return err
	}
	if err := m.config.Bus.Subscribe(m.config.MonitorID, TopicPattern); err != nil {
		m.config.Bus.Deregister(m.config.MonitorID)
		m.running.Store(false)
		return err
	}
	m.mailbox = mb

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.doneCh = make(chan struct{})

	go m.run(ctx)
	return nil
}

// run consumes beats and sweeps for stale agents.
func (m *Monitor) run(ctx context.Context) {
	defer close(m.doneCh)

	beats := make(chan message.Message)
	go func() {
		defer close(beats)
		for {
			msg, err := m.mailbox.Receive(ctx)
			if err != nil {
				return
			}
			select {
			case beats <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-beats:
			if !ok {
				return
			}
			m.processBeat(msg)
		case <-ticker.C:
			m.sweep()
		}
	}
}

// processBeat records a beat and clears any open incident for the agent.
func (m *Monitor) processBeat(msg message.Message) {
	if msg.Type != message.TypeHeartbeat {
		return
	}
	beat, err := FromPayload(msg.Payload)
	if err != nil {
		m.log.Warn("beat_rejected", map[string]any{"sender": msg.SenderID, "error": err.Error()})
		return
	}

	m.mu.Lock()
	wasReported := m.reported[beat.AgentID]
	m.lastSeen[beat.AgentID] = beat
	delete(m.reported, beat.AgentID)
	m.mu.Unlock()

	if m.config.Registry != nil {
		m.config.Registry.Heartbeat(beat.AgentID, beat.Load, beat.MessageCount)
		if wasReported {
			// Recovered from an incident; restore its registry status.
			m.config.Registry.UpdateStatus(beat.AgentID, registry.Status(beat.Status))
		}
	}
}

// sweep flags agents whose last beat is older than the stale threshold.
// Each incident is reported once; a fresh beat rearms it.
func (m *Monitor) sweep() {
	now := time.Now()

	type incident struct {
		agentID   string
		staleness time.Duration
	}
	var incidents []incident

	m.mu.Lock()
	for agentID, beat := range m.lastSeen {
		staleness := now.Sub(beat.Timestamp)
		if staleness > m.config.StaleThreshold && !m.reported[agentID] {
			m.reported[agentID] = true
			incidents = append(incidents, incident{agentID, staleness})
		}
	}
	callbacks := make([]func(string, time.Duration), len(m.unhealthyCB))
	copy(callbacks, m.unhealthyCB)
	m.mu.Unlock()

	for _, inc := range incidents {
		m.log.AgentUnhealthy(inc.agentID, inc.staleness)
		if m.config.Registry != nil {
			m.config.Registry.UpdateStatus(inc.agentID, registry.StatusError)
		}
		for _, cb := range callbacks {
			cb(inc.agentID, inc.staleness)
		}
	}
}

// Healthy reports whether an agent's last beat is within the threshold.
func (m *Monitor) Healthy(agentID string) bool {
	m.mu.RLock()
	beat, ok := m.lastSeen[agentID]
	m.mu.RUnlock()

	if !ok {
		return false
	}
	return time.Since(beat.Timestamp) <= m.config.StaleThreshold
}

// LastBeat returns the most recent beat from an agent.
func (m *Monitor) LastBeat(agentID string) (Beat, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	beat, ok := m.lastSeen[agentID]
	return beat, ok
}

// Stop halts monitoring and releases the monitor's mailbox.
func (m *Monitor) Stop() error {
	if !m.running.Swap(false) {
		return ErrNotStarted
	}
	m.cancel()
	<-m.doneCh
	m.config.Bus.Deregister(m.config.MonitorID)
	return nil
}
