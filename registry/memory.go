package registry

import (
	"sort"
	"sync"
	"time"
)

// MemoryConfig configures the in-memory registry.
type MemoryConfig struct {
	// StaleThreshold marks agents unhealthy when their last heartbeat is
	// older than this. Zero disables staleness filtering in Select.
	StaleThreshold time.Duration

	// WatchBuffer is the event channel capacity per watcher.
	WatchBuffer int
}

// DefaultMemoryConfig returns sensible defaults.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		StaleThreshold: 30 * time.Second,
		WatchBuffer:    64,
	}
}

// MemoryRegistry is an in-process Registry implementation.
type MemoryRegistry struct {
	config   MemoryConfig
	mu       sync.RWMutex
	agents   map[string]AgentInfo
	watchers []chan Event
	closed   bool

	// now is swappable for tests.
	now func() time.Time
}

// NewMemoryRegistry creates an in-memory registry. Zero-value fields in cfg
// fall back to defaults.
func NewMemoryRegistry(cfg MemoryConfig) *MemoryRegistry {
	if cfg.WatchBuffer <= 0 {
		cfg.WatchBuffer = DefaultMemoryConfig().WatchBuffer
	}
	return &MemoryRegistry{
		config: cfg,
		agents: make(map[string]AgentInfo),
		now:    time.Now,
	}
}

// Register adds or updates an agent.
func (r *MemoryRegistry) Register(info AgentInfo) error {
	if err := ValidateAgentInfo(info); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	if info.LastHeartbeat.IsZero() {
		info.LastHeartbeat = r.now()
	}

	_, existed := r.agents[info.ID]
	r.agents[info.ID] = info

	typ := EventAdded
	if existed {
		typ = EventUpdated
	}
	r.notifyLocked(Event{Type: typ, Agent: info})
	return nil
}

// Deregister removes an agent.
func (r *MemoryRegistry) Deregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	info, ok := r.agents[id]
	if !ok {
		return ErrNotFound
	}
	delete(r.agents, id)
	r.notifyLocked(Event{Type: EventRemoved, Agent: info})
	return nil
}

// Get retrieves an agent by ID.
func (r *MemoryRegistry) Get(id string) (*AgentInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ErrClosed
	}
	info, ok := r.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := info
	return &out, nil
}

// List returns agents matching the optional filter, sorted by ID.
func (r *MemoryRegistry) List(filter *Filter) ([]AgentInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ErrClosed
	}

	out := make([]AgentInfo, 0, len(r.agents))
	for _, info := range r.agents {
		if filter.Matches(info) {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Select picks the best specialist for a request type. Candidates must be
// running, non-stale, and advertise a capability named requestType. Lowest
// load wins, accuracy estimate breaks ties.
func (r *MemoryRegistry) Select(requestType string) (*AgentInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ErrClosed
	}

	var candidates []AgentInfo
	cutoff := time.Time{}
	if r.config.StaleThreshold > 0 {
		cutoff = r.now().Add(-r.config.StaleThreshold)
	}
	for _, info := range r.agents {
		if info.Status != StatusRunning {
			continue
		}
		if !info.HasCapability(requestType) {
			continue
		}
		if !cutoff.IsZero() && info.LastHeartbeat.Before(cutoff) {
			continue
		}
		candidates = append(candidates, info)
	}
	if len(candidates) == 0 {
		return nil, ErrNoCandidate
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Load != candidates[j].Load {
			return candidates[i].Load < candidates[j].Load
		}
		ai := candidates[i].Capabilities[requestType].AccuracyEstimate
		aj := candidates[j].Capabilities[requestType].AccuracyEstimate
		if ai != aj {
			return ai > aj
		}
		return candidates[i].ID < candidates[j].ID
	})

	best := candidates[0]
	return &best, nil
}

// UpdateStatus changes an agent's operational state.
func (r *MemoryRegistry) UpdateStatus(id string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	info, ok := r.agents[id]
	if !ok {
		return ErrNotFound
	}
	info.Status = status
	r.agents[id] = info
	r.notifyLocked(Event{Type: EventUpdated, Agent: info})
	return nil
}

// Heartbeat refreshes an agent's liveness, load, and message count.
func (r *MemoryRegistry) Heartbeat(id string, load float64, messageCount uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	info, ok := r.agents[id]
	if !ok {
		return ErrNotFound
	}
	info.LastHeartbeat = r.now()
	info.Load = load
	info.MessageCount = messageCount
	r.agents[id] = info
	return nil
}

// PruneStale deregisters agents whose last heartbeat is older than the
// cutoff and returns how many were removed.
func (r *MemoryRegistry) PruneStale(olderThan time.Duration) int {
	cutoff := r.now().Add(-olderThan)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0
	}
	removed := 0
	for id, info := range r.agents {
		if info.LastHeartbeat.Before(cutoff) {
			delete(r.agents, id)
			r.notifyLocked(Event{Type: EventRemoved, Agent: info})
			removed++
		}
	}
	return removed
}

// Watch returns a channel of registry events.
func (r *MemoryRegistry) Watch() (<-chan Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	ch := make(chan Event, r.config.WatchBuffer)
	r.watchers = append(r.watchers, ch)
	return ch, nil
}

// Close shuts down the registry and closes all watch channels.
func (r *MemoryRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	for _, ch := range r.watchers {
		close(ch)
	}
	r.watchers = nil
	r.agents = nil
	return nil
}

// notifyLocked fans an event out to watchers. Slow watchers lose events
// rather than blocking registry operations.
func (r *MemoryRegistry) notifyLocked(ev Event) {
	for _, ch := range r.watchers {
		select {
		case ch <- ev:
		default:
		}
	}
}
