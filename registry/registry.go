package registry

import (
	"errors"
	"time"
)

// Common errors.
var (
	ErrNotFound    = errors.New("agent not found")
	ErrClosed      = errors.New("registry closed")
	ErrInvalidID   = errors.New("invalid agent ID")
	ErrNoCandidate = errors.New("no capable agent available")
)

// Status represents an agent's operational state.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusRunning      Status = "running"
	StatusPaused       Status = "paused"
	StatusError        Status = "error"
	StatusStopped      Status = "stopped"
)

// Capability describes one advertised skill and its contract.
type Capability struct {
	// Name is the capability identifier, matched against request types.
	Name string

	// Description is a human-readable explanation.
	Description string

	// InputTypes and OutputTypes hint at the payload contract.
	InputTypes  []string
	OutputTypes []string

	// CostEstimate is a relative cost for invoking the capability.
	CostEstimate float64

	// AccuracyEstimate (0.0-1.0) breaks ties during selection.
	AccuracyEstimate float64
}

// AgentInfo contains registration information for an agent.
type AgentInfo struct {
	// ID uniquely identifies the agent.
	ID string

	// Type categorizes the agent (e.g. "orchestrator", "specialist").
	Type string

	// Status is the agent's current operational state.
	Status Status

	// Capabilities maps capability name to its advertisement.
	Capabilities map[string]Capability

	// Load is the agent's current load (0.0-1.0).
	Load float64

	// MessageCount is the number of messages the agent has processed.
	MessageCount uint64

	// LastHeartbeat is when the agent last reported liveness.
	LastHeartbeat time.Time
}

// HasCapability checks if the agent advertises a capability name.
func (a AgentInfo) HasCapability(name string) bool {
	_, ok := a.Capabilities[name]
	return ok
}

// Filter specifies criteria for listing agents.
type Filter struct {
	// Status filters by operational state. Empty means all.
	Status Status

	// Capability filters to agents advertising this capability name.
	Capability string

	// MaxLoad filters to agents with load at or below this value.
	// Zero means no filter.
	MaxLoad float64
}

// Matches checks if an agent matches the filter criteria.
func (f *Filter) Matches(info AgentInfo) bool {
	if f == nil {
		return true
	}
	if f.Status != "" && info.Status != f.Status {
		return false
	}
	if f.Capability != "" && !info.HasCapability(f.Capability) {
		return false
	}
	if f.MaxLoad > 0 && info.Load > f.MaxLoad {
		return false
	}
	return true
}

// EventType represents the type of registry event.
type EventType string

const (
	EventAdded   EventType = "added"
	EventUpdated EventType = "updated"
	EventRemoved EventType = "removed"
)

// Event represents a change in the registry.
type Event struct {
	// Type indicates what happened.
	Type EventType

	// Agent contains the agent information.
	// For removal events, this is the last known state.
	Agent AgentInfo
}

// Registry provides agent registration and capability-based discovery.
type Registry interface {
	// Register adds or updates an agent in the registry.
	Register(info AgentInfo) error

	// Deregister removes an agent from the registry.
	// Returns ErrNotFound if the agent doesn't exist.
	Deregister(id string) error

	// Get retrieves a specific agent by ID.
	Get(id string) (*AgentInfo, error)

	// List returns all agents matching the optional filter.
	List(filter *Filter) ([]AgentInfo, error)

	// Select picks the specialist for a request type: running agents
	// advertising a capability with that name, lowest load first, then
	// highest accuracy estimate. Returns ErrNoCandidate if none qualify.
	Select(requestType string) (*AgentInfo, error)

	// UpdateStatus changes an agent's operational state.
	UpdateStatus(id string, status Status) error

	// Heartbeat refreshes an agent's liveness, load, and message count.
	Heartbeat(id string, load float64, messageCount uint64) error

	// Watch returns a channel of registry events.
	// The channel is closed when the registry is closed.
	Watch() (<-chan Event, error)

	// Close shuts down the registry.
	Close() error
}

// ValidateAgentInfo checks if agent info is valid.
func ValidateAgentInfo(info AgentInfo) error {
	if info.ID == "" {
		return ErrInvalidID
	}
	if info.Load < 0 || info.Load > 1 {
		return errors.New("load must be between 0.0 and 1.0")
	}
	return nil
}
