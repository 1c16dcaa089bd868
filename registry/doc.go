// Package registry provides agent registration and capability discovery.
//
// # Overview
//
// Agents self-register with their advertised capabilities, status, and
// current load. Orchestrators lacking a static route call Select to pick a
// specialist for a request type: candidates must be running and advertise a
// capability with that name; ties break by lowest load, then highest
// accuracy estimate.
//
// # Basic Usage
//
// Register an agent:
//
//	reg := registry.NewMemoryRegistry(registry.MemoryConfig{})
//	reg.Register(registry.AgentInfo{
//	    ID:     "lead-scorer",
//	    Type:   "specialist",
//	    Status: registry.StatusRunning,
//	    Capabilities: map[string]registry.Capability{
//	        "qualify_lead": {Name: "qualify_lead", AccuracyEstimate: 0.9},
//	    },
//	})
//
// Pick a specialist:
//
//	info, err := reg.Select("qualify_lead")
package registry
