package swarm

import (
	"context"
	"testing"
	"time"

	"github.com/meshworks/actorbus/agent"
	"github.com/meshworks/actorbus/config"
	"github.com/meshworks/actorbus/orchestrate"
	"github.com/meshworks/actorbus/registry"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.LogLevel = "error"
	cfg.Heartbeat.Interval = config.Duration(50 * time.Millisecond)
	cfg.Heartbeat.StaleThreshold = config.Duration(time.Second)
	cfg.Heartbeat.CheckInterval = config.Duration(50 * time.Millisecond)
	cfg.Delegation.Timeout = config.Duration(2 * time.Second)
	cfg.Delegation.SweepInterval = config.Duration(50 * time.Millisecond)
	return cfg
}

func TestSwarmEndToEnd(t *testing.T) {
	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("new swarm: %v", err)
	}

	scorer, err := s.AddAgent(agent.Config{
		ID:   "lead-scorer",
		Type: "specialist",
		Capabilities: map[string]registry.Capability{
			"qualify_lead": {Name: "qualify_lead", AccuracyEstimate: 0.9},
		},
	})
	if err != nil {
		t.Fatalf("add agent: %v", err)
	}
	scorer.Handle("qualify_lead", func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		budget, _ := payload["budget"].(int)
		return map[string]any{"qualified": budget >= 1000}, nil
	})

	if _, err := s.AddOrchestrator(orchestrate.Config{ID: "coordinator"}); err != nil {
		t.Fatalf("add orchestrator: %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	b := s.Bus()
	b.Register("client")
	reply, err := b.RequestAndWait(context.Background(), "client", "coordinator", "qualify_lead",
		map[string]any{"budget": 5000}, 2*time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if reply.Payload["qualified"] != true {
		t.Errorf("payload = %v", reply.Payload)
	}

	// Heartbeats reach the monitor.
	deadline := time.Now().Add(2 * time.Second)
	for !s.Monitor().Healthy("lead-scorer") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !s.Monitor().Healthy("lead-scorer") {
		t.Error("specialist heartbeat never observed")
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if b.Registered("lead-scorer") || b.Registered("coordinator") {
		t.Error("members still registered after stop")
	}
}

func TestSwarmStartStopGuards(t *testing.T) {
	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("new swarm: %v", err)
	}

	if err := s.Stop(); err != ErrNotStarted {
		t.Errorf("stop before start: err = %v, want ErrNotStarted", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(context.Background()); err != ErrAlreadyStarted {
		t.Errorf("second start: err = %v, want ErrAlreadyStarted", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestSwarmRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Bus.MailboxSize = -1
	if _, err := New(cfg); err == nil {
		t.Fatal("invalid config accepted")
	}
}

func TestSwarmRoutesFromConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Routes = map[string]string{"qualify_lead": "preferred"}

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("new swarm: %v", err)
	}

	preferred, err := s.AddAgent(agent.Config{ID: "preferred", Type: "specialist"})
	if err != nil {
		t.Fatalf("add agent: %v", err)
	}
	preferred.Handle("qualify_lead", func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		return map[string]any{"by": "preferred"}, nil
	})

	if _, err := s.AddOrchestrator(orchestrate.Config{ID: "coordinator"}); err != nil {
		t.Fatalf("add orchestrator: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	b := s.Bus()
	b.Register("client")
	reply, err := b.RequestAndWait(context.Background(), "client", "coordinator", "qualify_lead", nil, 2*time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if reply.Payload["by"] != "preferred" {
		t.Errorf("handled by %v, want preferred", reply.Payload["by"])
	}
}

func TestSwarmRunStopsOnContextCancel(t *testing.T) {
	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("new swarm: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
