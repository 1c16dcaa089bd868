package orchestrate

import (
	"context"
	"testing"
	"time"

	"github.com/meshworks/actorbus/agent"
	"github.com/meshworks/actorbus/bus"
	"github.com/meshworks/actorbus/errors"
	"github.com/meshworks/actorbus/message"
	"github.com/meshworks/actorbus/registry"
)

func newTestBus(t *testing.T) *bus.Bus {
	t.Helper()
	b := bus.New(bus.DefaultConfig(), nil)
	t.Cleanup(func() { b.Close() })
	return b
}

func startSpecialist(t *testing.T, b *bus.Bus, reg registry.Registry, id, requestType string, h agent.Handler) *agent.Agent {
	t.Helper()
	a, err := agent.New(agent.Config{
		ID:                id,
		Type:              "specialist",
		Bus:               b,
		Registry:          reg,
		HeartbeatInterval: -1,
		Capabilities: map[string]registry.Capability{
			requestType: {Name: requestType, AccuracyEstimate: 0.9},
		},
	})
	if err != nil {
		t.Fatalf("new specialist: %v", err)
	}
	a.Handle(requestType, h)
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start specialist: %v", err)
	}
	t.Cleanup(func() { a.Stop() })
	return a
}

func startOrchestrator(t *testing.T, cfg Config) *Orchestrator {
	t.Helper()
	o, err := New(cfg)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("start orchestrator: %v", err)
	}
	t.Cleanup(func() { o.Stop() })
	return o
}

func TestDelegationRoundTrip(t *testing.T) {
	b := newTestBus(t)
	reg := registry.NewMemoryRegistry(registry.MemoryConfig{})
	defer reg.Close()

	startSpecialist(t, b, reg, "lead-scorer", "qualify_lead",
		func(ctx context.Context, payload map[string]any) (map[string]any, error) {
			budget, _ := payload["budget"].(int)
			return map[string]any{"qualified": budget >= 1000, "score": 87}, nil
		})

	startOrchestrator(t, Config{
		ID:       "coordinator",
		Bus:      b,
		Registry: reg,
	})

	b.Register("client")
	reply, err := b.RequestAndWait(context.Background(), "client", "coordinator", "qualify_lead",
		map[string]any{"budget": 5000}, time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if reply.Payload["qualified"] != true || reply.Payload["score"] != 87 {
		t.Errorf("payload = %v", reply.Payload)
	}
	// The caller sees the orchestrator as the responder.
	if reply.SenderID != "coordinator" {
		t.Errorf("reply sender = %q, want coordinator", reply.SenderID)
	}
}

func TestStaticRouteWinsOverRegistry(t *testing.T) {
	b := newTestBus(t)
	reg := registry.NewMemoryRegistry(registry.MemoryConfig{})
	defer reg.Close()

	startSpecialist(t, b, reg, "preferred", "qualify_lead",
		func(ctx context.Context, payload map[string]any) (map[string]any, error) {
			return map[string]any{"by": "preferred"}, nil
		})
	startSpecialist(t, b, reg, "fallback", "qualify_lead",
		func(ctx context.Context, payload map[string]any) (map[string]any, error) {
			return map[string]any{"by": "fallback"}, nil
		})

	startOrchestrator(t, Config{
		ID:       "coordinator",
		Bus:      b,
		Registry: reg,
		Routes:   map[string]string{"qualify_lead": "preferred"},
	})

	b.Register("client")
	reply, err := b.RequestAndWait(context.Background(), "client", "coordinator", "qualify_lead", nil, time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if reply.Payload["by"] != "preferred" {
		t.Errorf("handled by %v, want preferred", reply.Payload["by"])
	}
}

func TestNoSpecialist(t *testing.T) {
	b := newTestBus(t)
	reg := registry.NewMemoryRegistry(registry.MemoryConfig{})
	defer reg.Close()

	startOrchestrator(t, Config{ID: "coordinator", Bus: b, Registry: reg})

	b.Register("client")
	_, err := b.RequestAndWait(context.Background(), "client", "coordinator", "qualify_lead", nil, time.Second)
	if err == nil {
		t.Fatal("expected error with no specialist registered")
	}
	if code := errors.GetCode(err); code != errors.CodeNoSpecialist {
		t.Errorf("code = %q, want NO_SPECIALIST", code)
	}
}

func TestSpecialistErrorRelayed(t *testing.T) {
	b := newTestBus(t)
	reg := registry.NewMemoryRegistry(registry.MemoryConfig{})
	defer reg.Close()

	startSpecialist(t, b, reg, "lead-scorer", "qualify_lead",
		func(ctx context.Context, payload map[string]any) (map[string]any, error) {
			return nil, errors.HandlerFailure("model offline")
		})

	startOrchestrator(t, Config{ID: "coordinator", Bus: b, Registry: reg})

	b.Register("client")
	reply, err := b.RequestAndWait(context.Background(), "client", "coordinator", "qualify_lead", nil, time.Second)
	if err == nil {
		t.Fatal("expected relayed specialist error")
	}
	if reply.Type != message.TypeError {
		t.Errorf("reply type = %q, want error", reply.Type)
	}
	if code := errors.GetCode(err); code != errors.CodeHandlerFailure {
		t.Errorf("code = %q, want HANDLER_FAILURE", code)
	}
}

func TestDelegationTimeout(t *testing.T) {
	b := newTestBus(t)
	reg := registry.NewMemoryRegistry(registry.MemoryConfig{})
	defer reg.Close()

	// A specialist that never answers.
	silent, err := agent.New(agent.Config{
		ID:                "silent",
		Bus:               b,
		Registry:          reg,
		HeartbeatInterval: -1,
		Capabilities: map[string]registry.Capability{
			"qualify_lead": {Name: "qualify_lead"},
		},
	})
	if err != nil {
		t.Fatalf("new specialist: %v", err)
	}
	silent.Handle("qualify_lead", func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		time.Sleep(time.Second)
		return map[string]any{"late": true}, nil
	})
	if err := silent.Start(context.Background()); err != nil {
		t.Fatalf("start specialist: %v", err)
	}
	defer silent.Stop()

	o := startOrchestrator(t, Config{
		ID:                "coordinator",
		Bus:               b,
		Registry:          reg,
		DelegationTimeout: 50 * time.Millisecond,
		SweepInterval:     10 * time.Millisecond,
	})

	clientMB, _ := b.Register("client")
	_, err = b.RequestAndWait(context.Background(), "client", "coordinator", "qualify_lead", nil, 5*time.Second)
	if err == nil {
		t.Fatal("expected delegation timeout")
	}
	if code := errors.GetCode(err); code != errors.CodeRequestTimeout {
		t.Errorf("code = %q, want REQUEST_TIMEOUT", code)
	}
	if n := o.PendingDelegations(); n != 0 {
		t.Errorf("pending delegations = %d, want 0", n)
	}

	// The late specialist reply is dropped by the orchestrator, never
	// relayed to the caller.
	time.Sleep(1200 * time.Millisecond)
	if n := clientMB.Len(); n != 0 {
		t.Errorf("client mailbox has %d messages, want 0", n)
	}
}

func TestLoadBalancedSelection(t *testing.T) {
	b := newTestBus(t)
	reg := registry.NewMemoryRegistry(registry.MemoryConfig{})
	defer reg.Close()

	startSpecialist(t, b, reg, "busy", "qualify_lead",
		func(ctx context.Context, payload map[string]any) (map[string]any, error) {
			return map[string]any{"by": "busy"}, nil
		})
	startSpecialist(t, b, reg, "idle", "qualify_lead",
		func(ctx context.Context, payload map[string]any) (map[string]any, error) {
			return map[string]any{"by": "idle"}, nil
		})
	reg.Heartbeat("busy", 0.9, 100)
	reg.Heartbeat("idle", 0.1, 5)

	startOrchestrator(t, Config{ID: "coordinator", Bus: b, Registry: reg})

	b.Register("client")
	reply, err := b.RequestAndWait(context.Background(), "client", "coordinator", "qualify_lead", nil, time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if reply.Payload["by"] != "idle" {
		t.Errorf("handled by %v, want idle", reply.Payload["by"])
	}
}

func TestOrchestratorOwnHandlers(t *testing.T) {
	b := newTestBus(t)
	reg := registry.NewMemoryRegistry(registry.MemoryConfig{})
	defer reg.Close()

	o := startOrchestrator(t, Config{ID: "coordinator", Bus: b, Registry: reg})
	o.Handle("status", func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		return map[string]any{"pending": o.PendingDelegations()}, nil
	})

	b.Register("client")
	reply, err := b.RequestAndWait(context.Background(), "client", "coordinator", "status", nil, time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if reply.Payload["pending"] != 0 {
		t.Errorf("payload = %v", reply.Payload)
	}
}

func TestNewRequiresRoutesOrRegistry(t *testing.T) {
	b := newTestBus(t)
	if _, err := New(Config{ID: "coordinator", Bus: b}); err != ErrMissingRegistry {
		t.Errorf("err = %v, want ErrMissingRegistry", err)
	}
}

func TestStopExpiresOutstandingDelegations(t *testing.T) {
	b := newTestBus(t)
	reg := registry.NewMemoryRegistry(registry.MemoryConfig{})
	defer reg.Close()

	slow, err := agent.New(agent.Config{
		ID:                "slow",
		Bus:               b,
		Registry:          reg,
		HeartbeatInterval: -1,
		Capabilities: map[string]registry.Capability{
			"qualify_lead": {Name: "qualify_lead"},
		},
	})
	if err != nil {
		t.Fatalf("new specialist: %v", err)
	}
	slow.Handle("qualify_lead", func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		time.Sleep(time.Second)
		return nil, nil
	})
	if err := slow.Start(context.Background()); err != nil {
		t.Fatalf("start specialist: %v", err)
	}
	defer slow.Stop()

	o, err := New(Config{
		ID:                "coordinator",
		Bus:               b,
		Registry:          reg,
		DelegationTimeout: time.Minute,
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("start orchestrator: %v", err)
	}

	b.Register("client")
	errCh := make(chan error, 1)
	go func() {
		_, err := b.RequestAndWait(context.Background(), "client", "coordinator", "qualify_lead", nil, 10*time.Second)
		errCh <- err
	}()

	deadline := time.Now().Add(time.Second)
	for o.PendingDelegations() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if o.PendingDelegations() == 0 {
		t.Fatal("delegation never recorded")
	}

	if err := o.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("caller resolved without error after orchestrator stop")
		}
		if code := errors.GetCode(err); code != errors.CodeRequestTimeout {
			t.Errorf("code = %q, want REQUEST_TIMEOUT", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("caller still blocked after orchestrator stop")
	}
}
