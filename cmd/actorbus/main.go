// Command actorbus runs a demonstration swarm.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/meshworks/actorbus/agent"
	"github.com/meshworks/actorbus/config"
	"github.com/meshworks/actorbus/orchestrate"
	"github.com/meshworks/actorbus/registry"
	"github.com/meshworks/actorbus/swarm"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "actorbus",
		Short: "In-process actor runtime with priority mailboxes and delegation",
	}
	root.AddCommand(newDemoCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func newDemoCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a lead qualification swarm and send it one request",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.LoadFile(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			} else {
				loaded, err := config.FromEnv()
				if err != nil {
					return err
				}
				cfg = loaded
			}
			return runDemo(cmd, cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a TOML config file")
	return cmd
}

// runDemo wires a coordinator and a specialist, then drives one delegated
// request through them.
func runDemo(cmd *cobra.Command, cfg config.Config) error {
	s, err := swarm.New(cfg)
	if err != nil {
		return err
	}

	scorer, err := s.AddAgent(agent.Config{
		ID:   "lead-scorer",
		Type: "specialist",
		Capabilities: map[string]registry.Capability{
			"qualify_lead": {
				Name:             "qualify_lead",
				Description:      "scores inbound leads by budget",
				AccuracyEstimate: 0.9,
			},
		},
	})
	if err != nil {
		return err
	}
	scorer.Handle("qualify_lead", func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		budget, _ := payload["budget"].(int)
		return map[string]any{
			"qualified": budget >= 1000,
			"score":     min(budget/100, 100),
		}, nil
	})

	if _, err := s.AddOrchestrator(orchestrate.Config{ID: "coordinator"}); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := s.Start(ctx); err != nil {
		return err
	}
	defer s.Stop()

	b := s.Bus()
	if _, err := b.Register("demo-client"); err != nil {
		return err
	}

	reply, err := b.RequestAndWait(ctx, "demo-client", "coordinator", "qualify_lead",
		map[string]any{"budget": 5000, "company": "Acme Corp"}, 5*time.Second)
	if err != nil {
		return fmt.Errorf("qualify_lead request failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "qualified: %v\n", reply.Payload["qualified"])
	fmt.Fprintf(out, "score:     %v\n", reply.Payload["score"])
	fmt.Fprintf(out, "responder: %s\n", reply.SenderID)

	stats := b.Stats()
	fmt.Fprintf(out, "published=%d delivered=%d broadcasts=%d\n",
		stats.Published, stats.Delivered, stats.Broadcasts)
	return nil
}
