package shutdown

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/meshworks/actorbus/logging"
)

// Common errors.
var (
	ErrAlreadyShutdown = errors.New("shutdown already initiated")
	ErrTimeout         = errors.New("shutdown timeout exceeded")
	ErrHookFailed      = errors.New("one or more shutdown hooks failed")
)

// Teardown phases in conventional order. Lower phases run first.
const (
	PhaseOrchestrators = 10
	PhaseAgents        = 20
	PhaseMonitors      = 30
	PhaseBus           = 40
)

// Hook is one component's shutdown step. The context is canceled when the
// overall timeout is reached.
type Hook func(ctx context.Context) error

// HookResult records one hook's outcome.
type HookResult struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

// Config configures the Coordinator.
type Config struct {
	// Timeout bounds the whole shutdown sequence.
	// Default: 30 seconds
	Timeout time.Duration

	// AbortOnError stops the sequence at the first failed hook. By default
	// later phases still run so the bus always closes.
	AbortOnError bool
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{Timeout: 30 * time.Second}
}

// registration pairs a hook with its phase.
type registration struct {
	name  string
	phase int
	hook  Hook
}

// Coordinator runs registered hooks phase by phase.
type Coordinator struct {
	config Config
	log    *logging.Logger

	mu    sync.Mutex
	hooks []registration

	once       sync.Once
	done       chan struct{}
	err        error
	results    []HookResult
	signalChan chan os.Signal
}

// NewCoordinator creates a coordinator. A nil logger disables logging.
func NewCoordinator(cfg Config, log *logging.Logger) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if log == nil {
		log = logging.New()
		log.SetLevel(logging.LevelError)
	}
	return &Coordinator{
		config:     cfg,
		log:        log.WithComponent("shutdown"),
		done:       make(chan struct{}),
		signalChan: make(chan os.Signal, 1),
	}
}

// RegisterFunc adds a shutdown hook in the given phase.
func (c *Coordinator) RegisterFunc(name string, phase int, hook Hook) {
	c.mu.Lock()
	c.hooks = append(c.hooks, registration{name: name, phase: phase, hook: hook})
	c.mu.Unlock()
}

// Shutdown runs all hooks. Later calls return the first run's error.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	first := false
	c.once.Do(func() {
		first = true
		c.err = c.run(ctx)
		close(c.done)
	})
	if first {
		return c.err
	}
	select {
	case <-c.done:
		return c.err
	default:
		return ErrAlreadyShutdown
	}
}

// ShutdownWithTimeout runs Shutdown bounded by the configured timeout.
func (c *Coordinator) ShutdownWithTimeout() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
	defer cancel()
	return c.Shutdown(ctx)
}

// HandleSignals triggers shutdown on SIGTERM or SIGINT.
func (c *Coordinator) HandleSignals() {
	signal.Notify(c.signalChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-c.signalChan
		c.log.Info("signal_received")
		c.ShutdownWithTimeout()
	}()
}

// Trigger initiates shutdown as if a signal had arrived.
func (c *Coordinator) Trigger() {
	select {
	case c.signalChan <- syscall.SIGTERM:
	default:
	}
}

// Done is closed when shutdown completes.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Err returns the shutdown error. Valid once Done is closed.
func (c *Coordinator) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Results returns per-hook outcomes. Valid once Done is closed.
func (c *Coordinator) Results() []HookResult {
	select {
	case <-c.done:
		return c.results
	default:
		return nil
	}
}

// run executes phases in ascending order, hooks within a phase
// concurrently.
func (c *Coordinator) run(ctx context.Context) error {
	start := time.Now()

	c.mu.Lock()
	hooks := make([]registration, len(c.hooks))
	copy(hooks, c.hooks)
	c.mu.Unlock()

	sort.SliceStable(hooks, func(i, j int) bool { return hooks[i].phase < hooks[j].phase })

	var overall error
	for _, phase := range groupByPhase(hooks) {
		select {
		case <-ctx.Done():
			c.log.Error("shutdown_timeout", map[string]any{"elapsed": time.Since(start).String()})
			return ErrTimeout
		default:
		}

		results := c.runPhase(ctx, phase)
		c.results = append(c.results, results...)

		for _, r := range results {
			if r.Err == nil {
				continue
			}
			if overall == nil {
				overall = ErrHookFailed
			}
			if c.config.AbortOnError {
				return overall
			}
		}
	}

	c.log.Info("shutdown_complete", map[string]any{
		"hooks":   len(hooks),
		"elapsed": time.Since(start).String(),
	})
	return overall
}

// runPhase runs one phase's hooks concurrently and waits for all of them.
func (c *Coordinator) runPhase(ctx context.Context, phase []registration) []HookResult {
	results := make([]HookResult, len(phase))
	var wg sync.WaitGroup

	for i, reg := range phase {
		wg.Add(1)
		go func(idx int, r registration) {
			defer wg.Done()

			start := time.Now()
			err := r.hook(ctx)
			results[idx] = HookResult{
				Name:     r.name,
				Phase:    r.phase,
				Duration: time.Since(start),
				Err:      err,
			}
			if err != nil {
				c.log.Warn("hook_failed", map[string]any{"hook": r.name, "error": err.Error()})
			} else {
				c.log.Debug("hook_done", map[string]any{"hook": r.name, "elapsed": time.Since(start).String()})
			}
		}(i, reg)
	}

	wg.Wait()
	return results
}

// groupByPhase splits a phase-sorted slice into contiguous groups.
func groupByPhase(hooks []registration) [][]registration {
	if len(hooks) == 0 {
		return nil
	}
	var groups [][]registration
	var current []registration
	phase := hooks[0].phase
	for _, h := range hooks {
		if h.phase != phase {
			groups = append(groups, current)
			current = nil
			phase = h.phase
		}
		current = append(current, h)
	}
	return append(groups, current)
}
