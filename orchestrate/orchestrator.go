package orchestrate

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meshworks/actorbus/agent"
	"github.com/meshworks/actorbus/bus"
	"github.com/meshworks/actorbus/errors"
	"github.com/meshworks/actorbus/logging"
	"github.com/meshworks/actorbus/message"
	"github.com/meshworks/actorbus/registry"
)

// Common errors.
var (
	ErrMissingRegistry = stderrors.New("orchestrator without routes requires a registry")
)

// Config holds orchestrator configuration.
type Config struct {
	// ID is the orchestrator's bus identity. Required.
	ID string

	// Bus routes the orchestrator's messages. Required.
	Bus *bus.Bus

	// Registry resolves specialists for request types with no static route.
	Registry registry.Registry

	// Logger for orchestrator events. Nil disables logging.
	Logger *logging.Logger

	// Routes statically maps request types to specialist agent IDs. Routes
	// win over registry selection.
	Routes map[string]string

	// DelegationTimeout bounds how long a forwarded request may stay
	// unanswered before the caller gets a synthetic error.
	// Default: 10 seconds
	DelegationTimeout time.Duration

	// SweepInterval is how often expired delegations are collected.
	// Default: 1 second
	SweepInterval time.Duration

	// HeartbeatInterval is forwarded to the underlying agent.
	HeartbeatInterval time.Duration
}

// delegation links a forwarded request back to its original caller.
type delegation struct {
	original   message.Message
	specialist string
	deadline   time.Time
}

// Orchestrator is an agent that delegates unhandled requests to
// specialists.
type Orchestrator struct {
	config Config
	log    *logging.Logger
	agent  *agent.Agent

	mu      sync.Mutex
	pending map[string]delegation // forwarded correlation ID -> record

	cancel context.CancelFunc
	doneCh chan struct{}
}

// New creates an orchestrator. The underlying agent is created here but the
// bus is untouched until Start.
func New(cfg Config) (*Orchestrator, error) {
	if len(cfg.Routes) == 0 && cfg.Registry == nil {
		return nil, ErrMissingRegistry
	}
	if cfg.DelegationTimeout <= 0 {
		cfg.DelegationTimeout = 10 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Second
	}

	log := cfg.Logger
	if log == nil {
		log = logging.New()
		log.SetLevel(logging.LevelError)
	}

	a, err := agent.New(agent.Config{
		ID:                cfg.ID,
		Type:              "orchestrator",
		Bus:               cfg.Bus,
		Registry:          cfg.Registry,
		Logger:            cfg.Logger,
		HeartbeatInterval: cfg.HeartbeatInterval,
	})
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		config:  cfg,
		log:     log.WithComponent("orchestrate").WithAgentID(cfg.ID),
		agent:   a,
		pending: make(map[string]delegation),
	}
	a.OnUnhandledRequest(o.delegate)
	a.OnReply(o.resolve)
	return o, nil
}

// ID returns the orchestrator's bus identity.
func (o *Orchestrator) ID() string {
	return o.config.ID
}

// Handle registers a request type the orchestrator answers itself instead
// of delegating.
func (o *Orchestrator) Handle(requestType string, h agent.Handler) {
	o.agent.Handle(requestType, h)
}

// Start launches the underlying agent and the delegation sweeper.
func (o *Orchestrator) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := o.agent.Start(ctx); err != nil {
		return err
	}

	ctx, o.cancel = context.WithCancel(ctx)
	o.doneCh = make(chan struct{})
	go o.sweepLoop(ctx)
	return nil
}

// Stop halts the sweeper and the underlying agent. Outstanding delegations
// are expired so callers are not left waiting on their own deadlines.
func (o *Orchestrator) Stop() error {
	if o.cancel != nil {
		o.cancel()
		<-o.doneCh
	}

	o.mu.Lock()
	expired := make([]delegation, 0, len(o.pending))
	for _, d := range o.pending {
		expired = append(expired, d)
	}
	o.pending = make(map[string]delegation)
	o.mu.Unlock()

	for _, d := range expired {
		o.failDelegation(d, "orchestrator stopped")
	}
	return o.agent.Stop()
}

// PendingDelegations returns the number of outstanding forwarded requests.
func (o *Orchestrator) PendingDelegations() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// delegate forwards an unhandled request to a specialist. Returns true when
// the request was consumed (forwarded or answered with an error).
func (o *Orchestrator) delegate(msg message.Message) bool {
	requestType := msg.RequestType()

	specialist, err := o.pickSpecialist(requestType)
	if err != nil {
		reason := errors.NoSpecialist(requestType,
			errors.WithAgentID(o.config.ID),
			errors.WithCorrelationID(msg.CorrelationID))
		o.replyError(msg, reason)
		return true
	}

	// Fire-and-forget originals forward without a reply path.
	if msg.CorrelationID == "" {
		fwd := message.NewRequest(o.config.ID, specialist, requestType, msg.Payload,
			message.WithPriority(msg.Priority))
		if err := o.config.Bus.Publish(fwd); err != nil {
			o.log.Warn("forward_failed", map[string]any{"specialist": specialist, "error": err.Error()})
		}
		return true
	}

	forwardedID := uuid.NewString()
	o.mu.Lock()
	o.pending[forwardedID] = delegation{
		original:   msg,
		specialist: specialist,
		deadline:   time.Now().Add(o.config.DelegationTimeout),
	}
	o.mu.Unlock()

	fwd := message.NewRequest(o.config.ID, specialist, requestType, msg.Payload,
		message.WithCorrelationID(forwardedID),
		message.WithPriority(msg.Priority))

	if err := o.config.Bus.Publish(fwd); err != nil {
		o.mu.Lock()
		delete(o.pending, forwardedID)
		o.mu.Unlock()
		reason := errors.Wrap(err, "delegation publish failed",
			errors.WithAgentID(o.config.ID),
			errors.WithCorrelationID(msg.CorrelationID))
		o.replyError(msg, reason)
		return true
	}

	o.log.DelegationForwarded(requestType, specialist, forwardedID)
	return true
}

// pickSpecialist resolves a specialist: static routes first, then the
// capability registry.
func (o *Orchestrator) pickSpecialist(requestType string) (string, error) {
	if id, ok := o.config.Routes[requestType]; ok {
		return id, nil
	}
	if o.config.Registry == nil {
		return "", registry.ErrNoCandidate
	}
	info, err := o.config.Registry.Select(requestType)
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

// resolve relays a specialist reply to the original caller under the
// original correlation ID. Returns false for replies with no live
// delegation, which the agent then drops as orphans.
func (o *Orchestrator) resolve(msg message.Message) bool {
	o.mu.Lock()
	d, ok := o.pending[msg.CorrelationID]
	if ok {
		delete(o.pending, msg.CorrelationID)
	}
	o.mu.Unlock()

	if !ok {
		return false
	}

	var relay message.Message
	if msg.Type == message.TypeError {
		relay = message.ErrorResponse(d.original, o.config.ID, msg.ErrorReason(), msg.Payload)
	} else {
		relay = message.Response(d.original, o.config.ID, msg.Payload)
	}

	if err := o.config.Bus.Publish(relay); err != nil {
		o.log.Warn("relay_failed", map[string]any{
			"caller": d.original.SenderID,
			"error":  err.Error(),
		})
		return true
	}
	o.log.DelegationResolved(d.original.CorrelationID, d.original.SenderID)
	return true
}

// sweepLoop expires delegations past their deadline.
func (o *Orchestrator) sweepLoop(ctx context.Context) {
	defer close(o.doneCh)

	ticker := time.NewTicker(o.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.sweep(time.Now())
		}
	}
}

// sweep fails every delegation whose deadline has passed.
func (o *Orchestrator) sweep(now time.Time) {
	o.mu.Lock()
	var expired []delegation
	for id, d := range o.pending {
		if now.After(d.deadline) {
			delete(o.pending, id)
			expired = append(expired, d)
		}
	}
	o.mu.Unlock()

	for _, d := range expired {
		o.log.DelegationExpired(d.original.CorrelationID, d.specialist)
		o.failDelegation(d, "specialist did not reply before deadline")
	}
}

// failDelegation sends a synthetic timeout error to the original caller.
func (o *Orchestrator) failDelegation(d delegation, why string) {
	reason := errors.Timeout(why,
		errors.WithAgentID(o.config.ID),
		errors.WithCorrelationID(d.original.CorrelationID),
		errors.WithMetadata("specialist", d.specialist))
	o.replyError(d.original, reason)
}

// replyError publishes an ERROR reply for a request, skipping
// fire-and-forget originals.
func (o *Orchestrator) replyError(orig message.Message, reason *errors.Error) {
	if orig.CorrelationID == "" {
		return
	}
	errMsg := message.ErrorResponse(orig, o.config.ID, reason.Error(), reason.Diagnostic())
	if err := o.config.Bus.Publish(errMsg); err != nil {
		o.log.Warn("error_reply_failed", map[string]any{
			"caller": orig.SenderID,
			"error":  err.Error(),
		})
	}
}
