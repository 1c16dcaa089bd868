package agent

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meshworks/actorbus/bus"
	"github.com/meshworks/actorbus/errors"
	"github.com/meshworks/actorbus/heartbeat"
	"github.com/meshworks/actorbus/logging"
	"github.com/meshworks/actorbus/message"
	"github.com/meshworks/actorbus/registry"
)

// Common errors.
var (
	ErrAlreadyStarted = stderrors.New("agent already started")
	ErrNotStarted     = stderrors.New("agent not started")
	ErrMissingID      = stderrors.New("agent requires an ID")
	ErrNilBus         = stderrors.New("agent requires a bus")
)

// Handler processes one request payload and returns the response payload.
type Handler func(ctx context.Context, payload map[string]any) (map[string]any, error)

// ReplyHook observes RESPONSE/ERROR envelopes that land in the mailbox
// rather than resolving a blocked request. Return true to consume the
// message.
type ReplyHook func(msg message.Message) bool

// RequestHook observes REQUESTs that have no registered handler. Return
// true to take ownership; otherwise the agent answers with an
// UNKNOWN_REQUEST_TYPE error.
type RequestHook func(msg message.Message) bool

// Config holds agent configuration.
type Config struct {
	// ID is the agent's bus identity. Required.
	ID string

	// Type categorizes the agent (e.g. "specialist", "orchestrator").
	Type string

	// Bus routes the agent's messages. Required.
	Bus *bus.Bus

	// Registry, when set, receives the agent's registration, capability
	// advertisements, and status changes.
	Registry registry.Registry

	// Logger for agent events. Nil disables logging.
	Logger *logging.Logger

	// Capabilities are advertised to the registry at start. The map key is
	// the request type the capability answers.
	Capabilities map[string]registry.Capability

	// Subscriptions are topics subscribed at start.
	Subscriptions []string

	// HeartbeatInterval is how often the agent broadcasts liveness.
	// Default: 5 seconds. Negative disables heartbeats.
	HeartbeatInterval time.Duration
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.ID == "" {
		return ErrMissingID
	}
	if c.Bus == nil {
		return ErrNilBus
	}
	return nil
}

// Agent is a single-goroutine actor consuming one mailbox.
type Agent struct {
	config  Config
	log     *logging.Logger
	mailbox *bus.Mailbox

	mu             sync.RWMutex
	handlers       map[string]Handler
	onReply        ReplyHook
	onUnhandled    RequestHook
	onNotification func(msg message.Message)
	paused         bool

	running      atomic.Bool
	commandStop  atomic.Bool
	messageCount atomic.Uint64
	cancel       context.CancelFunc
	doneCh       chan struct{}
	stopOnce     sync.Once
}

// New creates an agent. It does not touch the bus until Start.
func New(cfg Config) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}

	log := cfg.Logger
	if log == nil {
		log = logging.New()
		log.SetLevel(logging.LevelError)
	}

	return &Agent{
		config:   cfg,
		log:      log.WithComponent("agent").WithAgentID(cfg.ID),
		handlers: make(map[string]Handler),
	}, nil
}

// ID returns the agent's bus identity.
func (a *Agent) ID() string {
	return a.config.ID
}

// Handle registers a handler for a request type. Registering the same type
// again replaces the previous handler.
func (a *Agent) Handle(requestType string, h Handler) {
	a.mu.Lock()
	a.handlers[requestType] = h
	a.mu.Unlock()
}

// OnReply sets the hook for replies landing in the mailbox.
func (a *Agent) OnReply(hook ReplyHook) {
	a.mu.Lock()
	a.onReply = hook
	a.mu.Unlock()
}

// OnUnhandledRequest sets the hook for requests with no handler.
func (a *Agent) OnUnhandledRequest(hook RequestHook) {
	a.mu.Lock()
	a.onUnhandled = hook
	a.mu.Unlock()
}

// OnNotification sets the hook for NOTIFICATION and EMERGENCY envelopes.
func (a *Agent) OnNotification(fn func(msg message.Message)) {
	a.mu.Lock()
	a.onNotification = fn
	a.mu.Unlock()
}

// Start registers the agent on the bus and registry, subscribes its topics,
// and launches the actor loop.
func (a *Agent) Start(ctx context.Context) error {
	if a.running.Swap(true) {
		return ErrAlreadyStarted
	}
	a.commandStop.Store(false)

	mb, err := a.config.Bus.Register(a.config.ID)
	if err != nil {
		a.running.Store(false)
		return err
	}
	a.mailbox = mb

	for _, topic := range a.config.Subscriptions {
		if err := a.config.Bus.Subscribe(a.config.ID, topic); err != nil {
			a.config.Bus.Deregister(a.config.ID)
			a.running.Store(false)
			return err
		}
	}

	if a.config.Registry != nil {
		info := registry.AgentInfo{
			ID:           a.config.ID,
			Type:         a.config.Type,
			Status:       registry.StatusInitializing,
			Capabilities: a.config.Capabilities,
		}
		if err := a.config.Registry.Register(info); err != nil {
			a.config.Bus.Deregister(a.config.ID)
			a.running.Store(false)
			return err
		}
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, a.cancel = context.WithCancel(ctx)
	a.doneCh = make(chan struct{})

	go a.run(ctx)
	a.setRegistryStatus(registry.StatusRunning)
	a.log.AgentStarted(a.config.ID, a.config.Type)
	return nil
}

// Stop ends the actor loop and releases the agent's bus and registry
// entries. A loop that already ended via a stop command counts as success,
// so shutdown hooks do not fail on it; otherwise later calls report
// ErrNotStarted.
func (a *Agent) Stop() error {
	if !a.running.Swap(false) {
		if a.commandStop.Load() {
			<-a.doneCh
			a.teardown()
			return nil
		}
		return ErrNotStarted
	}
	a.cancel()
	<-a.doneCh
	a.teardown()
	return nil
}

// teardown releases external registrations after the loop has exited. It
// runs once whether the loop ended via Stop or a stop command.
func (a *Agent) teardown() {
	a.stopOnce.Do(func() {
		a.config.Bus.Deregister(a.config.ID)
		if a.config.Registry != nil {
			a.config.Registry.UpdateStatus(a.config.ID, registry.StatusStopped)
		}
		a.log.AgentStopped(a.config.ID, a.messageCount.Load())
	})
}

// run is the actor loop. It is the only goroutine touching agent state
// beyond the hook/handler tables.
func (a *Agent) run(ctx context.Context) {
	defer close(a.doneCh)

	var beatCh <-chan time.Time
	if a.config.HeartbeatInterval > 0 {
		ticker := time.NewTicker(a.config.HeartbeatInterval)
		defer ticker.Stop()
		beatCh = ticker.C
		a.sendBeat()
	}

	inbox := make(chan message.Message)
	go func() {
		defer close(inbox)
		for {
			msg, err := a.mailbox.Receive(ctx)
			if err != nil {
				return
			}
			select {
			case inbox <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-beatCh:
			a.sendBeat()
		case msg, ok := <-inbox:
			if !ok {
				return
			}
			if stop := a.dispatch(ctx, msg); stop {
				// Flag the command stop before clearing running so a
				// concurrent Stop never misreads the agent as unstarted.
				a.commandStop.Store(true)
				a.running.Store(false)
				go func() {
					a.cancel()
					a.teardown()
				}()
				return
			}
		}
	}
}

// dispatch routes one envelope. Every dispatch also refreshes registry
// liveness so a busy agent never reads as stale between periodic beats.
// Returns true when a stop command was processed.
func (a *Agent) dispatch(ctx context.Context, msg message.Message) bool {
	a.messageCount.Add(1)
	if a.config.Registry != nil {
		a.config.Registry.Heartbeat(a.config.ID, a.Load(), a.messageCount.Load())
	}

	switch msg.Type {
	case message.TypeRequest:
		a.handleRequest(ctx, msg)
	case message.TypeCommand:
		return a.handleCommand(msg)
	case message.TypeResponse, message.TypeError:
		a.handleReply(msg)
	case message.TypeNotification, message.TypeEmergency:
		a.mu.RLock()
		fn := a.onNotification
		a.mu.RUnlock()
		if fn != nil {
			fn(msg)
		}
	case message.TypeHeartbeat:
		// Agents do not consume heartbeats; see the heartbeat monitor.
	}
	return false
}

// handleRequest dispatches through the handler table and publishes the
// reply. A request without a correlation ID is fire-and-forget: the handler
// runs but no reply is sent.
func (a *Agent) handleRequest(ctx context.Context, msg message.Message) {
	a.mu.RLock()
	paused := a.paused
	handler, known := a.handlers[msg.RequestType()]
	unhandled := a.onUnhandled
	a.mu.RUnlock()

	if paused {
		reason := errors.New(errors.CodeAgentStopped, "agent paused",
			errors.WithCategory(errors.CategoryTransient),
			errors.WithRetryable(true),
			errors.WithAgentID(a.config.ID),
			errors.WithCorrelationID(msg.CorrelationID))
		a.reply(message.ErrorResponse(msg, a.config.ID, reason.Error(), reason.Diagnostic()))
		return
	}

	if !known {
		if unhandled != nil && unhandled(msg) {
			return
		}
		reason := errors.UnknownRequestType(msg.RequestType(),
			errors.WithAgentID(a.config.ID),
			errors.WithCorrelationID(msg.CorrelationID))
		a.reply(message.ErrorResponse(msg, a.config.ID, reason.Error(), reason.Diagnostic()))
		return
	}

	result, err := a.invoke(ctx, handler, msg.Payload)
	if err != nil {
		a.log.HandlerFailed(msg.RequestType(), msg.CorrelationID, err)
		var reason *errors.Error
		if stderrors.As(err, &reason) {
			reason = errors.Wrap(err, "handler failed",
				errors.WithAgentID(a.config.ID),
				errors.WithCorrelationID(msg.CorrelationID))
		} else {
			reason = errors.HandlerFailure(err.Error(),
				errors.WithCause(err),
				errors.WithMetadata("request_type", msg.RequestType()),
				errors.WithAgentID(a.config.ID),
				errors.WithCorrelationID(msg.CorrelationID))
		}
		a.reply(message.ErrorResponse(msg, a.config.ID, reason.Error(), reason.Diagnostic()))
		return
	}

	a.reply(message.Response(msg, a.config.ID, result))
}

// invoke runs a handler with panic isolation.
func (a *Agent) invoke(ctx context.Context, h Handler, payload map[string]any) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.RecoverPanic(r)
		}
	}()
	return h(ctx, payload)
}

// reply publishes a reply unless the request was fire-and-forget.
func (a *Agent) reply(msg message.Message) {
	if msg.CorrelationID == "" {
		return
	}
	if err := a.config.Bus.Publish(msg); err != nil {
		a.log.Warn("reply_publish_failed", map[string]any{"error": err.Error()})
	}
}

// handleCommand processes lifecycle commands. Unknown commands are ignored
// beyond a log line.
func (a *Agent) handleCommand(msg message.Message) bool {
	command, _ := msg.Payload["command"].(string)
	switch command {
	case "pause":
		a.setPaused(true)
		a.setRegistryStatus(registry.StatusPaused)
		a.ackCommand(msg, command)
	case "resume":
		a.setPaused(false)
		a.setRegistryStatus(registry.StatusRunning)
		a.ackCommand(msg, command)
	case "stop":
		a.ackCommand(msg, command)
		return true
	default:
		a.log.Warn("unknown_command", map[string]any{"command": command, "sender": msg.SenderID})
	}
	return false
}

// ackCommand confirms a lifecycle command when the sender asked for one.
func (a *Agent) ackCommand(msg message.Message, command string) {
	if msg.CorrelationID == "" {
		return
	}
	a.reply(message.Response(msg, a.config.ID, map[string]any{"command": command, "ok": true}))
}

// handleReply forwards replies to the hook, or drops them.
func (a *Agent) handleReply(msg message.Message) {
	a.mu.RLock()
	hook := a.onReply
	a.mu.RUnlock()

	if hook != nil && hook(msg) {
		return
	}
	a.log.OrphanDropped(msg.CorrelationID, msg.SenderID)
}

// setPaused flips the pause flag.
func (a *Agent) setPaused(paused bool) {
	a.mu.Lock()
	a.paused = paused
	a.mu.Unlock()
}

// setRegistryStatus mirrors a status change into the registry.
func (a *Agent) setRegistryStatus(status registry.Status) {
	if a.config.Registry != nil {
		a.config.Registry.UpdateStatus(a.config.ID, status)
	}
}

// Paused reports whether the agent is parked.
func (a *Agent) Paused() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.paused
}

// Load returns mailbox utilization between 0.0 and 1.0.
func (a *Agent) Load() float64 {
	if a.mailbox == nil || a.mailbox.Cap() == 0 {
		return 0
	}
	return float64(a.mailbox.Len()) / float64(a.mailbox.Cap())
}

// MessageCount returns the number of envelopes processed.
func (a *Agent) MessageCount() uint64 {
	return a.messageCount.Load()
}

// sendBeat broadcasts liveness and mirrors load into the registry.
func (a *Agent) sendBeat() {
	status := string(registry.StatusRunning)
	if a.Paused() {
		status = string(registry.StatusPaused)
	}
	beat := heartbeat.Beat{
		AgentID:      a.config.ID,
		Status:       status,
		Load:         a.Load(),
		MessageCount: a.messageCount.Load(),
		Timestamp:    time.Now(),
	}

	msg := message.New(a.config.ID, heartbeat.TopicPattern, message.TypeHeartbeat, beat.Payload())
	if err := a.config.Bus.Publish(msg); err != nil {
		a.log.Warn("heartbeat_publish_failed", map[string]any{"error": err.Error()})
	}
	if a.config.Registry != nil {
		a.config.Registry.Heartbeat(a.config.ID, beat.Load, beat.MessageCount)
	}
}
