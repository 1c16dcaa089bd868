package bus

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/meshworks/actorbus/errors"
	"github.com/meshworks/actorbus/logging"
	"github.com/meshworks/actorbus/message"
)

// Common errors.
var (
	ErrClosed         = stderrors.New("bus closed")
	ErrDuplicateAgent = stderrors.New("agent already registered")
	ErrNotRegistered  = stderrors.New("agent not registered")
	ErrMailboxClosed  = stderrors.New("mailbox closed")
	ErrMailboxFull    = stderrors.New("mailbox full")
	ErrInvalidTopic   = stderrors.New("invalid topic")
)

// BusID is the sender ID the bus uses on envelopes it synthesizes itself
// (unknown recipient errors, timeout errors).
const BusID = "bus"

// Config holds bus configuration.
type Config struct {
	// MailboxSize is the per-agent mailbox capacity.
	// Default: 256
	MailboxSize int

	// RequestTimeout is the default deadline for RequestAndWait when the
	// caller passes zero.
	// Default: 30 seconds
	RequestTimeout time.Duration
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MailboxSize:    256,
		RequestTimeout: 30 * time.Second,
	}
}

// Stats is a snapshot of bus counters.
type Stats struct {
	Published         uint64
	Delivered         uint64
	Broadcasts        uint64
	Orphans           uint64
	UnknownRecipients uint64
	Timeouts          uint64
}

// Bus routes messages between registered agents. It exclusively owns the
// mailbox registry, the topic subscription table, and the pending request
// correlation table. Construct one per process (or per test) and inject it;
// there is no process-wide instance.
type Bus struct {
	config Config
	log    *logging.Logger

	mu        sync.RWMutex
	mailboxes map[string]*Mailbox
	topics    map[string]map[string]struct{} // agentID -> subscribed topics
	pending   map[string]*pendingRequest
	closed    bool

	published         atomic.Uint64
	delivered         atomic.Uint64
	broadcasts        atomic.Uint64
	orphans           atomic.Uint64
	unknownRecipients atomic.Uint64
	timeouts          atomic.Uint64
}

// New creates a bus. A nil logger disables logging output.
func New(cfg Config, log *logging.Logger) *Bus {
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = DefaultConfig().MailboxSize
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	if log == nil {
		log = logging.New()
		log.SetLevel(logging.LevelError)
	}

	return &Bus{
		config:    cfg,
		log:       log.WithComponent("bus"),
		mailboxes: make(map[string]*Mailbox),
		topics:    make(map[string]map[string]struct{}),
		pending:   make(map[string]*pendingRequest),
	}
}

// Register creates a mailbox for an agent and adds it to the routing table.
func (b *Bus) Register(agentID string) (*Mailbox, error) {
	if agentID == "" {
		return nil, ErrNotRegistered
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if _, exists := b.mailboxes[agentID]; exists {
		return nil, ErrDuplicateAgent
	}

	mb := newMailbox(b.config.MailboxSize)
	b.mailboxes[agentID] = mb
	return mb, nil
}

// Deregister removes an agent's mailbox and topic subscriptions. Future
// publishes to the agent surface as UnknownRecipient errors to the sender.
func (b *Bus) Deregister(agentID string) error {
	b.mu.Lock()
	mb, exists := b.mailboxes[agentID]
	if exists {
		delete(b.mailboxes, agentID)
		delete(b.topics, agentID)
	}
	b.mu.Unlock()

	if !exists {
		return ErrNotRegistered
	}
	mb.Close()
	return nil
}

// Registered reports whether an agent currently has a mailbox.
func (b *Bus) Registered(agentID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.mailboxes[agentID]
	return ok
}

// Subscribe adds a topic subscription for a registered agent. The topic may
// be specific ("plugin.video") or a pattern ("plugin.*").
func (b *Bus) Subscribe(agentID, topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if _, ok := b.mailboxes[agentID]; !ok {
		return ErrNotRegistered
	}
	if b.topics[agentID] == nil {
		b.topics[agentID] = make(map[string]struct{})
	}
	b.topics[agentID][topic] = struct{}{}
	return nil
}

// Unsubscribe removes a topic subscription.
func (b *Bus) Unsubscribe(agentID, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.topics[agentID]; ok {
		delete(subs, topic)
	}
	return nil
}

// Publish routes a message. Resolution order: a RESPONSE/ERROR matching a
// live pending request resolves its waiter; a known recipient gets the
// message enqueued; a topic pattern (or an empty recipient, for
// notifications and heartbeats) fans out to the subscribers present at
// publish time; an unknown recipient synthesizes an ERROR back to the
// sender; an unmatched reply is an orphan, logged and dropped.
func (b *Bus) Publish(msg message.Message) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	if err := msg.Validate(); err != nil {
		return errors.WrapWithCode(err, errors.CodeInvalidMessage, "publish rejected")
	}

	b.published.Add(1)

	// Correlated replies resolve the waiter without touching mailboxes.
	if msg.Type.IsReply() && msg.CorrelationID != "" {
		if b.resolvePending(msg) {
			return nil
		}
	}

	// An empty recipient only validates for notifications and heartbeats;
	// it is the widest broadcast, reaching every subscriber.
	if msg.RecipientID == "" || IsPattern(msg.RecipientID) {
		b.broadcast(msg)
		return nil
	}

	b.mu.RLock()
	mb, known := b.mailboxes[msg.RecipientID]
	b.mu.RUnlock()

	if known {
		if err := mb.Enqueue(msg); err != nil {
			return errors.WrapWithCode(err, errors.CodeMailboxFull, "enqueue failed",
				errors.WithMetadata("recipient_id", msg.RecipientID))
		}
		b.delivered.Add(1)
		b.log.Published(msg.ID, msg.SenderID, msg.RecipientID, string(msg.Type))
		return nil
	}

	// Replies to recipients that are gone (or never existed) are orphans.
	if msg.Type.IsReply() {
		b.dropOrphan(msg)
		return nil
	}

	b.unknownRecipient(msg)
	return nil
}

// resolvePending removes the pending entry for a reply and hands the reply
// to the waiter. Returns false when no live entry matches.
func (b *Bus) resolvePending(msg message.Message) bool {
	b.mu.Lock()
	p, ok := b.pending[msg.CorrelationID]
	if ok {
		delete(b.pending, msg.CorrelationID)
	}
	b.mu.Unlock()

	if !ok {
		return false
	}

	if msg.Type == message.TypeError {
		p.setState(StateErrored)
	} else {
		p.setState(StateResolved)
	}
	p.replyCh <- msg
	b.delivered.Add(1)
	return true
}

// broadcast enqueues into every mailbox whose subscriptions match the
// pattern; an empty recipient matches all of them. The subscriber set is
// snapshotted under the lock, so agents subscribing afterward do not
// receive this message.
func (b *Bus) broadcast(msg message.Message) {
	b.mu.RLock()
	var targets []*Mailbox
	for agentID, topics := range b.topics {
		for topic := range topics {
			if msg.RecipientID == "" || PatternMatches(msg.RecipientID, topic) {
				if mb, ok := b.mailboxes[agentID]; ok {
					targets = append(targets, mb)
				}
				break
			}
		}
	}
	b.mu.RUnlock()

	b.broadcasts.Add(1)
	for _, mb := range targets {
		if err := mb.Enqueue(msg); err != nil {
			b.log.Warn("broadcast_drop", map[string]any{
				"pattern": msg.RecipientID,
				"error":   err.Error(),
			})
			continue
		}
		b.delivered.Add(1)
	}
}

// unknownRecipient synthesizes an ERROR back to the sender. The error reply
// carries the original correlation ID, so a blocked RequestAndWait caller is
// resolved immediately instead of waiting out its deadline.
func (b *Bus) unknownRecipient(msg message.Message) {
	b.unknownRecipients.Add(1)
	b.log.UnknownRecipient(msg.RecipientID, msg.SenderID)

	reason := errors.UnknownRecipient(msg.RecipientID, errors.WithCorrelationID(msg.CorrelationID))
	errMsg := message.ErrorResponse(msg, BusID, reason.Error(), reason.Diagnostic())

	if errMsg.CorrelationID != "" && b.resolvePending(errMsg) {
		return
	}

	b.mu.RLock()
	mb, ok := b.mailboxes[msg.SenderID]
	b.mu.RUnlock()
	if !ok {
		// Nowhere to surface the failure; the log line is all there is.
		return
	}
	if err := mb.Enqueue(errMsg); err != nil {
		b.log.Warn("error_reply_drop", map[string]any{"sender": msg.SenderID, "error": err.Error()})
	}
}

// dropOrphan logs and discards a reply with no live pending entry.
func (b *Bus) dropOrphan(msg message.Message) {
	b.orphans.Add(1)
	b.log.OrphanDropped(msg.CorrelationID, msg.SenderID)
}

// RequestAndWait publishes a REQUEST with a fresh correlation ID and blocks
// until the correlated RESPONSE/ERROR arrives or the deadline elapses. An
// ERROR reply is returned along with a structured error rebuilt from its
// diagnostic payload. Timeout and cancellation detach only the local waiter;
// the recipient keeps running and its late reply is dropped as an orphan.
func (b *Bus) RequestAndWait(ctx context.Context, sender, recipient, requestType string, payload map[string]any, timeout time.Duration) (message.Message, error) {
	if timeout <= 0 {
		timeout = b.config.RequestTimeout
	}

	correlationID := uuid.NewString()
	p := newPendingRequest(correlationID, recipient, timeout)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return message.Message{}, ErrClosed
	}
	b.pending[correlationID] = p
	b.mu.Unlock()

	msg := message.NewRequest(sender, recipient, requestType, payload,
		message.WithCorrelationID(correlationID))

	p.setState(StateSent)
	if err := b.Publish(msg); err != nil {
		b.removePending(correlationID)
		return message.Message{}, err
	}
	p.setState(StateAwaitingResponse)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-p.replyCh:
		return b.finishRequest(p, reply)
	case <-timer.C:
		if reply, resolved := b.detachWaiter(p); resolved {
			return b.finishRequest(p, reply)
		}
		p.setState(StateTimedOut)
		b.timeouts.Add(1)
		b.log.RequestTimeout(correlationID, recipient, timeout)
		return message.Message{}, errors.Timeout("no reply before deadline",
			errors.WithCorrelationID(correlationID),
			errors.WithMetadata("recipient_id", recipient))
	case <-ctx.Done():
		if reply, resolved := b.detachWaiter(p); resolved {
			return b.finishRequest(p, reply)
		}
		p.setState(StateTimedOut)
		return message.Message{}, errors.Wrap(ctx.Err(), "request canceled",
			errors.WithCorrelationID(correlationID))
	}
}

// finishRequest converts an ERROR reply into a structured error.
func (b *Bus) finishRequest(p *pendingRequest, reply message.Message) (message.Message, error) {
	if reply.Type == message.TypeError {
		return reply, errors.FromDiagnostic(reply.Payload)
	}
	return reply, nil
}

// detachWaiter removes the pending entry at timeout/cancellation. If the
// resolver won the race the buffered reply is drained and returned so the
// request still resolves exactly once.
func (b *Bus) detachWaiter(p *pendingRequest) (message.Message, bool) {
	b.mu.Lock()
	_, present := b.pending[p.correlationID]
	if present {
		delete(b.pending, p.correlationID)
	}
	b.mu.Unlock()

	if present {
		return message.Message{}, false
	}
	reply := <-p.replyCh
	return reply, true
}

// removePending deletes a pending entry without resolving it.
func (b *Bus) removePending(correlationID string) {
	b.mu.Lock()
	delete(b.pending, correlationID)
	b.mu.Unlock()
}

// PendingCount returns the number of live pending requests.
func (b *Bus) PendingCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.pending)
}

// Stats returns a snapshot of bus counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Published:         b.published.Load(),
		Delivered:         b.delivered.Load(),
		Broadcasts:        b.broadcasts.Load(),
		Orphans:           b.orphans.Load(),
		UnknownRecipients: b.unknownRecipients.Load(),
		Timeouts:          b.timeouts.Load(),
	}
}

// Close shuts down the bus: all mailboxes close and outstanding waiters are
// left to their deadlines.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	mailboxes := b.mailboxes
	b.mailboxes = make(map[string]*Mailbox)
	b.topics = make(map[string]map[string]struct{})
	b.mu.Unlock()

	for _, mb := range mailboxes {
		mb.Close()
	}
	return nil
}
