// Package logging provides real-time log output for the actorbus runtime.
// Output is key=value text for monitoring; the runtime itself never makes
// decisions based on log content.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// ParseLevel converts a string to a Level, defaulting to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger provides structured logging to stdout.
type Logger struct {
	mu        sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
	agentID   string
}

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// New creates a new Logger.
func New() *Logger {
	return &Logger{
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
		agentID:   l.agentID,
	}
}

// WithAgentID returns a new logger tagged with an agent ID.
func (l *Logger) WithAgentID(agentID string) *Logger {
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: l.component,
		agentID:   agentID,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]any) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]any) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]any) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]any) {
	l.log(LevelError, msg, fields...)
}

// formatFields formats a map of fields as key=value pairs.
func formatFields(fields map[string]any) string {
	if len(fields) == 0 {
		return ""
	}
	var parts []string
	for k, v := range fields {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return " " + strings.Join(parts, " ")
}

// log writes a log entry: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]any) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}
	if l.agentID != "" {
		fieldStr = " agent=" + l.agentID + fieldStr
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write([]byte(line))
}

// --- Runtime event helpers ---
// Thin wrappers so bus/agent/orchestrator code logs consistent field names.

// Published logs a delivered publish.
func (l *Logger) Published(msgID, sender, recipient string, typ string) {
	l.Debug("message_published", map[string]any{
		"msg_id":    msgID,
		"sender":    sender,
		"recipient": recipient,
		"type":      typ,
	})
}

// UnknownRecipient logs a publish to an unregistered recipient.
func (l *Logger) UnknownRecipient(recipient, sender string) {
	l.Warn("unknown_recipient", map[string]any{
		"recipient": recipient,
		"sender":    sender,
	})
}

// OrphanDropped logs a reply with no live pending request.
func (l *Logger) OrphanDropped(correlationID, sender string) {
	l.Warn("orphan_dropped", map[string]any{
		"correlation_id": correlationID,
		"sender":         sender,
	})
}

// RequestTimeout logs a request that hit its deadline.
func (l *Logger) RequestTimeout(correlationID, recipient string, timeout time.Duration) {
	l.Warn("request_timeout", map[string]any{
		"correlation_id": correlationID,
		"recipient":      recipient,
		"timeout":        timeout.String(),
	})
}

// HandlerFailed logs a handler error converted to an ERROR reply.
func (l *Logger) HandlerFailed(requestType, correlationID string, err error) {
	l.Error("handler_failed", map[string]any{
		"request_type":   requestType,
		"correlation_id": correlationID,
		"error":          err.Error(),
	})
}

// DelegationForwarded logs a request forwarded to a specialist.
func (l *Logger) DelegationForwarded(requestType, specialist, correlationID string) {
	l.Debug("delegation_forwarded", map[string]any{
		"request_type":   requestType,
		"specialist":     specialist,
		"correlation_id": correlationID,
	})
}

// DelegationResolved logs a delegated reply relayed to the original caller.
func (l *Logger) DelegationResolved(correlationID, caller string) {
	l.Debug("delegation_resolved", map[string]any{
		"correlation_id": correlationID,
		"caller":         caller,
	})
}

// DelegationExpired logs a delegation that hit its deadline.
func (l *Logger) DelegationExpired(correlationID, specialist string) {
	l.Warn("delegation_expired", map[string]any{
		"correlation_id": correlationID,
		"specialist":     specialist,
	})
}

// AgentStarted logs an agent entering its run loop.
func (l *Logger) AgentStarted(agentID, agentType string) {
	l.Info("agent_started", map[string]any{
		"agent_id":   agentID,
		"agent_type": agentType,
	})
}

// AgentStopped logs an agent leaving its run loop.
func (l *Logger) AgentStopped(agentID string, processed uint64) {
	l.Info("agent_stopped", map[string]any{
		"agent_id":  agentID,
		"processed": processed,
	})
}

// AgentUnhealthy logs an agent flagged by the heartbeat monitor.
func (l *Logger) AgentUnhealthy(agentID string, staleness time.Duration) {
	l.Warn("agent_unhealthy", map[string]any{
		"agent_id":  agentID,
		"staleness": staleness.String(),
	})
}
