// Package proto defines the message types exchanged between the gateway,
// router, skills, and background agents.
package proto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Message is an inbound request unit. Created by the gateway, passed by value
// into the router, immutable thereafter.
type Message struct {
	ID        string            `json:"id"`
	Text      string            `json:"text"`
	UserID    string            `json:"user_id,omitempty"`
	ChatID    string            `json:"chat_id,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// NewMessage creates a message with a fresh id and the current UTC timestamp.
func NewMessage(text, userID, chatID string) Message {
	return Message{
		ID:        uuid.New().String(),
		Text:      text,
		UserID:    userID,
		ChatID:    chatID,
		Timestamp: time.Now().UTC(),
	}
}

// RoutingDecision is the router's verdict for a message. The router never
// returns "no decision": low-confidence inputs route to the general skill.
type RoutingDecision struct {
	Skill      string            `json:"skill"`
	Confidence float64           `json:"confidence"`
	Params     map[string]string `json:"params,omitempty"`
	Fallback   string            `json:"fallback,omitempty"`
	Reasoning  string            `json:"reasoning"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Severity grades an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Alert is a broadcast event published to the alert collection. Publishing
// never blocks the producer.
type Alert struct {
	Kind      string         `json:"kind"`
	Payload   map[string]any `json:"payload,omitempty"`
	Severity  Severity       `json:"severity"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewAlert creates an alert stamped with the current UTC time.
func NewAlert(kind string, severity Severity, payload map[string]any) Alert {
	return Alert{
		Kind:      kind,
		Payload:   payload,
		Severity:  severity,
		Timestamp: time.Now().UTC(),
	}
}

// Well-known alert kinds emitted by the runtime.
const (
	AlertAgentError       = "agent_error"
	AlertScheduleLag      = "schedule_lag"
	AlertReportError      = "report_error"
	AlertStateLoadError   = "state_load_error"
	AlertStateVersion     = "unsupported_state_version"
	AlertForceKilled      = "force_killed"
	AlertEndpointCooldown = "endpoint_cooldown"
)

// Status values for the gateway response envelope.
type Status string

const (
	StatusOK          Status = "ok"
	StatusError       Status = "error"
	StatusRateLimited Status = "rate_limited"
	StatusBlocked     Status = "blocked"
)

// Diagnostics carries routing metadata alongside a response body.
type Diagnostics struct {
	Skill      string  `json:"skill,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Reasoning  string  `json:"reasoning,omitempty"`
	LatencyMS  int64   `json:"latency_ms"`
	ErrorKind  string  `json:"error_kind,omitempty"`
	Component  string  `json:"component,omitempty"`
}

// Envelope is the structured response returned to the gateway. Error bodies
// are one-line messages; stack traces and secrets never appear here.
type Envelope struct {
	Status      Status      `json:"status"`
	Body        string      `json:"body"`
	Diagnostics Diagnostics `json:"diagnostics"`
}

// ToJSON serialises the envelope for transport or logging.
func (e *Envelope) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// AgentState is the lifecycle state of a supervised agent.
type AgentState string

const (
	StateStopped  AgentState = "STOPPED"
	StateStarting AgentState = "STARTING"
	StateRunning  AgentState = "RUNNING"
	StatePaused   AgentState = "PAUSED"
	StateError    AgentState = "ERROR"
	StateStopping AgentState = "STOPPING"
)

// StateChangeNotification reports an agent lifecycle transition to the supervisor.
type StateChangeNotification struct {
	AgentName string     `json:"agent_name"`
	FromState AgentState `json:"from_state"`
	ToState   AgentState `json:"to_state"`
	Err       string     `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}
