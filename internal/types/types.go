// Package types defines the core data structures shared between the
// transport, feature, pipeline, and storage layers.
package types

import "time"

// RawPayload is one decoded JSON object as it arrived off the wire, before
// any validation.
type RawPayload map[string]interface{}

// CanonicalSample is a validated, field-complete representation of one
// telemetry reading. DistanceCM is the measured distance to the water
// surface, so a smaller value means a higher water level. Immutable once
// constructed.
type CanonicalSample struct {
	Timestamp   time.Time `json:"timestamp"`
	DistanceCM  float64   `json:"distance_cm"`
	RainAnalog  int       `json:"rain_analog"`
	FloatStatus int       `json:"float_status"`
}

// FeatureVector maps engineered feature names to values. Derived on demand
// from the feature window, never persisted on its own.
type FeatureVector map[string]float64

// NormalizedPayload carries a canonical sample together with the soft
// validation issues found while constructing it. Errors mark the sample as
// unusable for inference; it remains storable. Warnings are informational.
type NormalizedPayload struct {
	Sample   CanonicalSample
	Errors   []string
	Warnings []string
}

// HasErrors reports whether the sample is unsafe for classification.
func (n NormalizedPayload) HasErrors() bool {
	return len(n.Errors) > 0
}

// ConnectionState describes where the transport manager is in its lifecycle.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateListening    ConnectionState = "listening"
	StateStopped      ConnectionState = "stopped"
)

// ConnectionStatus is a snapshot of the transport manager's externally
// observable state. Accessors always return a copy, never a live reference.
type ConnectionStatus struct {
	State           ConnectionState  `json:"state"`
	Connected       bool             `json:"connected"`
	Port            string           `json:"port,omitempty"`
	BaudRate        int              `json:"baud_rate"`
	LastLine        string           `json:"last_line,omitempty"`
	LastSample      *CanonicalSample `json:"last_sample,omitempty"`
	LastError       string           `json:"last_error,omitempty"`
	LastConnectedAt *time.Time       `json:"last_connected_at,omitempty"`
}

// PortInfo describes one candidate serial port.
type PortInfo struct {
	Device      string `json:"device"`
	Description string `json:"description"`
}

// Outcome sources.
const (
	SourceModel    = "model"
	SourceOverride = "float_override"
)

// DecisionOutcome is the result of one pipeline pass over a single ingested
// line. Constructed per line, handed to persistence, then discarded.
type DecisionOutcome struct {
	OutcomeID      string
	Sample         CanonicalSample
	RiskClass      *int
	Probability    *float64
	Explanation    *string
	InferenceError *string
	Source         string
	Warnings       []string
}
