// Package events decodes the engine's newline-delimited JSON event stream and
// follows the event log file while an operation runs.
package events

import "github.com/openfroyo/autostack/pkg/engine"

// EngineEvent is one record of the engine event stream. Exactly one of the
// variant pointers is non-nil for every event the decoder yields.
type EngineEvent struct {
	// Sequence is the engine-assigned ordinal of the event.
	Sequence int `json:"sequence"`

	// Timestamp is the emission time in Unix seconds.
	Timestamp int64 `json:"timestamp"`

	CancelEvent      *CancelEvent      `json:"cancelEvent,omitempty"`
	StdoutEvent      *StdoutEvent      `json:"stdoutEvent,omitempty"`
	DiagnosticEvent  *DiagnosticEvent  `json:"diagnosticEvent,omitempty"`
	PreludeEvent     *PreludeEvent     `json:"preludeEvent,omitempty"`
	SummaryEvent     *SummaryEvent     `json:"summaryEvent,omitempty"`
	ResourcePreEvent *ResourcePreEvent `json:"resourcePreEvent,omitempty"`
	ResOutputsEvent  *ResOutputsEvent  `json:"resOutputsEvent,omitempty"`
	ResOpFailedEvent *ResOpFailedEvent `json:"resOpFailedEvent,omitempty"`
	PolicyEvent      *PolicyEvent      `json:"policyEvent,omitempty"`
}

// Variant names as they appear on the wire.
const (
	TypeCancel      = "cancelEvent"
	TypeStdout      = "stdoutEvent"
	TypeDiagnostic  = "diagnosticEvent"
	TypePrelude     = "preludeEvent"
	TypeSummary     = "summaryEvent"
	TypeResourcePre = "resourcePreEvent"
	TypeResOutputs  = "resOutputsEvent"
	TypeResOpFailed = "resOpFailedEvent"
	TypePolicy      = "policyEvent"
)

// Type returns the wire name of the populated variant.
func (e EngineEvent) Type() string {
	types := e.populated()
	if len(types) != 1 {
		return ""
	}
	return types[0]
}

func (e EngineEvent) populated() []string {
	var types []string
	if e.CancelEvent != nil {
		types = append(types, TypeCancel)
	}
	if e.StdoutEvent != nil {
		types = append(types, TypeStdout)
	}
	if e.DiagnosticEvent != nil {
		types = append(types, TypeDiagnostic)
	}
	if e.PreludeEvent != nil {
		types = append(types, TypePrelude)
	}
	if e.SummaryEvent != nil {
		types = append(types, TypeSummary)
	}
	if e.ResourcePreEvent != nil {
		types = append(types, TypeResourcePre)
	}
	if e.ResOutputsEvent != nil {
		types = append(types, TypeResOutputs)
	}
	if e.ResOpFailedEvent != nil {
		types = append(types, TypeResOpFailed)
	}
	if e.PolicyEvent != nil {
		types = append(types, TypePolicy)
	}
	return types
}

// CancelEvent signals that the engine is shutting down the stream.
type CancelEvent struct{}

// StdoutEvent carries text the engine printed.
type StdoutEvent struct {
	Message string `json:"message"`
	Color   string `json:"color"`
}

// Severity is the level of a diagnostic.
type Severity string

const (
	SeverityDebug   Severity = "debug"
	SeverityInfo    Severity = "info"
	SeverityInfoErr Severity = "info#err"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// DiagnosticEvent is a log message, optionally tied to a resource.
type DiagnosticEvent struct {
	URN       string   `json:"urn,omitempty"`
	Prefix    string   `json:"prefix,omitempty"`
	Message   string   `json:"message"`
	Color     string   `json:"color"`
	Severity  Severity `json:"severity"`
	StreamID  int      `json:"streamID,omitempty"`
	Ephemeral bool     `json:"ephemeral,omitempty"`
}

// PreludeEvent is emitted before any resource step and echoes the config.
type PreludeEvent struct {
	Config map[string]string `json:"config"`
}

// SummaryEvent closes an operation with per-step resource counts.
type SummaryEvent struct {
	// MaybeCorrupt is set when the engine could not save state cleanly.
	MaybeCorrupt bool `json:"maybeCorrupt"`

	// DurationSeconds is the wall time of the operation.
	DurationSeconds int `json:"durationSeconds"`

	// ResourceChanges counts resources per step kind.
	ResourceChanges map[engine.OpType]int `json:"resourceChanges"`

	// PolicyPacks maps policy pack names to versions that ran.
	PolicyPacks map[string]string `json:"policyPacks,omitempty"`
}

// StepEventStateMetadata is the state of a resource before or after a step.
type StepEventStateMetadata struct {
	Type       string                 `json:"type"`
	URN        string                 `json:"urn"`
	Custom     bool                   `json:"custom,omitempty"`
	Delete     bool                   `json:"delete,omitempty"`
	ID         string                 `json:"id"`
	Parent     string                 `json:"parent"`
	Protect    bool                   `json:"protect,omitempty"`
	Inputs     map[string]interface{} `json:"inputs"`
	Outputs    map[string]interface{} `json:"outputs"`
	Provider   string                 `json:"provider"`
	InitErrors []string               `json:"initErrors,omitempty"`
}

// PropertyDiff describes how one property changed.
type PropertyDiff struct {
	Kind      string `json:"kind"`
	InputDiff bool   `json:"inputDiff"`
}

// StepEventMetadata describes a resource step.
type StepEventMetadata struct {
	Op           engine.OpType           `json:"op"`
	URN          string                  `json:"urn"`
	Type         string                  `json:"type"`
	Old          *StepEventStateMetadata `json:"old"`
	New          *StepEventStateMetadata `json:"new"`
	Keys         []string                `json:"keys,omitempty"`
	Diffs        []string                `json:"diffs,omitempty"`
	DetailedDiff map[string]PropertyDiff `json:"detailedDiff,omitempty"`
	Logical      bool                    `json:"logical,omitempty"`
	Provider     string                  `json:"provider"`
}

// ResourcePreEvent is emitted before a resource step runs.
type ResourcePreEvent struct {
	Metadata StepEventMetadata `json:"metadata"`
	Planning bool              `json:"planning,omitempty"`
}

// ResOutputsEvent is emitted after a resource step completes.
type ResOutputsEvent struct {
	Metadata StepEventMetadata `json:"metadata"`
	Planning bool              `json:"planning,omitempty"`
}

// ResOpFailedEvent is emitted when a resource step fails.
type ResOpFailedEvent struct {
	Metadata StepEventMetadata `json:"metadata"`
	Status   int               `json:"status"`
	Steps    int               `json:"steps"`
}

// PolicyEvent reports a policy violation found during the operation.
type PolicyEvent struct {
	ResourceURN          string `json:"resourceUrn,omitempty"`
	Message              string `json:"message"`
	Color                string `json:"color"`
	PolicyName           string `json:"policyName"`
	PolicyPackName       string `json:"policyPackName"`
	PolicyPackVersion    string `json:"policyPackVersion"`
	PolicyPackVersionTag string `json:"policyPackVersionTag"`
	EnforcementLevel     string `json:"enforcementLevel"`
}
