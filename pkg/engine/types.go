package engine

import (
	"encoding/json"
	"time"
)

// OutputValue is a single stack output.
type OutputValue struct {
	// Value is the decoded JSON value of the output.
	Value interface{} `json:"value"`

	// Secret marks outputs the engine masks unless secrets are shown.
	Secret bool `json:"secret"`
}

// OutputMap maps output names to values. It is never nil on a successful read.
type OutputMap map[string]OutputValue

// SecretSentinel is the placeholder the engine prints for masked secret outputs.
const SecretSentinel = "[secret]"

// ConfigEntry is a config value as recorded in an update summary.
type ConfigEntry struct {
	Value  string `json:"value"`
	Secret bool   `json:"secret"`
}

// UpdateSummary describes one entry of a stack's update history.
type UpdateSummary struct {
	// Version is the monotonically increasing update number.
	Version int `json:"version"`

	// Kind is the operation kind that produced this entry.
	Kind OperationKind `json:"kind"`

	// StartTime is when the update started, as reported by the engine.
	StartTime string `json:"startTime"`

	// EndTime is when the update finished, if it has.
	EndTime *string `json:"endTime,omitempty"`

	// Message is the optional user-supplied update message.
	Message string `json:"message"`

	// Environment carries engine-recorded metadata such as exec kind.
	Environment map[string]string `json:"environment,omitempty"`

	// Config is the stack configuration in effect for the update.
	Config map[string]ConfigEntry `json:"config,omitempty"`

	// Result is the final status of the update.
	Result UpdateStatus `json:"result,omitempty"`

	// ResourceChanges counts resources per step kind (same, create, ...).
	ResourceChanges *map[string]int `json:"resourceChanges,omitempty"`
}

// Changes returns the resource change counts, never nil.
func (s UpdateSummary) Changes() map[string]int {
	if s.ResourceChanges == nil {
		return map[string]int{}
	}
	return *s.ResourceChanges
}

// StackSummary is one entry of the engine's stack listing.
type StackSummary struct {
	// Name is the stack name as the backend reports it.
	Name string `json:"name"`

	// Current is true for the workspace's selected stack.
	Current bool `json:"current"`

	// LastUpdate is the time of the last update, if any.
	LastUpdate string `json:"lastUpdate,omitempty"`

	// UpdateInProgress is true when an operation holds the stack lock.
	UpdateInProgress bool `json:"updateInProgress"`

	// ResourceCount is the number of resources, when known.
	ResourceCount *int `json:"resourceCount,omitempty"`

	// URL links to the stack in the backend, when available.
	URL string `json:"url,omitempty"`
}

// PluginInfo describes an installed engine plugin.
type PluginInfo struct {
	Name         string    `json:"name"`
	Path         string    `json:"path,omitempty"`
	Kind         string    `json:"kind"`
	Version      string    `json:"version,omitempty"`
	Size         int64     `json:"size"`
	InstallTime  time.Time `json:"installTime"`
	LastUsedTime time.Time `json:"lastUsedTime"`
	ServerURL    string    `json:"serverURL,omitempty"`
}

// WhoAmIResult identifies the backend user the engine is logged in as.
type WhoAmIResult struct {
	User          string   `json:"user"`
	Organizations []string `json:"organizations,omitempty"`
	URL           string   `json:"url"`
}

// Deployment is an exported stack state blob. The payload is opaque and is
// passed back to the engine unchanged on import.
type Deployment struct {
	// Version is the deployment schema version.
	Version int `json:"version"`

	// Deployment is the raw deployment document.
	Deployment json.RawMessage `json:"deployment"`
}
