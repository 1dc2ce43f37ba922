package request

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ActionKind is the operation applied to the destination property.
type ActionKind string

const (
	ActionCreate ActionKind = "create"
	ActionUpdate ActionKind = "update"
	ActionDelete ActionKind = "delete"
)

// ParseAction normalizes a user supplied action name.
func ParseAction(s string) (ActionKind, error) {
	switch ActionKind(strings.ToLower(strings.TrimSpace(s))) {
	case ActionCreate:
		return ActionCreate, nil
	case ActionUpdate:
		return ActionUpdate, nil
	case ActionDelete:
		return ActionDelete, nil
	default:
		return "", fmt.Errorf("unknown action %q (want create, update or delete)", s)
	}
}

// RequiresExisting reports whether the action addresses an existing resource.
func (a ActionKind) RequiresExisting() bool {
	return a == ActionUpdate || a == ActionDelete
}

// FailureKind classifies why a replay did not succeed.
type FailureKind string

const (
	FailureNone       FailureKind = ""
	FailureDefinition FailureKind = "definition"
	FailurePayload    FailureKind = "payload"
	FailureTransport  FailureKind = "transport"
	FailureStatus     FailureKind = "status"
	FailureDecode     FailureKind = "decode"
	FailureCancelled  FailureKind = "cancelled"
)

// ReplayTask is one submission derived from a capture and a destination
type ReplayTask struct {
	Sequence              int              `json:"sequence"`
	TargetURL             string           `json:"target_url"`
	Method                string           `json:"method"`
	Payload               json.RawMessage  `json:"payload"`
	DestinationPropertyID string           `json:"destination_property_id"`
	TemplatePropertyID    string           `json:"template_property_id"`
	ExistingResourceID    string           `json:"existing_resource_id,omitempty"`
	Action                ActionKind       `json:"action"`
	ResourceKind          ResourceKind     `json:"resource_kind"`
	Capture               *CapturedRequest `json:"-"`
}

// ReplayResult is the immutable outcome of one replay task
type ReplayResult struct {
	RunID                 string       `json:"run_id"`
	Sequence              int          `json:"sequence"`
	Timestamp             time.Time    `json:"timestamp"`
	Action                ActionKind   `json:"action"`
	StatusCode            int          `json:"status_code"`
	ResourceKind          ResourceKind `json:"resource_kind"`
	ResourceName          string       `json:"resource_name"`
	DestinationPropertyID string       `json:"destination_property_id"`
	NewResourceID         string       `json:"new_resource_id"`
	OriginalResourceID    string       `json:"original_resource_id"`
	URL                   string       `json:"url,omitempty"`
	DurationMs            int64        `json:"duration_ms"`
	FailureKind           FailureKind  `json:"failure_kind,omitempty"`
	Error                 string       `json:"error,omitempty"`
}

// Succeeded reports whether the upstream accepted the submission.
func (r *ReplayResult) Succeeded() bool {
	return r != nil && r.FailureKind == FailureNone && r.StatusCode >= 200 && r.StatusCode < 300
}

// BatchCommand asks the orchestrator to replay the current selection.
type BatchCommand struct {
	Action             ActionKind     `json:"action"`
	Destinations       []string       `json:"destinations"`
	TemplatePropertyID string         `json:"template_property_id"`
	Mappings           []ReplayResult `json:"mappings,omitempty"`
}
