package events

import (
	"time"

	"github.com/funnyzak/reportsync/pkg/request"
)

// Kind names an event on the capture and replay pipeline.
type Kind string

const (
	KindCapture       Kind = "capture"
	KindBatchStart    Kind = "batch-start"
	KindResult        Kind = "result"
	KindBatchComplete Kind = "batch-complete"
)

// Event is the envelope published to presentation collaborators.
type Event struct {
	Kind      Kind                     `json:"type"`
	Timestamp time.Time                `json:"timestamp"`
	RunID     string                   `json:"run_id,omitempty"`
	Capture   *request.CapturedRequest `json:"capture,omitempty"`
	Result    *request.ReplayResult    `json:"result,omitempty"`
	Batch     *Batch                   `json:"batch,omitempty"`
}

// Batch summarises a run for batch-start and batch-complete events.
type Batch struct {
	Action       request.ActionKind `json:"action"`
	Destinations []string           `json:"destinations,omitempty"`
	Total        int                `json:"total"`
	Succeeded    int                `json:"succeeded"`
	Failed       int                `json:"failed"`
	Cancelled    bool               `json:"cancelled,omitempty"`
	Error        string             `json:"error,omitempty"`
}

// CaptureEvent wraps a newly captured request.
func CaptureEvent(c *request.CapturedRequest) Event {
	return Event{Kind: KindCapture, Timestamp: time.Now(), Capture: c}
}

// ResultEvent wraps a replay result.
func ResultEvent(runID string, r *request.ReplayResult) Event {
	return Event{Kind: KindResult, Timestamp: time.Now(), RunID: runID, Result: r}
}

// BatchStartEvent announces a run.
func BatchStartEvent(runID string, b Batch) Event {
	return Event{Kind: KindBatchStart, Timestamp: time.Now(), RunID: runID, Batch: &b}
}

// BatchCompleteEvent closes a run.
func BatchCompleteEvent(runID string, b Batch) Event {
	return Event{Kind: KindBatchComplete, Timestamp: time.Now(), RunID: runID, Batch: &b}
}
