package replay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/funnyzak/reportsync/internal/definitions"
	"github.com/funnyzak/reportsync/internal/events"
	"github.com/funnyzak/reportsync/internal/slots"
	"github.com/funnyzak/reportsync/internal/upstream"
	"github.com/funnyzak/reportsync/pkg/request"
)

// Execute runs one batch over the current selection, calling emit for every
// event in order: batch-start, one result per task, batch-complete.
// Per-task failures become failed results. The returned error is non-nil only
// when the batch could not be planned or another run is in progress.
func (o *Orchestrator) Execute(ctx context.Context, cmd request.BatchCommand, emit func(events.Event)) (*events.Batch, error) {
	if err := o.acquire(); err != nil {
		return nil, err
	}
	defer o.release()

	runID := uuid.NewString()
	tasks, err := o.plan(cmd, o.Selection())
	if err != nil {
		return nil, err
	}
	return o.execute(ctx, runID, cmd, tasks, emit), nil
}

// Run starts a batch in the background and streams its events. The channel
// is closed after batch-complete.
func (o *Orchestrator) Run(ctx context.Context, cmd request.BatchCommand) (string, <-chan events.Event, error) {
	if err := o.acquire(); err != nil {
		return "", nil, err
	}
	tasks, err := o.plan(cmd, o.Selection())
	if err != nil {
		o.release()
		return "", nil, err
	}

	runID := uuid.NewString()
	out := make(chan events.Event, o.opts.EventBuffer)
	go func() {
		release := sync.OnceFunc(o.release)
		defer close(out)
		defer release()
		o.execute(ctx, runID, cmd, tasks, func(ev events.Event) {
			if ev.Kind == events.KindBatchComplete {
				// the run is over whether or not anyone is still reading
				release()
				select {
				case out <- ev:
					return
				default:
				}
				select {
				case out <- ev:
				case <-ctx.Done():
				}
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
			}
		})
	}()
	return runID, out, nil
}

// Serve executes batch commands one at a time until the channel closes or ctx
// is cancelled. Events go to the configured publisher.
func (o *Orchestrator) Serve(ctx context.Context, commands <-chan request.BatchCommand) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd, ok := <-commands:
			if !ok {
				return nil
			}
			if _, err := o.Execute(ctx, cmd, nil); err != nil {
				o.logger.Warn("Batch rejected", "action", string(cmd.Action), "error", err)
			}
		}
	}
}

func (o *Orchestrator) execute(ctx context.Context, runID string, cmd request.BatchCommand, tasks []request.ReplayTask, emit func(events.Event)) *events.Batch {
	send := func(ev events.Event) {
		if emit != nil {
			emit(ev)
		}
		if o.opts.Publisher != nil {
			o.opts.Publisher.Publish(ev)
		}
	}

	batch := events.Batch{
		Action:       cmd.Action,
		Destinations: normalizeDestinations(cmd.Destinations),
		Total:        len(tasks),
	}
	o.logger.Info("Replay batch started", "run_id", runID, "action", string(cmd.Action), "tasks", len(tasks))
	send(events.BatchStartEvent(runID, batch))

	cache := definitions.NewCache(o.client, nil)
	for i := range tasks {
		if ctx.Err() != nil {
			batch.Cancelled = true
			break
		}
		result := o.runTask(ctx, runID, cache, &tasks[i])
		if result.Succeeded() {
			batch.Succeeded++
		} else {
			batch.Failed++
		}
		send(events.ResultEvent(runID, result))
		if result.FailureKind == request.FailureCancelled {
			batch.Cancelled = true
			break
		}
	}

	o.logger.Info("Replay batch complete",
		"run_id", runID,
		"succeeded", batch.Succeeded,
		"failed", batch.Failed,
		"cancelled", batch.Cancelled,
		"definition_fetches", cache.Fetches(),
	)
	send(events.BatchCompleteEvent(runID, batch))
	return &batch
}

// runTask resolves, remaps and submits one task. It never panics on upstream
// data and always returns a result.
func (o *Orchestrator) runTask(ctx context.Context, runID string, cache *definitions.Cache, task *request.ReplayTask) *request.ReplayResult {
	start := time.Now()
	result := &request.ReplayResult{
		RunID:                 runID,
		Sequence:              task.Sequence,
		Action:                task.Action,
		ResourceKind:          task.ResourceKind,
		DestinationPropertyID: task.DestinationPropertyID,
		URL:                   task.TargetURL,
	}
	if task.Capture != nil {
		result.ResourceName = task.Capture.DisplayName
		result.OriginalResourceID = task.Capture.OriginalResourceID
	}
	finish := func(kind request.FailureKind, err error) *request.ReplayResult {
		result.Timestamp = time.Now()
		result.DurationMs = time.Since(start).Milliseconds()
		result.FailureKind = kind
		if err != nil {
			result.Error = err.Error()
			o.logger.Warn("Replay task failed",
				"run_id", runID,
				"sequence", task.Sequence,
				"property_id", task.DestinationPropertyID,
				"failure", string(kind),
				"error", err,
			)
		}
		return result
	}

	var headers map[string]string
	if task.Capture != nil {
		headers = task.Capture.Headers
	}

	var body []byte
	if task.Action != request.ActionDelete {
		payload, kind, err := o.preparePayload(ctx, cache, headers, task)
		if err != nil {
			return finish(kind, err)
		}
		body = payload
	}

	if err := o.opts.Pacer.Wait(ctx); err != nil {
		return finish(request.FailureCancelled, err)
	}

	resp, err := o.client.Submit(ctx, task.Method, task.TargetURL, headers, body)
	if err != nil {
		if ctx.Err() != nil {
			return finish(request.FailureCancelled, err)
		}
		return finish(request.FailureTransport, err)
	}
	result.StatusCode = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return finish(request.FailureStatus, fmt.Errorf("upstream returned status %d", resp.StatusCode))
	}

	if task.Action == request.ActionDelete && len(resp.Body) == 0 {
		result.NewResourceID = task.ExistingResourceID
		return finish(request.FailureNone, nil)
	}
	id, err := decodeResourceID(resp.Body, o.opts.PrefixLength)
	if err != nil {
		return finish(request.FailureDecode, err)
	}
	if id == "" {
		id = task.ExistingResourceID
	}
	result.NewResourceID = id
	o.logger.Debug("Replay task succeeded",
		"run_id", runID,
		"sequence", task.Sequence,
		"property_id", task.DestinationPropertyID,
		"resource_id", id,
	)
	return finish(request.FailureNone, nil)
}

func (o *Orchestrator) preparePayload(ctx context.Context, cache *definitions.Cache, headers map[string]string, task *request.ReplayTask) ([]byte, request.FailureKind, error) {
	cache.SetHeaders(headers)

	template, err := cache.Get(ctx, task.TemplatePropertyID)
	if err != nil {
		return nil, definitionFailure(ctx), fmt.Errorf("template definitions: %w", err)
	}
	destination, err := cache.Get(ctx, task.DestinationPropertyID)
	if err != nil {
		return nil, definitionFailure(ctx), fmt.Errorf("destination definitions: %w", err)
	}

	payload, err := slots.Remap(template, destination, task.Payload)
	if err != nil {
		if errors.Is(err, slots.ErrDefinitionNotFound) {
			return nil, request.FailureDefinition, err
		}
		return nil, request.FailurePayload, err
	}

	if task.Action == request.ActionUpdate {
		payload, err = setReportID(payload, task.ExistingResourceID)
		if err != nil {
			return nil, request.FailurePayload, err
		}
	}
	return payload, request.FailureNone, nil
}

func definitionFailure(ctx context.Context) request.FailureKind {
	if ctx.Err() != nil {
		return request.FailureCancelled
	}
	return request.FailureDefinition
}

var _ Client = (*upstream.Client)(nil)
