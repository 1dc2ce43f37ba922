package replay

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/funnyzak/reportsync/internal/config"
	"github.com/funnyzak/reportsync/internal/definitions"
	"github.com/funnyzak/reportsync/internal/events"
	"github.com/funnyzak/reportsync/internal/logger"
	"github.com/funnyzak/reportsync/internal/upstream"
	"github.com/funnyzak/reportsync/pkg/request"
)

var (
	// ErrRunInProgress is returned when a batch is requested while another runs.
	ErrRunInProgress = errors.New("a replay run is already in progress")
	// ErrNoDestinations is returned for create batches without destination properties.
	ErrNoDestinations = errors.New("at least one destination property is required")
)

// Client is the upstream surface used during a run.
type Client interface {
	definitions.Fetcher
	Submit(ctx context.Context, method, targetURL string, headers map[string]string, body []byte) (*upstream.Response, error)
}

// Publisher receives every event the orchestrator emits.
type Publisher interface {
	Publish(ev events.Event) int
}

// Options configures the orchestrator
type Options struct {
	ReportEndpoint string
	PrefixLength   int
	Methods        map[request.ActionKind]string
	Pacer          Pacer
	EventBuffer    int
	Publisher      Publisher
}

// OptionsFromConfig maps configuration onto orchestrator options.
func OptionsFromConfig(cfg config.ReplayConfig, reportEndpoint string, prefixLen int) (Options, error) {
	pacer, err := NewPacer(cfg.Pacing)
	if err != nil {
		return Options{}, err
	}
	return Options{
		ReportEndpoint: reportEndpoint,
		PrefixLength:   prefixLen,
		Methods: map[request.ActionKind]string{
			request.ActionCreate: cfg.Methods.Create,
			request.ActionUpdate: cfg.Methods.Update,
			request.ActionDelete: cfg.Methods.Delete,
		},
		Pacer:       pacer,
		EventBuffer: cfg.EventBuffer,
	}, nil
}

// Orchestrator owns the selection list and replays it against destination properties
type Orchestrator struct {
	client  Client
	logger  logger.Logger
	opts    Options
	running atomic.Bool

	mu        sync.Mutex
	selection []*request.CapturedRequest
}

// New creates an orchestrator
func New(client Client, log logger.Logger, opts Options) *Orchestrator {
	if opts.Pacer == nil {
		opts.Pacer = NewFixedPacer(DefaultInterval)
	}
	if opts.EventBuffer < 1 {
		opts.EventBuffer = 16
	}
	methods := map[request.ActionKind]string{
		request.ActionCreate: http.MethodPost,
		request.ActionUpdate: http.MethodPut,
		request.ActionDelete: http.MethodDelete,
	}
	for action, method := range opts.Methods {
		if method != "" {
			methods[action] = strings.ToUpper(method)
		}
	}
	opts.Methods = methods

	return &Orchestrator{
		client: client,
		logger: log.With("replay"),
		opts:   opts,
	}
}

// Add appends a capture to the selection. Captures already selected are ignored.
func (o *Orchestrator) Add(c *request.CapturedRequest) bool {
	if c == nil {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, existing := range o.selection {
		if existing.ID == c.ID {
			return false
		}
	}
	o.selection = append(o.selection, c.Clone())
	return true
}

// Remove drops a capture from the selection by id.
func (o *Orchestrator) Remove(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i, c := range o.selection {
		if c.ID == id {
			o.selection = append(o.selection[:i], o.selection[i+1:]...)
			return true
		}
	}
	return false
}

// Clear empties the selection.
func (o *Orchestrator) Clear() {
	o.mu.Lock()
	o.selection = nil
	o.mu.Unlock()
}

// Selection returns a copy of the current selection in insertion order.
func (o *Orchestrator) Selection() []*request.CapturedRequest {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]*request.CapturedRequest, len(o.selection))
	for i, c := range o.selection {
		out[i] = c.Clone()
	}
	return out
}

// Running reports whether a batch is executing.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// Plan expands a batch command over the current selection into ordered tasks.
func (o *Orchestrator) Plan(cmd request.BatchCommand) ([]request.ReplayTask, error) {
	return o.plan(cmd, o.Selection())
}

func (o *Orchestrator) plan(cmd request.BatchCommand, selection []*request.CapturedRequest) ([]request.ReplayTask, error) {
	action, err := request.ParseAction(string(cmd.Action))
	if err != nil {
		return nil, err
	}

	var tasks []request.ReplayTask
	add := func(c *request.CapturedRequest, destination, existingID string) error {
		target, err := upstream.ReportURL(o.opts.ReportEndpoint, c.SourceURL, destination, existingID)
		if err != nil {
			return err
		}
		template := strings.TrimSpace(cmd.TemplatePropertyID)
		if template == "" {
			template = c.SourcePropertyID
		}
		tasks = append(tasks, request.ReplayTask{
			Sequence:              len(tasks) + 1,
			TargetURL:             target,
			Method:                o.opts.Methods[action],
			Payload:               c.Payload,
			DestinationPropertyID: destination,
			TemplatePropertyID:    template,
			ExistingResourceID:    existingID,
			Action:                action,
			ResourceKind:          c.ResourceKind,
			Capture:               c,
		})
		return nil
	}

	if action == request.ActionCreate {
		destinations := normalizeDestinations(cmd.Destinations)
		if len(destinations) == 0 {
			return nil, ErrNoDestinations
		}
		for _, destination := range destinations {
			for _, c := range selection {
				if err := add(c, destination, ""); err != nil {
					return nil, err
				}
			}
		}
		return tasks, nil
	}

	for _, c := range selection {
		for _, row := range cmd.Mappings {
			if row.OriginalResourceID == "" || row.OriginalResourceID != c.OriginalResourceID {
				continue
			}
			if row.ResourceKind != c.ResourceKind {
				continue
			}
			if strings.TrimSpace(row.NewResourceID) == "" || strings.TrimSpace(row.DestinationPropertyID) == "" {
				o.logger.Warn("Skipping incomplete mapping row",
					"original_resource_id", row.OriginalResourceID,
					"property_id", row.DestinationPropertyID,
				)
				continue
			}
			if err := add(c, strings.TrimSpace(row.DestinationPropertyID), strings.TrimSpace(row.NewResourceID)); err != nil {
				return nil, err
			}
		}
	}
	return tasks, nil
}

func normalizeDestinations(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, d := range in {
		d = strings.TrimPrefix(strings.TrimSpace(d), "p")
		if d == "" {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}

func (o *Orchestrator) acquire() error {
	if !o.running.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}
	return nil
}

func (o *Orchestrator) release() {
	o.running.Store(false)
}
