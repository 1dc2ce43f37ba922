package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/funnyzak/reportsync/internal/definitions"
	"github.com/funnyzak/reportsync/internal/events"
	"github.com/funnyzak/reportsync/internal/logger"
	"github.com/funnyzak/reportsync/internal/upstream"
	"github.com/funnyzak/reportsync/pkg/request"
)

type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{}) {}
func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Warn(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}
func (noopLogger) Fatal(string, ...interface{}) {}
func (n noopLogger) With(string) logger.Logger  { return n }

type submitCall struct {
	method  string
	url     string
	headers map[string]string
	body    string
}

type fakeClient struct {
	mu      sync.Mutex
	sets    map[string]*definitions.Set
	fetches []string
	calls   []submitCall
	respond func(n int, call submitCall) (*upstream.Response, error)
}

func (f *fakeClient) FetchDefinitions(_ context.Context, propertyID string, _ map[string]string) (*definitions.Set, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches = append(f.fetches, propertyID)
	set, ok := f.sets[propertyID]
	if !ok {
		return nil, fmt.Errorf("unknown property %s", propertyID)
	}
	return set, nil
}

func (f *fakeClient) Submit(_ context.Context, method, targetURL string, headers map[string]string, body []byte) (*upstream.Response, error) {
	f.mu.Lock()
	call := submitCall{method: method, url: targetURL, headers: headers, body: string(body)}
	f.calls = append(f.calls, call)
	n := len(f.calls)
	respond := f.respond
	f.mu.Unlock()

	if respond != nil {
		return respond(n, call)
	}
	return &upstream.Response{
		StatusCode: http.StatusOK,
		Body:       []byte(fmt.Sprintf(")]}'\n{\"default\":{\"report\":{\"id\":\"new-%d\"}}}", n)),
	}, nil
}

func newFakeClient() *fakeClient {
	return &fakeClient{sets: map[string]*definitions.Set{
		"100": {CustomDefinitions: []definitions.Definition{{Name: "Sessions", Index: 107}, {Name: "CustomDim", Index: 4}}},
		"200": {CustomDefinitions: []definitions.Definition{{Name: "CustomDim", Index: 9}, {Name: "Sessions", Index: 203}}},
		"300": {CustomDefinitions: []definitions.Definition{{Name: "Sessions", Index: 111}}},
	}}
}

const endpoint = "https://analytics.example.com/reporting/reportconfig"

func capture(t *testing.T, reportID, name, payloadCards string) *request.CapturedRequest {
	t.Helper()
	payload := fmt.Sprintf(`{"report":{"id":"%s","name":"%s","cards":[%s]}}`, reportID, name, payloadCards)
	c, err := request.NewCapturedRequest(endpoint+"?dataset=p100&hl=en_US", http.MethodPut,
		map[string]string{"x-gafe4-xsrf-token": "tok"}, []byte(payload), request.ResourceCustomReport)
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	return c
}

func newOrchestrator(client Client) *Orchestrator {
	return New(client, noopLogger{}, Options{
		ReportEndpoint: endpoint,
		PrefixLength:   upstream.DefaultXSSIPrefixLength,
		Pacer:          NoPacer{},
	})
}

func collect(t *testing.T, o *Orchestrator, cmd request.BatchCommand) ([]events.Event, *events.Batch) {
	t.Helper()
	var evs []events.Event
	batch, err := o.Execute(context.Background(), cmd, func(ev events.Event) { evs = append(evs, ev) })
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	return evs, batch
}

func TestSelection(t *testing.T) {
	o := newOrchestrator(newFakeClient())
	a := capture(t, "1", "A", "")
	b := capture(t, "2", "B", "")

	if !o.Add(a) || !o.Add(b) || o.Add(a) {
		t.Fatal("duplicate captures must be ignored")
	}
	sel := o.Selection()
	if len(sel) != 2 || sel[0].ID != a.ID || sel[1].ID != b.ID {
		t.Fatalf("unexpected selection %v", sel)
	}
	sel[0].DisplayName = "mutated"
	if o.Selection()[0].DisplayName != "A" {
		t.Fatal("selection must hand out copies")
	}
	if !o.Remove(a.ID) || o.Remove(a.ID) {
		t.Fatal("remove must report presence")
	}
	o.Clear()
	if len(o.Selection()) != 0 {
		t.Fatal("clear must empty the selection")
	}
}

func TestPlanCreate(t *testing.T) {
	o := newOrchestrator(newFakeClient())
	o.Add(capture(t, "55", "reportA", ""))

	tasks, err := o.Plan(request.BatchCommand{Action: request.ActionCreate, Destinations: []string{"200", "300"}, TemplatePropertyID: "100"})
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	for i, want := range []string{"200", "300"} {
		task := tasks[i]
		if task.DestinationPropertyID != want || task.ExistingResourceID != "" || task.Method != http.MethodPost {
			t.Errorf("unexpected task %+v", task)
		}
		if !strings.HasPrefix(task.TargetURL, endpoint+"?dataset=p"+want) {
			t.Errorf("unexpected target url %s", task.TargetURL)
		}
		if strings.Contains(task.TargetURL, "/55") {
			t.Errorf("create url must not address a resource: %s", task.TargetURL)
		}
	}
}

func TestPlanCreateCardinality(t *testing.T) {
	o := newOrchestrator(newFakeClient())
	for i := 0; i < 3; i++ {
		o.Add(capture(t, fmt.Sprint(i), "r", ""))
	}
	tasks, err := o.Plan(request.BatchCommand{Action: request.ActionCreate, Destinations: []string{"200", "p300", "200", "400"}})
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if len(tasks) != 9 {
		t.Fatalf("expected selection x destinations = 9 tasks, got %d", len(tasks))
	}
	if tasks[0].TemplatePropertyID != "100" {
		t.Fatalf("template must default to the capture property, got %q", tasks[0].TemplatePropertyID)
	}
	if _, err := o.Plan(request.BatchCommand{Action: request.ActionCreate}); !errors.Is(err, ErrNoDestinations) {
		t.Fatalf("expected ErrNoDestinations, got %v", err)
	}
	if _, err := o.Plan(request.BatchCommand{Action: "copy", Destinations: []string{"1"}}); err == nil {
		t.Fatal("expected unknown action error")
	}
}

func TestPlanUpdateUsesMappings(t *testing.T) {
	o := newOrchestrator(newFakeClient())
	o.Add(capture(t, "55", "reportA", ""))
	o.Add(capture(t, "66", "reportB", ""))

	mappings := []request.ReplayResult{
		{OriginalResourceID: "55", NewResourceID: "901", DestinationPropertyID: "200", ResourceKind: request.ResourceCustomReport},
		{OriginalResourceID: "55", NewResourceID: "902", DestinationPropertyID: "300", ResourceKind: request.ResourceCustomReport},
		{OriginalResourceID: "55", NewResourceID: "903", DestinationPropertyID: "400", ResourceKind: "audience"},
		{OriginalResourceID: "77", NewResourceID: "904", DestinationPropertyID: "200", ResourceKind: request.ResourceCustomReport},
	}
	for _, action := range []request.ActionKind{request.ActionUpdate, request.ActionDelete} {
		tasks, err := o.Plan(request.BatchCommand{Action: action, Mappings: mappings})
		if err != nil {
			t.Fatalf("plan failed: %v", err)
		}
		if len(tasks) != 2 {
			t.Fatalf("%s: expected 2 matched tasks, got %d", action, len(tasks))
		}
		for _, task := range tasks {
			if !strings.Contains(task.TargetURL, "/reportconfig/"+task.ExistingResourceID+"?") {
				t.Errorf("%s url must contain existing id: %s", action, task.TargetURL)
			}
		}
	}
}

func TestExecuteCreate(t *testing.T) {
	client := newFakeClient()
	o := newOrchestrator(client)
	o.Add(capture(t, "55", "reportA", `{"card":{"metric":[{"id":"customMetricsGroup1Slot07"}]}}`))

	evs, batch := collect(t, o, request.BatchCommand{Action: request.ActionCreate, Destinations: []string{"200"}, TemplatePropertyID: "100"})
	if len(evs) != 3 || evs[0].Kind != events.KindBatchStart || evs[1].Kind != events.KindResult || evs[2].Kind != events.KindBatchComplete {
		t.Fatalf("unexpected events %+v", evs)
	}
	res := evs[1].Result
	if !res.Succeeded() || res.NewResourceID != "new-1" || res.OriginalResourceID != "55" || res.ResourceName != "reportA" || res.DestinationPropertyID != "200" {
		t.Fatalf("unexpected result %+v", res)
	}
	if batch.Succeeded != 1 || batch.Failed != 0 {
		t.Fatalf("unexpected batch %+v", batch)
	}

	call := client.calls[0]
	if call.method != http.MethodPost || call.headers["x-gafe4-xsrf-token"] != "tok" {
		t.Fatalf("unexpected call %+v", call)
	}
	if !strings.Contains(call.body, `"customMetricsGroup1Slot03"`) {
		t.Fatalf("payload must be remapped before submission: %s", call.body)
	}
}

func TestExecuteDefinitionFailureDoesNotAbort(t *testing.T) {
	client := newFakeClient()
	o := newOrchestrator(client)
	o.Add(capture(t, "55", "reportA", `{"card":{"dimension":["customDimensionsGroup2Slot04"]}}`))

	evs, batch := collect(t, o, request.BatchCommand{Action: request.ActionCreate, Destinations: []string{"300", "200"}, TemplatePropertyID: "100"})
	if len(evs) != 4 {
		t.Fatalf("expected start, 2 results, complete; got %d events", len(evs))
	}
	failed, ok := evs[1].Result, evs[2].Result
	if failed.FailureKind != request.FailureDefinition || failed.DestinationPropertyID != "300" || failed.Error == "" {
		t.Fatalf("expected definition failure, got %+v", failed)
	}
	if !ok.Succeeded() || ok.DestinationPropertyID != "200" {
		t.Fatalf("second task must still run, got %+v", ok)
	}
	if evs[3].Kind != events.KindBatchComplete || batch.Failed != 1 || batch.Succeeded != 1 {
		t.Fatalf("batch-complete must fire after all tasks: %+v", evs[3])
	}
	if len(client.calls) != 1 {
		t.Fatalf("failed task must not be submitted, got %d calls", len(client.calls))
	}
	if len(client.fetches) != 3 {
		t.Fatalf("definitions must be fetched once per property, got %v", client.fetches)
	}
}

func TestExecuteFetchesFailingPropertyOnce(t *testing.T) {
	client := newFakeClient()
	o := newOrchestrator(client)
	for _, id := range []string{"55", "56", "57"} {
		o.Add(capture(t, id, "report"+id, `{"card":{"dimension":["customDimensionsGroup2Slot04"]}}`))
	}

	_, batch := collect(t, o, request.BatchCommand{Action: request.ActionCreate, Destinations: []string{"999"}, TemplatePropertyID: "100"})
	if batch.Failed != 3 {
		t.Fatalf("expected every task to fail, got %+v", batch)
	}
	if len(client.fetches) != 2 || client.fetches[0] != "100" || client.fetches[1] != "999" {
		t.Fatalf("failing property must be fetched once, got %v", client.fetches)
	}
}

func TestExecuteUpdateSetsReportID(t *testing.T) {
	client := newFakeClient()
	o := newOrchestrator(client)
	o.Add(capture(t, "55", "reportA", ""))

	evs, _ := collect(t, o, request.BatchCommand{
		Action: request.ActionUpdate,
		Mappings: []request.ReplayResult{
			{OriginalResourceID: "55", NewResourceID: "901", DestinationPropertyID: "200", ResourceKind: request.ResourceCustomReport},
		},
	})
	call := client.calls[0]
	if call.method != http.MethodPut || !strings.Contains(call.url, "/reportconfig/901?dataset=p200") {
		t.Fatalf("unexpected call %+v", call)
	}
	var body struct {
		Report struct {
			ID string `json:"id"`
		} `json:"report"`
	}
	if err := json.Unmarshal([]byte(call.body), &body); err != nil || body.Report.ID != "901" {
		t.Fatalf("report id must be the existing id: %s (%v)", call.body, err)
	}
	if evs[1].Result.OriginalResourceID != "55" {
		t.Fatalf("original id must come from the capture, got %+v", evs[1].Result)
	}
}

func TestExecuteDeleteSendsNoBody(t *testing.T) {
	client := newFakeClient()
	client.respond = func(int, submitCall) (*upstream.Response, error) {
		return &upstream.Response{StatusCode: http.StatusNoContent}, nil
	}
	o := newOrchestrator(client)
	o.Add(capture(t, "55", "reportA", ""))

	evs, batch := collect(t, o, request.BatchCommand{
		Action: request.ActionDelete,
		Mappings: []request.ReplayResult{
			{OriginalResourceID: "55", NewResourceID: "901", DestinationPropertyID: "200", ResourceKind: request.ResourceCustomReport},
		},
	})
	if client.calls[0].method != http.MethodDelete || client.calls[0].body != "" {
		t.Fatalf("unexpected delete call %+v", client.calls[0])
	}
	if len(client.fetches) != 0 {
		t.Fatal("delete must not resolve definitions")
	}
	if batch.Succeeded != 1 || evs[1].Result.NewResourceID != "901" {
		t.Fatalf("unexpected delete result %+v", evs[1].Result)
	}
}

func TestExecuteUpstreamFailures(t *testing.T) {
	client := newFakeClient()
	client.respond = func(n int, _ submitCall) (*upstream.Response, error) {
		switch n {
		case 1:
			return nil, errors.New("connection refused")
		case 2:
			return &upstream.Response{StatusCode: http.StatusForbidden, Body: []byte("denied")}, nil
		default:
			return &upstream.Response{StatusCode: http.StatusOK, Body: []byte("<html><title>Oops</title></html>")}, nil
		}
	}
	o := newOrchestrator(client)
	o.Add(capture(t, "55", "reportA", ""))

	evs, batch := collect(t, o, request.BatchCommand{Action: request.ActionCreate, Destinations: []string{"200", "300", "100"}})
	want := []struct {
		kind   request.FailureKind
		status int
	}{
		{request.FailureTransport, 0},
		{request.FailureStatus, http.StatusForbidden},
		{request.FailureDecode, http.StatusOK},
	}
	for i, w := range want {
		res := evs[i+1].Result
		if res.FailureKind != w.kind || res.StatusCode != w.status || res.Succeeded() {
			t.Errorf("task %d: expected %s/%d, got %+v", i+1, w.kind, w.status, res)
		}
	}
	if batch.Failed != 3 || evs[len(evs)-1].Kind != events.KindBatchComplete {
		t.Fatalf("unexpected batch %+v", batch)
	}
}

func TestExecuteCancelled(t *testing.T) {
	client := newFakeClient()
	o := New(client, noopLogger{}, Options{ReportEndpoint: endpoint, Pacer: NewFixedPacer(time.Hour)})
	o.Add(capture(t, "55", "reportA", ""))

	ctx, cancel := context.WithCancel(context.Background())
	var evs []events.Event
	client.respond = func(int, submitCall) (*upstream.Response, error) {
		cancel()
		return &upstream.Response{StatusCode: http.StatusOK, Body: []byte(")]}'\n{}")}, nil
	}
	batch, err := o.Execute(ctx, request.BatchCommand{Action: request.ActionCreate, Destinations: []string{"200", "300", "400"}}, func(ev events.Event) {
		evs = append(evs, ev)
	})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if !batch.Cancelled || len(client.calls) != 1 {
		t.Fatalf("run must stop after cancellation: %+v calls=%d", batch, len(client.calls))
	}
	if evs[len(evs)-1].Kind != events.KindBatchComplete {
		t.Fatal("batch-complete must fire on cancellation")
	}
}

func TestRunStreamsEventsAndGuardsConcurrency(t *testing.T) {
	client := newFakeClient()
	release := make(chan struct{})
	client.respond = func(n int, _ submitCall) (*upstream.Response, error) {
		<-release
		return &upstream.Response{StatusCode: http.StatusOK, Body: []byte(")]}'\n{\"default\":{\"report\":{\"id\":\"9\"}}}")}, nil
	}
	bus := events.NewBus[events.Event](16)
	_, published := bus.Subscribe()
	o := New(client, noopLogger{}, Options{ReportEndpoint: endpoint, Pacer: NoPacer{}, Publisher: bus})
	o.Add(capture(t, "55", "reportA", ""))

	cmd := request.BatchCommand{Action: request.ActionCreate, Destinations: []string{"200"}}
	runID, stream, err := o.Run(context.Background(), cmd)
	if err != nil || runID == "" {
		t.Fatalf("run failed: %v", err)
	}
	if _, _, err := o.Run(context.Background(), cmd); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
	close(release)

	var kinds []events.Kind
	for ev := range stream {
		if ev.RunID != runID {
			t.Fatalf("unexpected run id %s", ev.RunID)
		}
		kinds = append(kinds, ev.Kind)
	}
	if len(kinds) != 3 || kinds[2] != events.KindBatchComplete {
		t.Fatalf("unexpected stream %v", kinds)
	}
	if o.Running() {
		t.Fatal("run flag must be released")
	}
	if ev := <-published; ev.Kind != events.KindBatchStart {
		t.Fatalf("publisher must receive events, got %v", ev.Kind)
	}
}

func TestRunReleasesWithAbandonedConsumer(t *testing.T) {
	client := newFakeClient()
	o := New(client, noopLogger{}, Options{ReportEndpoint: endpoint, Pacer: NoPacer{}, EventBuffer: 1})
	o.Add(capture(t, "55", "reportA", ""))

	ctx, cancel := context.WithCancel(context.Background())
	cmd := request.BatchCommand{Action: request.ActionCreate, Destinations: []string{"200"}}
	if _, _, err := o.Run(ctx, cmd); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for o.Running() {
		if time.Now().After(deadline) {
			t.Fatal("run flag still held after the consumer went away")
		}
		time.Sleep(10 * time.Millisecond)
	}

	_, stream, err := o.Run(context.Background(), cmd)
	if err != nil {
		t.Fatalf("second run rejected: %v", err)
	}
	var last events.Kind
	for ev := range stream {
		last = ev.Kind
	}
	if last != events.KindBatchComplete {
		t.Fatalf("second run must end with batch-complete, got %v", last)
	}
}

func TestServe(t *testing.T) {
	client := newFakeClient()
	bus := events.NewBus[events.Event](16)
	_, published := bus.Subscribe()
	o := New(client, noopLogger{}, Options{ReportEndpoint: endpoint, Pacer: NoPacer{}, Publisher: bus})
	o.Add(capture(t, "55", "reportA", ""))

	commands := make(chan request.BatchCommand, 2)
	commands <- request.BatchCommand{Action: "bogus"}
	commands <- request.BatchCommand{Action: request.ActionCreate, Destinations: []string{"200"}}
	close(commands)

	if err := o.Serve(context.Background(), commands); err != nil {
		t.Fatalf("serve failed: %v", err)
	}
	var kinds []events.Kind
	for len(published) > 0 {
		kinds = append(kinds, (<-published).Kind)
	}
	if len(kinds) != 3 || kinds[0] != events.KindBatchStart || kinds[2] != events.KindBatchComplete {
		t.Fatalf("unexpected published events %v", kinds)
	}
}
