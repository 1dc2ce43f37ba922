package printer

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/funnyzak/reportsync/internal/events"
	"github.com/funnyzak/reportsync/pkg/request"
)

func TestJSONPrinter_PrintEvent(t *testing.T) {
	p := NewJSONPrinter(noopLogger{}, "")
	buf := &bytes.Buffer{}
	p.SetOutput(buf)

	if err := p.PrintEvent(events.CaptureEvent(sampleCapture())); err != nil {
		t.Fatalf("print capture failed: %v", err)
	}
	result := &request.ReplayResult{
		Action: request.ActionCreate, StatusCode: 200, ResourceKind: request.ResourceCustomReport,
		DestinationPropertyID: "200", NewResourceID: "901",
	}
	if err := p.PrintEvent(events.ResultEvent("run-1", result)); err != nil {
		t.Fatalf("print result failed: %v", err)
	}

	dec := json.NewDecoder(buf)
	var first, second map[string]interface{}
	if err := dec.Decode(&first); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if first["type"] != "capture" || first["capture"] == nil {
		t.Fatalf("unexpected capture line: %v", first)
	}
	if err := dec.Decode(&second); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if second["type"] != "result" || second["run_id"] != "run-1" {
		t.Fatalf("unexpected result line: %v", second)
	}
	if second["link"] != "https://analytics.google.com/analytics/web/#/p200/assetlibrary/explorer/edit?r=901" {
		t.Fatalf("unexpected link: %v", second["link"])
	}
}
