package results

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/funnyzak/reportsync/pkg/request"
)

func sample() []request.ReplayResult {
	return []request.ReplayResult{
		{OriginalResourceID: "55", NewResourceID: "901", DestinationPropertyID: "200", StatusCode: 200, ResourceKind: request.ResourceCustomReport, ResourceName: "Funnel, weekly"},
		{OriginalResourceID: "55", NewResourceID: "", DestinationPropertyID: "300", StatusCode: 403, ResourceKind: request.ResourceCustomReport, ResourceName: `Say "hi"`, FailureKind: request.FailureStatus},
	}
}

func TestCSVRoundTrip(t *testing.T) {
	want := append(sample(), request.ReplayResult{
		OriginalResourceID: "56", NewResourceID: "902", DestinationPropertyID: "200",
		StatusCode: 200, ResourceKind: request.ResourceCustomReport, ResourceName: "  Padded  ",
	})
	var buf bytes.Buffer
	if err := WriteCSV(&buf, want); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	firstLine := strings.SplitN(buf.String(), "\n", 2)[0]
	if firstLine != "original_resource_id,resource_id,property_id,status_code,resource_type,resource_name" {
		t.Fatalf("unexpected header %q", firstLine)
	}

	got, err := ReadCSV(&buf)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(got))
	}
	for i := range want {
		w, g := want[i], got[i]
		if g.OriginalResourceID != w.OriginalResourceID || g.NewResourceID != w.NewResourceID ||
			g.DestinationPropertyID != w.DestinationPropertyID || g.StatusCode != w.StatusCode ||
			g.ResourceKind != w.ResourceKind || g.ResourceName != w.ResourceName {
			t.Errorf("row %d: got %+v, want %+v", i, g, w)
		}
	}
}

func TestWriteCSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, nil); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if strings.Count(buf.String(), "\n") != 1 {
		t.Fatalf("empty export must still carry the header: %q", buf.String())
	}
}

func TestReadCSVHeaderDriven(t *testing.T) {
	input := "\ufeffresource_name,property_id,extra,resource_type,status_code,resource_id,original_resource_id\n" +
		"Funnel,200,x,custom-report,,901,55\n" +
		",,,,,,\n"
	got, err := ReadCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(got) != 1 || got[0].OriginalResourceID != "55" || got[0].NewResourceID != "901" || got[0].StatusCode != 0 {
		t.Fatalf("unexpected rows %+v", got)
	}

	_, err = ReadCSV(strings.NewReader("original_resource_id,resource_id\n1,2\n"))
	if !errors.Is(err, ErrMissingColumn) || !strings.Contains(err.Error(), "property_id") {
		t.Fatalf("expected missing column error, got %v", err)
	}
	if _, err := ReadCSV(strings.NewReader("")); !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("expected missing column error for empty input, got %v", err)
	}
	spaced := strings.Join(Header, ",") + "\n 55 , 901 , 200 , 200 ,custom-report, Funnel \n"
	got, err = ReadCSV(strings.NewReader(spaced))
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got[0].OriginalResourceID != "55" || got[0].StatusCode != 200 || got[0].ResourceName != " Funnel " {
		t.Fatalf("ids must be trimmed and names kept, got %+v", got[0])
	}
	bad := strings.Join(Header, ",") + "\n1,2,3,abc,custom-report,x\n"
	if _, err := ReadCSV(strings.NewReader(bad)); err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("expected status parse error, got %v", err)
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, nil); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Fatalf("expected empty array, got %q", buf.String())
	}

	buf.Reset()
	if err := WriteJSON(&buf, sample()); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	var decoded []request.ReplayResult
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil || len(decoded) != 2 {
		t.Fatalf("invalid json output: %v", err)
	}
}

func TestLink(t *testing.T) {
	list := sample()
	if got := Link(list[0]); got != "https://analytics.google.com/analytics/web/#/p200/assetlibrary/explorer/edit?r=901" {
		t.Fatalf("unexpected link %q", got)
	}
	if Link(list[1]) != "" {
		t.Fatal("failed results have no link")
	}
	created := list[0]
	created.StatusCode = 201
	if Link(created) != "" {
		t.Fatal("only status 200 results are linked")
	}
	other := list[0]
	other.ResourceKind = "audience"
	if Link(other) != "" {
		t.Fatal("only custom reports are linked")
	}
	if got := LinkWithTemplate("https://ui.example.com/{property}/{resource}", list[0]); got != "https://ui.example.com/200/901" {
		t.Fatalf("unexpected templated link %q", got)
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(append(sample(), request.ReplayResult{FailureKind: request.FailureDefinition}))
	if s.Total != 3 || s.Succeeded != 1 || s.Failed != 2 {
		t.Fatalf("unexpected summary %+v", s)
	}
	if s.ByFailure[request.FailureStatus] != 1 || s.ByFailure[request.FailureDefinition] != 1 {
		t.Fatalf("unexpected failure breakdown %+v", s.ByFailure)
	}
}
