package results

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/funnyzak/reportsync/pkg/request"
)

// Header is the fixed column order of the tabular result format.
var Header = []string{
	"original_resource_id",
	"resource_id",
	"property_id",
	"status_code",
	"resource_type",
	"resource_name",
}

// DefaultLinkTemplate renders a link to a saved report in the analytics UI.
const DefaultLinkTemplate = "https://analytics.google.com/analytics/web/#/p{property}/assetlibrary/explorer/edit?r={resource}"

// ErrMissingColumn is returned when an imported table lacks a required column.
var ErrMissingColumn = errors.New("missing required column")

// WriteCSV writes the header row followed by one row per result.
func WriteCSV(w io.Writer, list []request.ReplayResult) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(Header); err != nil {
		return err
	}
	for _, r := range list {
		status := ""
		if r.StatusCode != 0 {
			status = strconv.Itoa(r.StatusCode)
		}
		line := []string{
			r.OriginalResourceID,
			r.NewResourceID,
			r.DestinationPropertyID,
			status,
			string(r.ResourceKind),
			r.ResourceName,
		}
		if err := writer.Write(line); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadCSV parses a result table. Columns are located by header name, so
// extra columns and any column order are accepted.
func ReadCSV(r io.Reader) ([]request.ReplayResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty table", ErrMissingColumn)
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		index[name] = i
	}
	for _, col := range Header {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}

	var out []request.ReplayResult
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		raw := func(col string) string {
			i := index[col]
			if i >= len(record) {
				return ""
			}
			return record[i]
		}
		// ids and codes are trimmed, names are kept as written
		field := func(col string) string {
			return strings.TrimSpace(raw(col))
		}
		if isBlank(record) {
			continue
		}

		row := request.ReplayResult{
			OriginalResourceID:    field("original_resource_id"),
			NewResourceID:         field("resource_id"),
			DestinationPropertyID: field("property_id"),
			ResourceKind:          request.ResourceKind(field("resource_type")),
			ResourceName:          raw("resource_name"),
		}
		if status := field("status_code"); status != "" {
			code, err := strconv.Atoi(status)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid status_code %q", line, status)
			}
			row.StatusCode = code
		}
		out = append(out, row)
	}
	return out, nil
}

// WriteJSON writes the results as an indented JSON array.
func WriteJSON(w io.Writer, list []request.ReplayResult) error {
	if list == nil {
		list = []request.ReplayResult{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(list)
}

// Link returns the UI link for a successful custom-report result, or "".
func Link(r request.ReplayResult) string {
	return LinkWithTemplate(DefaultLinkTemplate, r)
}

// LinkWithTemplate renders a link from a {property}/{resource} template.
func LinkWithTemplate(template string, r request.ReplayResult) string {
	if r.ResourceKind != request.ResourceCustomReport || r.StatusCode != http.StatusOK {
		return ""
	}
	if r.DestinationPropertyID == "" || r.NewResourceID == "" {
		return ""
	}
	if template == "" {
		template = DefaultLinkTemplate
	}
	return strings.NewReplacer(
		"{property}", r.DestinationPropertyID,
		"{resource}", r.NewResourceID,
	).Replace(template)
}

// Summary counts the outcomes of a result list.
type Summary struct {
	Total     int                         `json:"total"`
	Succeeded int                         `json:"succeeded"`
	Failed    int                         `json:"failed"`
	ByFailure map[request.FailureKind]int `json:"by_failure,omitempty"`
}

// Summarize counts successes and failures by kind.
func Summarize(list []request.ReplayResult) Summary {
	s := Summary{Total: len(list)}
	for i := range list {
		if list[i].Succeeded() {
			s.Succeeded++
			continue
		}
		s.Failed++
		if s.ByFailure == nil {
			s.ByFailure = make(map[request.FailureKind]int)
		}
		kind := list[i].FailureKind
		if kind == request.FailureNone {
			kind = request.FailureStatus
		}
		s.ByFailure[kind]++
	}
	return s
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
