package web

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/funnyzak/reportsync/internal/results"
	"github.com/funnyzak/reportsync/pkg/request"
)

// ExportResults serializes replay results into the desired format.
func ExportResults(list []request.ReplayResult, format string) ([]byte, string, string, error) {
	buf := &bytes.Buffer{}
	switch strings.ToLower(format) {
	case "json":
		if err := results.WriteJSON(buf, list); err != nil {
			return nil, "", "", err
		}
		return buf.Bytes(), contentTypeJSON, "json", nil
	case "csv":
		if err := results.WriteCSV(buf, list); err != nil {
			return nil, "", "", err
		}
		return buf.Bytes(), "text/csv", "csv", nil
	default:
		return nil, "", "", fmt.Errorf("unsupported export format: %s", format)
	}
}

// AllowedFormats normalizes configured export formats.
func AllowedFormats(formats []string) []string {
	set := make(map[string]struct{})
	for _, f := range formats {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		set[f] = struct{}{}
	}

	result := make([]string, 0, len(set))
	for f := range set {
		result = append(result, f)
	}
	sort.Strings(result)
	return result
}
