package replay

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/funnyzak/reportsync/internal/upstream"
	"github.com/funnyzak/reportsync/pkg/request"
)

// setReportID points the payload's report.id at an existing resource.
func setReportID(payload []byte, id string) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var root map[string]interface{}
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	report, ok := root["report"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("payload has no report object")
	}
	report["id"] = id

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(root); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

type mutationResponse struct {
	Default struct {
		Report struct {
			ID request.FlexString `json:"id"`
		} `json:"report"`
	} `json:"default"`
}

// decodeResourceID reads default.report.id from a guarded response body.
func decodeResourceID(body []byte, prefixLen int) (string, error) {
	var resp mutationResponse
	if err := upstream.Decode(body, prefixLen, &resp); err != nil {
		return "", err
	}
	return string(resp.Default.Report.ID), nil
}
