package request

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ResourceKind identifies the kind of configuration resource a request mutates.
type ResourceKind string

const (
	// ResourceCustomReport is a saved exploration/custom report configuration.
	ResourceCustomReport ResourceKind = "custom-report"
)

// CapturedRequest represents an observed configuration-mutation request
type CapturedRequest struct {
	ID                 string            `json:"id"`
	Timestamp          time.Time         `json:"timestamp"`
	SourceURL          string            `json:"source_url"`
	Method             string            `json:"method"`
	Headers            map[string]string `json:"headers"`
	Payload            json.RawMessage   `json:"payload"`
	DisplayName        string            `json:"display_name"`
	ResourceKind       ResourceKind      `json:"resource_kind"`
	OriginalResourceID string            `json:"original_resource_id,omitempty"`
	SourcePropertyID   string            `json:"source_property_id,omitempty"`
}

// ReportEnvelope is the part of a report-configuration payload the pipeline reads.
type ReportEnvelope struct {
	Report ReportMeta `json:"report"`
}

// ReportMeta carries the identifying fields of a report payload.
type ReportMeta struct {
	ID       FlexString `json:"id"`
	Name     string     `json:"name"`
	LinkedID FlexString `json:"linkedId"`
}

// DisplayName returns the report name, falling back to the linked id.
func (m ReportMeta) DisplayName() string {
	if name := strings.TrimSpace(m.Name); name != "" {
		return name
	}
	return string(m.LinkedID)
}

// FlexString decodes JSON strings and numbers alike.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", string(data))
	}
	*f = FlexString(n.String())
	return nil
}

// ParseReport decodes the report envelope of a payload.
func ParseReport(payload []byte) (ReportEnvelope, error) {
	var env ReportEnvelope
	if len(bytes.TrimSpace(payload)) == 0 {
		return env, fmt.Errorf("empty payload")
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return env, fmt.Errorf("decode report payload: %w", err)
	}
	return env, nil
}

// NewCapturedRequest creates a capture record from an observed request
func NewCapturedRequest(rawURL, method string, headers map[string]string, payload []byte, kind ResourceKind) (*CapturedRequest, error) {
	env, err := ParseReport(payload)
	if err != nil {
		return nil, err
	}

	copied := make(map[string]string, len(headers))
	for k, v := range headers {
		copied[k] = v
	}

	return &CapturedRequest{
		ID:                 generateRequestID(),
		Timestamp:          time.Now(),
		SourceURL:          rawURL,
		Method:             strings.ToUpper(method),
		Headers:            copied,
		Payload:            append(json.RawMessage(nil), payload...),
		DisplayName:        env.Report.DisplayName(),
		ResourceKind:       kind,
		OriginalResourceID: string(env.Report.ID),
		SourcePropertyID:   PropertyIDFromURL(rawURL),
	}, nil
}

// Header returns a header value using case-insensitive lookup.
func (c *CapturedRequest) Header(name string) string {
	if c == nil {
		return ""
	}
	if v, ok := c.Headers[name]; ok {
		return v
	}
	for k, v := range c.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// HTTPHeader converts the header map into an http.Header.
func (c *CapturedRequest) HTTPHeader() http.Header {
	h := make(http.Header, len(c.Headers))
	for k, v := range c.Headers {
		h.Set(k, v)
	}
	return h
}

// Clone returns a deep copy so callers may not mutate a shared capture.
func (c *CapturedRequest) Clone() *CapturedRequest {
	if c == nil {
		return nil
	}
	out := *c
	out.Headers = make(map[string]string, len(c.Headers))
	for k, v := range c.Headers {
		out.Headers[k] = v
	}
	out.Payload = append(json.RawMessage(nil), c.Payload...)
	return &out
}

// PropertyIDFromURL extracts the numeric property id from a dataset=p<id> query parameter.
func PropertyIDFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	dataset := u.Query().Get("dataset")
	if !strings.HasPrefix(dataset, "p") {
		return ""
	}
	id := dataset[1:]
	for _, r := range id {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return id
}

// generateRequestID creates a random, URL-safe request identifier.
func generateRequestID() string {
	const idBytes = 12 // 12 bytes => 24 hex characters
	b := make([]byte, idBytes)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("CAP-%d", time.Now().UnixNano())
	}
	return strings.ToUpper(hex.EncodeToString(b))
}
