package request

import (
	"testing"
)

const samplePayload = `{"report":{"id":"42","name":"Funnel by source","cards":[]}}`

func TestNewCapturedRequest(t *testing.T) {
	headers := map[string]string{
		"Content-Type":       "application/json",
		"x-gafe4-xsrf-token": "tok",
	}
	url := "https://analytics.google.com/analytics/app/data/v2/reporting/reportconfig?dataset=p100&hl=en_US"

	c, err := NewCapturedRequest(url, "put", headers, []byte(samplePayload), ResourceCustomReport)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if c.Method != "PUT" {
		t.Errorf("Expected method PUT, got %s", c.Method)
	}
	if c.DisplayName != "Funnel by source" {
		t.Errorf("Expected display name, got %q", c.DisplayName)
	}
	if c.OriginalResourceID != "42" {
		t.Errorf("Expected original id 42, got %q", c.OriginalResourceID)
	}
	if c.SourcePropertyID != "100" {
		t.Errorf("Expected source property 100, got %q", c.SourcePropertyID)
	}
	if len(c.ID) != 24 {
		t.Errorf("Expected 24 char id, got %q", c.ID)
	}
	if c.Header("X-GAFE4-XSRF-TOKEN") != "tok" {
		t.Errorf("Expected case-insensitive header lookup")
	}

	headers["Content-Type"] = "text/plain"
	if c.Headers["Content-Type"] != "application/json" {
		t.Errorf("capture must not share the caller's header map")
	}
}

func TestNewCapturedRequestDisplayNameFallback(t *testing.T) {
	payload := `{"report":{"id":7,"linkedId":99}}`
	c, err := NewCapturedRequest("https://x/reportconfig?dataset=p1", "PUT", nil, []byte(payload), ResourceCustomReport)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.DisplayName != "99" {
		t.Errorf("Expected linkedId fallback, got %q", c.DisplayName)
	}
	if c.OriginalResourceID != "7" {
		t.Errorf("Expected numeric id decoded as string, got %q", c.OriginalResourceID)
	}
}

func TestNewCapturedRequestMalformed(t *testing.T) {
	for _, body := range []string{"", "{", `{"report":"x"}`} {
		if _, err := NewCapturedRequest("https://x", "PUT", nil, []byte(body), ResourceCustomReport); err == nil {
			t.Errorf("expected error for body %q", body)
		}
	}
}

func TestPropertyIDFromURL(t *testing.T) {
	tests := map[string]string{
		"https://a/reportconfig?dataset=p123&x=1": "123",
		"https://a/reportconfig?x=1&dataset=p9":   "9",
		"https://a/reportconfig?dataset=a123":     "",
		"https://a/reportconfig?dataset=p12a":     "",
		"https://a/reportconfig":                  "",
	}
	for in, want := range tests {
		if got := PropertyIDFromURL(in); got != want {
			t.Errorf("PropertyIDFromURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	c := &CapturedRequest{ID: "a", Headers: map[string]string{"k": "v"}, Payload: []byte(`{}`)}
	cp := c.Clone()
	cp.Headers["k"] = "changed"
	cp.Payload[0] = '['
	if c.Headers["k"] != "v" || string(c.Payload) != "{}" {
		t.Fatalf("clone shares state with original")
	}
}

func TestParseAction(t *testing.T) {
	if a, err := ParseAction(" Update "); err != nil || a != ActionUpdate {
		t.Fatalf("expected update, got %q %v", a, err)
	}
	if _, err := ParseAction("copy"); err == nil {
		t.Fatal("expected error for unknown action")
	}
	if ActionCreate.RequiresExisting() || !ActionDelete.RequiresExisting() {
		t.Fatal("unexpected RequiresExisting result")
	}
}

func TestReplayResultSucceeded(t *testing.T) {
	ok := &ReplayResult{StatusCode: 200}
	if !ok.Succeeded() {
		t.Error("200 without failure should succeed")
	}
	decodeFail := &ReplayResult{StatusCode: 200, FailureKind: FailureDecode}
	if decodeFail.Succeeded() {
		t.Error("decode failure should not succeed")
	}
	if (&ReplayResult{StatusCode: 500}).Succeeded() {
		t.Error("500 should not succeed")
	}
}
