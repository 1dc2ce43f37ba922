package i18n

import (
	"sync"
	"testing"
)

func TestTranslatorText(t *testing.T) {
	tr, err := NewTranslator("en")
	if err != nil {
		t.Fatalf("NewTranslator failed: %v", err)
	}

	if got := tr.Text("zh-CN", "cli.result.link"); got != "链接" {
		t.Fatalf("expected zh-CN translation, got %s", got)
	}
	if got := tr.Text("zh_cn", "cli.result.link"); got != "链接" {
		t.Fatalf("expected underscore locale to resolve, got %s", got)
	}
	if got := tr.Text("ja", "cli.headers.redacted"); got != "[非表示]" {
		t.Fatalf("expected ja translation, got %s", got)
	}

	// Test fallback to default locale for unsupported language
	if got := tr.Text("de", "cli.result.link"); got != "Link" {
		t.Fatalf("expected fallback to default locale, got %s", got)
	}
	// ja carries no banner keys
	if got := tr.Text("ja", "cli.banner.upstream"); got != "Upstream" {
		t.Fatalf("expected fallback for missing key, got %s", got)
	}

	if got := tr.Text("en", "non.existent.key"); got != "non.existent.key" {
		t.Fatalf("expected key returned for non-existent translation, got %s", got)
	}
	if got := tr.Text("en", ""); got != "" {
		t.Fatalf("expected empty string for empty key, got %s", got)
	}
}

func TestTranslatorTextf(t *testing.T) {
	tr, err := NewTranslator("en")
	if err != nil {
		t.Fatalf("NewTranslator failed: %v", err)
	}
	if got := tr.Textf("en", "cli.batch.complete", 3, 1); got != "Replay finished: 3 succeeded, 1 failed" {
		t.Fatalf("unexpected formatted text %q", got)
	}
}

func TestTranslatorSupported(t *testing.T) {
	tr, err := NewTranslator("en")
	if err != nil {
		t.Fatalf("NewTranslator failed: %v", err)
	}

	supported := tr.Supported()
	expected := []string{"en", "ja", "zh-CN"}
	if len(supported) != len(expected) {
		t.Fatalf("expected %d supported locales, got %v", len(expected), supported)
	}
	for i, loc := range supported {
		if loc != expected[i] {
			t.Fatalf("expected locale %s at position %d, got %s", expected[i], i, loc)
		}
	}
}

func TestTranslatorResolve(t *testing.T) {
	tr, err := NewTranslator("en")
	if err != nil {
		t.Fatalf("NewTranslator failed: %v", err)
	}
	cases := map[string]string{
		"zh-cn": "zh-CN",
		"ja-JP": "ja",
		"de":    "en",
		"":      "en",
	}
	for in, want := range cases {
		if got := tr.Resolve(in); got != want {
			t.Errorf("Resolve(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTranslatorDefaultLocale(t *testing.T) {
	tr, err := NewTranslator("ja")
	if err != nil {
		t.Fatalf("NewTranslator failed: %v", err)
	}
	if got := tr.DefaultLocale(); got != "ja" {
		t.Fatalf("expected default locale ja, got %s", got)
	}

	if _, err := NewTranslator("non-existent"); err == nil {
		t.Fatal("expected error for non-existent default locale")
	}
}

func TestTranslatorConcurrency(t *testing.T) {
	tr, err := NewTranslator("en")
	if err != nil {
		t.Fatalf("NewTranslator failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tr.Text("ja", "cli.result.ok")
			_ = tr.Supported()
			_ = tr.DefaultLocale()
		}()
	}
	wg.Wait()
}
