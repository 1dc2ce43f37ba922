package replay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/funnyzak/reportsync/internal/config"
)

func TestFixedPacer(t *testing.T) {
	p := NewFixedPacer(30 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	if err := p.Wait(ctx); err != nil {
		t.Fatalf("first wait failed: %v", err)
	}
	if time.Since(start) > 20*time.Millisecond {
		t.Fatal("first call must not wait")
	}
	if err := p.Wait(ctx); err != nil {
		t.Fatalf("second wait failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Fatalf("second call must be delayed, elapsed %s", elapsed)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := p.Wait(cancelled); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestTokenBucketPacer(t *testing.T) {
	p := NewTokenBucketPacer(time.Hour, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := p.Wait(ctx); err != nil {
		t.Fatalf("burst token expected: %v", err)
	}
	if err := p.Wait(ctx); err != nil {
		t.Fatalf("burst token expected: %v", err)
	}
	if err := p.Wait(ctx); err == nil {
		t.Fatal("third call must exceed the deadline")
	}
}

func TestNewPacer(t *testing.T) {
	tests := []struct {
		mode string
		want interface{}
	}{
		{"", &FixedPacer{}},
		{"fixed", &FixedPacer{}},
		{"token_bucket", &TokenBucketPacer{}},
		{"none", NoPacer{}},
	}
	for _, tt := range tests {
		p, err := NewPacer(config.PacingConfig{Mode: tt.mode})
		if err != nil {
			t.Fatalf("%q: %v", tt.mode, err)
		}
		switch tt.want.(type) {
		case *FixedPacer:
			if fp, ok := p.(*FixedPacer); !ok || fp.interval != DefaultInterval {
				t.Errorf("%q: expected fixed pacer with default interval, got %T", tt.mode, p)
			}
		case *TokenBucketPacer:
			if _, ok := p.(*TokenBucketPacer); !ok {
				t.Errorf("%q: expected token bucket, got %T", tt.mode, p)
			}
		case NoPacer:
			if _, ok := p.(NoPacer); !ok {
				t.Errorf("%q: expected no pacer, got %T", tt.mode, p)
			}
		}
	}
	if _, err := NewPacer(config.PacingConfig{Mode: "jitter"}); err == nil {
		t.Fatal("expected unknown mode error")
	}
}
