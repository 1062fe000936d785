package speech

import (
	"context"
	"testing"
	"time"
)

func TestSynthesize_NoKey(t *testing.T) {
	s := NewSynthesizer("", "model")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Synthesize(ctx, "hello", func([]byte) error { return nil }); err == nil {
		t.Fatalf("expected error with missing key")
	}
}

func TestSynthesize_EmptyTextIsNoop(t *testing.T) {
	s := NewSynthesizer("key", "")
	if err := s.Synthesize(context.Background(), "", func([]byte) error { return nil }); err != nil {
		t.Fatalf("empty text must be a no-op, got %v", err)
	}
}
