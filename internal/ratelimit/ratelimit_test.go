package ratelimit

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name           string
		bytesPerSecond int64
		expectNil      bool
	}{
		{"Valid rate", 1024, false},
		{"Zero rate (unlimited)", 0, true},
		{"Negative rate (unlimited)", -1, true},
		{"Very low rate", 1, false},
		{"High rate", 10 * 1024 * 1024, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := New(tt.bytesPerSecond)
			if tt.expectNil && limiter != nil {
				t.Errorf("Expected nil limiter for rate %d, got non-nil", tt.bytesPerSecond)
			}
			if !tt.expectNil && limiter == nil {
				t.Errorf("Expected non-nil limiter for rate %d, got nil", tt.bytesPerSecond)
			}
			if !tt.expectNil && limiter.Rate() != tt.bytesPerSecond {
				t.Errorf("Rate() = %d, want %d", limiter.Rate(), tt.bytesPerSecond)
			}
		})
	}
}

func TestNewReader(t *testing.T) {
	data := []byte("test data")
	reader := bytes.NewReader(data)

	limited := NewReader(context.Background(), reader, nil)
	if limited != reader {
		t.Error("Expected original reader when limiter is nil")
	}

	limited = NewReader(context.Background(), reader, New(1024))
	if limited == reader {
		t.Error("Expected wrapped reader when limiter is non-nil")
	}
}

func TestReader_CapsReadSize(t *testing.T) {
	t.Parallel()
	data := bytes.Repeat([]byte("x"), 100)
	r := NewReader(context.Background(), bytes.NewReader(data), New(10))

	buf := make([]byte, 100)
	n, err := r.Read(buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if n != 10 {
		t.Errorf("Read returned %d bytes, want 10 (burst size)", n)
	}
}

func TestReader_RateLimiting(t *testing.T) {
	t.Parallel()
	// 2KB at 1KB/s with a 1KB bucket: the first KB is free, the second
	// has to wait roughly a second.
	data := bytes.Repeat([]byte("a"), 2048)
	r := NewReader(context.Background(), bytes.NewReader(data), New(1024))

	start := time.Now()
	n, err := io.Copy(io.Discard, r)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	if n != 2048 {
		t.Errorf("Copied %d bytes, want 2048", n)
	}
	if elapsed < 800*time.Millisecond {
		t.Errorf("Transfer too fast: %v, expected about 1s", elapsed)
	}
}

func TestReader_ContextCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	data := bytes.Repeat([]byte("a"), 4096)
	r := NewReader(ctx, bytes.NewReader(data), New(1024))

	buf := make([]byte, 1024)
	if _, err := r.Read(buf); err != nil {
		t.Fatalf("first Read failed: %v", err)
	}

	cancel()
	_, err := r.Read(buf)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Read after cancel = %v, want context.Canceled", err)
	}
}
