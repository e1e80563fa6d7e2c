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

	var nilLimiter *Limiter
	if nilLimiter.Rate() != 0 {
		t.Error("nil limiter should report rate 0")
	}
	if err := nilLimiter.Wait(context.Background(), 1<<30); err != nil {
		t.Errorf("nil limiter Wait: %v", err)
	}
}

func TestPassthrough(t *testing.T) {
	r := bytes.NewReader([]byte("test data"))
	if got := NewReader(context.Background(), r); got != io.Reader(r) {
		t.Error("NewReader without limiters should return the original reader")
	}
	if got := NewReader(context.Background(), r, nil, nil); got != io.Reader(r) {
		t.Error("NewReader with nil limiters should return the original reader")
	}

	var buf bytes.Buffer
	if got := NewWriter(context.Background(), &buf, nil); got != io.Writer(&buf) {
		t.Error("NewWriter with a nil limiter should return the original writer")
	}
}

func TestReader_Throttles(t *testing.T) {
	data := make([]byte, 20*1024)
	for i := range data {
		data[i] = byte(i % 256)
	}

	// The first 10KB ride the burst, the rest takes about a second.
	reader := NewReader(context.Background(), bytes.NewReader(data), New(10*1024))

	start := time.Now()
	result, err := io.ReadAll(reader)
	duration := time.Since(start)

	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(data, result) {
		t.Error("Data mismatch after rate-limited read")
	}
	if duration < 800*time.Millisecond {
		t.Errorf("Read completed too quickly (%v), rate limiting may not be working", duration)
	}
	if duration > 3*time.Second {
		t.Errorf("Read took too long (%v)", duration)
	}
}

func TestWriter_LowestRateWins(t *testing.T) {
	data := make([]byte, 3*chunk)
	for i := range data {
		data[i] = byte(i % 256)
	}

	// One chunk per second from the slower limiter: about two seconds.
	var buf bytes.Buffer
	writer := NewWriter(context.Background(), &buf, New(1<<30), New(chunk))

	start := time.Now()
	n, err := writer.Write(data)
	duration := time.Since(start)

	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if n != len(data) || !bytes.Equal(data, buf.Bytes()) {
		t.Errorf("wrote %d bytes, want %d", n, len(data))
	}
	if duration < 1500*time.Millisecond {
		t.Errorf("Write completed too quickly (%v), rate limiting may not be working", duration)
	}
	if duration > 3500*time.Millisecond {
		t.Errorf("Write took too long (%v)", duration)
	}
}

func TestWait_Cancelled(t *testing.T) {
	limiter := New(1)
	// The initial burst covers one byte.
	if err := limiter.Wait(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := limiter.Wait(ctx, 1)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait = %v, want DeadlineExceeded", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("Wait ignored the context")
	}

	// A cancelled writer stops and reports what it wrote.
	cancelled, stop := context.WithCancel(context.Background())
	stop()
	w := NewWriter(cancelled, io.Discard, limiter)
	if n, err := w.Write([]byte("xyz")); n != 0 || !errors.Is(err, context.Canceled) {
		t.Errorf("Write = (%d, %v), want (0, Canceled)", n, err)
	}
}

func BenchmarkWriter(b *testing.B) {
	w := NewWriter(context.Background(), io.Discard, New(1<<40))
	data := make([]byte, 32*1024)
	b.SetBytes(int64(len(data)))
	for n := 0; n < b.N; n++ {
		_, _ = w.Write(data)
	}
}
