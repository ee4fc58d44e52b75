package runtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/haiha210/screenshot-service-be/internal/config"
	"github.com/haiha210/screenshot-service-be/internal/queue"
)

type countingHandler struct {
	handled atomic.Int64
	err     error
	block   chan struct{}
}

func (h *countingHandler) Handle(ctx context.Context, _ queue.Message) error {
	if h.block != nil {
		select {
		case <-h.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h.handled.Add(1)
	return h.err
}

func testConfig() config.Config {
	return config.Config{
		BatchSize:         2,
		VisibilityTimeout: time.Minute,
		ShutdownTimeout:   2 * time.Second,
		HealthPort:        0,
		MetricsPort:       0,
	}
}

func TestRunProcessesAndAcks(t *testing.T) {
	q := queue.NewMemory(2, time.Minute, 3)
	q.Enqueue(`{"requestId":"r1","url":"example.com"}`)
	q.Enqueue(`{"requestId":"r2","url":"example.com"}`)

	h := &countingHandler{}
	rt := New(testConfig(), q, h, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for h.handled.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("handled %d of 2 before timeout", h.handled.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if q.Depth() != 0 {
		t.Fatalf("messages left visible: %d", q.Depth())
	}
	if len(q.DeadLetters()) != 0 {
		t.Fatalf("unexpected dead letters")
	}
}

func TestRunLeavesFailedMessageForRedelivery(t *testing.T) {
	q := queue.NewMemory(1, 50*time.Millisecond, 3)
	q.Enqueue(`{"requestId":"r1","url":"example.com"}`)

	h := &countingHandler{err: errors.New("handler failed")}
	rt := New(testConfig(), q, h, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for h.handled.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected redelivery, handled %d", h.handled.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRunDrainsInflightOnShutdown(t *testing.T) {
	q := queue.NewMemory(1, time.Minute, 3)
	q.Enqueue(`{"requestId":"r1","url":"example.com"}`)

	h := &countingHandler{block: make(chan struct{})}
	rt := New(testConfig(), q, h, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	// wait for the handler to be in flight, then signal shutdown
	time.Sleep(50 * time.Millisecond)
	cancel()
	time.Sleep(50 * time.Millisecond)
	close(h.block)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not return after drain")
	}
	if h.handled.Load() != 1 {
		t.Fatalf("in-flight handler did not finish: %d", h.handled.Load())
	}
}

func TestRunShutdownDeadlineExceeded(t *testing.T) {
	q := queue.NewMemory(1, time.Minute, 3)
	q.Enqueue(`{"requestId":"r1","url":"example.com"}`)

	cfg := testConfig()
	cfg.ShutdownTimeout = 50 * time.Millisecond
	h := &countingHandler{block: make(chan struct{})} // never released
	rt := New(cfg, q, h, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected deadline error")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not return")
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := httptest.NewServer(healthHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	buf := make([]byte, 64)
	n, _ := resp.Body.Read(buf)
	if got := string(buf[:n]); got != `{"message":"ok"}` {
		t.Fatalf("body %q", got)
	}

	other, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("get other: %v", err)
	}
	other.Body.Close()
	if other.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown route, got %d", other.StatusCode)
	}
}
