package queue

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestDrainer(t *testing.T, dir string, handler http.HandlerFunc) (*Drainer, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	cfg := DefaultDrainerConfig(srv.URL)
	cfg.RequestTimeout = 2 * time.Second
	d, err := NewDrainer(s, cfg, 2)
	if err != nil {
		t.Fatalf("NewDrainer: %v", err)
	}
	return d, func() { d.Close(); srv.Close() }
}

func TestDrainerDeletesOnSuccess(t *testing.T) {
	dir := t.TempDir()
	d, cleanup := newTestDrainer(t, dir, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	defer cleanup()

	if err := d.spool.Enqueue(CapturedBatch{ProjectID: "p"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	progressed := d.sweep(context.Background())
	if !progressed {
		t.Fatal("expected sweep to report progress")
	}
	names, _ := d.spool.pendingFiles()
	if len(names) != 0 {
		t.Errorf("expected spool drained, got %d pending", len(names))
	}
}

func TestDrainerLeavesFileOn5xx(t *testing.T) {
	dir := t.TempDir()
	d, cleanup := newTestDrainer(t, dir, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer cleanup()

	if err := d.spool.Enqueue(CapturedBatch{ProjectID: "p"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	progressed := d.sweep(context.Background())
	if progressed {
		t.Fatal("expected no progress on 5xx")
	}
	names, _ := d.spool.pendingFiles()
	if len(names) != 1 {
		t.Errorf("expected file to remain pending, got %d", len(names))
	}
}

func TestDrainerLeavesFileOn429(t *testing.T) {
	dir := t.TempDir()
	d, cleanup := newTestDrainer(t, dir, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	defer cleanup()

	if err := d.spool.Enqueue(CapturedBatch{ProjectID: "p"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	d.sweep(context.Background())
	names, _ := d.spool.pendingFiles()
	if len(names) != 1 {
		t.Errorf("expected file to remain pending after 429, got %d", len(names))
	}
}

func TestDrainerDeadLettersOnOther4xx(t *testing.T) {
	dir := t.TempDir()
	d, cleanup := newTestDrainer(t, dir, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	defer cleanup()

	if err := d.spool.Enqueue(CapturedBatch{ProjectID: "p"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	progressed := d.sweep(context.Background())
	if !progressed {
		t.Fatal("expected dead-lettering to count as progress")
	}
	names, _ := d.spool.pendingFiles()
	if len(names) != 0 {
		t.Errorf("expected pending dir empty, got %d", len(names))
	}
	dl, err := d.spool.pendingFilesIn(d.spool.deadLetterDir)
	if err != nil {
		t.Fatalf("pendingFilesIn: %v", err)
	}
	if len(dl) != 1 {
		t.Errorf("expected 1 dead-lettered file, got %d", len(dl))
	}
}

func TestDrainerStopsAtFirstRetryToPreserveFIFO(t *testing.T) {
	dir := t.TempDir()
	var calls atomic.Int32
	d, cleanup := newTestDrainer(t, dir, func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	defer cleanup()

	if err := d.spool.Enqueue(CapturedBatch{ProjectID: "p", SessionID: "first"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := d.spool.Enqueue(CapturedBatch{ProjectID: "p", SessionID: "second"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	d.sweep(context.Background())

	names, _ := d.spool.pendingFiles()
	if len(names) != 2 {
		t.Fatalf("expected both files still pending after a leading 5xx, got %d", len(names))
	}
}

func TestNotifyDoesNotBlock(t *testing.T) {
	dir := t.TempDir()
	d, cleanup := newTestDrainer(t, dir, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	defer cleanup()

	d.Notify()
	d.Notify() // second call must not block even though the channel is buffered(1)
}

func TestNextBackoff(t *testing.T) {
	got := nextBackoff(time.Second, 10*time.Second, 2.0)
	if got != 2*time.Second {
		t.Errorf("expected 2s, got %v", got)
	}
	capped := nextBackoff(8*time.Second, 10*time.Second, 2.0)
	if capped != 10*time.Second {
		t.Errorf("expected capped at 10s, got %v", capped)
	}
}
