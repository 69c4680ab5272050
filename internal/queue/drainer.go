package queue

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/kart-io/logger"

	"github.com/kart-io/memoryd/pkg/infra/pool"
	"github.com/kart-io/memoryd/pkg/utils/httpclient"
)

// DrainerConfig controls the single background worker that drains a Spool
// against the ingest endpoint.
type DrainerConfig struct {
	// IngestURL is the local HTTP ingest endpoint items are POSTed to.
	IngestURL string
	// RequestTimeout bounds each POST.
	RequestTimeout time.Duration
	// InitialBackoff/MaxBackoff/BackoffMultiplier govern the delay between
	// sweeps after a sweep makes no progress (network down or every item
	// hit a 5xx/429). A sweep that ingests or dead-letters at least one
	// item resets the backoff.
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultDrainerConfig mirrors the gateway's retry shape (spec.md §4.1) since
// both are "keep trying a flaky downstream, back off exponentially" loops.
func DefaultDrainerConfig(ingestURL string) *DrainerConfig {
	return &DrainerConfig{
		IngestURL:         ingestURL,
		RequestTimeout:    10 * time.Second,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        60 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Drainer is the single FIFO worker draining a Spool. It wakes on fsnotify
// events for new spool files (the teacher's pkg/infra/config.Watcher uses
// fsnotify the same way, via viper, to wake on config changes — here it
// watches the spool directory directly instead) and also sweeps periodically
// so it recovers from missed events or files left over from a previous run.
type Drainer struct {
	spool  *Spool
	cfg    *DrainerConfig
	client *httpclient.Client
	pool   *pool.Pool

	wake chan struct{}

	closeOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewDrainer builds a Drainer over spool. The worker pool caps concurrent
// in-flight POSTs at capacity (the same per-subsystem bounded-pool idiom C1
// uses for provider calls — see internal/gateway.Gateway).
func NewDrainer(spool *Spool, cfg *DrainerConfig, capacity int) (*Drainer, error) {
	if cfg == nil {
		cfg = DefaultDrainerConfig("")
	}
	p, err := pool.NewPool("capture-queue-drainer", &pool.PoolConfig{
		Capacity:       capacity,
		ExpiryDuration: 30 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return &Drainer{
		spool:  spool,
		cfg:    cfg,
		client: httpclient.NewClient(cfg.RequestTimeout, 0), // queue owns its own retry/backoff loop
		pool:   p,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}, nil
}

// Notify wakes the drainer immediately instead of waiting for the next
// periodic sweep or fsnotify event; Enqueue callers may use this for
// lower-latency delivery when the ingest endpoint is known to be up.
func (d *Drainer) Notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run starts the watch+sweep loop and blocks until ctx is cancelled or Close
// is called. Intended to be run in its own goroutine by the caller.
func (d *Drainer) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	defer close(d.done)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warnw("capture queue: fsnotify unavailable, falling back to periodic sweep only", "error", err.Error())
		watcher = nil
	} else {
		defer func() { _ = watcher.Close() }()
		if err := watcher.Add(d.spool.Dir()); err != nil {
			logger.Warnw("capture queue: failed to watch spool directory", "dir", d.spool.Dir(), "error", err.Error())
		}
	}

	backoff := d.cfg.InitialBackoff
	timer := time.NewTimer(backoff)
	defer timer.Stop()

	var events <-chan fsnotify.Event
	if watcher != nil {
		events = watcher.Events
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.wake:
		case <-events:
		case <-timer.C:
		}

		progressed := d.sweep(ctx)
		if progressed {
			backoff = d.cfg.InitialBackoff
		} else {
			backoff = nextBackoff(backoff, d.cfg.MaxBackoff, d.cfg.BackoffMultiplier)
		}
		timer.Reset(backoff)
	}
}

// Close stops the drainer's Run loop (if started) and releases its worker
// pool. Safe to call multiple times.
func (d *Drainer) Close() {
	d.closeOnce.Do(func() {
		if d.cancel != nil {
			d.cancel()
			<-d.done
		}
		d.pool.Release()
	})
}

// sweep drains every currently-pending file in FIFO order, one at a time
// (ordering is FIFO across the sweep; individual POSTs are fanned out
// through the pool but awaited before moving to the next file, since a
// later turn in the same conversation must never be ingested before an
// earlier one). It reports whether at least one item was successfully
// ingested or dead-lettered.
func (d *Drainer) sweep(ctx context.Context) bool {
	names, err := d.spool.pendingFiles()
	if err != nil {
		logger.Warnw("capture queue: failed to list spool directory", "error", err.Error())
		return false
	}

	progressed := false
	for _, name := range names {
		if ctx.Err() != nil {
			return progressed
		}
		switch d.drainOne(ctx, name) {
		case outcomeIngested, outcomeDeadLettered:
			progressed = true
		case outcomeRetry:
			// Leave the file; a later turn behind it must still wait its
			// FIFO turn, so stop this sweep rather than skip ahead.
			return progressed
		}
	}
	return progressed
}

type drainOutcome int

const (
	outcomeRetry drainOutcome = iota
	outcomeIngested
	outcomeDeadLettered
)

// drainOne POSTs a single spool file to the ingest endpoint and applies the
// spec.md §4.4 disposition rules: 2xx deletes, network/5xx/429 leaves the
// file for a later sweep, any other 4xx moves it to the dead-letter
// subdirectory.
func (d *Drainer) drainOne(ctx context.Context, name string) drainOutcome {
	path := filepath.Join(d.spool.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warnw("capture queue: failed to read spool file", "file", name, "error", err.Error())
		return outcomeRetry
	}

	resultCh := make(chan drainOutcome, 1)
	err = d.pool.SubmitWithContext(ctx, func() {
		resultCh <- d.post(ctx, data, name)
	})
	if err != nil {
		// Pool saturated or closing; leave the file for the next sweep.
		return outcomeRetry
	}

	var result drainOutcome
	select {
	case result = <-resultCh:
	case <-ctx.Done():
		return outcomeRetry
	}

	switch result {
	case outcomeIngested:
		if err := d.spool.remove(name); err != nil {
			logger.Warnw("capture queue: failed to remove ingested spool file", "file", name, "error", err.Error())
		}
	case outcomeDeadLettered:
		if err := d.spool.moveToDeadLetter(name); err != nil {
			logger.Warnw("capture queue: failed to move spool file to dead-letter", "file", name, "error", err.Error())
		}
	}
	return result
}

func (d *Drainer) post(ctx context.Context, body []byte, name string) drainOutcome {
	reqCtx, cancel := context.WithTimeout(ctx, d.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, d.cfg.IngestURL, bytes.NewReader(body))
	if err != nil {
		logger.Errorw("capture queue: failed to build ingest request", "file", name, "error", err.Error())
		return outcomeRetry
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.DoRequest(req)
	if err != nil {
		// Network error, or 5xx exhausted the client's own retry budget.
		return outcomeRetry
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return outcomeIngested
	case resp.StatusCode == http.StatusTooManyRequests:
		return outcomeRetry
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		logger.Warnw("capture queue: ingest endpoint rejected item, moving to dead-letter",
			"file", name, "status", resp.StatusCode)
		return outcomeDeadLettered
	default:
		return outcomeRetry
	}
}

func nextBackoff(current, max time.Duration, multiplier float64) time.Duration {
	next := time.Duration(float64(current) * multiplier)
	if next > max {
		return max
	}
	if next <= 0 {
		return max
	}
	return next
}
