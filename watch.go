// watch.go: Polling watcher that rebuilds the registry when it goes stale
//
// Each poll runs the loader's freshness check. In development mode that
// covers critical files and the handler tree; in production only a missing,
// corrupt or outdated document triggers a rebuild.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package janus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-errors"
)

// DefaultPollInterval is how often a Watcher checks the registry.
const DefaultPollInterval = 2 * time.Second

// RebuildCallback receives the registry produced by a rebuild.
type RebuildCallback func(reg *Registry, status LoadStatus)

// WatchErrorHandler receives check and rebuild failures. The watcher keeps
// polling after an error.
type WatchErrorHandler func(err error)

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithPollInterval sets the poll interval. Non-positive values keep the default.
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// OnRebuild adds a rebuild callback. Callbacks run on the polling goroutine
// in registration order.
func OnRebuild(cb RebuildCallback) WatcherOption {
	return func(w *Watcher) { w.callbacks = append(w.callbacks, cb) }
}

// WithWatchErrorHandler sets the error handler. The default logs at error level.
func WithWatchErrorHandler(h WatchErrorHandler) WatcherOption {
	return func(w *Watcher) { w.onError = h }
}

// Watcher polls a Loader and rebuilds the registry when it is stale.
type Watcher struct {
	loader    *Loader
	interval  time.Duration
	callbacks []RebuildCallback
	onError   WatchErrorHandler
	logger    *slog.Logger

	mu        sync.Mutex
	running   atomic.Bool
	stopCh    chan struct{}
	stoppedCh chan struct{}

	polls    atomic.Uint64
	rebuilds atomic.Uint64
}

// NewWatcher creates a stopped watcher over loader.
func NewWatcher(loader *Loader, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		loader:   loader,
		interval: DefaultPollInterval,
		logger:   loader.logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.onError == nil {
		w.onError = func(err error) {
			w.logger.Error("registry watch failed", "error", err)
		}
	}
	return w
}

// Start begins polling until Stop is called or ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running.Load() {
		w.mu.Unlock()
		return errors.New(ErrCodeWatcherBusy, "watcher is already running")
	}
	w.stopCh = make(chan struct{})
	w.stoppedCh = make(chan struct{})
	stop, stopped := w.stopCh, w.stoppedCh
	w.running.Store(true)
	w.mu.Unlock()

	go w.loop(ctx, stop, stopped)
	return nil
}

// Stop ends polling and waits for an in-flight poll to finish. A watcher
// whose context was cancelled is already stopped.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running.Load() {
		w.mu.Unlock()
		return errors.New(ErrCodeWatcherStopped, "watcher is not running")
	}
	w.running.Store(false)
	stop, stopped := w.stopCh, w.stoppedCh
	w.mu.Unlock()

	close(stop)
	<-stopped
	return nil
}

// IsRunning reports whether Start has been called without a matching Stop.
func (w *Watcher) IsRunning() bool { return w.running.Load() }

// Polls returns how many checks have run.
func (w *Watcher) Polls() uint64 { return w.polls.Load() }

// Rebuilds returns how many checks led to a rebuild.
func (w *Watcher) Rebuilds() uint64 { return w.rebuilds.Load() }

func (w *Watcher) loop(ctx context.Context, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	defer func() {
		// Only the current run may clear the flag; a restarted watcher owns a new stop channel.
		w.mu.Lock()
		if w.stopCh == stop {
			w.running.Store(false)
		}
		w.mu.Unlock()
	}()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if _, err := w.Poll(ctx); err != nil && !isContextErr(err) {
				w.onError(err)
			}
		}
	}
}

// Poll runs one check and rebuilds when the document is not accepted.
// It reports whether a rebuild happened.
func (w *Watcher) Poll(ctx context.Context) (bool, error) {
	w.polls.Add(1)

	st, err := w.loader.Check(ctx)
	if err != nil {
		return false, err
	}
	if st.Fresh() {
		return false, nil
	}

	w.logger.Info("registry stale, rebuilding", "reason", string(st.Reason), "path", st.Path)
	reg, err := w.loader.Load(ctx)
	if err != nil {
		return false, err
	}
	w.rebuilds.Add(1)

	status := w.loader.Status()
	for _, cb := range w.callbacks {
		cb(reg, status)
	}
	return true, nil
}
