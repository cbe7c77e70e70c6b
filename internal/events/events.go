// Package events implements the DOMAIN STACK event bus (SPEC_FULL.md
// §2/§4.4): a fan-out of stats/progress Events to pluggable Sinks, so
// external collaborators (an HTTP API, a GUI) can observe sync progress
// without reaching into core internals. Grounded on internal/notify's
// Dispatcher/Backend pattern, trimmed to the per-sink error-isolation
// shape since there is no webhook/retry concern here.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Kind enumerates the sync operations an Event reports on.
type Kind string

const (
	KindUpdated        Kind = "updated"
	KindStat           Kind = "stat"
	KindUploaded       Kind = "uploaded"
	KindDownloaded     Kind = "downloaded"
	KindUploadFailed   Kind = "upload_failed"
	KindDownloadFailed Kind = "download_failed"
)

// Event is published after update/stat/upload/download complete or fail.
type Event struct {
	VaultID       string `json:"vault_id"`
	BundleRelpath string `json:"bundle_relpath"`
	Kind          Kind   `json:"kind"`
	Bytes         int64  `json:"bytes,omitempty"`
	At            time.Time `json:"at"`
	Error         string `json:"error,omitempty"`
}

// Sink is one delivery backend for Events.
type Sink interface {
	Name() string
	Publish(ctx context.Context, payload []byte) error
	Close() error
}

// Dispatcher fans an Event out to every registered Sink, isolating each
// sink's failure from the others (mirrors notify.Dispatcher.Dispatch's
// per-backend publish loop). Absence of any configured sink makes
// publishing a no-op: the sync engine never blocks on event delivery.
type Dispatcher struct {
	mu    sync.Mutex
	sinks []Sink
}

// NewDispatcher builds an empty Dispatcher; sinks are added with AddSink.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// AddSink registers a Sink for future Publish calls.
func (d *Dispatcher) AddSink(s Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, s)
	slog.Info("event sink registered", "sink", s.Name())
}

// Publish marshals ev as JSON and publishes it to every registered sink,
// logging (not propagating) any individual sink's error.
func (d *Dispatcher) Publish(ctx context.Context, ev Event) {
	d.mu.Lock()
	sinks := make([]Sink, len(d.sinks))
	copy(sinks, d.sinks)
	d.mu.Unlock()

	if len(sinks) == 0 {
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Error("events: failed to marshal event", "error", err)
		return
	}

	for _, s := range sinks {
		if err := s.Publish(ctx, payload); err != nil {
			slog.Error("events: sink publish failed", "sink", s.Name(), "kind", ev.Kind, "error", err)
		}
	}
}

// Close shuts down every registered sink.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.sinks {
		s.Close()
	}
	d.sinks = nil
}
