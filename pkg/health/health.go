// Package health exposes a small, atomically-updated readiness
// snapshot, grounded on original_source/health.py's get_health().
package health

import "sync"

// Status is a point-in-time readiness snapshot.
type Status struct {
	PipelineLoaded bool
	BusConnected   bool
	GallerySize    int
	StoreConnected bool
}

// Ready reports whether the service is ready to serve matching
// traffic: pipeline loaded and bus connected, mirroring
// get_health()'s ready = is_pipeline_loaded() and _nats_connected.
func (s Status) Ready() bool {
	return s.PipelineLoaded && s.BusConnected
}

// Tracker holds the current Status behind a mutex so readers never
// observe a torn update from a concurrent writer.
type Tracker struct {
	mu     sync.Mutex
	status Status
}

// NewTracker returns a Tracker seeded with the zero Status.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Snapshot returns the current Status.
func (t *Tracker) Snapshot() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// SetPipelineLoaded updates the pipeline-loaded flag.
func (t *Tracker) SetPipelineLoaded(loaded bool) {
	t.mu.Lock()
	t.status.PipelineLoaded = loaded
	t.mu.Unlock()
}

// SetBusConnected updates the change-bus connectivity flag.
func (t *Tracker) SetBusConnected(connected bool) {
	t.mu.Lock()
	t.status.BusConnected = connected
	t.mu.Unlock()
}

// SetGallerySize records the current gallery entry count.
func (t *Tracker) SetGallerySize(size int) {
	t.mu.Lock()
	t.status.GallerySize = size
	t.mu.Unlock()
}

// SetStoreConnected updates the durable store connectivity flag.
func (t *Tracker) SetStoreConnected(connected bool) {
	t.mu.Lock()
	t.status.StoreConnected = connected
	t.mu.Unlock()
}
