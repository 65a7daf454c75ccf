// Package queue implements the two bounded background writers that
// keep match serving off the database's critical path: an in-process
// match-log batcher and a Redis-backed enrollment drain.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/buildbarn/eyed-registry/pkg/store"
)

// MatchLogStore is the subset of *store.Store that MatchLogWriter
// depends on, narrowed to an interface so tests can supply a mock.
type MatchLogStore interface {
	AppendMatchLog(ctx context.Context, entries []store.MatchLogEntry) error
}

// MatchLogWriter batches match audit log entries and flushes them to
// the store in the background. Logging is non-blocking and lossy: a
// full queue drops new entries rather than applying backpressure to
// the matching hot path.
type MatchLogWriter struct {
	store    MatchLogStore
	log      *logrus.Entry
	batchMax int

	entries chan store.MatchLogEntry
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewMatchLogWriter constructs a writer with the given queue capacity
// and maximum batch size per flush.
func NewMatchLogWriter(s MatchLogStore, log *logrus.Entry, capacity, batchMax int) *MatchLogWriter {
	return &MatchLogWriter{
		store:    s,
		log:      log,
		batchMax: batchMax,
		entries:  make(chan store.MatchLogEntry, capacity),
		done:     make(chan struct{}),
	}
}

// Start launches the background drain loop.
func (w *MatchLogWriter) Start() {
	w.wg.Add(1)
	go w.drainLoop()
}

// Stop signals the drain loop to exit and flushes anything still
// queued before returning.
func (w *MatchLogWriter) Stop() {
	close(w.done)
	w.wg.Wait()
}

// Log enqueues an entry without blocking. If the queue is full the
// entry is dropped and a warning is logged.
func (w *MatchLogWriter) Log(entry store.MatchLogEntry) {
	select {
	case w.entries <- entry:
	default:
		w.log.Warn("match log queue full, dropping entry")
	}
}

func (w *MatchLogWriter) drainLoop() {
	defer w.wg.Done()
	for {
		select {
		case entry := <-w.entries:
			batch := []store.MatchLogEntry{entry}
			batch = w.drainAvailable(batch)
			w.flush(batch)
		case <-w.done:
			for {
				batch := w.drainAvailable(nil)
				if len(batch) == 0 {
					return
				}
				w.flush(batch)
			}
		}
	}
}

// drainAvailable greedily collects any entries already queued, up to
// batchMax total, without blocking.
func (w *MatchLogWriter) drainAvailable(batch []store.MatchLogEntry) []store.MatchLogEntry {
	for len(batch) < w.batchMax {
		select {
		case entry := <-w.entries:
			batch = append(batch, entry)
		default:
			return batch
		}
	}
	return batch
}

func (w *MatchLogWriter) flush(batch []store.MatchLogEntry) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.store.AppendMatchLog(ctx, batch); err != nil {
		w.log.WithError(err).WithField("count", len(batch)).Error("failed to batch-insert match log entries")
	}
}
