// Package syncer buffers locally-collected readings and flushes them to a
// remote store on a timer, at-least-once.
package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"device-hub/internal/models"
)

var (
	flushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_flushes_total",
		Help: "Total sync flush attempts by result",
	}, []string{"result"})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sync_queue_depth",
		Help: "Entries waiting in the sync queue",
	})
)

// RemoteStore accepts a whole batch of queued entries. A returned error
// means nothing from the batch was committed; the queue is kept for retry.
type RemoteStore interface {
	WriteBatch(ctx context.Context, entries []models.SyncEntry) error
}

// Synchronizer is the outbound FIFO queue plus its flush timer.
type Synchronizer struct {
	// flushMu serializes whole flush cycles; mu only guards the queue.
	// Both the timer goroutine and the manual flush endpoint call Flush,
	// and two in-flight copies of the same batch must not both trim.
	flushMu sync.Mutex

	mu       sync.Mutex
	queue    []models.SyncEntry
	lastSync time.Time

	store RemoteStore
	log   *zap.Logger

	stop chan struct{}
	done chan struct{}
}

// New builds a stopped synchronizer; call Start to begin periodic flushing.
func New(store RemoteStore, log *zap.Logger) *Synchronizer {
	return &Synchronizer{store: store, log: log}
}

// Add appends an entry to the queue. No deduplication.
func (s *Synchronizer) Add(kind models.SyncEntryKind, payload any) {
	entry := models.SyncEntry{
		ID:         uuid.NewString(),
		Kind:       kind,
		Payload:    payload,
		EnqueuedAt: time.Now(),
	}
	s.mu.Lock()
	s.queue = append(s.queue, entry)
	queueDepth.Set(float64(len(s.queue)))
	s.mu.Unlock()
}

// Start launches the periodic flush loop. Calling Start on a running
// synchronizer reschedules it with the new interval.
func (s *Synchronizer) Start(interval time.Duration) {
	s.Stop()

	s.mu.Lock()
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stop, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				if err := s.Flush(ctx); err != nil {
					s.log.Warn("sync flush failed, keeping queue", zap.Error(err))
				}
				cancel()
			}
		}
	}()
}

// UpdateInterval cancels the current timer and reschedules.
func (s *Synchronizer) UpdateInterval(interval time.Duration) {
	s.Start(interval)
}

// Stop halts the flush loop and waits for it to exit. No-op when stopped.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Flush writes the whole queue as one batch. On success the flushed entries
// are removed and the sync timestamp recorded; on failure the queue is left
// intact. Entries added while the batch is in flight survive either way.
// Concurrent calls serialize: the second flush sees whatever the first left
// behind.
func (s *Synchronizer) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	batch := make([]models.SyncEntry, len(s.queue))
	copy(batch, s.queue)
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	if err := s.store.WriteBatch(ctx, batch); err != nil {
		flushes.WithLabelValues("failure").Inc()
		return err
	}

	s.mu.Lock()
	s.queue = s.queue[len(batch):]
	s.lastSync = time.Now()
	queueDepth.Set(float64(len(s.queue)))
	s.mu.Unlock()

	flushes.WithLabelValues("success").Inc()
	s.log.Info("sync flush complete", zap.Int("entries", len(batch)))
	return nil
}

// QueueSize returns the number of pending entries.
func (s *Synchronizer) QueueSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// LastSyncTime returns the time of the last successful flush, zero if none.
func (s *Synchronizer) LastSyncTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync
}

// Clear drops all pending entries.
func (s *Synchronizer) Clear() {
	s.mu.Lock()
	s.queue = nil
	queueDepth.Set(0)
	s.mu.Unlock()
}
