package rewind

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

type (
	// Archiver persists Frames that have left the History, for replay or
	// inspection outside the process. Frames are immutable and may be read
	// from any goroutine
	Archiver interface {
		Archive(context.Context, *ArchiveBatch) error
	}

	// ArchiveReason explains why a batch of Frames left the History
	ArchiveReason string

	// ArchiveBatch is a run of Frames removed together, oldest first
	ArchiveBatch struct {
		Reason ArchiveReason
		Frames []*Frame
	}

	// ArchiveWorker hands batches to an Archiver on background goroutines
	// so that the tick driver never waits on storage
	ArchiveWorker struct {
		archiver Archiver
		log      *zap.Logger
		metrics  *Metrics
		queue    chan *ArchiveBatch
		timeout  time.Duration
		wg       sync.WaitGroup
		mu       sync.RWMutex
		closed   bool
	}
)

const (
	ReasonExpired   ArchiveReason = "expired"
	ReasonDiscarded ArchiveReason = "discarded"
	ReasonReset     ArchiveReason = "reset"
)

// ErrArchiveClosed is returned by backends used after Close
var ErrArchiveClosed = errors.New("archive closed")

// NewArchiveWorker starts the configured number of goroutines feeding the
// Archiver
func NewArchiveWorker(a Archiver, cfg Config) *ArchiveWorker {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	aw := &ArchiveWorker{
		archiver: a,
		log:      log,
		metrics:  cfg.Metrics,
		queue:    make(chan *ArchiveBatch, cfg.ArchiveQueueSize),
		timeout:  cfg.ArchiveTimeout,
	}

	for i := range max(cfg.ArchiveWorkers, 1) {
		aw.wg.Add(1)
		go aw.worker(i)
	}
	return aw
}

// Enqueue offers a batch without blocking. It reports false if the batch
// was dropped because the queue is full or the worker has stopped
func (aw *ArchiveWorker) Enqueue(batch *ArchiveBatch) bool {
	if len(batch.Frames) == 0 {
		return true
	}

	aw.mu.RLock()
	defer aw.mu.RUnlock()
	if aw.closed {
		return false
	}

	select {
	case aw.queue <- batch:
		return true
	default:
		aw.log.Warn("archive queue full, dropping frames",
			zap.String("reason", string(batch.Reason)),
			zap.Int("frames", len(batch.Frames)),
			zap.Int("queue_size", len(aw.queue)),
		)
		aw.metrics.archiveDropped(len(batch.Frames))
		return false
	}
}

// Stop refuses new batches, waits for queued ones to be archived, and
// returns once every goroutine has exited
func (aw *ArchiveWorker) Stop() {
	aw.mu.Lock()
	if aw.closed {
		aw.mu.Unlock()
		return
	}
	aw.closed = true
	close(aw.queue)
	aw.mu.Unlock()
	aw.wg.Wait()
}

func (aw *ArchiveWorker) worker(id int) {
	defer aw.wg.Done()
	for batch := range aw.queue {
		aw.save(id, batch)
	}
}

func (aw *ArchiveWorker) save(workerID int, batch *ArchiveBatch) {
	ctx := context.Background()
	if aw.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, aw.timeout)
		defer cancel()
	}

	start := time.Now()
	err := aw.archiver.Archive(ctx, batch)
	duration := time.Since(start)

	if err != nil {
		aw.log.Error("failed to archive frames",
			zap.Int("worker_id", workerID),
			zap.String("reason", string(batch.Reason)),
			zap.Int("frames", len(batch.Frames)),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return
	}

	aw.log.Debug("frames archived",
		zap.Int("worker_id", workerID),
		zap.String("reason", string(batch.Reason)),
		zap.Int("frames", len(batch.Frames)),
		zap.Duration("duration", duration),
	)
}
