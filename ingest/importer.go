// Package ingest bulk-loads message batches into a chat repository.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/chatkeep/core"
	"github.com/poiesic/chatkeep/metrics"
	"github.com/poiesic/chatkeep/retry"
	"github.com/poiesic/chatkeep/storage"
)

// Importer stores message batches concurrently on a worker pool.
// Batches of the same room may be stored in any order: messages are keyed by
// timestamp and the room meta only moves forward, so the outcome is the same.
type Importer struct {
	chatRepository storage.ChatRepository
	pool           *ants.Pool
	maxAttempts    int
	retryDelay     time.Duration
	progress       io.Writer
	reportInterval int
	logger         *slog.Logger
}

// Option configures an Importer.
type Option func(*Importer) error

// WithPoolSize sets the number of batches stored concurrently.
// Default is runtime.NumCPU(), with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(im *Importer) error {
		if size < 1 {
			size = 1
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		if im.pool != nil {
			im.pool.Release()
		}
		im.pool = pool
		return nil
	}
}

// WithRetry sets how many times a batch is attempted when the store fails,
// and the base delay of the exponential backoff between attempts.
// Default is 3 attempts starting at 100ms.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(im *Importer) error {
		if maxAttempts < 1 {
			return retry.ErrInvalidMaxAttempts
		}
		im.maxAttempts = maxAttempts
		im.retryDelay = baseDelay
		return nil
	}
}

// WithProgress writes progress to w every reportInterval messages.
func WithProgress(w io.Writer, reportInterval int) Option {
	return func(im *Importer) error {
		im.progress = w
		im.reportInterval = reportInterval
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(im *Importer) error {
		if logger == nil {
			logger = slog.Default()
		}
		im.logger = logger
		return nil
	}
}

// NewImporter creates an importer writing through chatRepository.
// Call Release when done.
func NewImporter(chatRepository storage.ChatRepository, opts ...Option) (*Importer, error) {
	if chatRepository == nil {
		return nil, ErrChatRepositoryRequired
	}

	pool, err := ants.NewPool(max(runtime.NumCPU(), 1))
	if err != nil {
		return nil, err
	}

	im := &Importer{
		chatRepository: chatRepository,
		pool:           pool,
		maxAttempts:    3,
		retryDelay:     100 * time.Millisecond,
		reportInterval: 1000,
		logger:         slog.Default(),
	}

	// Apply options (may override defaults)
	for _, opt := range opts {
		if optErr := opt(im); optErr != nil {
			im.Release()
			return nil, optErr
		}
	}
	return im, nil
}

// Release frees the worker pool.
func (im *Importer) Release() {
	if im.pool != nil {
		im.pool.Release()
	}
}

// Result summarizes an import.
type Result struct {
	Batches        int
	Messages       int
	FailedBatches  int
	FailedMessages int
	Elapsed        time.Duration
}

// ImportFile imports a JSON-lines file of message batches.
func (im *Importer) ImportFile(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return im.ImportReader(ctx, f)
}

// ImportReader reads every batch from r and imports them. Nothing is stored
// if r holds a malformed line.
func (im *Importer) ImportReader(ctx context.Context, r io.Reader) (*Result, error) {
	var batches []core.MessageBatch
	for batch, err := range ReadBatches(r) {
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return im.Import(ctx, batches)
}

// Import stores batches on the worker pool. A batch that keeps failing is
// counted and logged, and the remaining batches are still imported; the
// returned error then wraps ErrImportIncomplete and the batch errors.
func (im *Importer) Import(ctx context.Context, batches []core.MessageBatch) (*Result, error) {
	total := 0
	for _, b := range batches {
		total += len(b.Messages)
	}

	tracker := NewProgressTracker(im.progress, total, im.reportInterval)
	tracker.Start()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		errs   []error
		failed int
	)
	for i := range batches {
		batch := batches[i]
		wg.Add(1)
		err := im.pool.Submit(func() {
			defer wg.Done()
			if err := im.store(ctx, batch); err != nil {
				im.logger.Error("failed to import batch", "room", batch.ChatRoomID,
					"messages", len(batch.Messages), "err", err)
				metrics.ImportBatches.WithLabelValues("failed").Inc()
				tracker.Failed(len(batch.Messages))
				mu.Lock()
				failed++
				errs = append(errs, fmt.Errorf("room %d: %w", batch.ChatRoomID, err))
				mu.Unlock()
				return
			}
			metrics.ImportBatches.WithLabelValues("ok").Inc()
			metrics.MessagesAdded.Add(float64(len(batch.Messages)))
			tracker.Done(len(batch.Messages))
		})
		if err != nil {
			wg.Done()
			wg.Wait()
			return nil, err
		}
	}
	wg.Wait()
	if im.progress != nil {
		tracker.Finish()
	}

	done, failedMessages := tracker.Counts()
	result := &Result{
		Batches:        len(batches) - failed,
		Messages:       done,
		FailedBatches:  failed,
		FailedMessages: failedMessages,
		Elapsed:        tracker.Elapsed(),
	}
	im.logger.Info("import finished", "batches", result.Batches, "messages", result.Messages,
		"failedBatches", result.FailedBatches, "elapsed", result.Elapsed)

	if failed > 0 {
		return result, fmt.Errorf("%w: %d of %d batches failed: %w",
			ErrImportIncomplete, failed, len(batches), errors.Join(errs...))
	}
	return result, nil
}

// store adds one batch, retrying storage failures. Invalid batches are not retried.
func (im *Importer) store(ctx context.Context, batch core.MessageBatch) error {
	return retry.WithBackoff(ctx, func() error {
		return im.chatRepository.AddMessages(ctx, batch.ChatRoomID, batch.Messages)
	}, im.maxAttempts, im.retryDelay, storage.IsStorageError)
}
