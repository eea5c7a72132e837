package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/livinlefevreloca/dapsync/internal/db"
)

// ErrClosed is returned by Submit after Shutdown
var ErrClosed = errors.New("syncer: shut down")

// RecordWriter persists a batch of table records
type RecordWriter interface {
	UpsertTableRecords(ctx context.Context, recs []*db.TableRecord) error
}

// Syncer handles all state store writes in a background goroutine
type Syncer struct {
	// Configuration
	config Config
	logger *slog.Logger

	updates chan RecordUpdate

	// closed guards updates against sends after Shutdown
	mu     sync.RWMutex
	closed bool

	submitted atomic.Int64
	written   atomic.Int64
	failed    atomic.Int64
	batches   atomic.Int64

	wg sync.WaitGroup
}

// NewSyncer creates a new syncer with the specified configuration
func NewSyncer(config Config, logger *slog.Logger) (*Syncer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Syncer{
		config:  config,
		logger:  logger,
		updates: make(chan RecordUpdate, config.ChannelSize),
	}, nil
}

// Submit hands an update to the writer. It blocks until the update is
// accepted or ctx is done.
func (s *Syncer) Submit(ctx context.Context, update RecordUpdate) error {
	if update.At.IsZero() {
		update.At = time.Now().UTC()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	select {
	case s.updates <- update:
		s.submitted.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetStats returns current syncer statistics
func (s *Syncer) GetStats() Stats {
	return Stats{
		Submitted: s.submitted.Load(),
		Written:   s.written.Load(),
		Failed:    s.failed.Load(),
		Batches:   s.batches.Load(),
	}
}

// Start launches the background writer
func (s *Syncer) Start(writer RecordWriter) {
	s.wg.Add(1)
	go s.run(writer)
}

// run batches updates and writes them when the batch reaches the flush
// threshold or the flush interval elapses
func (s *Syncer) run(writer RecordWriter) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]RecordUpdate, 0, s.config.FlushThreshold)
	for {
		select {
		case update, ok := <-s.updates:
			if !ok {
				s.flush(writer, batch)
				s.logger.Debug("record syncer shut down")
				return
			}
			batch = append(batch, update)
			if len(batch) >= s.config.FlushThreshold {
				batch = s.flush(writer, batch)
			}
		case <-ticker.C:
			batch = s.flush(writer, batch)
		}
	}
}

func (s *Syncer) flush(writer RecordWriter, batch []RecordUpdate) []RecordUpdate {
	if len(batch) == 0 {
		return batch
	}

	rows := make([]*db.TableRecord, 0, len(batch))
	for _, u := range batch {
		rows = append(rows, u.toRow())
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.WriteTimeout)
	defer cancel()

	s.batches.Add(1)
	if err := writer.UpsertTableRecords(ctx, rows); err != nil {
		s.failed.Add(int64(len(rows)))
		s.logger.Error("failed to write table records",
			"count", len(rows),
			"cycle_id", batch[0].CycleID,
			"error", err)
	} else {
		s.written.Add(int64(len(rows)))
		s.logger.Debug("wrote table records", "count", len(rows))
	}

	return batch[:0]
}

// Shutdown performs graceful shutdown ensuring all submitted records are
// written
func (s *Syncer) Shutdown() error {
	s.logger.Info("starting syncer shutdown")

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	// The writer drains what is buffered and exits once the channel is empty
	close(s.updates)
	s.mu.Unlock()

	s.wg.Wait()

	stats := s.GetStats()
	s.logger.Info("syncer shutdown complete",
		"written", stats.Written,
		"failed", stats.Failed)
	return nil
}
