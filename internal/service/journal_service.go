package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dockvault/dockpilot/internal/domain/journal"
)

// ErrJournalNotQueryable is returned by Query when the store cannot be read back.
var ErrJournalNotQueryable = errors.New("journal store does not support queries")

// JournalService writes decision records asynchronously through a buffered
// channel and a background worker, so journaling never blocks a decision.
type JournalService struct {
	store         journal.Store
	recordChan    chan journal.Record
	wg            sync.WaitGroup
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration

	channelSize int           // Track capacity for monitoring
	sendTimeout time.Duration // 0 = drop immediately, >0 = block up to this duration
	dropCount   atomic.Int64  // Lock-free drop counter

	warningThreshold int          // Percentage (0-100), e.g., 80
	lastWarning      atomic.Int64 // Rate-limit warning logs (Unix nanos)

	stopOnce sync.Once
}

// JournalOption configures JournalService.
type JournalOption func(*JournalService)

// WithBatchSize sets the number of records to batch before writing.
func WithBatchSize(size int) JournalOption {
	return func(s *JournalService) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithFlushInterval sets the interval to flush pending records.
func WithFlushInterval(interval time.Duration) JournalOption {
	return func(s *JournalService) {
		if interval > 0 {
			s.flushInterval = interval
		}
	}
}

// WithChannelSize sets the size of the record channel buffer.
func WithChannelSize(size int) JournalOption {
	return func(s *JournalService) {
		if size > 0 {
			s.recordChan = make(chan journal.Record, size)
			s.channelSize = size
		}
	}
}

// WithSendTimeout sets the backpressure timeout.
// 0 = drop immediately (no blocking), >0 = block up to this duration before dropping.
func WithSendTimeout(timeout time.Duration) JournalOption {
	return func(s *JournalService) {
		s.sendTimeout = timeout
	}
}

// WithWarningThreshold sets the channel depth warning percentage (0-100).
func WithWarningThreshold(percent int) JournalOption {
	return func(s *JournalService) {
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		s.warningThreshold = percent
	}
}

// NewJournalService creates a new JournalService with the given store and options.
func NewJournalService(store journal.Store, logger *slog.Logger, opts ...JournalOption) *JournalService {
	defaultChannelSize := 1000
	s := &JournalService{
		store:            store,
		recordChan:       make(chan journal.Record, defaultChannelSize),
		logger:           logger,
		batchSize:        100,
		flushInterval:    time.Second,
		channelSize:      defaultChannelSize,
		sendTimeout:      100 * time.Millisecond,
		warningThreshold: 80,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start begins the background worker that batches and writes records.
func (s *JournalService) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.worker(ctx)
}

// Record sends a journal record to the background worker.
// Applies backpressure: attempts a non-blocking send, then blocks up to
// sendTimeout. If the timeout expires the record is dropped and counted.
func (s *JournalService) Record(record journal.Record) {
	if s.warningThreshold > 0 {
		depth := len(s.recordChan)
		threshold := s.channelSize * s.warningThreshold / 100
		if depth >= threshold {
			s.warnChannelDepth(depth)
		}
	}

	select {
	case s.recordChan <- record:
		return
	default:
	}

	if s.sendTimeout <= 0 {
		s.recordDrop(record)
		return
	}

	timer := time.NewTimer(s.sendTimeout)
	defer timer.Stop()
	select {
	case s.recordChan <- record:
	case <-timer.C:
		s.recordDrop(record)
	}
}

func (s *JournalService) recordDrop(record journal.Record) {
	drops := s.dropCount.Add(1)
	s.logger.Warn("journal record dropped",
		"action_id", record.Action.ID,
		"verdict", record.Decision.Verdict,
		"total_drops", drops,
	)
}

// warnChannelDepth logs a capacity warning at most once per second.
func (s *JournalService) warnChannelDepth(depth int) {
	now := time.Now().UnixNano()
	last := s.lastWarning.Load()

	if now-last < int64(time.Second) {
		return
	}

	if s.lastWarning.CompareAndSwap(last, now) {
		s.logger.Warn("journal channel approaching capacity",
			"depth", depth,
			"capacity", s.channelSize,
			"percent", depth*100/s.channelSize,
		)
	}
}

// DroppedRecords returns total dropped records (for metrics/alerting).
func (s *JournalService) DroppedRecords() int64 {
	return s.dropCount.Load()
}

// ChannelDepth returns current channel usage (for monitoring).
func (s *JournalService) ChannelDepth() int {
	return len(s.recordChan)
}

// ChannelCapacity returns channel buffer size.
func (s *JournalService) ChannelCapacity() int {
	return s.channelSize
}

// Query reads records back from the store, newest first.
func (s *JournalService) Query(ctx context.Context, filter journal.Filter) ([]journal.Record, error) {
	qs, ok := s.store.(journal.QueryStore)
	if !ok {
		return nil, ErrJournalNotQueryable
	}
	return qs.Query(ctx, filter)
}

// Stop signals the worker to stop and waits for it to finish.
// Pending records are flushed before returning. Record must not be called
// after Stop.
func (s *JournalService) Stop() {
	s.stopOnce.Do(func() {
		close(s.recordChan)
	})
	s.wg.Wait()
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.Flush(flushCtx); err != nil {
		s.logger.Error("failed to flush journal store", "error", err)
	}
}

// worker is the background goroutine that collects and flushes records.
func (s *JournalService) worker(ctx context.Context) {
	defer s.wg.Done()

	batch := make([]journal.Record, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case record, ok := <-s.recordChan:
			if !ok {
				if len(batch) > 0 {
					flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
					s.flush(flushCtx, batch)
					flushCancel()
				}
				return
			}
			batch = append(batch, record)
			if len(batch) >= s.batchSize {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			// Drain whatever is buffered; Stop closes the channel.
			for record := range s.recordChan {
				batch = append(batch, record)
			}
			if len(batch) > 0 {
				flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
				s.flush(flushCtx, batch)
				flushCancel()
			}
			return
		}
	}
}

// flush writes a batch of records to the store.
// Errors are logged but not propagated; journaling never fails a decision.
func (s *JournalService) flush(ctx context.Context, batch []journal.Record) {
	if err := s.store.Append(ctx, batch...); err != nil {
		s.logger.Error("failed to write journal batch",
			"error", err,
			"count", len(batch),
		)
	}
}
