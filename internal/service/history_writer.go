package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JaysonAlbert/log-search-mcp/internal/domain"
	"github.com/JaysonAlbert/log-search-mcp/internal/repository"
)

// HistoryWriter 异步批量写入搜索历史，避免阻塞搜索路径
type HistoryWriter struct {
	repo          repository.HistoryRepoIface
	ch            chan domain.SearchHistory
	stop          chan struct{}
	flushInterval time.Duration
	batchSize     int
	log           *zap.Logger
	dropped       atomic.Int64
	wg            sync.WaitGroup
	closeOnce     sync.Once
}

func NewHistoryWriter(repo repository.HistoryRepoIface, flushSec int, batchSize int, log *zap.Logger) *HistoryWriter {
	if flushSec <= 0 {
		flushSec = 2
	}
	if batchSize <= 0 {
		batchSize = 20
	}
	if log == nil {
		log = zap.NewNop()
	}
	hw := &HistoryWriter{
		repo:          repo,
		ch:            make(chan domain.SearchHistory, batchSize*4),
		stop:          make(chan struct{}),
		flushInterval: time.Duration(flushSec) * time.Second,
		batchSize:     batchSize,
		log:           log,
	}
	hw.wg.Add(1)
	go hw.loop()
	return hw
}

func (w *HistoryWriter) loop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()
	batch := make([]domain.SearchHistory, 0, w.batchSize)
	flush := func() {
		if err := w.repo.InsertBatch(batch); err != nil {
			w.log.Warn("history flush failed", zap.Int("rows", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}
	for {
		select {
		case h := <-w.ch:
			batch = append(batch, h)
			if len(batch) >= w.batchSize {
				flush()
			}
		case <-ticker.C:
			if len(batch) > 0 {
				flush()
			}
		case <-w.stop:
			for len(w.ch) > 0 {
				batch = append(batch, <-w.ch)
			}
			if len(batch) > 0 {
				flush()
			}
			return
		}
	}
}

// Write queues h; when the queue is full the row is dropped.
func (w *HistoryWriter) Write(h domain.SearchHistory) {
	select {
	case <-w.stop:
		w.dropped.Add(1)
		return
	default:
	}
	select {
	case w.ch <- h:
	default:
		w.dropped.Add(1)
	}
}

func (w *HistoryWriter) Dropped() int64 { return w.dropped.Load() }

// Close flushes queued rows and stops the writer. Safe to call more than once.
func (w *HistoryWriter) Close() {
	w.closeOnce.Do(func() {
		close(w.stop)
		w.wg.Wait()
		if n := w.dropped.Load(); n > 0 {
			w.log.Warn("history rows dropped", zap.Int64("count", n))
		}
	})
}

// RunCleanup trims history on start and then every interval until ctx ends.
func RunCleanup(ctx context.Context, repo repository.HistoryRepoIface, retentionDays, maxRows int, interval time.Duration, log *zap.Logger) {
	if retentionDays <= 0 && maxRows <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := repo.Cleanup(retentionDays, maxRows); err != nil {
			log.Warn("history cleanup failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
