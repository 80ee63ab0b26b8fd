package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaysonAlbert/log-search-mcp/internal/domain"
)

// fakeHistoryRepo records what reaches the store.
type fakeHistoryRepo struct {
	mu       sync.Mutex
	rows     []domain.SearchHistory
	batches  int
	cleanups int
	failNext bool
}

func (f *fakeHistoryRepo) InsertBatch(list []domain.SearchHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errors.New("disk full")
	}
	f.batches++
	f.rows = append(f.rows, list...)
	return nil
}

func (f *fakeHistoryRepo) ListRecent(int) ([]domain.SearchHistory, error) { return nil, nil }
func (f *fakeHistoryRepo) ListFiltered(int, string, string) ([]domain.SearchHistory, error) {
	return nil, nil
}

func (f *fakeHistoryRepo) Cleanup(int, int) error {
	f.mu.Lock()
	f.cleanups++
	f.mu.Unlock()
	return nil
}

func (f *fakeHistoryRepo) EnsureSchema() error { return nil }

func (f *fakeHistoryRepo) snapshot() (rows, batches, cleanups int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows), f.batches, f.cleanups
}

func TestHistoryWriter_BatchesBySize(t *testing.T) {
	repo := &fakeHistoryRepo{}
	w := NewHistoryWriter(repo, 60, 3, nil)
	for i := 0; i < 6; i++ {
		w.Write(domain.SearchHistory{Server: "s"})
	}
	require.Eventually(t, func() bool {
		rows, _, _ := repo.snapshot()
		return rows == 6
	}, 2*time.Second, 10*time.Millisecond)
	_, batches, _ := repo.snapshot()
	assert.Equal(t, 2, batches)
	w.Close()
}

func TestHistoryWriter_CloseFlushesAndDropsLateWrites(t *testing.T) {
	repo := &fakeHistoryRepo{}
	w := NewHistoryWriter(repo, 60, 50, nil)
	w.Write(domain.SearchHistory{Server: "a"})
	w.Write(domain.SearchHistory{Server: "b"})
	w.Close()
	rows, _, _ := repo.snapshot()
	require.EqualValues(t, 2, rows, "rows flushed on close")
	w.Write(domain.SearchHistory{Server: "late"})
	require.EqualValues(t, 1, w.Dropped(), "late write is dropped")
	w.Close()
}

func TestHistoryWriter_FailedFlushDoesNotStopWriter(t *testing.T) {
	repo := &fakeHistoryRepo{failNext: true}
	w := NewHistoryWriter(repo, 60, 1, nil)
	w.Write(domain.SearchHistory{Server: "lost"})
	time.Sleep(100 * time.Millisecond)
	w.Write(domain.SearchHistory{Server: "kept"})
	w.Close()
	rows, _, _ := repo.snapshot()
	assert.Equal(t, 1, rows, "only the row after the failed flush is stored")
}

func TestRunCleanup(t *testing.T) {
	repo := &fakeHistoryRepo{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunCleanup(ctx, repo, 7, 0, 20*time.Millisecond, nil)
		close(done)
	}()
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done
	_, _, n := repo.snapshot()
	assert.GreaterOrEqual(t, n, 2, "cleanup repeats on the interval")

	// nothing to enforce: returns immediately
	RunCleanup(context.Background(), repo, 0, 0, time.Millisecond, nil)
}
