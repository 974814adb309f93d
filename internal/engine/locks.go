package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lifelog/lifelog/internal/models"
)

// seriesLocks hands out one exclusive lock per series id.
//
// Each lock is a buffered channel of capacity 1 so acquisition can be
// abandoned when the context ends or the timeout expires.
type seriesLocks struct {
	mu    sync.Mutex
	locks map[int64]chan struct{}
}

func newSeriesLocks() *seriesLocks {
	return &seriesLocks{locks: make(map[int64]chan struct{})}
}

func (l *seriesLocks) get(id int64) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[id] = ch
	}
	return ch
}

// acquire locks every id in order. ids must be sorted ascending so that
// concurrent callers cannot deadlock. The returned function releases them.
func (l *seriesLocks) acquire(ctx context.Context, ids []int64, timeout time.Duration) (func(), error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	held := make([]chan struct{}, 0, len(ids))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}

	for _, id := range ids {
		ch := l.get(id)
		select {
		case ch <- struct{}{}:
			held = append(held, ch)
		case <-ctx.Done():
			release()
			return nil, &models.Error{
				Code:    models.CodeStoreFailure,
				Message: fmt.Sprintf("timed out waiting for series %d", id),
				Err:     ctx.Err(),
			}
		}
	}
	return release, nil
}

// forget drops the lock of a deleted series. Callers must ensure no other
// goroutine can reach the id.
func (l *seriesLocks) forget(id int64) {
	l.mu.Lock()
	delete(l.locks, id)
	l.mu.Unlock()
}
