// Package doclock serializes writers per document. Each edit runs between
// Lock and the returned unlock; different documents never contend.
package doclock

import (
	"context"
	"errors"
	"sync"
)

var ErrLockTimeout = errors.New("document is locked by another writer")

// Locker hands out exclusive per-document locks.
type Locker interface {
	Lock(ctx context.Context, documentID string) (unlock func(), err error)
}

// Local is an in-process Locker. Waiting honours ctx cancellation.
type Local struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewLocal() *Local {
	return &Local{slots: make(map[string]chan struct{})}
}

func (l *Local) slot(documentID string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[documentID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[documentID] = ch
	}
	return ch
}

func (l *Local) Lock(ctx context.Context, documentID string) (func(), error) {
	ch := l.slot(documentID)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, errors.Join(ErrLockTimeout, ctx.Err())
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-ch })
	}, nil
}

// Chain acquires every locker in order and releases in reverse.
type Chain []Locker

func (c Chain) Lock(ctx context.Context, documentID string) (func(), error) {
	unlocks := make([]func(), 0, len(c))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, locker := range c {
		unlock, err := locker.Lock(ctx, documentID)
		if err != nil {
			release()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}
