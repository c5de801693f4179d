package pca9548a

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"i2cmux-go/errcode"
)

// Mutex guards the bus owned by a Device. Lock either blocks the calling
// goroutine or suspends it until the lock is free, depending on the strategy.
//
// Lock returns errcode.Cancelled if the context ends before the lock is held,
// and errcode.LockPoisoned if the strategy has been poisoned. Unlock is only
// called after a successful Lock.
type Mutex interface {
	Lock(ctx context.Context) error
	Unlock()
}

// Poisoner is implemented by mutexes that can be marked untrustworthy after a
// holder panicked.
type Poisoner interface {
	Poison()
}

// BlockingMutex is a plain sync.Mutex. The context is only consulted before
// blocking; a goroutine already waiting cannot be cancelled.
type BlockingMutex struct {
	mu       sync.Mutex
	poisoned atomic.Bool
}

func (m *BlockingMutex) Lock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &errcode.E{C: errcode.Cancelled, Op: "lock", Err: err}
	}
	m.mu.Lock()
	if m.poisoned.Load() {
		m.mu.Unlock()
		return errcode.LockPoisoned
	}
	return nil
}

func (m *BlockingMutex) Unlock() { m.mu.Unlock() }

// Poison marks the mutex as poisoned; every later Lock fails.
func (m *BlockingMutex) Poison() { m.poisoned.Store(true) }

// Poisoned reports whether Poison has been called.
func (m *BlockingMutex) Poisoned() bool { return m.poisoned.Load() }

// AsyncMutex suspends waiters on a weighted semaphore of size one. A waiter
// gives up as soon as its context is done, and no bus access happens in that
// case. Waiters are served in FIFO order.
type AsyncMutex struct {
	once sync.Once
	sem  *semaphore.Weighted
}

// NewAsyncMutex returns a ready AsyncMutex. The zero value is also usable.
func NewAsyncMutex() *AsyncMutex {
	m := &AsyncMutex{}
	m.init()
	return m
}

func (m *AsyncMutex) init() {
	m.once.Do(func() { m.sem = semaphore.NewWeighted(1) })
}

func (m *AsyncMutex) Lock(ctx context.Context) error {
	m.init()
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return &errcode.E{C: errcode.Cancelled, Op: "lock", Err: err}
	}
	return nil
}

// TryLock takes the lock only if it is free.
func (m *AsyncMutex) TryLock() bool {
	m.init()
	return m.sem.TryAcquire(1)
}

func (m *AsyncMutex) Unlock() { m.sem.Release(1) }
