package kvguard

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// FlakyStore wraps a Store and injects the two failure kinds the harness
// must survive. An injected cancellation always precedes the effect; an
// injected timeout hides the answer, and half the time the operation
// still lands, which is exactly the uncertainty the checker tracks.
type FlakyStore struct {
	Store
	TimeoutRate float64
	CancelRate  float64
	MaxDelay    time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewFlakyStore wraps s with fault injection at the given rates
func NewFlakyStore(s Store, timeoutRate, cancelRate float64, maxDelay time.Duration) *FlakyStore {
	return &FlakyStore{
		Store:       s,
		TimeoutRate: timeoutRate,
		CancelRate:  cancelRate,
		MaxDelay:    maxDelay,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (f *FlakyStore) roll(rate float64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rng.Float64() < rate
}

func (f *FlakyStore) delay() {
	if f.MaxDelay <= 0 {
		return
	}
	f.mu.Lock()
	d := time.Duration(f.rng.Int63n(int64(f.MaxDelay)))
	f.mu.Unlock()
	time.Sleep(d)
}

// Get injects faults around the wrapped read; a hidden read has no
// effect, so a timeout here never touches the store
func (f *FlakyStore) Get(ctx context.Context, key string) (Written, error) {
	f.delay()
	if f.roll(f.CancelRate) {
		return Written{}, errors.Mark(errors.New("injected cancellation"), ErrCanceled)
	}
	if f.roll(f.TimeoutRate) {
		return Written{}, errors.Mark(errors.New("injected timeout"), ErrTimeout)
	}
	return f.Store.Get(ctx, key)
}

// CompareAndSwap injects faults around the wrapped cas; an injected
// timeout lets the write land half the time before hiding the answer
func (f *FlakyStore) CompareAndSwap(ctx context.Context, key, prevOpID, value, opID string) (Written, error) {
	f.delay()
	if f.roll(f.CancelRate) {
		return Written{}, errors.Mark(errors.New("injected cancellation"), ErrCanceled)
	}
	if f.roll(f.TimeoutRate) {
		if f.roll(0.5) {
			f.Store.CompareAndSwap(ctx, key, prevOpID, value, opID)
		}
		return Written{}, errors.Mark(errors.New("injected timeout"), ErrTimeout)
	}
	return f.Store.CompareAndSwap(ctx, key, prevOpID, value, opID)
}
