package kvguard

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Reader is one observing actor: a serial loop of plain reads for a
// single key against a single replica. It never advances any version
// state; the checker verifies every observation it brings back.
type Reader struct {
	startedAt time.Time
	stat      *Stat
	checker   *Checker
	store     Store
	key       string

	pid     string
	limiter *rate.Limiter
	active  atomic.Bool
}

func NewReader(startedAt time.Time, stat *Stat, checker *Checker, store Store, key string, limiter *rate.Limiter) *Reader {
	r := &Reader{
		startedAt: startedAt,
		stat:      stat,
		checker:   checker,
		store:     store,
		key:       key,
		pid:       uuid.NewString(),
		limiter:   limiter,
	}
	r.active.Store(true)
	return r
}

// Stop prevents the reader from starting another read
func (r *Reader) Stop() { r.active.Store(false) }

// Run drives the reader until stopped or the run goes invalid. The
// returned error is a harness usage fault, never a violation.
func (r *Reader) Run(ctx context.Context) error {
	name := r.store.Name()
	for r.active.Load() && r.checker.Valid() && ctx.Err() == nil {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil
			}
		}

		if err := r.checker.ReadStarted(r.pid, r.key); err != nil {
			return err
		}
		opStart := time.Now()
		data, err := r.store.Get(ctx, r.key)
		elapsed := time.Since(opStart)

		switch {
		case err == nil:
			r.stat.Observe(elapsed)
			LogLatency("ok", opStart.Sub(r.startedAt), elapsed)
			if verr := r.checker.ReadEnded(r.pid, r.key, data.OpID, data.Value); verr != nil {
				if IsViolation(verr) {
					LogViolation(r.pid, verr.Error())
					return nil
				}
				return verr
			}
			r.stat.Inc(name + ":ok")

		case errors.Is(err, ErrTimeout):
			r.stat.Inc(name + ":out")
			LogLatency("out", opStart.Sub(r.startedAt), elapsed)
			if verr := r.checker.ReadCanceled(r.pid, r.key); verr != nil {
				return verr
			}

		case errors.Is(err, ErrCanceled):
			r.stat.Inc(name + ":err")
			LogLatency("err", opStart.Sub(r.startedAt), elapsed)
			if verr := r.checker.ReadCanceled(r.pid, r.key); verr != nil {
				return verr
			}

		default:
			return errors.Wrapf(err, "reader %s on %s", r.pid, name)
		}
	}
	return nil
}
