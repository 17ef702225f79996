package kvguard

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/kvguard/kvguard/log"
)

// Writer is one racing writer actor: a strictly serial loop proposing
// versioned CAS writes for a single key against a single replica. Every
// attempt is reported to the checker before the network call and
// resolved after it, so the checker's real-time ordering holds. The
// writer stops for good when the run stops or a violation is detected.
type Writer struct {
	startedAt time.Time
	stat      *Stat
	checker   *Checker
	store     Store
	key       string

	pid     string
	limiter *rate.Limiter
	active  atomic.Bool

	// the write this actor believes currently holds the key
	lastWriteID string
	lastVersion int
}

// NewWriter creates a writer seeded with the key's initial write, so its
// first attempt carries a real prior.
func NewWriter(startedAt time.Time, stat *Stat, checker *Checker, store Store, key, initOpID string, limiter *rate.Limiter) *Writer {
	w := &Writer{
		startedAt:   startedAt,
		stat:        stat,
		checker:     checker,
		store:       store,
		key:         key,
		pid:         uuid.NewString(),
		limiter:     limiter,
		lastWriteID: initOpID,
	}
	w.active.Store(true)
	return w
}

// Stop prevents the writer from starting another attempt. An attempt in
// flight resolves normally.
func (w *Writer) Stop() { w.active.Store(false) }

// Run drives the writer until stopped or the run goes invalid. The
// returned error is a harness usage fault, never a violation.
func (w *Writer) Run(ctx context.Context) error {
	name := w.store.Name()
	for w.active.Load() && w.checker.Valid() && ctx.Err() == nil {
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				return nil
			}
		}

		prev := w.lastWriteID
		opID := uuid.NewString()
		version := w.lastVersion + 1
		value := FormatValue(version)

		w.stat.Assign("size", float64(w.checker.Size()))
		LogWriteStarted(name, w.pid, opID, w.key, prev, version, value)
		if err := w.checker.ReadStarted(w.pid, w.key); err != nil {
			return err
		}
		if err := w.checker.CASStarted(opID, w.key, prev, version, value); err != nil {
			return err
		}

		opStart := time.Now()
		data, err := w.store.CompareAndSwap(ctx, w.key, prev, value, opID)
		elapsed := time.Since(opStart)

		switch {
		case err == nil:
			w.stat.Observe(elapsed)
			LogLatency("ok", opStart.Sub(w.startedAt), elapsed)
			LogWriteEnded(name, w.pid, w.key, data.OpID, data.Value)
			var verr error
			if data.OpID == opID {
				verr = w.checker.CASEnded(opID, w.key)
			} else {
				verr = w.checker.CASCanceled(opID, w.key)
			}
			if verr == nil {
				verr = w.checker.ReadEnded(w.pid, w.key, data.OpID, data.Value)
			}
			if verr != nil {
				if IsViolation(verr) {
					LogViolation(w.pid, verr.Error())
					return nil
				}
				return verr
			}
			// the store is authoritative: adopt whatever it reports
			// holding now, even after a lost race
			w.lastWriteID = data.OpID
			if v, perr := ParseVersion(data.Value); perr == nil {
				w.lastVersion = v
			} else {
				log.Error(perr)
			}
			w.stat.Inc(name + ":ok")

		case errors.Is(err, ErrTimeout):
			w.stat.Inc(name + ":out")
			LogLatency("out", opStart.Sub(w.startedAt), elapsed)
			LogWriteTimeouted(name, w.pid, w.key)
			if verr := w.checker.ReadCanceled(w.pid, w.key); verr != nil {
				return verr
			}
			// the attempt is abandoned but may still land; the version
			// bookkeeping deliberately stays where it was
			if verr := w.checker.CASTimeouted(opID, w.key); verr != nil {
				return verr
			}

		case errors.Is(err, ErrCanceled):
			w.stat.Inc(name + ":err")
			LogLatency("err", opStart.Sub(w.startedAt), elapsed)
			LogWriteFailed(name, w.pid, w.key)
			if verr := w.checker.ReadCanceled(w.pid, w.key); verr != nil {
				return verr
			}
			if verr := w.checker.CASCanceled(opID, w.key); verr != nil {
				if IsViolation(verr) {
					LogViolation(w.pid, verr.Error())
					return nil
				}
				return verr
			}

		default:
			return errors.Wrapf(err, "writer %s on %s", w.pid, name)
		}
	}
	return nil
}
