package kvguard

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
)

// Checker is an online, incremental linearizability checker for a
// register-per-key store with versioned CAS writes and plain reads. The
// harness reports every lifecycle transition in strict real-time order
// (started before the network call is issued, ended/canceled/timeouted
// after it resolves); the checker decides at each read whether the
// observation is explainable by some valid linearization of the key's
// history, and records the first contradiction permanently.
//
// Different keys progress independently; all mutation of one key's
// history happens under that key's lock.
type Checker struct {
	mu    sync.RWMutex
	keys  map[string]*keyHistory
	epoch time.Time

	invalid atomic.Bool
	errMu   sync.Mutex
	err     string
}

// NewChecker creates an empty checker; the monotonic clock for all
// recorded timestamps starts now.
func NewChecker() *Checker {
	return &Checker{
		keys:  make(map[string]*keyHistory),
		epoch: time.Now(),
	}
}

// keyHistory is the ledger of every operation attempted on one key.
// Records are closed in place and never removed; uncertain writes stay
// in the might-happen set for the lifetime of the history.
type keyHistory struct {
	sync.Mutex
	key string

	writes    map[string]*Record // every cas record (and the seed write) by opID
	order     []*Record          // arrival order, reads included
	committed []*Record          // committed writes in end order
	uncertain map[string]*Record
	openCAS   map[string]*Record
	openReads map[string]*Record // by actor pid
}

func (c *Checker) now() int64 {
	return time.Since(c.epoch).Nanoseconds()
}

func (c *Checker) history(key string) (*keyHistory, error) {
	c.mu.RLock()
	h, ok := c.keys[key]
	c.mu.RUnlock()
	if !ok {
		return nil, errors.AssertionFailedf("key %s was never initialized", key)
	}
	return h, nil
}

// fail records the first violation and flips validity, which never
// recovers. Returns v so callers can propagate it.
func (c *Checker) fail(v *Violation) error {
	c.errMu.Lock()
	if !c.invalid.Load() {
		c.invalid.Store(true)
		c.err = v.Error()
	}
	c.errMu.Unlock()
	return v
}

// Init seeds a key's history with an initial committed value. Calling it
// twice for the same key is a usage fault.
func (c *Checker) Init(opID, key string, version int, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.keys[key]; ok {
		return errors.AssertionFailedf("key %s initialized twice", key)
	}
	now := c.now()
	seed := &Record{
		OpID:    opID,
		Key:     key,
		Kind:    CompareAndSwap,
		Version: version,
		Value:   value,
		Start:   now,
		End:     now,
		Outcome: Committed,
	}
	h := &keyHistory{
		key:       key,
		writes:    map[string]*Record{opID: seed},
		order:     []*Record{seed},
		committed: []*Record{seed},
		uncertain: make(map[string]*Record),
		openCAS:   make(map[string]*Record),
		openReads: make(map[string]*Record),
	}
	c.keys[key] = h
	return nil
}

// CASStarted opens a cas record before the network request is issued.
func (c *Checker) CASStarted(opID, key, prevOpID string, version int, value string) error {
	h, err := c.history(key)
	if err != nil {
		return err
	}
	h.Lock()
	defer h.Unlock()
	if _, dup := h.writes[opID]; dup {
		return errors.AssertionFailedf("cas %s on key %s started twice", opID, key)
	}
	r := &Record{
		OpID:     opID,
		Key:      key,
		Kind:     CompareAndSwap,
		PrevOpID: prevOpID,
		Version:  version,
		Value:    value,
		Start:    c.now(),
		Outcome:  Pending,
	}
	h.writes[opID] = r
	h.order = append(h.order, r)
	h.openCAS[opID] = r
	return nil
}

func (h *keyHistory) closeCAS(opID string) (*Record, error) {
	r, ok := h.openCAS[opID]
	if !ok {
		return nil, errors.AssertionFailedf("cas %s on key %s is not open", opID, h.key)
	}
	delete(h.openCAS, opID)
	return r, nil
}

// CASEnded marks the cas committed: the proposed value is the key's
// newest real-time-ordered version.
func (c *Checker) CASEnded(opID, key string) error {
	h, err := c.history(key)
	if err != nil {
		return err
	}
	h.Lock()
	defer h.Unlock()
	r, err := h.closeCAS(opID)
	if err != nil {
		return err
	}
	r.End = c.now()
	r.Outcome = Committed
	h.committed = append(h.committed, r)
	return nil
}

// CASCanceled marks the cas rejected: the store refused it before
// returning, so it has no effect on the history.
func (c *Checker) CASCanceled(opID, key string) error {
	h, err := c.history(key)
	if err != nil {
		return err
	}
	h.Lock()
	defer h.Unlock()
	r, err := h.closeCAS(opID)
	if err != nil {
		return err
	}
	r.End = c.now()
	r.Outcome = Rejected
	return nil
}

// CASTimeouted marks the cas uncertain: no answer was received, so the
// write may take effect at any instant from its start onward. It joins
// the key's might-happen set and is never pruned.
func (c *Checker) CASTimeouted(opID, key string) error {
	h, err := c.history(key)
	if err != nil {
		return err
	}
	h.Lock()
	defer h.Unlock()
	r, err := h.closeCAS(opID)
	if err != nil {
		return err
	}
	r.End = c.now()
	r.Outcome = Uncertain
	h.uncertain[opID] = r
	return nil
}

// ReadStarted opens a read record for the actor before the network
// request is issued. An actor never has two reads in flight.
func (c *Checker) ReadStarted(pid, key string) error {
	h, err := c.history(key)
	if err != nil {
		return err
	}
	h.Lock()
	defer h.Unlock()
	if _, dup := h.openReads[pid]; dup {
		return errors.AssertionFailedf("actor %s already has a read in flight on key %s", pid, key)
	}
	r := &Record{
		OpID:    pid,
		Key:     key,
		Kind:    Read,
		Start:   c.now(),
		Outcome: Pending,
	}
	h.order = append(h.order, r)
	h.openReads[pid] = r
	return nil
}

// ReadCanceled closes the actor's read without an observation; no
// consistency check is performed.
func (c *Checker) ReadCanceled(pid, key string) error {
	h, err := c.history(key)
	if err != nil {
		return err
	}
	h.Lock()
	defer h.Unlock()
	r, ok := h.openReads[pid]
	if !ok {
		return errors.AssertionFailedf("actor %s has no read in flight on key %s", pid, key)
	}
	delete(h.openReads, pid)
	r.End = c.now()
	r.Outcome = Rejected
	return nil
}

// ReadEnded closes the actor's read and verifies the observation. The
// observed write must be either a committed write no older than every
// committed write that provably finished before this read started, or an
// uncertain or still-pending write that started before this read ended.
// Anything else is a violation.
func (c *Checker) ReadEnded(pid, key, observedOpID, observedValue string) error {
	h, err := c.history(key)
	if err != nil {
		return err
	}
	h.Lock()
	defer h.Unlock()
	r, ok := h.openReads[pid]
	if !ok {
		return errors.AssertionFailedf("actor %s has no read in flight on key %s", pid, key)
	}
	delete(h.openReads, pid)
	r.End = c.now()
	r.Outcome = Committed
	r.ObservedOpID = observedOpID
	r.ObservedValue = observedValue

	violation := func(reason string) error {
		return c.fail(&Violation{
			Key:      key,
			PID:      pid,
			Observed: Written{OpID: observedOpID, Value: observedValue},
			Reason:   reason,
		})
	}

	w, known := h.writes[observedOpID]
	if !known {
		return violation("no write on this key ever carried that opId")
	}
	if w.Value != observedValue {
		return violation(errors.Newf("write %s proposed %q", w.OpID, w.Value).Error())
	}

	switch w.Outcome {
	case Rejected:
		return violation("the store rejected that write before it returned")
	case Pending, Uncertain:
		if w.Start > r.End {
			return violation("the observed write started after this read ended")
		}
	}
	// every committed write that ended before this read started is
	// guaranteed visible; observing an older version is a stale read
	if floor := h.visibleFloor(r); w.Version < floor.Version {
		return violation(errors.Newf(
			"stale read: write %s version %d ended before this read started",
			floor.OpID, floor.Version).Error())
	}
	return nil
}

// visibleFloor returns the newest committed write that provably finished
// before the read started. Its version is the minimum the read may
// observe.
func (h *keyHistory) visibleFloor(read *Record) *Record {
	floor := h.committed[0]
	for _, w := range h.committed {
		if w.happenBefore(read) && w.Version > floor.Version {
			floor = w
		}
	}
	return floor
}

// Uncertain returns how many timed-out writes on the key are still in
// the might-happen set. Zero for keys the checker has never seen.
func (c *Checker) Uncertain(key string) int {
	c.mu.RLock()
	h, ok := c.keys[key]
	c.mu.RUnlock()
	if !ok {
		return 0
	}
	h.Lock()
	defer h.Unlock()
	return len(h.uncertain)
}

// Size returns the number of keys currently tracked.
func (c *Checker) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.keys)
}

// Valid reports whether no violation has been recorded. Once false it
// never recovers.
func (c *Checker) Valid() bool {
	return !c.invalid.Load()
}

// Err returns the description of the first violation, or empty.
func (c *Checker) Err() string {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}
