package kvguard

import (
	"bufio"
	"fmt"
	"os"
	"sort"

	"github.com/anishathalye/porcupine"
)

// History is a point-in-time snapshot of every operation record of a
// run, grouped by key in arrival order. It backs the optional offline
// re-check and the history dump; the online checker remains the
// authority while the run is live.
type History struct {
	keys map[string][]Record
}

// History snapshots the full retained history of the checker
func (c *Checker) History() *History {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h := &History{keys: make(map[string][]Record, len(c.keys))}
	for key, kh := range c.keys {
		kh.Lock()
		rs := make([]Record, len(kh.order))
		for i, r := range kh.order {
			rs[i] = *r
		}
		kh.Unlock()
		h.keys[key] = rs
	}
	return h
}

// WriteFile writes the entire operation history into a file, one record
// per line ordered by start time
func (h *History) WriteFile(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	keys := make([]string, 0, len(h.keys))
	for k := range h.keys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rs := append([]Record(nil), h.keys[k]...)
		sort.Slice(rs, func(i, j int) bool { return rs[i].Start < rs[j].Start })
		fmt.Fprintf(w, "key=%s\n", k)
		for i := range rs {
			fmt.Fprintln(w, rs[i].String())
		}
	}
	return w.Flush()
}

// Linearizable re-checks every key's history with porcupine against the
// versioned CAS register model, concurrently per key. Uncertain writes
// that some read observed are completed at the observing read's return;
// uncertain writes nobody observed are omitted, since their effect
// cannot be proven.
func (h *History) Linearizable() bool {
	verdicts := make(chan bool)
	for _, rs := range h.keys {
		go func(rs []Record) {
			verdicts <- porcupine.CheckOperations(registerModel, porcupineOps(rs))
		}(rs)
	}
	ok := true
	for range h.keys {
		ok = <-verdicts && ok
	}
	return ok
}

// porcupineOps converts one key's records into porcupine operations
func porcupineOps(rs []Record) []porcupine.Operation {
	// first observer of each write's opId, for completing uncertain ops
	observedAt := make(map[string]int64)
	var horizon int64
	for i := range rs {
		r := &rs[i]
		if r.End > horizon {
			horizon = r.End
		}
		if r.Kind == Read && r.Outcome == Committed {
			if at, ok := observedAt[r.ObservedOpID]; !ok || r.End < at {
				observedAt[r.ObservedOpID] = r.End
			}
		}
	}

	ops := make([]porcupine.Operation, 0, len(rs))
	for i := range rs {
		r := &rs[i]
		op := porcupine.Operation{Call: r.Start, Return: r.End}
		switch {
		case r.Kind == Read:
			if r.Outcome != Committed {
				continue // no observation, nothing to explain
			}
			op.Input = registerInput{read: true}
			op.Output = registerOutput{opID: r.ObservedOpID, value: r.ObservedValue}

		case r.PrevOpID == "": // the seed write
			op.Input = registerInput{seed: true, opID: r.OpID, value: r.Value}
			op.Output = registerOutput{ok: true}

		case r.Outcome == Committed:
			op.Input = registerInput{prev: r.PrevOpID, opID: r.OpID, value: r.Value}
			op.Output = registerOutput{ok: true}

		case r.Outcome == Rejected:
			// a refusal has no effect and can happen for reasons other
			// than a prior mismatch, so it constrains nothing
			continue

		default: // uncertain or still pending
			at, seen := observedAt[r.OpID]
			if !seen {
				continue
			}
			op.Input = registerInput{prev: r.PrevOpID, opID: r.OpID, value: r.Value}
			op.Output = registerOutput{ok: true}
			op.Return = at
			if op.Return <= op.Call {
				op.Return = op.Call + 1
			}
		}
		if op.Return <= op.Call {
			op.Return = op.Call + 1
		}
		ops = append(ops, op)
	}
	return ops
}
