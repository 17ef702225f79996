package kvguard

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// Kind of an attempted operation
type Kind int

const (
	Read Kind = iota
	CompareAndSwap
)

func (k Kind) String() string {
	if k == Read {
		return "read"
	}
	return "cas"
}

// Outcome of an operation, set exactly once when the record is closed
type Outcome int

const (
	Pending Outcome = iota
	Committed
	Rejected
	Uncertain
)

var outcomeNames = []string{
	Pending:   "pending",
	Committed: "committed",
	Rejected:  "rejected",
	Uncertain: "uncertain",
}

func (o Outcome) String() string { return outcomeNames[o] }

// Record describes one attempted operation on a key and its lifecycle
// state. It is created when the attempt starts, closed exactly once by
// setting Outcome and End, and never deleted from the key's history.
type Record struct {
	OpID string
	Key  string
	Kind Kind

	// cas only
	PrevOpID string
	Version  int
	Value    string

	// read only, once resolved
	ObservedOpID  string
	ObservedValue string

	// run-relative monotonic nanoseconds, End is zero while in flight
	Start int64
	End   int64

	Outcome Outcome
}

func (r *Record) String() string {
	if r.Kind == Read {
		return fmt.Sprintf("read{pid=%s key=%s observed=%s:%q %s start=%d end=%d}",
			r.OpID, r.Key, r.ObservedOpID, r.ObservedValue, r.Outcome, r.Start, r.End)
	}
	return fmt.Sprintf("cas{op=%s key=%s prev=%s value=%q %s start=%d end=%d}",
		r.OpID, r.Key, r.PrevOpID, r.Value, r.Outcome, r.Start, r.End)
}

func (r *Record) happenBefore(o *Record) bool {
	return r.End != 0 && r.End < o.Start
}

// payload is the fixed value prefix; only the version part carries meaning
const payload = "42"

// FormatValue encodes a version as a store value
func FormatValue(version int) string {
	return payload + ":" + strconv.Itoa(version)
}

// ParseVersion decodes the version from a store value
func ParseVersion(value string) (int, error) {
	i := strings.LastIndexByte(value, ':')
	if i < 0 {
		return 0, errors.Newf("malformed value %q", value)
	}
	v, err := strconv.Atoi(value[i+1:])
	if err != nil {
		return 0, errors.Wrapf(err, "malformed value %q", value)
	}
	return v, nil
}
