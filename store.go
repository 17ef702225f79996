package kvguard

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
)

// The two failure kinds a store call can report. Timeout means no answer
// was received and the operation may still take effect at any later
// point; Canceled means the store definitively refused the operation.
var (
	ErrTimeout  = errors.New("request timed out")
	ErrCanceled = errors.New("request canceled")
)

// Written is the holder a replica reports for a key: the value and the
// opID of the write that installed it.
type Written struct {
	OpID  string `json:"op"`
	Value string `json:"value"`
}

// Store is one replica of the system under test. CompareAndSwap installs
// (value, opID) only if prevOpID still holds the key; on a lost race it
// succeeds and reports the current holder instead. Every method fails
// with ErrTimeout or ErrCanceled, nothing else.
type Store interface {
	Name() string
	Put(ctx context.Context, key, value, opID string) error
	Get(ctx context.Context, key string) (Written, error)
	CompareAndSwap(ctx context.Context, key, prevOpID, value, opID string) (Written, error)
}

// Violation is a detected observation that no valid linearization of the
// recorded history can explain. It is terminal: once raised, the checker
// never reports valid again.
type Violation struct {
	Key      string
	PID      string
	Observed Written
	Reason   string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("violation: read %s on key %s observed %s:%q: %s",
		v.PID, v.Key, v.Observed.OpID, v.Observed.Value, v.Reason)
}

// IsViolation reports whether err is a consistency violation, as opposed
// to a harness usage fault.
func IsViolation(err error) bool {
	v := (*Violation)(nil)
	return errors.As(err, &v)
}
