package kvguard

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckerCommittedChain(t *testing.T) {
	t.Parallel()
	c := NewChecker()
	require.NoError(t, c.Init("w0", "k", 0, FormatValue(0)))

	last := "w0"
	for v := 1; v <= 5; v++ {
		op := fmt.Sprintf("w%d", v)
		require.NoError(t, c.CASStarted(op, "k", last, v, FormatValue(v)))
		require.NoError(t, c.CASEnded(op, "k"))
		require.NoError(t, c.ReadStarted("r", "k"))
		require.NoError(t, c.ReadEnded("r", "k", op, FormatValue(v)))
		last = op
	}
	require.True(t, c.Valid())
	require.Empty(t, c.Err())
}

func TestCheckerNeverWrittenValue(t *testing.T) {
	t.Parallel()
	c := NewChecker()
	require.NoError(t, c.Init("w0", "k", 0, FormatValue(0)))
	require.NoError(t, c.ReadStarted("r", "k"))

	err := c.ReadEnded("r", "k", "ghost", FormatValue(3))
	require.Error(t, err)
	require.True(t, IsViolation(err))
	require.False(t, c.Valid())
	require.Contains(t, c.Err(), "read r")
	require.Contains(t, c.Err(), "ghost")
}

func TestCheckerStaleRead(t *testing.T) {
	t.Parallel()
	c := NewChecker()
	require.NoError(t, c.Init("w0", "k", 0, FormatValue(0)))
	require.NoError(t, c.CASStarted("w1", "k", "w0", 1, FormatValue(1)))
	require.NoError(t, c.CASEnded("w1", "k"))

	// the read starts strictly after w1 ended, so version 1 is the floor
	require.NoError(t, c.ReadStarted("r", "k"))
	err := c.ReadEnded("r", "k", "w0", FormatValue(0))
	require.True(t, IsViolation(err))
	require.False(t, c.Valid())
	require.Contains(t, c.Err(), "stale")
}

func TestCheckerObservedValueMismatch(t *testing.T) {
	t.Parallel()
	c := NewChecker()
	require.NoError(t, c.Init("w0", "k", 0, FormatValue(0)))
	require.NoError(t, c.ReadStarted("r", "k"))

	err := c.ReadEnded("r", "k", "w0", FormatValue(7))
	require.True(t, IsViolation(err))
	require.False(t, c.Valid())
}

func TestCheckerRejectedWriteObserved(t *testing.T) {
	t.Parallel()
	c := NewChecker()
	require.NoError(t, c.Init("w0", "k", 0, FormatValue(0)))
	require.NoError(t, c.CASStarted("w1", "k", "w0", 1, FormatValue(1)))
	require.NoError(t, c.CASCanceled("w1", "k"))

	require.NoError(t, c.ReadStarted("r", "k"))
	err := c.ReadEnded("r", "k", "w1", FormatValue(1))
	require.True(t, IsViolation(err))
	require.Contains(t, c.Err(), "rejected")
}

func TestCheckerUncertainNeverExpires(t *testing.T) {
	t.Parallel()
	c := NewChecker()
	require.NoError(t, c.Init("w0", "k", 0, FormatValue(0)))
	require.NoError(t, c.CASStarted("w1", "k", "w0", 1, FormatValue(1)))
	require.NoError(t, c.CASTimeouted("w1", "k"))
	require.Equal(t, 1, c.Uncertain("k"))

	// arbitrarily many later reads may still observe the timed-out write
	for i := 0; i < 10; i++ {
		pid := fmt.Sprintf("r%d", i)
		require.NoError(t, c.ReadStarted(pid, "k"))
		require.NoError(t, c.ReadEnded(pid, "k", "w1", FormatValue(1)))
	}
	require.True(t, c.Valid())
	require.Equal(t, 1, c.Uncertain("k"))
	require.Zero(t, c.Uncertain("nokey"))
}

func TestCheckerUncertainStillStaleBound(t *testing.T) {
	t.Parallel()
	c := NewChecker()
	require.NoError(t, c.Init("w0", "k", 0, FormatValue(0)))
	// v1 times out, then v2 commits
	require.NoError(t, c.CASStarted("w1", "k", "w0", 1, FormatValue(1)))
	require.NoError(t, c.CASTimeouted("w1", "k"))
	require.NoError(t, c.CASStarted("w2", "k", "w0", 2, FormatValue(2)))
	require.NoError(t, c.CASEnded("w2", "k"))

	// v2's commit ended before this read started, so observing the
	// timed-out v1 is a stale read
	require.NoError(t, c.ReadStarted("r", "k"))
	err := c.ReadEnded("r", "k", "w1", FormatValue(1))
	require.True(t, IsViolation(err))
	require.Contains(t, c.Err(), "stale")
}

func TestCheckerObservesInFlightWrite(t *testing.T) {
	t.Parallel()
	c := NewChecker()
	require.NoError(t, c.Init("w0", "k", 0, FormatValue(0)))
	require.NoError(t, c.CASStarted("w1", "k", "w0", 1, FormatValue(1)))

	// w1 has not resolved yet, but the store may already have applied it
	require.NoError(t, c.ReadStarted("r", "k"))
	require.NoError(t, c.ReadEnded("r", "k", "w1", FormatValue(1)))
	require.True(t, c.Valid())

	require.NoError(t, c.CASEnded("w1", "k"))
	require.True(t, c.Valid())
}

func TestCheckerValidityIsMonotonic(t *testing.T) {
	t.Parallel()
	c := NewChecker()
	require.NoError(t, c.Init("w0", "k", 0, FormatValue(0)))
	require.NoError(t, c.ReadStarted("r", "k"))
	require.Error(t, c.ReadEnded("r", "k", "ghost", FormatValue(9)))
	require.False(t, c.Valid())
	first := c.Err()

	// a perfectly fine history afterwards never restores validity
	require.NoError(t, c.CASStarted("w1", "k", "w0", 1, FormatValue(1)))
	require.NoError(t, c.CASEnded("w1", "k"))
	require.NoError(t, c.ReadStarted("r", "k"))
	require.NoError(t, c.ReadEnded("r", "k", "w1", FormatValue(1)))
	require.False(t, c.Valid())
	require.Equal(t, first, c.Err())
}

func TestCheckerRacingWriters(t *testing.T) {
	t.Parallel()
	c := NewChecker()
	require.NoError(t, c.Init("w0", "k", 0, FormatValue(0)))

	// two writers race proposing version 1; the store accepts one
	require.NoError(t, c.ReadStarted("p1", "k"))
	require.NoError(t, c.CASStarted("w1", "k", "w0", 1, FormatValue(1)))
	require.NoError(t, c.ReadStarted("p2", "k"))
	require.NoError(t, c.CASStarted("w2", "k", "w0", 1, FormatValue(1)))

	require.NoError(t, c.CASEnded("w1", "k"))
	require.NoError(t, c.ReadEnded("p1", "k", "w1", FormatValue(1)))
	require.NoError(t, c.CASCanceled("w2", "k"))
	require.NoError(t, c.ReadEnded("p2", "k", "w1", FormatValue(1)))

	require.NoError(t, c.ReadStarted("r", "k"))
	require.NoError(t, c.ReadEnded("r", "k", "w1", FormatValue(1)))
	require.True(t, c.Valid())
}

func TestCheckerTimeoutThenLanded(t *testing.T) {
	t.Parallel()
	c := NewChecker()
	require.NoError(t, c.Init("w0", "k", 0, FormatValue(0)))

	// the writer's v1 times out and the writer does not advance; a later
	// reader sees v1 anyway, which must be accepted
	require.NoError(t, c.CASStarted("w1", "k", "w0", 1, FormatValue(1)))
	require.NoError(t, c.CASTimeouted("w1", "k"))

	require.NoError(t, c.ReadStarted("r", "k"))
	require.NoError(t, c.ReadEnded("r", "k", "w1", FormatValue(1)))
	require.True(t, c.Valid())
}

func TestCheckerUsageFaults(t *testing.T) {
	t.Parallel()
	c := NewChecker()
	require.NoError(t, c.Init("w0", "k", 0, FormatValue(0)))

	// usage faults are programming errors, not violations
	err := c.Init("w0", "k", 0, FormatValue(0))
	require.Error(t, err)
	require.False(t, IsViolation(err))

	require.Error(t, c.CASEnded("nope", "k"))
	require.Error(t, c.CASTimeouted("nope", "k"))
	require.Error(t, c.ReadEnded("nope", "k", "w0", FormatValue(0)))
	require.Error(t, c.ReadStarted("r", "nokey"))

	require.NoError(t, c.ReadStarted("r", "k"))
	require.Error(t, c.ReadStarted("r", "k"))

	require.NoError(t, c.CASStarted("w1", "k", "w0", 1, FormatValue(1)))
	require.Error(t, c.CASStarted("w1", "k", "w0", 1, FormatValue(1)))

	require.True(t, c.Valid())
}

func TestCheckerReadCanceledSkipsCheck(t *testing.T) {
	t.Parallel()
	c := NewChecker()
	require.NoError(t, c.Init("w0", "k", 0, FormatValue(0)))
	require.NoError(t, c.ReadStarted("r", "k"))
	require.NoError(t, c.ReadCanceled("r", "k"))
	require.True(t, c.Valid())

	// the slot is closed, the actor can read again
	require.NoError(t, c.ReadStarted("r", "k"))
	require.NoError(t, c.ReadEnded("r", "k", "w0", FormatValue(0)))
	require.True(t, c.Valid())
}

func TestCheckerKeysAreIndependent(t *testing.T) {
	t.Parallel()
	c := NewChecker()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		key := fmt.Sprintf("k%d", i)
		require.NoError(t, c.Init("w0", key, 0, FormatValue(0)))
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			last := "w0"
			for v := 1; v <= 100; v++ {
				op := fmt.Sprintf("w%d", v)
				if c.CASStarted(op, key, last, v, FormatValue(v)) != nil {
					return
				}
				if c.CASEnded(op, key) != nil {
					return
				}
				last = op
			}
		}(key)
	}
	wg.Wait()
	require.True(t, c.Valid())
	require.Equal(t, 8, c.Size())
}
