package kvguard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatCounters(t *testing.T) {
	t.Parallel()
	s := NewStat()
	s.Inc("r0:ok")
	s.Inc("r0:ok")
	s.Inc("r0:out")
	s.Assign("size", 4)

	require.EqualValues(t, 2, s.Count("r0:ok"))
	require.EqualValues(t, 1, s.Count("r0:out"))
	require.EqualValues(t, 0, s.Count("r0:err"))

	line := s.dump([]string{"r0:ok", "r0:out", "r0:err", "size"})
	require.Equal(t, "r0:ok=2 r0:out=1 r0:err=0 size=4", line)
}

func TestStatSummary(t *testing.T) {
	t.Parallel()
	s := NewStat()
	for i := 1; i <= 100; i++ {
		s.Observe(time.Duration(i) * time.Millisecond)
	}
	sum := s.Summary()
	require.Equal(t, 100, sum.Size)
	require.Equal(t, 1.0, sum.Min)
	require.Equal(t, 100.0, sum.Max)
	require.InDelta(t, 50.5, sum.Mean, 0.01)
	require.Equal(t, 96.0, sum.P95)
}

func TestStatisticEmpty(t *testing.T) {
	t.Parallel()
	require.Zero(t, Statistic(nil).Size)
}

func TestStatDumper(t *testing.T) {
	t.Parallel()
	s := NewStat()
	d := NewStatDumper(s, []string{"x"}, 10*time.Millisecond)
	time.Sleep(25 * time.Millisecond)
	d.Stop()
}
