package kvguard

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kvguard/kvguard/log"
)

// Stat aggregates named counters, gauges and latency samples from all
// clients of a run.
type Stat struct {
	mu       sync.Mutex
	counters map[string]int64
	gauges   map[string]float64
	latency  []time.Duration
}

func NewStat() *Stat {
	return &Stat{
		counters: make(map[string]int64),
		gauges:   make(map[string]float64),
	}
}

// Inc increments a named counter
func (s *Stat) Inc(name string) {
	s.mu.Lock()
	s.counters[name]++
	s.mu.Unlock()
}

// Count returns the current value of a named counter
func (s *Stat) Count(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[name]
}

// Assign sets a named gauge
func (s *Stat) Assign(name string, v float64) {
	s.mu.Lock()
	s.gauges[name] = v
	s.mu.Unlock()
}

// Observe records one operation latency sample
func (s *Stat) Observe(d time.Duration) {
	s.mu.Lock()
	s.latency = append(s.latency, d)
	s.mu.Unlock()
}

func (s *Stat) dump(dims []string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	for i, d := range dims {
		if i > 0 {
			b.WriteByte(' ')
		}
		if g, ok := s.gauges[d]; ok {
			fmt.Fprintf(&b, "%s=%g", d, g)
		} else {
			fmt.Fprintf(&b, "%s=%d", d, s.counters[d])
		}
	}
	return b.String()
}

// Summary computes the latency distribution collected so far
func (s *Stat) Summary() LatencySummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Statistic(s.latency)
}

// StatDumper periodically prints the configured dimensions of a Stat,
// in the order given, until stopped.
type StatDumper struct {
	stat *Stat
	dims []string
	stop chan bool
}

func NewStatDumper(stat *Stat, dims []string, interval time.Duration) *StatDumper {
	d := &StatDumper{stat: stat, dims: dims}
	d.stop = Schedule(func() {
		log.Info(stat.dump(dims))
	}, interval)
	return d
}

// Stop halts the periodic dump
func (d *StatDumper) Stop() {
	close(d.stop)
}

// LatencySummary holds latency distribution of a run
type LatencySummary struct {
	Data   []float64
	Size   int
	Mean   float64
	Min    float64
	Max    float64
	Median float64
	P95    float64
	P99    float64
	P999   float64
}

func (s LatencySummary) WriteFile(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	for _, line := range s.Data {
		fmt.Fprintln(w, line)
	}
	return w.Flush()
}

func (s LatencySummary) String() string {
	return fmt.Sprintf("size %d\nmean %f\nmin %f\nmax %f\nmedian %f\np95 %f\np99 %f\np999 %f\n",
		s.Size, s.Mean, s.Min, s.Max, s.Median, s.P95, s.P99, s.P999)
}

// Statistic computes the latency distribution in milliseconds
func Statistic(latency []time.Duration) LatencySummary {
	if len(latency) == 0 {
		return LatencySummary{}
	}
	ms := make([]float64, 0, len(latency))
	for _, l := range latency {
		ms = append(ms, float64(l.Nanoseconds())/1000000.0)
	}
	sort.Float64s(ms)
	sum := 0.0
	for _, m := range ms {
		sum += m
	}
	size := len(ms)
	return LatencySummary{
		Data:   ms,
		Size:   size,
		Mean:   sum / float64(size),
		Min:    ms[0],
		Max:    ms[size-1],
		Median: ms[int(0.5*float64(size))],
		P95:    ms[int(0.95*float64(size))],
		P99:    ms[int(0.99*float64(size))],
		P999:   ms[int(0.999*float64(size))],
	}
}
