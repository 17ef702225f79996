package kvguard

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// One JSON line per lifecycle transition. The sink is process-wide and
// disabled until SetEventSink is called; format and transport beyond the
// line encoding are the consumer's concern.

type event struct {
	Time    float64 `json:"time"` // seconds since the sink was installed
	Type    string  `json:"type"`
	Node    string  `json:"node,omitempty"`
	PID     string  `json:"pid,omitempty"`
	OpID    string  `json:"op,omitempty"`
	Prev    string  `json:"prev,omitempty"`
	Key     string  `json:"key,omitempty"`
	Version int     `json:"version,omitempty"`
	Value   string  `json:"value,omitempty"`
	Kind    string  `json:"kind,omitempty"`
	Since   float64 `json:"since_start,omitempty"` // offset of the op in the run, seconds
	Latency float64 `json:"latency_ms,omitempty"`
	Message string  `json:"message,omitempty"`
}

var events struct {
	sync.Mutex
	sink  io.Writer
	epoch time.Time
}

// SetEventSink installs the writer that receives lifecycle events, one
// JSON object per line. A nil writer disables event logging.
func SetEventSink(w io.Writer) {
	events.Lock()
	events.sink = w
	events.epoch = time.Now()
	events.Unlock()
}

func emit(e event) {
	events.Lock()
	defer events.Unlock()
	if events.sink == nil {
		return
	}
	e.Time = time.Since(events.epoch).Seconds()
	b, err := json.Marshal(e)
	if err != nil {
		return
	}
	events.sink.Write(append(b, '\n'))
}

// LogWriteStarted records a cas attempt about to be issued
func LogWriteStarted(node, pid, opID, key, prev string, version int, value string) {
	emit(event{Type: "write_started", Node: node, PID: pid, OpID: opID, Key: key,
		Prev: prev, Version: version, Value: value})
}

// LogWriteEnded records the holder the store reported after a cas
func LogWriteEnded(node, pid, key, opID, value string) {
	emit(event{Type: "write_ended", Node: node, PID: pid, Key: key, OpID: opID, Value: value})
}

// LogWriteTimeouted records a cas that got no answer
func LogWriteTimeouted(node, pid, key string) {
	emit(event{Type: "write_timeouted", Node: node, PID: pid, Key: key})
}

// LogWriteFailed records a cas the store explicitly refused
func LogWriteFailed(node, pid, key string) {
	emit(event{Type: "write_failed", Node: node, PID: pid, Key: key})
}

// LogViolation records the first detected inconsistency
func LogViolation(pid, message string) {
	emit(event{Type: "violation", PID: pid, Message: message})
}

// LogLatency records one operation latency sample with its outcome kind
// (ok, out or err) and its offset within the run
func LogLatency(kind string, since, latency time.Duration) {
	emit(event{Type: "latency", Kind: kind,
		Since: since.Seconds(), Latency: float64(latency.Nanoseconds()) / 1e6})
}
