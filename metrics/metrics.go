// Package metrics defines a concurrently-accessible metrics collector.
//
// A *metrics.M value exports methods to track integer counters and maximum
// values. A metric has a caller-assigned string name that is not interpreted
// by the collector except to locate its stored value. The cadet package
// records channel traffic here; see the constants below for the names it uses.
package metrics

import "sync"

// Metric names recorded by the cadet package.
const (
	ChannelsCreated   = "channels_created"
	ChannelsClosed    = "channels_closed"
	ChannelsReset     = "channels_reset"
	SendsIssued       = "sends_issued"
	BytesSent         = "bytes_sent"
	EnvelopesSent     = "envelopes_sent"
	BytesReceived     = "bytes_received"
	EnvelopesReceived = "envelopes_received"
	SendQueueDepth    = "send_queue_depth"
	OpsAborted        = "ops_aborted"
)

// An M collects counters and maximum value trackers.  A nil *M is valid, and
// discards all metrics. The methods of an *M are safe for concurrent use by
// multiple goroutines.
type M struct {
	mu      sync.Mutex
	counter map[string]int64
	maxVal  map[string]int64
}

// New creates a new, empty metrics collector.
func New() *M {
	return &M{counter: make(map[string]int64), maxVal: make(map[string]int64)}
}

// Count adds n to the current value of the counter named, defining the counter
// if it does not already exist.
func (m *M) Count(name string, n int64) {
	if m != nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.counter[name] += n
	}
}

// SetMaxValue sets the maximum value metric named to the greater of n and its
// current value, defining the value if it does not already exist.
func (m *M) SetMaxValue(name string, n int64) {
	if m != nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		if n > m.maxVal[name] {
			m.maxVal[name] = n
		}
	}
}

// Counter reports the current value of the counter named, or 0.
func (m *M) Counter(name string) int64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counter[name]
}

// MaxValue reports the current value of the max tracker named, or 0.
func (m *M) MaxValue(name string) int64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxVal[name]
}

// A Snapshot is a point-in-time copy of the values held by an M.
type Snapshot struct {
	Counter  map[string]int64 `json:"counters,omitempty"`
	MaxValue map[string]int64 `json:"max_values,omitempty"`
}

// Snapshot copies an atomic snapshot of the counters and max value trackers.
// A nil *M yields an empty snapshot.
func (m *M) Snapshot() Snapshot {
	s := Snapshot{Counter: make(map[string]int64), MaxValue: make(map[string]int64)}
	if m != nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		for name, val := range m.counter {
			s.Counter[name] = val
		}
		for name, val := range m.maxVal {
			s.MaxValue[name] = val
		}
	}
	return s
}
