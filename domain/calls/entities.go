package calls

import (
	"time"

	"github.com/fllarpy/callprobe/calltree"
)

// Record is one finished, detached call tree.
type Record struct {
	ID        string         `json:"id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Service   string         `json:"service,omitempty"`
	Label     string         `json:"label"`
	Status    int            `json:"status,omitempty"`
	Corrupted bool           `json:"corrupted,omitempty"`
	Root      *calltree.Call `json:"root"`
}

// Duration is the inclusive time of the root call.
func (r Record) Duration() time.Duration {
	if r.Root == nil {
		return 0
	}
	return time.Duration(r.Root.ExecutionTimeNs)
}

// Summary is the listing form of a Record, without the tree.
type Summary struct {
	Index       int       `json:"index"`
	ID          string    `json:"id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Label       string    `json:"label"`
	Status      int       `json:"status,omitempty"`
	DurationNs  int64     `json:"duration_ns"`
	Duration    string    `json:"duration"`
	IOCallCount int       `json:"io_call_count"`
	Incomplete  bool      `json:"incomplete,omitempty"`
}

func (r Record) Summarize(index int) Summary {
	s := Summary{
		Index:     index,
		ID:        r.ID,
		Timestamp: r.Timestamp,
		Label:     r.Label,
		Status:    r.Status,
		Duration:  r.Duration().String(),
	}
	if r.Root != nil {
		s.DurationNs = r.Root.ExecutionTimeNs
		s.IOCallCount = r.Root.IOCallCount
		r.Root.Walk(func(c *calltree.Call, _ int) bool {
			s.Incomplete = s.Incomplete || c.Incomplete
			return !s.Incomplete
		})
	}
	return s
}

// NPlusOneEvent represents a detected N+1 query problem.
type NPlusOneEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	Label       string    `json:"label"`
	Signature   string    `json:"signature,omitempty"`
	Query       string    `json:"query"`
	Count       int       `json:"count"`
	Description string    `json:"description"`
}
