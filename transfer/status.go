package transfer

import "sync"

// State of a transfer.
type State int

const (
	Idle State = iota
	Running
	Completed
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// Status is the progress of the current or last transfer. The engine is
// its only writer; front-ends poll it with Snapshot.
type Status struct {
	mu       sync.Mutex
	state    State
	progress float64
	running  bool
	err      error
	written  int64
	total    int64
}

// NewStatus returns an idle status.
func NewStatus() *Status {
	return &Status{total: -1}
}

// Snapshot is a point-in-time copy of Status.
type Snapshot struct {
	State State
	// Progress is in [0, 1] and never decreases within one transfer.
	Progress float64
	Running  bool
	// Err is the failure of the last transfer. It is handed out by one
	// Snapshot call only.
	Err          error
	BytesWritten int64
	// TotalBytes is the source size, -1 when unknown.
	TotalBytes int64
	// Indeterminate is set while running with an unknown source size.
	Indeterminate bool
}

// Snapshot returns the current status and clears the recorded error.
func (s *Status) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		State:         s.state,
		Progress:      s.progress,
		Running:       s.running,
		Err:           s.err,
		BytesWritten:  s.written,
		TotalBytes:    s.total,
		Indeterminate: s.running && s.total <= 0,
	}
	s.err = nil
	return snap
}

func (s *Status) begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Running
	s.running = true
	s.progress = 0
	s.err = nil
	s.written = 0
	s.total = -1
}

func (s *Status) setTotal(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total = n
}

// advance records written output bytes and consumed source bytes.
func (s *Status) advance(written, consumed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = written
	if s.total <= 0 {
		return
	}
	p := float64(consumed) / float64(s.total)
	if p > 1 {
		p = 1
	}
	if p > s.progress {
		s.progress = p
	}
}

func (s *Status) complete(written int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = written
	s.progress = 1
	s.state = Completed
	s.running = false
}

func (s *Status) fail(state State, written int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = written
	s.err = err
	s.state = state
	s.running = false
}
