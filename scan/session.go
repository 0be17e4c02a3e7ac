package scan

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fosav/sigscan"
)

// State is the lifecycle state of a [Session].
type State int

//go:generate go tool stringer -type=State -linecomment

// Session states.
const (
	Idle      State = iota // idle
	Running                // running
	Completed              // completed
	Cancelled              // cancelled
	Failed                 // failed
)

// Terminal reports whether "s" is an end state of a scan.
func (s State) Terminal() bool {
	return s == Completed || s == Cancelled || s == Failed
}

// Snapshot is a consistent copy of a Session's progress.
type Snapshot struct {
	// ID identifies the scan; it's assigned when the scan starts.
	ID     uuid.UUID
	State  State
	Target Target

	FilesScanned       int
	ThreatsFound       int
	FileErrors         int
	QuarantineFailures int

	// CurrentFile is the file most recently picked up by the worker.
	CurrentFile string
	// LastThreat is the signature label of the most recently quarantined
	// file, and LastThreatPath its original path.
	LastThreat     string
	LastThreatPath string
	// Err is set when the scan Failed.
	Err error

	Started  time.Time
	Finished time.Time
}

// Running reports whether the snapshot was taken during a scan.
func (s Snapshot) Running() bool { return s.State == Running }

// Session is the shared progress record of one scan at a time.
//
// The scan worker is the only writer while a scan runs. Any goroutine may
// call Snapshot or Cancel at any time. The zero value is an Idle Session.
type Session struct {
	mu   sync.Mutex
	snap Snapshot
	stop bool
}

// NewSession returns an Idle Session.
func NewSession() *Session {
	return new(Session)
}

// Snapshot returns a copy of the current progress.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Cancel asks a running scan to stop. The worker notices between files and
// at every directory boundary. Cancel on a Session that isn't running has no
// effect on later scans.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.State == Running {
		s.stop = true
	}
}

// Acknowledge returns a finished Session to Idle. Acknowledging an Idle
// Session does nothing; acknowledging a Running one is a
// [sigscan.ErrConflict] error.
func (s *Session) Acknowledge() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.snap.State {
	case Running:
		return errRunning
	case Idle:
	default:
		s.snap.State = Idle
	}
	return nil
}

var errRunning = &sigscan.Error{
	Op:      "scan.Session",
	Kind:    sigscan.ErrConflict,
	Message: "a scan is already running",
}

// Begin resets the Session and marks it Running.
func (s *Session) begin(t Target, now time.Time) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.State == Running {
		return uuid.Nil, errRunning
	}
	id := uuid.New()
	s.stop = false
	s.snap = Snapshot{
		ID:      id,
		State:   Running,
		Target:  t,
		Started: now,
	}
	return id, nil
}

func (s *Session) stopRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop
}

func (s *Session) update(f func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(&s.snap)
}

func (s *Session) finish(st State, err error, now time.Time) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.State = st
	s.snap.Err = err
	s.snap.Finished = now
	s.stop = false
	return s.snap
}
