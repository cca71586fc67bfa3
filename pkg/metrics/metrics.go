// Package metrics implements metrics for merkle comparisons
package metrics

import (
	"fmt"
	"sync"
)

const (
	PhaseCoarse = "coarse"
	PhaseFine   = "fine"
)

// SessionMetrics describe one phase run over one tree.
type SessionMetrics struct {
	Phase     string
	BlockSize int64
	Blocks    int // leaves in the local tree
	Height    int

	Rounds          int // CompareRound exchanges, the root included
	DigestsSent     int
	DigestsReceived int
	Mismatched      int // nodes found different, all levels
	LeavesMismatch  int

	BytesOut int64 // framed bytes written during the session
	BytesIn  int64

	BuildMS    float64
	DurationMS float64
}

func (m *SessionMetrics) String() string {
	return fmt.Sprintf("Phase: %s, BlockSize: %d, Blocks: %d, Height: %d, Rounds: %d, DigestsSent: %d, DigestsReceived: %d, Mismatched: %d, LeavesMismatch: %d, BytesOut: %d, BytesIn: %d, BuildMS: %.2f, DurationMS: %.2f",
		m.Phase, m.BlockSize, m.Blocks, m.Height, m.Rounds, m.DigestsSent, m.DigestsReceived, m.Mismatched, m.LeavesMismatch, m.BytesOut, m.BytesIn, m.BuildMS, m.DurationMS)
}

// Observer receives every finished session, failed ones included.
type Observer interface {
	ObserveSession(m SessionMetrics, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveSession(SessionMetrics, error) {}

// Nop discards everything.
var Nop Observer = nopObserver{}

// Summary aggregates the sessions of one comparison: the coarse phase plus
// every fine phase.
type Summary struct {
	mtx    sync.Mutex
	coarse SessionMetrics
	fine   SessionMetrics
	phases int
	failed int
}

func NewSummary() *Summary {
	return &Summary{fine: SessionMetrics{Phase: PhaseFine}}
}

func (s *Summary) ObserveSession(m SessionMetrics, err error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if err != nil {
		s.failed++
	}
	if m.Phase == PhaseCoarse {
		s.coarse = m
		return
	}
	s.phases++
	f := &s.fine
	f.BlockSize = m.BlockSize
	f.Blocks += m.Blocks
	f.Height = max(f.Height, m.Height)
	f.Rounds += m.Rounds
	f.DigestsSent += m.DigestsSent
	f.DigestsReceived += m.DigestsReceived
	f.Mismatched += m.Mismatched
	f.LeavesMismatch += m.LeavesMismatch
	f.BytesOut += m.BytesOut
	f.BytesIn += m.BytesIn
	f.BuildMS += m.BuildMS
	f.DurationMS += m.DurationMS
}

// Coarse returns the coarse session.
func (s *Summary) Coarse() SessionMetrics {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.coarse
}

// Fine returns the sum of all fine sessions and how many there were.
func (s *Summary) Fine() (SessionMetrics, int) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.fine, s.phases
}

func (s *Summary) Failed() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.failed
}

// Exchanges is the total number of digests sent by this peer.
func (s *Summary) Exchanges() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.coarse.DigestsSent + s.fine.DigestsSent
}

// Multi fans a session out to several observers.
type Multi []Observer

func (m Multi) ObserveSession(sm SessionMetrics, err error) {
	for _, o := range m {
		if o != nil {
			o.ObserveSession(sm, err)
		}
	}
}
