// Package session holds the SessionState shared by the lifecycle
// coordinator, the permission gate and the frame scheduler.
package session

import (
	"sync"

	"github.com/teslashibe/go-oakview/pkg/permission"
)

// Snapshot is a consistent copy of the session flags, read once per tick.
type Snapshot struct {
	Running           bool `json:"running"`
	Started           bool `json:"started"`
	PermissionGranted bool `json:"permission_granted"`
}

// State owns running and started. Both are written under one lock so a
// snapshot never sees a half-applied teardown. Permission lives in the gate
// and is only written by notifications.
type State struct {
	mu      sync.Mutex
	running bool
	started bool
	gate    *permission.Gate
}

// New returns the defaults of a first activation: running, not started.
func New(gate *permission.Gate) *State {
	if gate == nil {
		gate = permission.NewGate()
	}
	return &State{running: true, gate: gate}
}

// Restore returns a state seeded from persisted flags.
func Restore(gate *permission.Gate, f Flags) *State {
	s := New(gate)
	s.running = f.Running
	s.started = f.Started
	return s
}

// Gate returns the permission gate.
func (s *State) Gate() *permission.Gate {
	return s.gate
}

// Snapshot reads all three flags.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Running: s.running, Started: s.started}
	s.mu.Unlock()
	snap.PermissionGranted = s.gate.Granted()
	return snap
}

// MarkStarted records the result of a start attempt. It is ignored once the
// session has been stopped, so a start racing a teardown cannot resurrect it.
func (s *State) MarkStarted(ok bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	s.started = ok
	return true
}

// Stop applies teardown: running and started both become false.
// Permission is left untouched.
func (s *State) Stop() {
	s.mu.Lock()
	s.running = false
	s.started = false
	s.mu.Unlock()
}

// Flags returns the persistable part of the state.
func (s *State) Flags() Flags {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Flags{Running: s.running, Started: s.started}
}
