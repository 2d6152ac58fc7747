package session

import (
	"path/filepath"
	"testing"

	"github.com/teslashibe/go-oakview/pkg/permission"
)

func TestNew_Defaults(t *testing.T) {
	s := New(nil)
	snap := s.Snapshot()
	if !snap.Running || snap.Started || snap.PermissionGranted {
		t.Errorf("defaults: got %+v", snap)
	}
}

func TestStop_KeepsPermission(t *testing.T) {
	gate := permission.NewGate()
	s := New(gate)
	gate.Grant()
	s.MarkStarted(true)

	s.Stop()

	snap := s.Snapshot()
	if snap.Running || snap.Started {
		t.Errorf("after Stop: got %+v", snap)
	}
	if !snap.PermissionGranted {
		t.Error("teardown must not clear permission")
	}
}

func TestMarkStarted_IgnoredAfterStop(t *testing.T) {
	s := New(nil)
	s.Stop()

	if s.MarkStarted(true) {
		t.Error("MarkStarted should report it was ignored")
	}
	if s.Snapshot().Started {
		t.Error("stopped session must not become started")
	}
}

func TestRestore(t *testing.T) {
	s := Restore(nil, Flags{Running: true, Started: true})
	if f := s.Flags(); !f.Running || !f.Started {
		t.Errorf("restored flags: got %+v", f)
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "nested", "state.yaml"))

	if _, ok, err := store.Load(); ok || err != nil {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}

	want := Flags{Running: true, Started: true}
	if err := store.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, ok, err := store.Load()
	if err != nil || !ok || got != want {
		t.Fatalf("Load: got %+v ok=%v err=%v", got, ok, err)
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok, _ := store.Load(); ok {
		t.Error("cleared store should be empty")
	}
	if err := store.Clear(); err != nil {
		t.Errorf("second Clear: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	var m MemoryStore
	m.Save(Flags{Running: true})
	f, ok, _ := m.Load()
	if !ok || !f.Running || f.Started {
		t.Errorf("got %+v ok=%v", f, ok)
	}
}
