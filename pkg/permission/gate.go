// Package permission tracks whether the host environment has granted access
// to the device.
//
// A Gate is a single flag written only by permission notifications and read
// by the frame scheduler once per tick. Notifications come from a Source,
// which is subscribed only while the host view is in the foreground.
package permission

import "sync/atomic"

// Gate holds the current permission state.
type Gate struct {
	granted atomic.Bool
	grants  atomic.Int64
	revokes atomic.Int64
}

// NewGate returns a gate in the not-granted state.
func NewGate() *Gate {
	return &Gate{}
}

// Grant marks permission as granted.
func (g *Gate) Grant() {
	g.granted.Store(true)
	g.grants.Add(1)
}

// Revoke marks permission as withdrawn.
func (g *Gate) Revoke() {
	g.granted.Store(false)
	g.revokes.Add(1)
}

// Granted reports the current state.
func (g *Gate) Granted() bool {
	return g.granted.Load()
}

// Counts returns how many grant and revoke notifications were applied.
func (g *Gate) Counts() (grants, revokes int64) {
	return g.grants.Load(), g.revokes.Load()
}

// Bind subscribes the gate to a source. The returned function removes both
// subscriptions and is safe to call more than once.
func (g *Gate) Bind(src Source) (unbind func()) {
	cancelGrant := src.Subscribe(ActionUSBPermission, g.Grant)
	cancelRevoke := src.Subscribe(ActionUSBPermissionRevoked, g.Revoke)
	return func() {
		cancelGrant()
		cancelRevoke()
	}
}
