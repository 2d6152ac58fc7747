package permission

import "sync"

// Notification names published by permission sources.
const (
	ActionUSBPermission        = "libusb.USB_PERMISSION"
	ActionUSBPermissionRevoked = "libusb.USB_PERMISSION_REVOKED"
)

// Source delivers named, payload-free notifications.
type Source interface {
	// Subscribe registers fn for action. The returned cancel function
	// removes the subscription; calling it again is a no-op.
	Subscribe(action string, fn func()) (cancel func())
}

// Broadcaster is an in-process Source. Send delivers on the caller's
// goroutine, so handlers must be quick.
type Broadcaster struct {
	mu       sync.RWMutex
	next     uint64
	handlers map[string]map[uint64]func()
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{handlers: make(map[string]map[uint64]func())}
}

// Subscribe implements Source.
func (b *Broadcaster) Subscribe(action string, fn func()) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	if b.handlers[action] == nil {
		b.handlers[action] = make(map[uint64]func())
	}
	b.handlers[action][id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers[action], id)
			b.mu.Unlock()
		})
	}
}

// Send notifies every subscriber of action and returns how many were called.
func (b *Broadcaster) Send(action string) int {
	b.mu.RLock()
	fns := make([]func(), 0, len(b.handlers[action]))
	for _, fn := range b.handlers[action] {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

// Subscribers returns the number of handlers registered for action.
func (b *Broadcaster) Subscribers(action string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[action])
}
