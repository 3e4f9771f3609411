package mqtt

import "sync"

// packetIDAllocator hands out packet identifiers in the range [1, 65535]
// for QoS 1/2 PUBLISH, SUBSCRIBE and UNSUBSCRIBE packets. Identifiers are
// reclaimed with Free and reused, following 2.3.1: a client must not reuse
// a packet identifier until the exchange it names has completed.
type packetIDAllocator struct {
	mu       sync.Mutex
	next     uint16
	inUse    map[uint16]struct{}
	freeable []uint16
}

func newPacketIDAllocator() *packetIDAllocator {
	return &packetIDAllocator{
		next:  1,
		inUse: make(map[uint16]struct{}),
	}
}

// Alloc returns the next unused identifier, skipping 0 (reserved) and
// anything still in use. It returns false if all 65535 ids are exhausted,
// which bounds how many unacknowledged QoS 1/2 exchanges can be in flight.
func (a *packetIDAllocator) Alloc() (uint16, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.freeable); n > 0 {
		id := a.freeable[n-1]
		a.freeable = a.freeable[:n-1]
		a.inUse[id] = struct{}{}
		return id, true
	}

	if len(a.inUse) >= 65535 {
		return 0, false
	}
	for {
		if a.next == 0 {
			a.next = 1
		}
		id := a.next
		a.next++
		if _, taken := a.inUse[id]; !taken {
			a.inUse[id] = struct{}{}
			return id, true
		}
	}
}

func (a *packetIDAllocator) Free(id uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.inUse[id]; !ok {
		return
	}
	delete(a.inUse, id)
	a.freeable = append(a.freeable, id)
}
