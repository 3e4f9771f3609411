package mqtt

import (
	"sync"
	"time"

	"github.com/mqttrt/mqtt5/packet"
)

// keepAlive is the Monitor of §4.K: it drives the PINGREQ/PINGRESP
// exchange of 3.1.2.10. Per that section, a PINGREQ is owed whenever no
// other Control Packet has been *sent* within the keep-alive interval —
// scheduling is based on the last transmission, not the last packet
// received (property #10) — while the broker is judged dead once a
// PINGREQ is outstanding and nothing at all has arrived for more than
// interval+timeout since the last packet received.
type keepAlive struct {
	interval time.Duration
	timeout  time.Duration

	mu              sync.Mutex
	lastSend        time.Time
	lastRecv        time.Time
	pingOutstanding bool
}

func newKeepAlive(interval time.Duration) *keepAlive {
	now := time.Now()
	return &keepAlive{
		interval: interval,
		timeout:  interval / 2,
		lastSend: now,
		lastRecv: now,
	}
}

// OnSend restarts the transmission clock. Both Writer(control) and
// Writer(publish) call this after every packet they successfully write,
// since either one sending anything at all satisfies "no other Control
// Packet has been sent" for 3.1.2.10 purposes.
func (k *keepAlive) OnSend() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.lastSend = time.Now()
}

// OnRecv marks that the broker is alive, clearing the outstanding-ping
// flag regardless of which packet arrived (any inbound control packet
// resets the broker's own idea of our liveness too).
func (k *keepAlive) OnRecv() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.lastRecv = time.Now()
	k.pingOutstanding = false
}

// Run enqueues PINGREQ onto control whenever the connection has gone
// k.interval since the last transmission, and returns ErrKeepAliveTimeout
// if, while a PINGREQ is outstanding, nothing has been received for more
// than interval+timeout. If interval is 0, keep-alive is disabled
// entirely (property #10).
func (k *keepAlive) Run(done <-chan struct{}, control *queue, version byte) error {
	if k.interval <= 0 {
		<-done
		return nil
	}

	ticker := time.NewTicker(k.interval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return nil
		case <-ticker.C:
			k.mu.Lock()
			sinceSend := time.Since(k.lastSend)
			sinceRecv := time.Since(k.lastRecv)
			overdue := k.pingOutstanding && sinceRecv > k.interval+k.timeout
			due := sinceSend >= k.interval && !k.pingOutstanding
			if due {
				k.pingOutstanding = true
			}
			k.mu.Unlock()

			if overdue {
				return ErrKeepAliveTimeout
			}
			if due {
				control.Put(&packet.PINGREQ{FixedHeader: &packet.FixedHeader{Version: version, Kind: PINGREQ}}, nil)
			}
		}
	}
}
