package connection

import (
	"sync"
	"time"
)

// heartbeat fires beat on a fixed period until halted. It is created fresh
// for every successful connect and halted whenever the session leaves Open.
type heartbeat struct {
	interval time.Duration
	stop     chan struct{}
	once     sync.Once
}

func newHeartbeat(interval time.Duration) *heartbeat {
	return &heartbeat{
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// run blocks until halt is called. Safe to start after halt.
func (h *heartbeat) run(beat func()) {
	if h.interval <= 0 {
		return
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			// A halt racing with a tick wins.
			select {
			case <-h.stop:
				return
			default:
			}
			beat()
		}
	}
}

func (h *heartbeat) halt() {
	h.once.Do(func() { close(h.stop) })
}
