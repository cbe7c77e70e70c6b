package backend

import (
	"context"
	"sync"

	"github.com/dsatori/syncrypt/internal/syncerr"
)

// Manager owns a fixed-size array of Connection slots and hands them out
// under a FIFO acquire/release discipline (spec.md §4.3). Grounded on
// BinaryStorageManager.acquire_connection: dial an idle slot first, then
// wait for any slot to become available, re-check, retry.
type Manager struct {
	slots []*Connection

	mu      sync.Mutex
	waiters []chan struct{}
}

// NewManager builds a Manager with `concurrency` connection slots, all
// configured identically (same host/credentials) — each dials lazily on
// first use.
func NewManager(concurrency int, host string, port int, username, password, auth string) *Manager {
	slots := make([]*Connection, concurrency)
	for i := range slots {
		slots[i] = NewConnection(host, port, username, password, auth)
	}
	return &Manager{slots: slots}
}

// AcquireConnection returns a connected, exclusively-held Connection. The
// caller must call Release when done, on every exit path including error.
func (m *Manager) AcquireConnection(ctx context.Context) (*Connection, error) {
	for {
		m.mu.Lock()

		// Policy: if any slot is idle, dial it first.
		var dialing *Connection
		for _, c := range m.slots {
			if !c.connected && !c.connecting {
				c.connecting = true
				dialing = c
				break
			}
		}
		m.mu.Unlock()

		if dialing != nil {
			if err := dialing.Connect(ctx); err != nil {
				m.mu.Lock()
				dialing.connecting = false
				var wake chan struct{}
				if len(m.waiters) > 0 {
					wake = m.waiters[0]
					m.waiters = m.waiters[1:]
				}
				m.mu.Unlock()
				if wake != nil {
					close(wake)
				}
				return nil, err
			}
		}

		m.mu.Lock()
		for _, c := range m.slots {
			if c.connected && !c.inUse {
				c.inUse = true
				m.mu.Unlock()
				return c, nil
			}
		}

		// No slot ready: enqueue as a FIFO waiter and block until released
		// a slot or told to re-check.
		ch := make(chan struct{})
		m.waiters = append(m.waiters, ch)
		m.mu.Unlock()

		select {
		case <-ch:
			// retry from the top
		case <-ctx.Done():
			return nil, syncerr.New(syncerr.KindCancelled, "backend.Manager.AcquireConnection", ctx.Err())
		}
	}
}

// Release returns c to the pool, waking the longest-waiting caller (FIFO
// fairness per spec.md §4.3) if any. A connection that failed mid-use
// should be disconnected by the caller before Release so the slot is
// re-dialed next time rather than handed out broken.
func (m *Manager) Release(c *Connection) {
	m.mu.Lock()
	c.inUse = false
	var wake chan struct{}
	if len(m.waiters) > 0 {
		wake = m.waiters[0]
		m.waiters = m.waiters[1:]
	}
	m.mu.Unlock()
	if wake != nil {
		close(wake)
	}
}

// Close disconnects every slot.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.slots {
		if c.connected {
			c.Disconnect()
		}
	}
}
