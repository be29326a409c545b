// Package connectivity wraps link-layer reachability into two discrete edge
// events: "became online" and "became offline". The signal is optimistic by
// design: a reachable link with an unreachable backend is possible and is
// handled downstream by the synchronizer's own verify call and by the read
// path's fetch-failure fallback.
package connectivity

import (
	"log"
	"net"
	"sync"
	"time"
)

// Dialer abstracts the TCP probe so tests can inject link state.
type Dialer func(network, addr string, timeout time.Duration) (net.Conn, error)

// Monitor observes backend reachability via a periodic lightweight TCP dial
// and notifies subscribers on true transitions only.
type Monitor struct {
	addr     string
	interval time.Duration
	dial     Dialer

	mu     sync.Mutex
	online bool
	known  bool // false until the first probe or SetOnline
	subs   map[int]subscriber
	nextID int

	stopCh   chan struct{}
	stopOnce sync.Once
	started  bool
}

type subscriber struct {
	onOnline  func()
	onOffline func()
}

// New creates a monitor probing addr (host:port) every interval.
func New(addr string, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Monitor{
		addr:     addr,
		interval: interval,
		dial:     net.DialTimeout,
		subs:     make(map[int]subscriber),
		stopCh:   make(chan struct{}),
	}
}

// SetDialer overrides the probe dialer. Must be called before Start.
func (m *Monitor) SetDialer(d Dialer) { m.dial = d }

// Start begins probing. Safe to call once; subsequent calls are no-ops.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	log.Printf("[Connectivity] Monitoring %s every %v", m.addr, m.interval)
	go m.run()
}

// Stop halts probing. Subscribers receive no further events.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Monitor) run() {
	m.probe()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.probe()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) probe() {
	conn, err := m.dial("tcp", m.addr, 3*time.Second)
	if err == nil {
		conn.Close()
	}
	m.SetOnline(err == nil)
}

// Online reports the current link state. Before the first probe completes
// the monitor assumes offline.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.known && m.online
}

// SetOnline injects a link state, firing edge events if it differs from the
// current one. Exposed for hosts with their own link signal and for tests.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.known && m.online == online {
		m.mu.Unlock()
		return
	}
	first := !m.known
	m.known = true
	m.online = online

	// Snapshot under lock; invoke outside so callbacks may re-enter.
	var fns []func()
	for _, sub := range m.subs {
		if online && sub.onOnline != nil {
			fns = append(fns, sub.onOnline)
		}
		if !online && sub.onOffline != nil {
			fns = append(fns, sub.onOffline)
		}
	}
	m.mu.Unlock()

	// The very first probe finding us offline is not a transition worth
	// announcing; everything else is.
	if first && !online {
		return
	}
	if online {
		log.Printf("[Connectivity] Became online")
	} else {
		log.Printf("[Connectivity] Became offline")
	}
	for _, fn := range fns {
		fn()
	}
}

// Subscribe registers a callback pair and returns an unsubscribe function.
// Each pair fires at most once per true transition; unsubscribing twice is
// harmless.
func (m *Monitor) Subscribe(onOnline, onOffline func()) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = subscriber{onOnline: onOnline, onOffline: onOffline}
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}
