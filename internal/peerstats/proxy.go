package peerstats

import "sync"

// Proxy wraps a Table for the lifetime of one connection or session,
// remembering every op it registered so Close can unregister all of
// them on every exit path — the RAII pattern spec.md §4.5 describes
// for ChunkserverStatsProxy, expressed in Go as an explicit Close
// instead of a destructor.
type Proxy struct {
	table *Table

	mu     sync.Mutex
	reads  map[string]int
	writes map[string]int
	closed bool
}

// NewProxy wraps table for one owner.
func NewProxy(table *Table) *Proxy {
	return &Proxy{table: table, reads: make(map[string]int), writes: make(map[string]int)}
}

func (p *Proxy) RegisterReadOp(addr string) {
	p.table.RegisterReadOp(addr)
	p.mu.Lock()
	p.reads[addr]++
	p.mu.Unlock()
}

func (p *Proxy) RegisterWriteOp(addr string) {
	p.table.RegisterWriteOp(addr)
	p.mu.Lock()
	p.writes[addr]++
	p.mu.Unlock()
}

// AllPendingDefective delegates to the underlying table.
func (p *Proxy) AllPendingDefective() {
	p.table.AllPendingDefective()
}

// Close unregisters every op this proxy registered that hasn't already
// been explicitly unregistered. Safe to call more than once; only the
// first call has any effect.
func (p *Proxy) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	reads, writes := p.reads, p.writes
	p.reads, p.writes = nil, nil
	p.mu.Unlock()

	for addr, n := range reads {
		for i := 0; i < n; i++ {
			p.table.UnregisterReadOp(addr)
		}
	}
	for addr, n := range writes {
		for i := 0; i < n; i++ {
			p.table.UnregisterWriteOp(addr)
		}
	}
}
